package session

import (
	"errors"
	"fmt"

	"github.com/sjawhar/salon-coach/internal/storage"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrStylistConfirmed = errors.New("stylist already confirmed")
)

// InvalidStateError is returned when an operation is not allowed in the
// session's current status.
type InvalidStateError struct {
	SessionID string
	Op        string
	Status    storage.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session %s in status %s", e.Op, e.SessionID, e.Status)
}
