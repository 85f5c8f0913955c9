package voice

import (
	"errors"
	"fmt"
)

var ErrNoSource = errors.New("no staff voice source configured")

type DimensionMismatchError struct {
	Label string
	Got   int
	Want  int
}

func (e *DimensionMismatchError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("embedding has %d dimensions, want %d", e.Got, e.Want)
	}
	return fmt.Sprintf("embedding for %s has %d dimensions, want %d", e.Label, e.Got, e.Want)
}

type QualityTooLowError struct {
	Score int
	Min   int
}

func (e *QualityTooLowError) Error() string {
	return fmt.Sprintf("voice sample quality %d is below minimum %d", e.Score, e.Min)
}

// ExternalServiceError wraps a failure from a dependency outside this process.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// CheckDimension reports a DimensionMismatchError unless the embedding has
// EmbeddingDim components.
func CheckDimension(label string, embedding []float64) error {
	if len(embedding) != EmbeddingDim {
		return &DimensionMismatchError{Label: label, Got: len(embedding), Want: EmbeddingDim}
	}
	return nil
}
