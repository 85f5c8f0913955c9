package server

import (
	"time"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/scoring"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SessionStartedEvent struct {
	Event
	SessionID string `json:"session_id"`
	SalonID   string `json:"salon_id"`
}

type ScoreUpdateEvent struct {
	Event
	SessionID    string                           `json:"session_id"`
	OverallScore int                              `json:"overall_score"`
	HasData      bool                             `json:"has_data"`
	Indicators   map[indicator.Type]scoring.State `json:"indicators"`
}

type NotificationPayload struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	Title              string `json:"title"`
	Message            string `json:"message"`
	Severity           string `json:"severity"`
	SuccessTalk        string `json:"successTalk,omitempty"`
	RecommendedProduct string `json:"recommendedProduct,omitempty"`
	Timestamp          string `json:"timestamp"`
	ExpiresAt          string `json:"expires_at"`
}

type NotificationEvent struct {
	Event
	SessionID    string              `json:"session_id"`
	Notification NotificationPayload `json:"notification"`
}

type NotificationClosedEvent struct {
	Event
	SessionID      string `json:"session_id"`
	NotificationID string `json:"notification_id"`
	Reason         string `json:"reason"`
}

type StaffIdentifiedEvent struct {
	Event
	SessionID            string  `json:"session_id"`
	StaffID              string  `json:"staff_id"`
	Confidence           string  `json:"confidence"`
	Similarity           float64 `json:"similarity"`
	RequiresConfirmation bool    `json:"requires_confirmation"`
	Confirmed            bool    `json:"confirmed"`
}

type SessionEndedEvent struct {
	Event
	SessionID string  `json:"session_id"`
	Status    string  `json:"status"`
	Duration  float64 `json:"duration"`
}

type ReportReadyEvent struct {
	Event
	SessionID    string `json:"session_id"`
	OverallScore int    `json:"overall_score"`
	IsConverted  bool   `json:"is_converted"`
}

type ConnectionEvent struct {
	Event
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
