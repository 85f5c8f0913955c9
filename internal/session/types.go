package session

import (
	"context"
	"time"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/notify"
	"github.com/sjawhar/salon-coach/internal/report"
	"github.com/sjawhar/salon-coach/internal/scoring"
	"github.com/sjawhar/salon-coach/internal/storage"
	"github.com/sjawhar/salon-coach/internal/voice"
)

type Store interface {
	CreateSession(ctx context.Context, sess storage.Session) error
	UpdateStatus(ctx context.Context, id string, status storage.Status, at time.Time) error
	AssignStylist(ctx context.Context, id, staffID, confidence string, similarity float64, confirmed bool) (bool, error)
	GetSession(ctx context.Context, id string) (storage.Session, error)
	SaveReport(ctx context.Context, r report.Report) (bool, error)
	GetReport(ctx context.Context, sessionID string) (report.Report, error)
}

type Resolver interface {
	Resolve(ctx context.Context, req voice.Request) (voice.Assignment, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, snap scoring.Snapshot) (report.Report, error)
}

type Notifier interface {
	Observe(sessionID string, transitions []scoring.Transition) []notify.Notification
	Notify(sessionID string, n notify.Notification) (notify.Notification, bool)
	CloseSession(sessionID string)
}

type EventBroadcaster interface {
	BroadcastSessionStarted(sessionID, salonID string)
	BroadcastScoreUpdate(snap scoring.Snapshot)
	BroadcastStaffIdentified(sessionID string, a voice.Assignment, confirmed bool)
	BroadcastSessionEnded(sessionID string, status storage.Status, duration time.Duration)
	BroadcastReportReady(r report.Report)
}

// Archiver stores a copy of a completed report outside the database.
type Archiver interface {
	Archive(ctx context.Context, r report.Report) error
}

// Chunk is one analyzed slice of a session's conversation.
type Chunk struct {
	Index        int
	Observations []indicator.Observation
	Speakers     []voice.SpeakerEmbedding
}

type CreateParams struct {
	SalonID  string
	Customer storage.Customer
}

// ScoreView is the live score of a session.
type ScoreView struct {
	SessionID  string                           `json:"session_id"`
	Overall    int                              `json:"overall_score"`
	HasData    bool                             `json:"has_data"`
	Indicators map[indicator.Type]scoring.State `json:"indicators"`
}
