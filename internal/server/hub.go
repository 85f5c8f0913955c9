package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/salon-coach/internal/notify"
	"github.com/sjawhar/salon-coach/internal/report"
	"github.com/sjawhar/salon-coach/internal/scoring"
	"github.com/sjawhar/salon-coach/internal/storage"
	"github.com/sjawhar/salon-coach/internal/voice"
)

// Hub fans events out to websocket subscribers. A subscriber either follows
// one session or, with an empty session id, every session.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]string
	logger  *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan []byte]string),
		logger:  slog.Default(),
	}
}

func (h *Hub) Subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = sessionID
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers msg to subscribers of sessionID and to unfiltered
// subscribers. Slow subscribers miss messages rather than block the sender.
func (h *Hub) Broadcast(sessionID string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch, filter := range h.clients {
		if filter != "" && filter != sessionID {
			continue
		}
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSessionStarted(sessionID, salonID string) {
	h.broadcastEvent(sessionID, SessionStartedEvent{
		Event:     newEvent("session_started", time.Now().UTC()),
		SessionID: sessionID,
		SalonID:   salonID,
	})
}

func (h *Hub) BroadcastScoreUpdate(snap scoring.Snapshot) {
	overall, ok := snap.Overall()
	h.broadcastEvent(snap.SessionID, ScoreUpdateEvent{
		Event:        newEvent("score_update", time.Now().UTC()),
		SessionID:    snap.SessionID,
		OverallScore: overall,
		HasData:      ok,
		Indicators:   snap.States,
	})
}

func (h *Hub) BroadcastStaffIdentified(sessionID string, a voice.Assignment, confirmed bool) {
	h.broadcastEvent(sessionID, StaffIdentifiedEvent{
		Event:                newEvent("staff_identified", time.Now().UTC()),
		SessionID:            sessionID,
		StaffID:              a.StaffID,
		Confidence:           string(a.Tier),
		Similarity:           a.Similarity,
		RequiresConfirmation: !confirmed,
		Confirmed:            confirmed,
	})
}

func (h *Hub) BroadcastSessionEnded(sessionID string, status storage.Status, duration time.Duration) {
	h.broadcastEvent(sessionID, SessionEndedEvent{
		Event:     newEvent("session_ended", time.Now().UTC()),
		SessionID: sessionID,
		Status:    string(status),
		Duration:  duration.Seconds(),
	})
}

func (h *Hub) BroadcastReportReady(r report.Report) {
	h.broadcastEvent(r.SessionID, ReportReadyEvent{
		Event:        newEvent("report_ready", r.GeneratedAt),
		SessionID:    r.SessionID,
		OverallScore: r.OverallScore,
		IsConverted:  r.IsConverted,
	})
}

// Publish implements notify.Sink.
func (h *Hub) Publish(n notify.Notification) error {
	return h.send(n.SessionID, NotificationEvent{
		Event:     newEvent("notification", n.Timestamp),
		SessionID: n.SessionID,
		Notification: NotificationPayload{
			ID:                 n.ID,
			Type:               string(n.Type),
			Title:              n.Title,
			Message:            n.Message,
			Severity:           string(n.Severity),
			SuccessTalk:        n.SuccessTalk,
			RecommendedProduct: n.RecommendedProduct,
			Timestamp:          n.Timestamp.UTC().Format(time.RFC3339Nano),
			ExpiresAt:          n.ExpiresAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// Closed implements notify.Sink.
func (h *Hub) Closed(sessionID, notificationID string, reason notify.CloseReason) error {
	return h.send(sessionID, NotificationClosedEvent{
		Event:          newEvent("notification_closed", time.Now().UTC()),
		SessionID:      sessionID,
		NotificationID: notificationID,
		Reason:         string(reason),
	})
}

func (h *Hub) broadcastEvent(sessionID string, event any) {
	if err := h.send(sessionID, event); err != nil {
		h.logger.Error("event marshal failed", "session_id", sessionID, "error", err)
	}
}

func (h *Hub) send(sessionID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, payload)
	return nil
}
