package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/scoring"
)

func TestEventSerialization(t *testing.T) {
	at := time.Unix(1, 0)
	events := []any{
		SessionStartedEvent{Event: newEvent("session_started", at), SessionID: "abc", SalonID: "salon-1"},
		ScoreUpdateEvent{Event: newEvent("score_update", at), SessionID: "abc", OverallScore: 60, HasData: true, Indicators: map[indicator.Type]scoring.State{
			indicator.Emotion: {ChunkIndex: 1, Score: 40, Detail: indicator.EmotionDetail{PositiveRatio: 28}},
		}},
		NotificationEvent{Event: newEvent("notification", at), SessionID: "abc", Notification: NotificationPayload{ID: "n1", Type: "concern_detected"}},
		NotificationClosedEvent{Event: newEvent("notification_closed", at), SessionID: "abc", NotificationID: "n1", Reason: "expired"},
		StaffIdentifiedEvent{Event: newEvent("staff_identified", at), SessionID: "abc", StaffID: "staff-a", Confidence: "high"},
		SessionEndedEvent{Event: newEvent("session_ended", at), SessionID: "abc", Status: "completed", Duration: 30},
		ReportReadyEvent{Event: newEvent("report_ready", at), SessionID: "abc", OverallScore: 74},
	}

	for _, event := range events {
		b, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if payload["type"] == nil {
			t.Fatalf("missing type in payload: %s", string(b))
		}
		if payload["version"] == nil {
			t.Fatalf("missing version in payload: %s", string(b))
		}
		if payload["timestamp"] == nil {
			t.Fatalf("missing timestamp in payload: %s", string(b))
		}
		if payload["session_id"] != "abc" {
			t.Fatalf("missing session_id in payload: %s", string(b))
		}
	}
}
