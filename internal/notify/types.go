// Package notify turns indicator changes into short-lived advisory
// notifications for the staff member running a session.
package notify

import (
	"sort"
	"strings"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Type string

const (
	ConcernDetected       Type = "concern_detected"
	ProposalChance        Type = "proposal_chance"
	ProposalMissed        Type = "proposal_missed_alert"
	RiskWarning           Type = "risk_warning"
	TalkRatioAlert        Type = "talk_ratio_alert"
	EmotionNegativeAlert  Type = "emotion_negative_alert"
	QuestionShortageAlert Type = "question_shortage_alert"
	StaffIdentified       Type = "staff_identified"
)

// SeverityFor returns the default severity of a notification type.
func SeverityFor(t Type) Severity {
	switch t {
	case ConcernDetected, RiskWarning:
		return SeverityCritical
	case ProposalChance, ProposalMissed:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

type Notification struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	Type               Type      `json:"type"`
	Severity           Severity  `json:"severity"`
	Title              string    `json:"title"`
	Message            string    `json:"message"`
	SuccessTalk        string    `json:"successTalk,omitempty"`
	RecommendedProduct string    `json:"recommendedProduct,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	ExpiresAt          time.Time `json:"expires_at"`
	// Keywords are the salient terms that distinguish otherwise identical notifications.
	Keywords []string `json:"keywords,omitempty"`
}

// Key identifies a notification for deduplication: its type plus its
// salient keywords, lower-cased and sorted.
func (n Notification) Key() string {
	words := make([]string, 0, len(n.Keywords))
	for _, k := range n.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			words = append(words, k)
		}
	}
	sort.Strings(words)
	return string(n.Type) + "|" + strings.Join(words, ",")
}

type CloseReason string

const (
	ClosedExpired   CloseReason = "expired"
	ClosedDismissed CloseReason = "dismissed"
)

// Sink receives dispatched notifications and their terminal transitions.
type Sink interface {
	Publish(n Notification) error
	Closed(sessionID, notificationID string, reason CloseReason) error
}
