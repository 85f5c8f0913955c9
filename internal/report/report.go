// Package report freezes a session's indicator state into its final report.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/scoring"
)

const (
	StrengthMin    = 80.0
	ImprovementMax = 60.0
	convertedAbove = 50.0
)

type Report struct {
	SessionID    string    `json:"session_id"`
	OverallScore int       `json:"overall_score"`
	Metrics      Metrics   `json:"metrics"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"improvements"`
	ActionItems  []string  `json:"action_items"`
	IsConverted  bool      `json:"is_converted"`
	GeneratedAt  time.Time `json:"generated_at"`
	Summary      string    `json:"summary,omitempty"`
	Feedback     string    `json:"feedback,omitempty"`
}

// Metric is one indicator's frozen state. An indicator that never received
// data is reported with Measured false, a zero score, chunk index -1 and an
// empty detail.
type Metric struct {
	Measured   bool             `json:"measured"`
	Score      float64          `json:"score"`
	Value      float64          `json:"value"`
	ChunkIndex int              `json:"chunk_index"`
	Details    indicator.Detail `json:"details"`
}

// Metrics holds one entry per indicator, keyed by its wire name.
type Metrics map[indicator.Type]Metric

// Get returns the metric for t only if it was measured.
func (m Metrics) Get(t indicator.Type) (Metric, bool) {
	metric, ok := m[t]
	if !ok || !metric.Measured {
		return Metric{}, false
	}
	return metric, true
}

type rawMetric struct {
	// Reports stored before the flag existed only carried measured metrics.
	Measured   *bool           `json:"measured"`
	Score      float64         `json:"score"`
	Value      float64         `json:"value"`
	ChunkIndex int             `json:"chunk_index"`
	Details    json.RawMessage `json:"details"`
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw map[indicator.Type]rawMetric
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metrics, len(raw))
	for t, r := range raw {
		detail, err := indicator.DecodeDetail(t, r.Details)
		if err != nil {
			return fmt.Errorf("metric %s: %w", t, err)
		}
		measured := r.Measured == nil || *r.Measured
		out[t] = Metric{Measured: measured, Score: r.Score, Value: r.Value, ChunkIndex: r.ChunkIndex, Details: detail}
	}
	*m = out
	return nil
}

// AggregationError means a report could not be produced from the session's state.
type AggregationError struct {
	SessionID string
	Reason    string
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("aggregate session %s: %s", e.SessionID, e.Reason)
}

// Freeze builds a report from a snapshot. The result depends only on the
// snapshot and now, never on the live engine.
func Freeze(sessionID string, snap scoring.Snapshot, now time.Time) (Report, error) {
	overall, ok := snap.Overall()
	if !ok {
		return Report{}, &AggregationError{SessionID: sessionID, Reason: "no indicators recorded"}
	}

	r := Report{
		SessionID:    sessionID,
		OverallScore: overall,
		Metrics:      make(Metrics, indicator.Count),
		Strengths:    []string{},
		Improvements: []string{},
		ActionItems:  []string{},
		GeneratedAt:  now.UTC(),
	}

	for _, t := range indicator.All() {
		st, ok := snap.States[t]
		if !ok {
			r.Metrics[t] = Metric{ChunkIndex: -1, Details: indicator.EmptyDetail(t)}
			continue
		}
		r.Metrics[t] = Metric{
			Measured:   true,
			Score:      st.Score,
			Value:      st.Value,
			ChunkIndex: st.ChunkIndex,
			Details:    st.Detail,
		}

		tpl := statements[t]
		switch {
		case st.Score >= StrengthMin:
			r.Strengths = append(r.Strengths, tpl.strength)
		case st.Score < ImprovementMax:
			r.Improvements = append(r.Improvements, tpl.improvement)
			if tpl.action != "" {
				r.ActionItems = append(r.ActionItems, tpl.action)
			}
		}
	}

	if st, ok := snap.States[indicator.Conversion]; ok {
		r.IsConverted = st.Score > convertedAbove
	}

	return r, nil
}
