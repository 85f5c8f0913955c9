package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/llm"
	"github.com/sjawhar/salon-coach/internal/scoring"
)

const systemPrompt = `You coach hair salon stylists on customer conversations.
Given the scored indicators of one session, reply with a JSON object:
{"summary": "two sentence summary of the session", "feedback": "encouraging feedback for the stylist, under 80 words"}
Reply with the JSON object only.`

type Narrative struct {
	Summary  string `json:"summary"`
	Feedback string `json:"feedback"`
}

// Narrator asks a language model to write a short narrative for a report.
type Narrator struct {
	client  llm.Client
	backoff []time.Duration
	sleep   func(time.Duration)
}

func NewNarrator(client llm.Client) *Narrator {
	return &Narrator{
		client:  client,
		backoff: []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second},
		sleep:   time.Sleep,
	}
}

func (n *Narrator) Narrate(ctx context.Context, r Report) (Narrative, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: describe(r)},
	}

	var lastErr error
	for attempt := range n.backoff {
		text, err := n.client.Complete(ctx, messages)
		if err == nil {
			var out Narrative
			if err := llm.ExtractJSONObject(text, &out); err != nil {
				lastErr = err
			} else {
				out.Summary = strings.TrimSpace(out.Summary)
				out.Feedback = strings.TrimSpace(out.Feedback)
				return out, nil
			}
		} else {
			lastErr = err
		}
		if ctx.Err() != nil {
			return Narrative{}, ctx.Err()
		}
		if attempt < len(n.backoff)-1 {
			n.sleep(n.backoff[attempt])
		}
	}
	return Narrative{}, fmt.Errorf("narrate report failed after retries: %w", lastErr)
}

func describe(r Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall score: %d/100\n", r.OverallScore)
	for _, t := range indicator.All() {
		m, ok := r.Metrics.Get(t)
		if !ok {
			fmt.Fprintf(&b, "- %s: not measured\n", t.Label())
			continue
		}
		fmt.Fprintf(&b, "- %s: %.0f/100\n", t.Label(), m.Score)
	}
	if r.IsConverted {
		b.WriteString("The customer bought the suggested product.\n")
	}
	if len(r.Strengths) > 0 {
		fmt.Fprintf(&b, "Strengths: %s\n", strings.Join(r.Strengths, " "))
	}
	if len(r.Improvements) > 0 {
		fmt.Fprintf(&b, "Improvements: %s\n", strings.Join(r.Improvements, " "))
	}
	return b.String()
}

type NarrativeWriter interface {
	Narrate(ctx context.Context, r Report) (Narrative, error)
}

// Aggregator freezes a session and, when a narrator is configured, adds a
// narrative. Narration failures never fail aggregation.
type Aggregator struct {
	narrator NarrativeWriter
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewAggregator(narrator NarrativeWriter, timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Aggregator{
		narrator: narrator,
		timeout:  timeout,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

func (a *Aggregator) Aggregate(ctx context.Context, snap scoring.Snapshot) (Report, error) {
	r, err := Freeze(snap.SessionID, snap, a.now())
	if err != nil {
		return Report{}, err
	}
	if a.narrator == nil {
		return r, nil
	}

	nctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	narrative, err := a.narrator.Narrate(nctx, r)
	if err != nil {
		a.logger.Warn("report narration failed", "session_id", snap.SessionID, "error", err)
		return r, nil
	}
	r.Summary = narrative.Summary
	r.Feedback = narrative.Feedback
	return r, nil
}
