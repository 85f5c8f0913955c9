// Package voice resolves which staff member is speaking in a session by
// comparing speaker embeddings against registered staff voice samples.
package voice

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

const defaultSourceTimeout = 10 * time.Second

// Sample is a registered staff voice embedding.
type Sample struct {
	StaffID      string    `json:"staff_id"`
	SalonID      string    `json:"salon_id"`
	Embedding    []float64 `json:"-"`
	SampleCount  int       `json:"sample_count"`
	QualityScore int       `json:"quality_score"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Source loads the registered voices of a salon's staff.
type Source interface {
	StaffVoices(ctx context.Context, salonID string) ([]Sample, error)
}

// SpeakerEmbedding is one diarized speaker from a session.
type SpeakerEmbedding struct {
	Label      string    `json:"label"`
	Embedding  []float64 `json:"embedding"`
	DurationMs int64     `json:"duration_ms"`
}

// Assignment is the outcome of identity resolution. StaffID is empty when no
// staff voice cleared the minimum threshold.
type Assignment struct {
	StaffID              string  `json:"staff_id,omitempty"`
	Similarity           float64 `json:"similarity"`
	Tier                 Tier    `json:"confidence"`
	RequiresConfirmation bool    `json:"requires_confirmation"`
	MatchedSpeaker       string  `json:"matched_speaker,omitempty"`
}

func (a Assignment) Matched() bool {
	return a.StaffID != ""
}

type Request struct {
	SessionID string
	SalonID   string
	// Current is the session's existing assignment, if any.
	Current  *Assignment
	Speakers []SpeakerEmbedding
}

type Resolver struct {
	source  Source
	timeout time.Duration
	logger  *slog.Logger
}

type ResolverOption func(*Resolver)

func WithSourceTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:  source,
		timeout: defaultSourceTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve picks the staff member whose registered voice best matches any of
// the session's speakers. A session that already has an assignment is
// returned unchanged without consulting the voice source.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Assignment, error) {
	if req.Current != nil {
		return *req.Current, nil
	}

	for _, sp := range req.Speakers {
		if err := CheckDimension(sp.Label, sp.Embedding); err != nil {
			return Assignment{}, err
		}
	}

	none := Assignment{Tier: TierNone, RequiresConfirmation: true}
	if len(req.Speakers) == 0 {
		return none, nil
	}
	if r.source == nil {
		return Assignment{}, ErrNoSource
	}

	speakers := rankSpeakers(req.Speakers)

	loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	voices, err := r.source.StaffVoices(loadCtx, req.SalonID)
	if err != nil {
		return Assignment{}, &ExternalServiceError{Service: "staff voice source", Err: err}
	}

	var (
		best      Sample
		bestSim   float64
		bestLabel string
		found     bool
	)
	for _, sp := range speakers {
		for _, v := range voices {
			if len(v.Embedding) != EmbeddingDim {
				r.logger.Warn("skipping staff voice with bad embedding",
					"staff_id", v.StaffID, "dims", len(v.Embedding))
				continue
			}
			sim := CosineSimilarity(sp.Embedding, v.Embedding)
			if !found || sim > bestSim {
				best, bestSim, bestLabel, found = v, sim, sp.Label, true
			}
		}
	}

	if !found {
		r.logger.Info("no staff voices registered", "session_id", req.SessionID, "salon_id", req.SalonID)
		return none, nil
	}

	tier := TierFor(bestSim)
	result := Assignment{
		Similarity:           bestSim,
		Tier:                 tier,
		RequiresConfirmation: tier.RequiresConfirmation(),
	}
	if tier != TierNone {
		result.StaffID = best.StaffID
		result.MatchedSpeaker = bestLabel
	}

	r.logger.Info("staff identity resolved",
		"session_id", req.SessionID,
		"staff_id", result.StaffID,
		"similarity", bestSim,
		"tier", string(tier),
	)
	return result, nil
}

// rankSpeakers orders speakers by total speaking time, longest first, with
// label as tie-break so the order is deterministic.
func rankSpeakers(in []SpeakerEmbedding) []SpeakerEmbedding {
	out := make([]SpeakerEmbedding, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DurationMs != out[j].DurationMs {
			return out[i].DurationMs > out[j].DurationMs
		}
		return out[i].Label < out[j].Label
	})
	return out
}
