package voice

import (
	"context"
	"fmt"
	"time"
)

// MinQualityScore is the lowest quality accepted for a voice sample.
const MinQualityScore = 50

// maxMergeWeight caps how much an existing embedding dominates a new sample.
const maxMergeWeight = 10

// VoiceStore persists staff voice samples.
type VoiceStore interface {
	GetVoice(ctx context.Context, staffID string) (Sample, bool, error)
	PutVoice(ctx context.Context, sample Sample) error
}

type Registration struct {
	StaffID      string
	SalonID      string
	Embedding    []float64
	QualityScore int
	// Additional merges the sample into an existing registration instead of
	// replacing it.
	Additional bool
}

type Registry struct {
	store VoiceStore
	now   func() time.Time
}

func NewRegistry(store VoiceStore) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Register stores a staff voice sample. Additional samples are averaged into
// the existing embedding weighted by how many samples it already represents.
func (r *Registry) Register(ctx context.Context, reg Registration) (Sample, error) {
	if reg.StaffID == "" {
		return Sample{}, fmt.Errorf("register voice: staff id is required")
	}
	if err := CheckDimension(reg.StaffID, reg.Embedding); err != nil {
		return Sample{}, err
	}
	if reg.QualityScore < MinQualityScore {
		return Sample{}, &QualityTooLowError{Score: reg.QualityScore, Min: MinQualityScore}
	}

	embedding := make([]float64, len(reg.Embedding))
	copy(embedding, reg.Embedding)
	sample := Sample{
		StaffID:      reg.StaffID,
		SalonID:      reg.SalonID,
		Embedding:    embedding,
		SampleCount:  1,
		QualityScore: reg.QualityScore,
		UpdatedAt:    r.now().UTC(),
	}

	if reg.Additional {
		existing, ok, err := r.store.GetVoice(ctx, reg.StaffID)
		if err != nil {
			return Sample{}, fmt.Errorf("load existing voice: %w", err)
		}
		if ok && len(existing.Embedding) == EmbeddingDim {
			sample.Embedding = mergeEmbedding(existing.Embedding, existing.SampleCount, embedding)
			sample.SampleCount = existing.SampleCount + 1
			sample.QualityScore = max(existing.QualityScore, reg.QualityScore)
			if sample.SalonID == "" {
				sample.SalonID = existing.SalonID
			}
		}
	}

	Normalize(sample.Embedding)
	if err := r.store.PutVoice(ctx, sample); err != nil {
		return Sample{}, fmt.Errorf("save voice: %w", err)
	}
	return sample, nil
}

func mergeEmbedding(existing []float64, count int, next []float64) []float64 {
	w := float64(min(max(count, 1), maxMergeWeight))
	out := make([]float64, len(existing))
	for i := range existing {
		out[i] = (existing[i]*w + next[i]) / (w + 1)
	}
	return out
}
