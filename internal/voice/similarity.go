package voice

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// EmbeddingDim is the fixed length of a speaker embedding.
const EmbeddingDim = 512

const (
	ThresholdHigh   = 0.85
	ThresholdMedium = 0.75
	ThresholdMin    = 0.65
)

type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
	TierNone   Tier = "none"
)

// TierFor maps a similarity to its confidence tier. Lower bounds are inclusive.
func TierFor(similarity float64) Tier {
	switch {
	case similarity >= ThresholdHigh:
		return TierHigh
	case similarity >= ThresholdMedium:
		return TierMedium
	case similarity >= ThresholdMin:
		return TierLow
	default:
		return TierNone
	}
}

// RequiresConfirmation reports whether an assignment at this tier must be
// confirmed by a person.
func (t Tier) RequiresConfirmation() bool {
	return t != TierHigh
}

// CosineSimilarity returns the cosine of the angle between a and b clamped to
// [0, 1]. Mismatched or zero-length vectors have similarity 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (normA * normB)
	if math.IsNaN(sim) {
		return 0
	}
	return math.Max(0, math.Min(1, sim))
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float64) {
	n := floats.Norm(v, 2)
	if n == 0 {
		return
	}
	floats.Scale(1/n, v)
}
