// Package indicator defines the seven conversation-quality indicators, their
// weights, and the typed detail payloads that accompany each observation.
package indicator

import "fmt"

type Type string

const (
	TalkRatio       Type = "talk_ratio"
	QuestionQuality Type = "question_quality"
	Emotion         Type = "emotion"
	ConcernKeywords Type = "concern_keywords"
	ProposalTiming  Type = "proposal_timing"
	ProposalQuality Type = "proposal_quality"
	Conversion      Type = "conversion"
)

// Count is the number of indicator types.
const Count = 7

var all = [Count]Type{
	TalkRatio,
	QuestionQuality,
	Emotion,
	ConcernKeywords,
	ProposalTiming,
	ProposalQuality,
	Conversion,
}

// weights are integer percentages so that the full set sums to exactly 100.
var weights = map[Type]int{
	TalkRatio:       15,
	QuestionQuality: 15,
	Emotion:         15,
	ConcernKeywords: 10,
	ProposalTiming:  15,
	ProposalQuality: 15,
	Conversion:      15,
}

// All returns every indicator type in report order.
func All() []Type {
	out := make([]Type, Count)
	copy(out, all[:])
	return out
}

// Index returns the position of t in report order, or -1.
func Index(t Type) int {
	for i, candidate := range all {
		if candidate == t {
			return i
		}
	}
	return -1
}

func (t Type) Valid() bool {
	return Index(t) >= 0
}

// WeightPercent returns the indicator weight as an integer percentage.
func WeightPercent(t Type) int {
	return weights[t]
}

// Weight returns the indicator weight as a fraction of 1.
func Weight(t Type) float64 {
	return float64(weights[t]) / 100
}

func (t Type) Label() string {
	switch t {
	case TalkRatio:
		return "Talk ratio"
	case QuestionQuality:
		return "Question quality"
	case Emotion:
		return "Customer emotion"
	case ConcernKeywords:
		return "Concern keywords"
	case ProposalTiming:
		return "Proposal timing"
	case ProposalQuality:
		return "Proposal quality"
	case Conversion:
		return "Conversion"
	default:
		return fmt.Sprintf("indicator(%s)", string(t))
	}
}

// Observation is one validated indicator reading from a chunk.
type Observation struct {
	Type   Type    `json:"indicator_type"`
	Score  float64 `json:"score"`
	Value  float64 `json:"value"`
	Detail Detail  `json:"details"`
}
