package indicator

import "strings"

// Detail is the indicator-specific payload of an observation. Each indicator
// type has exactly one concrete Detail implementation.
type Detail interface {
	Kind() Type
	validate() error
}

type TalkRatioDetail struct {
	StaffRatio    float64 `json:"stylistRatio"`
	CustomerRatio float64 `json:"customerRatio"`
	Summary       string  `json:"details,omitempty"`
}

func (TalkRatioDetail) Kind() Type { return TalkRatio }

func (d TalkRatioDetail) validate() error {
	if d.StaffRatio < 0 || d.StaffRatio > 100 {
		return &ValidationError{Field: "details.stylistRatio", Reason: "must be within 0-100"}
	}
	return nil
}

type QuestionQualityDetail struct {
	OpenCount   int    `json:"openCount"`
	ClosedCount int    `json:"closedCount"`
	Summary     string `json:"details,omitempty"`
}

func (QuestionQualityDetail) Kind() Type { return QuestionQuality }

func (d QuestionQualityDetail) validate() error {
	if d.OpenCount < 0 || d.ClosedCount < 0 {
		return &ValidationError{Field: "details.openCount", Reason: "question counts must be non-negative"}
	}
	return nil
}

// OpenShare returns the percentage of open questions, or 0 when no questions were asked.
func (d QuestionQualityDetail) OpenShare() float64 {
	total := d.OpenCount + d.ClosedCount
	if total == 0 {
		return 0
	}
	return float64(d.OpenCount) * 100 / float64(total)
}

type EmotionDetail struct {
	PositiveRatio float64 `json:"positiveRatio"`
	Summary       string  `json:"details,omitempty"`
}

func (EmotionDetail) Kind() Type { return Emotion }

func (d EmotionDetail) validate() error {
	if d.PositiveRatio < 0 || d.PositiveRatio > 100 {
		return &ValidationError{Field: "details.positiveRatio", Reason: "must be within 0-100"}
	}
	return nil
}

type ConcernKeywordsDetail struct {
	Keywords []string `json:"keywords"`
	Summary  string   `json:"details,omitempty"`
}

func (ConcernKeywordsDetail) Kind() Type { return ConcernKeywords }

func (d ConcernKeywordsDetail) validate() error {
	for _, k := range d.Keywords {
		if strings.TrimSpace(k) == "" {
			return &ValidationError{Field: "details.keywords", Reason: "keywords must not be blank"}
		}
	}
	return nil
}

type ProposalTimingDetail struct {
	// TimingMs is the delay between concern detection and the proposal.
	// Nil means no proposal has been made yet.
	TimingMs *int64 `json:"timingMs"`
	Summary  string `json:"details,omitempty"`
}

func (ProposalTimingDetail) Kind() Type { return ProposalTiming }

func (d ProposalTimingDetail) validate() error {
	if d.TimingMs != nil && *d.TimingMs < 0 {
		return &ValidationError{Field: "details.timingMs", Reason: "must be non-negative"}
	}
	return nil
}

// Proposed reports whether a proposal has been made.
func (d ProposalTimingDetail) Proposed() bool {
	return d.TimingMs != nil
}

type ProposalQualityDetail struct {
	MatchRate float64 `json:"matchRate"`
	Summary   string  `json:"details,omitempty"`
}

func (ProposalQualityDetail) Kind() Type { return ProposalQuality }

func (d ProposalQualityDetail) validate() error {
	if d.MatchRate < 0 || d.MatchRate > 100 {
		return &ValidationError{Field: "details.matchRate", Reason: "must be within 0-100"}
	}
	return nil
}

type ConversionDetail struct {
	IsConverted bool   `json:"isConverted"`
	Summary     string `json:"details,omitempty"`
}

func (ConversionDetail) Kind() Type { return Conversion }

func (ConversionDetail) validate() error { return nil }
