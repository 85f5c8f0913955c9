package indicator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// RawObservation is the wire form of an observation before validation.
// Score is optional; when omitted it is derived from the details.
type RawObservation struct {
	Type    string          `json:"indicator_type"`
	Score   *float64        `json:"score,omitempty"`
	Value   float64         `json:"value"`
	Details json.RawMessage `json:"details,omitempty"`
}

// ValidationError reports a malformed observation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Parse validates a raw observation and decodes its details into the variant
// matching its indicator type.
func Parse(raw RawObservation) (Observation, error) {
	t := Type(raw.Type)
	if !t.Valid() {
		return Observation{}, &ValidationError{Field: "indicator_type", Reason: fmt.Sprintf("unknown type %q", raw.Type)}
	}

	detail, err := DecodeDetail(t, raw.Details)
	if err != nil {
		return Observation{}, err
	}
	if err := detail.validate(); err != nil {
		return Observation{}, err
	}

	var score float64
	if raw.Score != nil {
		score = *raw.Score
		if math.IsNaN(score) || score < 0 || score > 100 {
			return Observation{}, &ValidationError{Field: "score", Reason: "must be within 0-100"}
		}
	} else {
		score = DeriveScore(detail)
	}

	return Observation{
		Type:   t,
		Score:  score,
		Value:  raw.Value,
		Detail: detail,
	}, nil
}

// ParseAll validates every observation, stopping at the first failure.
func ParseAll(raws []RawObservation) ([]Observation, error) {
	out := make([]Observation, 0, len(raws))
	for i, raw := range raws {
		obs, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("observation %d: %w", i, err)
		}
		out = append(out, obs)
	}
	return out, nil
}

// DecodeDetail decodes a details payload into the variant for t. An empty
// payload decodes to the zero variant.
func DecodeDetail(t Type, payload json.RawMessage) (Detail, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}

	var (
		detail Detail
		err    error
	)
	switch t {
	case TalkRatio:
		var d TalkRatioDetail
		err = json.Unmarshal(payload, &d)
		if err == nil && d.CustomerRatio == 0 && d.StaffRatio > 0 {
			d.CustomerRatio = 100 - d.StaffRatio
		}
		detail = d
	case QuestionQuality:
		var d QuestionQualityDetail
		err = json.Unmarshal(payload, &d)
		detail = d
	case Emotion:
		var d EmotionDetail
		err = json.Unmarshal(payload, &d)
		detail = d
	case ConcernKeywords:
		var d ConcernKeywordsDetail
		err = json.Unmarshal(payload, &d)
		detail = d
	case ProposalTiming:
		var d ProposalTimingDetail
		err = json.Unmarshal(payload, &d)
		detail = d
	case ProposalQuality:
		var d ProposalQualityDetail
		err = json.Unmarshal(payload, &d)
		detail = d
	case Conversion:
		var d ConversionDetail
		err = json.Unmarshal(payload, &d)
		detail = d
	default:
		return nil, &ValidationError{Field: "indicator_type", Reason: fmt.Sprintf("unknown type %q", string(t))}
	}
	if err != nil {
		return nil, &ValidationError{Field: "details", Reason: err.Error()}
	}
	return detail, nil
}

// EmptyDetail returns the zero detail variant for t, or nil for an unknown type.
func EmptyDetail(t Type) Detail {
	d, _ := DecodeDetail(t, nil)
	return d
}
