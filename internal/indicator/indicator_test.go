package indicator

import (
	"encoding/json"
	"errors"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestWeightsSumToOneHundred(t *testing.T) {
	total := 0
	for _, typ := range All() {
		w := WeightPercent(typ)
		if w <= 0 {
			t.Fatalf("expected positive weight for %s, got %d", typ, w)
		}
		total += w
	}
	if total != 100 {
		t.Fatalf("expected weights to sum to 100, got %d", total)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	types := All()
	types[0] = "mutated"
	if All()[0] != TalkRatio {
		t.Fatal("expected All to return an independent slice")
	}
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse(RawObservation{Type: "charisma", Score: ptr(50.0)})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if vErr.Field != "indicator_type" {
		t.Fatalf("expected indicator_type field, got %q", vErr.Field)
	}
}

func TestParseRejectsOutOfRangeScore(t *testing.T) {
	for _, score := range []float64{-1, 100.5} {
		_, err := Parse(RawObservation{Type: string(Emotion), Score: ptr(score)})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.Field != "score" {
			t.Fatalf("expected score ValidationError for %v, got %v", score, err)
		}
	}
}

func TestParseRejectsMismatchedDetails(t *testing.T) {
	raw := RawObservation{
		Type:    string(ConcernKeywords),
		Score:   ptr(50.0),
		Details: json.RawMessage(`{"keywords":"dryness"}`),
	}
	_, err := Parse(raw)
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "details" {
		t.Fatalf("expected details ValidationError, got %v", err)
	}
}

func TestParseDecodesTaggedVariant(t *testing.T) {
	raw := RawObservation{
		Type:    string(ConcernKeywords),
		Score:   ptr(100.0),
		Value:   2,
		Details: json.RawMessage(`{"keywords":["dryness","frizz"],"details":"two concerns"}`),
	}
	obs, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d, ok := obs.Detail.(ConcernKeywordsDetail)
	if !ok {
		t.Fatalf("expected ConcernKeywordsDetail, got %T", obs.Detail)
	}
	if len(d.Keywords) != 2 || d.Keywords[0] != "dryness" {
		t.Fatalf("unexpected keywords: %v", d.Keywords)
	}
	if d.Summary != "two concerns" {
		t.Fatalf("expected summary to be decoded, got %q", d.Summary)
	}
}

func TestParseDerivesCustomerRatio(t *testing.T) {
	obs, err := Parse(RawObservation{
		Type:    string(TalkRatio),
		Details: json.RawMessage(`{"stylistRatio":45}`),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := obs.Detail.(TalkRatioDetail)
	if d.CustomerRatio != 55 {
		t.Fatalf("expected customer ratio 55, got %v", d.CustomerRatio)
	}
	if obs.Score != 100 {
		t.Fatalf("expected derived score 100, got %v", obs.Score)
	}
}

func TestParseKeepsNilProposalTiming(t *testing.T) {
	obs, err := Parse(RawObservation{
		Type:    string(ProposalTiming),
		Details: json.RawMessage(`{"timingMs":null}`),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	d := obs.Detail.(ProposalTimingDetail)
	if d.Proposed() {
		t.Fatal("expected no proposal")
	}
	if obs.Score != 0 {
		t.Fatalf("expected score 0 without a proposal, got %v", obs.Score)
	}
}

func TestDeriveScore(t *testing.T) {
	tests := []struct {
		name   string
		detail Detail
		want   float64
	}{
		{"talk ratio in band", TalkRatioDetail{StaffRatio: 55}, 100},
		{"talk ratio dominant staff", TalkRatioDetail{StaffRatio: 80}, 80},
		{"talk ratio quiet staff", TalkRatioDetail{StaffRatio: 30}, 80},
		{"talk ratio floor", TalkRatioDetail{StaffRatio: 0}, 20},
		{"questions ideal", QuestionQualityDetail{OpenCount: 6, ClosedCount: 4}, 100},
		{"questions half", QuestionQualityDetail{OpenCount: 3, ClosedCount: 7}, 50},
		{"questions none", QuestionQualityDetail{}, 0},
		{"emotion ideal", EmotionDetail{PositiveRatio: 70}, 100},
		{"emotion half", EmotionDetail{PositiveRatio: 35}, 50},
		{"keywords none", ConcernKeywordsDetail{}, 0},
		{"keywords one", ConcernKeywordsDetail{Keywords: []string{"frizz"}}, 60},
		{"keywords two", ConcernKeywordsDetail{Keywords: []string{"frizz", "dryness"}}, 100},
		{"proposal fast", ProposalTimingDetail{TimingMs: ptr(int64(60_000))}, 100},
		{"proposal midway", ProposalTimingDetail{TimingMs: ptr(int64(390_000))}, 50},
		{"proposal late", ProposalTimingDetail{TimingMs: ptr(int64(900_000))}, 0},
		{"match rate", ProposalQualityDetail{MatchRate: 72}, 72},
		{"converted", ConversionDetail{IsConverted: true}, 100},
		{"not converted", ConversionDetail{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveScore(tt.detail); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseAllReportsIndex(t *testing.T) {
	_, err := ParseAll([]RawObservation{
		{Type: string(Emotion), Score: ptr(50.0)},
		{Type: "bogus"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected wrapped ValidationError, got %v", err)
	}
}
