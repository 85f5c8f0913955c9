package voice

import (
	"context"
	"errors"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// unitMix returns a 512-dim unit vector whose cosine with basis(0) is cos.
func unitMix(cos float64, axis int) []float64 {
	v := make([]float64, EmbeddingDim)
	v[0] = cos
	v[axis] = math.Sqrt(1 - cos*cos)
	return v
}

func basis(axis int) []float64 {
	v := make([]float64, EmbeddingDim)
	v[axis] = 1
	return v
}

type sourceMock struct {
	mu     sync.Mutex
	voices []Sample
	err    error
	calls  int
}

func (m *sourceMock) StaffVoices(_ context.Context, _ string) ([]Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.voices, m.err
}

func (m *sourceMock) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestTierBoundaries(t *testing.T) {
	tests := []struct {
		similarity float64
		want       Tier
	}{
		{0.85, TierHigh},
		{0.8499, TierMedium},
		{0.75, TierMedium},
		{0.7499, TierLow},
		{0.65, TierLow},
		{0.6499, TierNone},
		{1, TierHigh},
		{0, TierNone},
	}
	for _, tt := range tests {
		if got := TierFor(tt.similarity); got != tt.want {
			t.Fatalf("TierFor(%v): expected %s, got %s", tt.similarity, tt.want, got)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity(basis(0), basis(0)); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected 1, got %v", got)
	}
	if got := CosineSimilarity(basis(0), basis(1)); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	neg := basis(0)
	neg[0] = -1
	if got := CosineSimilarity(basis(0), neg); got != 0 {
		t.Fatalf("expected negative similarity to clamp to 0, got %v", got)
	}
	if got := CosineSimilarity([]float64{1}, []float64{1, 2}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %v", got)
	}
}

func TestResolvePicksBestStaff(t *testing.T) {
	src := &sourceMock{voices: []Sample{
		{StaffID: "staff-a", Embedding: unitMix(0.90, 1)},
		{StaffID: "staff-b", Embedding: unitMix(0.70, 2)},
	}}
	r := NewResolver(src)

	got, err := r.Resolve(context.Background(), Request{
		SessionID: "s1",
		SalonID:   "salon",
		Speakers: []SpeakerEmbedding{
			{Label: "SPEAKER_00", Embedding: basis(0), DurationMs: 5000},
			{Label: "SPEAKER_01", Embedding: basis(3), DurationMs: 4000},
		},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.StaffID != "staff-a" {
		t.Fatalf("expected staff-a, got %q", got.StaffID)
	}
	if got.Tier != TierHigh {
		t.Fatalf("expected high tier, got %s", got.Tier)
	}
	if got.RequiresConfirmation {
		t.Fatal("expected no confirmation for high tier")
	}
	if got.MatchedSpeaker != "SPEAKER_00" {
		t.Fatalf("expected SPEAKER_00, got %q", got.MatchedSpeaker)
	}
}

func TestResolveMediumRequiresConfirmation(t *testing.T) {
	src := &sourceMock{voices: []Sample{{StaffID: "staff-a", Embedding: unitMix(0.80, 1)}}}
	got, err := NewResolver(src).Resolve(context.Background(), Request{
		Speakers: []SpeakerEmbedding{{Label: "A", Embedding: basis(0), DurationMs: 10}},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Tier != TierMedium || !got.RequiresConfirmation || got.StaffID != "staff-a" {
		t.Fatalf("unexpected assignment: %+v", got)
	}
}

func TestResolveNoneBelowThreshold(t *testing.T) {
	src := &sourceMock{voices: []Sample{{StaffID: "staff-a", Embedding: unitMix(0.5, 1)}}}
	got, err := NewResolver(src).Resolve(context.Background(), Request{
		Speakers: []SpeakerEmbedding{{Label: "A", Embedding: basis(0), DurationMs: 10}},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Matched() {
		t.Fatalf("expected no staff, got %q", got.StaffID)
	}
	if got.Tier != TierNone || !got.RequiresConfirmation {
		t.Fatalf("unexpected assignment: %+v", got)
	}
}

func TestResolveIsIdempotentOnceAssigned(t *testing.T) {
	src := &sourceMock{}
	current := &Assignment{StaffID: "staff-z", Similarity: 0.91, Tier: TierHigh}

	got, err := NewResolver(src).Resolve(context.Background(), Request{
		Current:  current,
		Speakers: []SpeakerEmbedding{{Label: "A", Embedding: []float64{1, 2}}},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.StaffID != "staff-z" {
		t.Fatalf("expected existing assignment, got %+v", got)
	}
	if src.callCount() != 0 {
		t.Fatalf("expected no source calls, got %d", src.callCount())
	}
}

func TestResolveRejectsBadDimensionBeforeLoading(t *testing.T) {
	src := &sourceMock{}
	_, err := NewResolver(src).Resolve(context.Background(), Request{
		Speakers: []SpeakerEmbedding{
			{Label: "A", Embedding: basis(0), DurationMs: 10},
			{Label: "B", Embedding: make([]float64, 128), DurationMs: 10},
		},
	})
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dimErr.Label != "B" || dimErr.Got != 128 {
		t.Fatalf("unexpected error detail: %+v", dimErr)
	}
	if src.callCount() != 0 {
		t.Fatal("expected source not to be consulted")
	}
}

func TestResolveWrapsSourceFailure(t *testing.T) {
	cause := errors.New("connection refused")
	src := &sourceMock{err: cause}
	_, err := NewResolver(src).Resolve(context.Background(), Request{
		Speakers: []SpeakerEmbedding{{Label: "A", Embedding: basis(0), DurationMs: 10}},
	})
	var extErr *ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected error to unwrap to cause")
	}
}

func TestRankSpeakersTieBreaksByLabel(t *testing.T) {
	got := rankSpeakers([]SpeakerEmbedding{
		{Label: "C", DurationMs: 100},
		{Label: "B", DurationMs: 300},
		{Label: "A", DurationMs: 100},
	})
	order := []string{got[0].Label, got[1].Label, got[2].Label}
	want := []string{"B", "A", "C"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestResolveTieGoesToLongerSpeaker(t *testing.T) {
	src := &sourceMock{voices: []Sample{{StaffID: "staff-a", Embedding: basis(0)}}}
	got, err := NewResolver(src).Resolve(context.Background(), Request{
		Speakers: []SpeakerEmbedding{
			{Label: "short", Embedding: basis(0), DurationMs: 10},
			{Label: "long", Embedding: basis(0), DurationMs: 900},
		},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.MatchedSpeaker != "long" {
		t.Fatalf("expected longer speaker to win tie, got %q", got.MatchedSpeaker)
	}
}

type voiceStoreMock struct {
	mu     sync.Mutex
	voices map[string]Sample
}

func newVoiceStoreMock() *voiceStoreMock {
	return &voiceStoreMock{voices: map[string]Sample{}}
}

func (m *voiceStoreMock) GetVoice(_ context.Context, staffID string) (Sample, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.voices[staffID]
	return s, ok, nil
}

func (m *voiceStoreMock) PutVoice(_ context.Context, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voices[s.StaffID] = s
	return nil
}

func TestRegisterRejectsLowQuality(t *testing.T) {
	reg := NewRegistry(newVoiceStoreMock())
	_, err := reg.Register(context.Background(), Registration{StaffID: "a", Embedding: basis(0), QualityScore: 49})
	var qErr *QualityTooLowError
	if !errors.As(err, &qErr) {
		t.Fatalf("expected QualityTooLowError, got %v", err)
	}
}

func TestRegisterRejectsBadDimension(t *testing.T) {
	reg := NewRegistry(newVoiceStoreMock())
	_, err := reg.Register(context.Background(), Registration{StaffID: "a", Embedding: []float64{1}, QualityScore: 90})
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
}

func TestRegisterMergesAdditionalSample(t *testing.T) {
	store := newVoiceStoreMock()
	reg := NewRegistry(store)
	ctx := context.Background()

	if _, err := reg.Register(ctx, Registration{StaffID: "a", SalonID: "salon", Embedding: basis(0), QualityScore: 70}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	got, err := reg.Register(ctx, Registration{StaffID: "a", Embedding: basis(1), QualityScore: 90, Additional: true})
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if got.SampleCount != 2 {
		t.Fatalf("expected sample count 2, got %d", got.SampleCount)
	}
	if got.SalonID != "salon" {
		t.Fatalf("expected salon to carry over, got %q", got.SalonID)
	}
	if got.QualityScore != 90 {
		t.Fatalf("expected best quality 90, got %d", got.QualityScore)
	}
	// equal weights after one sample: (e0 + e1) / 2 normalized
	want := 1 / math.Sqrt2
	if math.Abs(got.Embedding[0]-want) > 1e-9 || math.Abs(got.Embedding[1]-want) > 1e-9 {
		t.Fatalf("unexpected merged embedding: %v %v", got.Embedding[0], got.Embedding[1])
	}
}

func TestRegisterReplacesWithoutAdditional(t *testing.T) {
	store := newVoiceStoreMock()
	reg := NewRegistry(store)
	ctx := context.Background()

	_, _ = reg.Register(ctx, Registration{StaffID: "a", Embedding: basis(0), QualityScore: 70})
	got, err := reg.Register(ctx, Registration{StaffID: "a", Embedding: basis(1), QualityScore: 60})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if got.SampleCount != 1 || got.Embedding[1] != 1 {
		t.Fatalf("expected replacement, got count=%d e1=%v", got.SampleCount, got.Embedding[1])
	}
}

func TestExtractorUploadsAudio(t *testing.T) {
	var gotKey, gotFile string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract-embedding" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("X-API-Key")
		_, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		if err == nil {
			b, _ := io.ReadAll(part)
			gotFile = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		emb := make([]string, EmbeddingDim)
		for i := range emb {
			emb[i] = "0"
		}
		emb[0] = "1"
		_, _ = w.Write([]byte(`{"embedding":[` + strings.Join(emb, ",") + `],"confidence":0.874,"duration_seconds":4.2}`))
	}))
	defer server.Close()

	ex := NewExtractor(server.URL, "secret", time.Second)
	got, err := ex.Extract(context.Background(), "sample.wav", strings.NewReader("RIFF"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if gotKey != "secret" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if gotFile != "RIFF" {
		t.Fatalf("expected uploaded audio, got %q", gotFile)
	}
	if got.QualityScore != 87 {
		t.Fatalf("expected quality 87, got %d", got.QualityScore)
	}
	if len(got.Embedding) != EmbeddingDim {
		t.Fatalf("expected %d dims, got %d", EmbeddingDim, len(got.Embedding))
	}
}

func TestExtractorServiceFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewExtractor(server.URL, "", time.Second).Extract(context.Background(), "a.wav", strings.NewReader("x"))
	var extErr *ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
}
