package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Extraction is an embedding computed from an audio sample.
type Extraction struct {
	Embedding       []float64 `json:"embedding"`
	DurationSeconds float64   `json:"duration_seconds"`
	Confidence      float64   `json:"confidence"`
	QualityScore    int       `json:"quality_score"`
}

// Extractor calls the diarization service to turn audio into a speaker embedding.
type Extractor struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewExtractor(baseURL, apiKey string, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type extractResponse struct {
	Embedding       []float64 `json:"embedding"`
	DurationSeconds float64   `json:"duration_seconds"`
	Confidence      float64   `json:"confidence"`
}

// Extract uploads audio and returns its embedding. Seekable WAV input shorter
// than MinSampleDuration is rejected before upload. Transport and service
// failures are reported as ExternalServiceError.
func (e *Extractor) Extract(ctx context.Context, filename string, audio io.Reader) (Extraction, error) {
	if e.baseURL == "" {
		return Extraction{}, &ExternalServiceError{Service: "embedding extractor", Err: fmt.Errorf("no service URL configured")}
	}

	if rs, ok := audio.(io.ReadSeeker); ok {
		if _, err := CheckSample(rs); err != nil {
			return Extraction{}, err
		}
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return Extraction{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return Extraction{}, fmt.Errorf("copy audio: %w", err)
	}
	if err := w.Close(); err != nil {
		return Extraction{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract-embedding", &b)
	if err != nil {
		return Extraction{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Extraction{}, &ExternalServiceError{Service: "embedding extractor", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Extraction{}, &ExternalServiceError{
			Service: "embedding extractor",
			Err:     fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Extraction{}, &ExternalServiceError{Service: "embedding extractor", Err: fmt.Errorf("decode response: %w", err)}
	}
	if err := CheckDimension("", out.Embedding); err != nil {
		return Extraction{}, err
	}

	return Extraction{
		Embedding:       out.Embedding,
		DurationSeconds: out.DurationSeconds,
		Confidence:      out.Confidence,
		QualityScore:    int(math.Round(out.Confidence * 100)),
	}, nil
}
