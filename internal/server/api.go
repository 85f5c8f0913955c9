package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/report"
	"github.com/sjawhar/salon-coach/internal/session"
	"github.com/sjawhar/salon-coach/internal/storage"
	"github.com/sjawhar/salon-coach/internal/voice"
)

const (
	maxJSONBody  = 4 << 20
	maxAudioBody = 32 << 20
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type SessionService interface {
	Create(ctx context.Context, params session.CreateParams) (storage.Session, error)
	Start(ctx context.Context, id string) error
	IngestChunk(ctx context.Context, id string, chunk session.Chunk) (bool, error)
	End(ctx context.Context, id string) (report.Report, error)
	Get(ctx context.Context, id string) (storage.Session, error)
	Score(ctx context.Context, id string) (session.ScoreView, error)
	Report(ctx context.Context, id string) (report.Report, error)
	ConfirmStylist(ctx context.Context, id, staffID string) (voice.Assignment, error)
}

type SessionLister interface {
	GetSessionsByDate(ctx context.Context, date, salonID string) ([]storage.Session, error)
}

type VoiceRegistrar interface {
	Register(ctx context.Context, reg voice.Registration) (voice.Sample, error)
}

type EmbeddingExtractor interface {
	Extract(ctx context.Context, filename string, audio io.Reader) (voice.Extraction, error)
}

type NotificationDismisser interface {
	Dismiss(id string) bool
}

// API collects the services behind the HTTP routes. Nil services disable
// their routes with 503.
type API struct {
	Sessions      SessionService
	Lister        SessionLister
	Voices        VoiceRegistrar
	Extractor     EmbeddingExtractor
	Notifications NotificationDismisser
	Warnings      func() []string
}

type createSessionRequest struct {
	SalonID   string `json:"salon_id"`
	AgeGroup  string `json:"age_group"`
	Gender    string `json:"gender"`
	VisitType string `json:"visit_type"`
}

type chunkRequest struct {
	ChunkIndex   *int                       `json:"chunk_index"`
	Observations []indicator.RawObservation `json:"observations"`
	Speakers     []voice.SpeakerEmbedding   `json:"speakers"`
}

type confirmStylistRequest struct {
	StaffID string `json:"staff_id"`
}

type voiceRequest struct {
	SalonID      string    `json:"salon_id"`
	Embedding    []float64 `json:"embedding"`
	QualityScore int       `json:"quality_score"`
	Additional   bool      `json:"additional"`
}

func registerAPIRoutes(mux *http.ServeMux, hub *Hub, api API) {
	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !requireService(w, api.Sessions != nil) {
			return
		}
		var req createSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sess, err := api.Sessions.Create(r.Context(), session.CreateParams{
			SalonID: req.SalonID,
			Customer: storage.Customer{
				AgeGroup:  req.AgeGroup,
				Gender:    req.Gender,
				VisitType: req.VisitType,
			},
		})
		if err != nil {
			writeError(w, "create session", err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if !requireService(w, api.Lister != nil) {
			return
		}
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		sessions, err := api.Lister.GetSessionsByDate(r.Context(), date, r.URL.Query().Get("salon_id"))
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok || !requireService(w, api.Sessions != nil) {
			return
		}
		sess, err := api.Sessions.Get(r.Context(), id)
		if err != nil {
			writeError(w, "get session", err)
			return
		}
		payload := map[string]any{"session": sess}
		if score, err := api.Sessions.Score(r.Context(), id); err == nil {
			payload["score"] = score
		}
		writeJSON(w, http.StatusOK, payload)
	})

	mux.HandleFunc("POST /api/sessions/{id}/start", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok || !requireService(w, api.Sessions != nil) {
			return
		}
		if err := api.Sessions.Start(r.Context(), id); err != nil {
			writeError(w, "start session", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": string(storage.StatusRecording)})
	})

	mux.HandleFunc("POST /api/sessions/{id}/chunks", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok || !requireService(w, api.Sessions != nil) {
			return
		}
		var req chunkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ChunkIndex == nil {
			writeJSONError(w, http.StatusBadRequest, "chunk_index is required")
			return
		}
		observations, err := indicator.ParseAll(req.Observations)
		if err != nil {
			writeError(w, "ingest chunk", err)
			return
		}

		accepted, err := api.Sessions.IngestChunk(r.Context(), id, session.Chunk{
			Index:        *req.ChunkIndex,
			Observations: observations,
			Speakers:     req.Speakers,
		})
		if err != nil {
			writeError(w, "ingest chunk", err)
			return
		}
		status := http.StatusAccepted
		if !accepted {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"accepted": accepted, "chunk_index": *req.ChunkIndex})
	})

	mux.HandleFunc("POST /api/sessions/{id}/end", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok || !requireService(w, api.Sessions != nil) {
			return
		}
		rep, err := api.Sessions.End(r.Context(), id)
		if err != nil {
			writeError(w, "end session", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	mux.HandleFunc("GET /api/sessions/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok || !requireService(w, api.Sessions != nil) {
			return
		}
		rep, err := api.Sessions.Report(r.Context(), id)
		if err != nil {
			writeError(w, "get report", err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	mux.HandleFunc("POST /api/sessions/{id}/stylist", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok || !requireService(w, api.Sessions != nil) {
			return
		}
		var req confirmStylistRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		a, err := api.Sessions.ConfirmStylist(r.Context(), id, req.StaffID)
		if err != nil {
			writeError(w, "confirm stylist", err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	})

	mux.HandleFunc("POST /api/staff/{id}/voice", func(w http.ResponseWriter, r *http.Request) {
		staffID, ok := pathID(w, r)
		if !ok || !requireService(w, api.Voices != nil) {
			return
		}

		var (
			reg voice.Registration
			err error
		)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			reg, err = registrationFromAudio(r, api.Extractor)
		} else {
			reg, err = registrationFromJSON(w, r)
		}
		if err != nil {
			writeError(w, "register voice", err)
			return
		}
		reg.StaffID = staffID

		sample, err := api.Voices.Register(r.Context(), reg)
		if err != nil {
			writeError(w, "register voice", err)
			return
		}
		writeJSON(w, http.StatusOK, sample)
	})

	mux.HandleFunc("POST /api/notifications/{id}/dismiss", func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok || !requireService(w, api.Notifications != nil) {
			return
		}
		if !api.Notifications.Dismiss(id) {
			writeJSONError(w, http.StatusNotFound, "notification not active")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if api.Warnings != nil {
			warnings = api.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"warnings":          warnings,
			"websocket_clients": hub.ClientCount(),
		})
	})
}

var errBadRequest = errors.New("bad request")

func registrationFromJSON(w http.ResponseWriter, r *http.Request) (voice.Registration, error) {
	var req voiceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return voice.Registration{}, fmt.Errorf("%w: invalid JSON: %v", errBadRequest, err)
	}
	return voice.Registration{
		SalonID:      req.SalonID,
		Embedding:    req.Embedding,
		QualityScore: req.QualityScore,
		Additional:   req.Additional,
	}, nil
}

// registrationFromAudio runs an uploaded recording through the embedding
// extractor and registers the result.
func registrationFromAudio(r *http.Request, extractor EmbeddingExtractor) (voice.Registration, error) {
	if extractor == nil {
		return voice.Registration{}, &voice.ExternalServiceError{Service: "embedding extractor", Err: errors.New("not configured")}
	}
	if err := r.ParseMultipartForm(maxAudioBody); err != nil {
		return voice.Registration{}, fmt.Errorf("%w: invalid multipart form: %v", errBadRequest, err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return voice.Registration{}, fmt.Errorf("%w: audio file is required", errBadRequest)
	}
	defer func() { _ = file.Close() }()

	extraction, err := extractor.Extract(r.Context(), header.Filename, file)
	if err != nil {
		return voice.Registration{}, err
	}
	additional, _ := strconv.ParseBool(r.FormValue("additional"))
	return voice.Registration{
		SalonID:      r.FormValue("salon_id"),
		Embedding:    extraction.Embedding,
		QualityScore: extraction.QualityScore,
		Additional:   additional,
	}, nil
}

func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !validID(id) {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}

func validID(id string) bool {
	return idPattern.MatchString(id)
}

func requireService(w http.ResponseWriter, ok bool) bool {
	if !ok {
		writeJSONError(w, http.StatusServiceUnavailable, "service not configured")
	}
	return ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		stateErr   *session.InvalidStateError
		valErr     *indicator.ValidationError
		dimErr     *voice.DimensionMismatchError
		qualityErr *voice.QualityTooLowError
		shortErr   *voice.SampleTooShortError
		aggErr     *report.AggregationError
		extErr     *voice.ExternalServiceError
	)
	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &stateErr), errors.Is(err, session.ErrStylistConfirmed):
		return http.StatusConflict
	case errors.As(err, &valErr), errors.As(err, &dimErr), errors.As(err, &qualityErr), errors.As(err, &shortErr), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.As(err, &aggErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &extErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" failed", "error", err)
	}
	writeJSONError(w, status, fmt.Sprintf("%s: %v", op, err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
