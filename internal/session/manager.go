// Package session drives a salon session from creation to its final report.
// Each recording session owns a bounded inbox drained by a single worker, so
// chunks for one session are applied in arrival order while sessions proceed
// independently.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/notify"
	"github.com/sjawhar/salon-coach/internal/report"
	"github.com/sjawhar/salon-coach/internal/scoring"
	"github.com/sjawhar/salon-coach/internal/storage"
	"github.com/sjawhar/salon-coach/internal/voice"
)

const (
	defaultQueueSize   = 64
	defaultMinSpeakers = 2
	archiveTimeout     = 2 * time.Minute
	storeTimeout       = 5 * time.Second

	manualConfidence = "manual"
)

var defaultIdentityBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

type sessionState struct {
	id      string
	salonID string
	engine  *scoring.Engine

	// lifecycle serializes Start and End.
	lifecycle sync.Mutex
	// assign serializes stylist writes without holding mu across the store.
	assign sync.Mutex

	mu         sync.Mutex
	status     storage.Status
	startedAt  time.Time
	assignment *voice.Assignment
	confirmed  bool
	speakers   map[string]voice.SpeakerEmbedding
	order      []string
	report     *report.Report

	sendMu      sync.RWMutex
	inbox       chan Chunk
	inboxClosed bool
	done        chan struct{}

	resolving      atomic.Bool
	identityCtx    context.Context
	cancelIdentity context.CancelFunc
}

func (st *sessionState) canAssign() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.status != storage.StatusRecording && st.status != storage.StatusProcessing {
		return &InvalidStateError{SessionID: st.id, Op: "assign stylist", Status: st.status}
	}
	if st.confirmed {
		return ErrStylistConfirmed
	}
	return nil
}

func (st *sessionState) currentStatus() storage.Status {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}

type Manager struct {
	store      Store
	aggregator Aggregator
	resolver   Resolver
	notifier   Notifier
	hub        EventBroadcaster
	archiver   Archiver

	queueSize       int
	minSpeakers     int
	identityBackoff []time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	wg       sync.WaitGroup
}

type Option func(*Manager)

func WithResolver(r Resolver) Option {
	return func(m *Manager) { m.resolver = r }
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithBroadcaster(b EventBroadcaster) Option {
	return func(m *Manager) { m.hub = b }
}

func WithArchiver(a Archiver) Option {
	return func(m *Manager) { m.archiver = a }
}

func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

func WithMinSpeakers(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.minSpeakers = n
		}
	}
}

// WithIdentityBackoff sets the waits between identity resolution retries.
// Its length is the number of retries after the first attempt.
func WithIdentityBackoff(backoff []time.Duration) Option {
	return func(m *Manager) { m.identityBackoff = append([]time.Duration(nil), backoff...) }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(store Store, aggregator Aggregator, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		aggregator:      aggregator,
		queueSize:       defaultQueueSize,
		minSpeakers:     defaultMinSpeakers,
		identityBackoff: defaultIdentityBackoff,
		now:             time.Now,
		logger:          slog.Default(),
		sessions:        make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) newState(id, salonID string, status storage.Status) *sessionState {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionState{
		id:             id,
		salonID:        salonID,
		engine:         scoring.NewEngine(id),
		status:         status,
		speakers:       make(map[string]voice.SpeakerEmbedding),
		identityCtx:    ctx,
		cancelIdentity: cancel,
	}
}

func (m *Manager) Create(ctx context.Context, params CreateParams) (storage.Session, error) {
	if strings.TrimSpace(params.SalonID) == "" {
		return storage.Session{}, &indicator.ValidationError{Field: "salon_id", Reason: "is required"}
	}

	sess := storage.Session{
		ID:        uuid.NewString(),
		SalonID:   params.SalonID,
		Status:    storage.StatusPending,
		Customer:  params.Customer,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return storage.Session{}, fmt.Errorf("create session: %w", err)
	}

	m.mu.Lock()
	m.sessions[sess.ID] = m.newState(sess.ID, sess.SalonID, storage.StatusPending)
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", sess.ID, "salon_id", sess.SalonID)
	return sess, nil
}

// lookup returns the in-memory state of a session, restoring it from the
// store when this process has not seen it yet. A restored session starts
// with empty indicator state.
func (m *Manager) lookup(ctx context.Context, id string) (*sessionState, error) {
	m.mu.Lock()
	st, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		return st, nil
	}

	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sessions[id]; ok {
		return st, nil
	}

	st = m.newState(sess.ID, sess.SalonID, sess.Status)
	if sess.StartedAt != nil {
		st.startedAt = *sess.StartedAt
	}
	if sess.StylistID != "" {
		st.assignment = &voice.Assignment{
			StaffID:    sess.StylistID,
			Similarity: sess.StylistSimilarity,
			Tier:       voice.Tier(sess.StylistConfidence),
		}
		st.confirmed = sess.StylistConfirmed
		st.resolving.Store(true)
	}
	switch sess.Status {
	case storage.StatusRecording:
		m.startWorker(st)
	case storage.StatusPending:
	default:
		st.inboxClosed = true
		st.done = make(chan struct{})
		close(st.done)
	}
	m.sessions[id] = st
	return st, nil
}

func (m *Manager) Start(ctx context.Context, id string) error {
	st, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}

	st.lifecycle.Lock()
	defer st.lifecycle.Unlock()

	if status := st.currentStatus(); status != storage.StatusPending {
		return &InvalidStateError{SessionID: id, Op: "start", Status: status}
	}

	now := m.now().UTC()
	if err := m.store.UpdateStatus(ctx, id, storage.StatusRecording, now); err != nil {
		return fmt.Errorf("start session %s: %w", id, err)
	}

	m.startWorker(st)
	st.mu.Lock()
	st.status = storage.StatusRecording
	st.startedAt = now
	st.mu.Unlock()

	m.logger.Info("session recording", "session_id", id)
	if m.hub != nil {
		m.hub.BroadcastSessionStarted(id, st.salonID)
	}
	return nil
}

func (m *Manager) startWorker(st *sessionState) {
	st.inbox = make(chan Chunk, m.queueSize)
	st.done = make(chan struct{})
	go m.run(st)
}

// IngestChunk queues an analyzed chunk for the session's worker. It reports
// false without error when the session is not recording.
func (m *Manager) IngestChunk(ctx context.Context, id string, chunk Chunk) (bool, error) {
	if chunk.Index < 0 {
		return false, &indicator.ValidationError{Field: "chunk_index", Reason: "must not be negative"}
	}
	for _, sp := range chunk.Speakers {
		if err := voice.CheckDimension(sp.Label, sp.Embedding); err != nil {
			return false, err
		}
	}

	st, err := m.lookup(ctx, id)
	if err != nil {
		return false, err
	}

	if status := st.currentStatus(); status != storage.StatusRecording {
		m.logger.Warn("chunk rejected", "session_id", id, "chunk_index", chunk.Index, "status", string(status))
		return false, nil
	}

	st.sendMu.RLock()
	defer st.sendMu.RUnlock()
	if st.inboxClosed {
		m.logger.Warn("chunk rejected", "session_id", id, "chunk_index", chunk.Index, "reason", "inbox closed")
		return false, nil
	}
	select {
	case st.inbox <- chunk:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (m *Manager) run(st *sessionState) {
	defer close(st.done)
	for chunk := range st.inbox {
		m.process(st, chunk)
	}
}

func (m *Manager) process(st *sessionState, chunk Chunk) {
	transitions := st.engine.Apply(scoring.ChunkResult{
		SessionID:    st.id,
		Index:        chunk.Index,
		Observations: chunk.Observations,
	})
	if len(transitions) > 0 {
		if m.notifier != nil {
			m.notifier.Observe(st.id, transitions)
		}
		if m.hub != nil {
			m.hub.BroadcastScoreUpdate(st.engine.Snapshot())
		}
	}

	if m.resolver == nil {
		return
	}
	if speakers, ok := m.collectSpeakers(st, chunk.Speakers); ok {
		m.startIdentity(st, speakers)
	}
}

// collectSpeakers accumulates speaking time per diarized label and reports
// whether enough distinct speakers have been heard to attempt resolution.
func (m *Manager) collectSpeakers(st *sessionState, in []voice.SpeakerEmbedding) ([]voice.SpeakerEmbedding, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	for _, sp := range in {
		prev, ok := st.speakers[sp.Label]
		if !ok {
			st.order = append(st.order, sp.Label)
		}
		sp.DurationMs += prev.DurationMs
		st.speakers[sp.Label] = sp
	}
	if st.assignment != nil {
		return nil, false
	}

	speakers := make([]voice.SpeakerEmbedding, 0, len(st.order))
	for _, label := range st.order {
		if sp := st.speakers[label]; sp.DurationMs > 0 {
			speakers = append(speakers, sp)
		}
	}
	if len(speakers) < m.minSpeakers {
		return nil, false
	}
	return speakers, true
}

func (m *Manager) startIdentity(st *sessionState, speakers []voice.SpeakerEmbedding) {
	if st.identityCtx.Err() != nil {
		return
	}
	if !st.resolving.CompareAndSwap(false, true) {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.resolveIdentity(st, speakers)
	}()
}

func (m *Manager) resolveIdentity(st *sessionState, speakers []voice.SpeakerEmbedding) {
	ctx := st.identityCtx
	req := voice.Request{SessionID: st.id, SalonID: st.salonID, Speakers: speakers}

	var (
		a   voice.Assignment
		err error
	)
	for attempt := 0; ; attempt++ {
		a, err = m.resolver.Resolve(ctx, req)
		var ext *voice.ExternalServiceError
		if err == nil || !errors.As(err, &ext) || attempt >= len(m.identityBackoff) {
			break
		}
		m.logger.Warn("stylist identification retry", "session_id", st.id, "attempt", attempt+1, "error", err)
		timer := time.NewTimer(m.identityBackoff[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("stylist identification failed", "session_id", st.id, "error", err)
		var ext *voice.ExternalServiceError
		if errors.As(err, &ext) {
			st.resolving.Store(false)
		}
		return
	}
	if !a.Matched() {
		m.logger.Info("no stylist match", "session_id", st.id, "similarity", a.Similarity)
		return
	}

	actx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.applyAssignment(actx, st, a, string(a.Tier), a.Tier == voice.TierHigh); err != nil {
		m.logger.Warn("stylist assignment dropped", "session_id", st.id, "staff_id", a.StaffID, "error", err)
	}
}

// applyAssignment records a stylist for a session. Assignments are accepted
// while recording or processing and never replace a confirmed stylist.
func (m *Manager) applyAssignment(ctx context.Context, st *sessionState, a voice.Assignment, confidence string, confirmed bool) error {
	st.assign.Lock()
	defer st.assign.Unlock()

	if err := st.canAssign(); err != nil {
		return err
	}

	ok, err := m.store.AssignStylist(ctx, st.id, a.StaffID, confidence, a.Similarity, confirmed)
	if err != nil {
		return fmt.Errorf("assign stylist: %w", err)
	}

	st.mu.Lock()
	if !ok {
		st.confirmed = true
		st.mu.Unlock()
		return ErrStylistConfirmed
	}
	st.assignment = &a
	st.confirmed = confirmed
	st.mu.Unlock()

	m.logger.Info("stylist assigned",
		"session_id", st.id,
		"staff_id", a.StaffID,
		"confidence", confidence,
		"confirmed", confirmed,
	)
	if m.notifier != nil {
		m.notifier.Notify(st.id, notify.Identified(a.StaffID, a.Similarity, confidence, !confirmed))
	}
	if m.hub != nil {
		m.hub.BroadcastStaffIdentified(st.id, a, confirmed)
	}
	return nil
}

// ConfirmStylist records a manually confirmed stylist, replacing any
// provisional match and stopping automatic identification.
func (m *Manager) ConfirmStylist(ctx context.Context, id, staffID string) (voice.Assignment, error) {
	if strings.TrimSpace(staffID) == "" {
		return voice.Assignment{}, &indicator.ValidationError{Field: "staff_id", Reason: "is required"}
	}
	st, err := m.lookup(ctx, id)
	if err != nil {
		return voice.Assignment{}, err
	}

	a := voice.Assignment{StaffID: staffID, Tier: voice.TierNone}
	st.mu.Lock()
	if prev := st.assignment; prev != nil && prev.StaffID == staffID {
		a.Similarity = prev.Similarity
		a.Tier = prev.Tier
		a.MatchedSpeaker = prev.MatchedSpeaker
	}
	st.mu.Unlock()

	st.resolving.Store(true)
	if err := m.applyAssignment(ctx, st, a, manualConfidence, true); err != nil {
		return voice.Assignment{}, err
	}
	st.cancelIdentity()
	return a, nil
}

// End stops ingestion, waits for queued chunks to be applied and freezes the
// session into its report. Calling End on a completed session returns the
// stored report; a session left in processing resumes where it stopped.
func (m *Manager) End(ctx context.Context, id string) (report.Report, error) {
	st, err := m.lookup(ctx, id)
	if err != nil {
		return report.Report{}, err
	}

	st.lifecycle.Lock()
	defer st.lifecycle.Unlock()

	st.mu.Lock()
	status, stored := st.status, st.report
	st.mu.Unlock()

	switch status {
	case storage.StatusCompleted:
		if stored != nil {
			return *stored, nil
		}
		r, err := m.store.GetReport(ctx, id)
		if err != nil {
			return report.Report{}, fmt.Errorf("load report: %w", err)
		}
		return r, nil
	case storage.StatusRecording:
		if err := m.store.UpdateStatus(ctx, id, storage.StatusProcessing, m.now().UTC()); err != nil {
			return report.Report{}, fmt.Errorf("end session %s: %w", id, err)
		}
		st.mu.Lock()
		st.status = storage.StatusProcessing
		st.mu.Unlock()
	case storage.StatusProcessing:
		m.logger.Info("resuming session end", "session_id", id)
	default:
		return report.Report{}, &InvalidStateError{SessionID: id, Op: "end", Status: status}
	}

	st.cancelIdentity()
	m.closeInbox(st)
	<-st.done

	r, err := m.aggregator.Aggregate(ctx, st.engine.Snapshot())
	if err != nil {
		// A caller that gave up leaves the session in processing for a later End.
		if ctx.Err() == nil {
			m.fail(st, err)
		}
		return report.Report{}, fmt.Errorf("aggregate session %s: %w", id, err)
	}

	// The frozen report is written even if the caller has gone away.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	saved, err := m.store.SaveReport(pctx, r)
	if err != nil {
		m.logger.Error("persist report", "session_id", id, "error", err)
		return report.Report{}, fmt.Errorf("persist report: %w", err)
	}
	if !saved {
		if r, err = m.store.GetReport(pctx, id); err != nil {
			return report.Report{}, fmt.Errorf("load report: %w", err)
		}
	}

	if err := m.store.UpdateStatus(pctx, id, storage.StatusCompleted, m.now().UTC()); err != nil {
		return report.Report{}, fmt.Errorf("complete session %s: %w", id, err)
	}
	st.mu.Lock()
	st.status = storage.StatusCompleted
	st.report = &r
	startedAt := st.startedAt
	st.mu.Unlock()

	m.finish(st)
	m.logger.Info("session completed", "session_id", id, "overall_score", r.OverallScore, "converted", r.IsConverted)
	if m.hub != nil {
		m.hub.BroadcastSessionEnded(id, storage.StatusCompleted, m.since(startedAt))
		m.hub.BroadcastReportReady(r)
	}
	if m.archiver != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.archive(r)
		}()
	}
	return r, nil
}

func (m *Manager) closeInbox(st *sessionState) {
	st.sendMu.Lock()
	defer st.sendMu.Unlock()
	if st.inboxClosed {
		return
	}
	st.inboxClosed = true
	if st.inbox != nil {
		close(st.inbox)
	}
}

func (m *Manager) fail(st *sessionState, cause error) {
	m.logger.Error("session failed", "session_id", st.id, "error", cause)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.UpdateStatus(ctx, st.id, storage.StatusFailed, m.now().UTC()); err != nil {
		m.logger.Error("mark session failed", "session_id", st.id, "error", err)
	}

	st.mu.Lock()
	st.status = storage.StatusFailed
	startedAt := st.startedAt
	st.mu.Unlock()

	m.finish(st)
	if m.hub != nil {
		m.hub.BroadcastSessionEnded(st.id, storage.StatusFailed, m.since(startedAt))
	}
}

func (m *Manager) finish(st *sessionState) {
	st.cancelIdentity()
	if m.notifier != nil {
		m.notifier.CloseSession(st.id)
	}
}

func (m *Manager) archive(r report.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := m.archiver.Archive(ctx, r); err != nil {
		m.logger.Warn("report archive failed", "session_id", r.SessionID, "error", err)
		return
	}
	m.logger.Info("report archived", "session_id", r.SessionID)
}

func (m *Manager) since(t time.Time) time.Duration {
	if t.IsZero() {
		return 0
	}
	return m.now().Sub(t)
}

func (m *Manager) Get(ctx context.Context, id string) (storage.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Session{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return storage.Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return sess, nil
}

// Score returns the live overall score and indicator state of a session.
func (m *Manager) Score(ctx context.Context, id string) (ScoreView, error) {
	st, err := m.lookup(ctx, id)
	if err != nil {
		return ScoreView{}, err
	}
	snap := st.engine.Snapshot()
	overall, ok := snap.Overall()
	return ScoreView{
		SessionID:  id,
		Overall:    overall,
		HasData:    ok,
		Indicators: snap.States,
	}, nil
}

// Report returns the frozen report of a completed session.
func (m *Manager) Report(ctx context.Context, id string) (report.Report, error) {
	m.mu.Lock()
	st, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		st.mu.Lock()
		stored := st.report
		st.mu.Unlock()
		if stored != nil {
			return *stored, nil
		}
	}

	r, err := m.store.GetReport(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		if _, gerr := m.Get(ctx, id); gerr != nil {
			return report.Report{}, gerr
		}
		return report.Report{}, fmt.Errorf("report for session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return report.Report{}, err
	}
	return r, nil
}

// Shutdown stops every session worker, cancels pending identification and
// waits for background work. Sessions keep their persisted status.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	states := make([]*sessionState, 0, len(m.sessions))
	for _, st := range m.sessions {
		states = append(states, st)
	}
	m.mu.Unlock()

	for _, st := range states {
		st.cancelIdentity()
		m.closeInbox(st)
	}

	done := make(chan struct{})
	go func() {
		for _, st := range states {
			if st.done != nil {
				<-st.done
			}
		}
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
