package notify

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sjawhar/salon-coach/internal/indicator"
	"github.com/sjawhar/salon-coach/internal/scoring"
)

const (
	DefaultCooldown = 15 * time.Second
	DefaultTTL      = 15 * time.Second

	// proposalWindow is how long after a concern a proposal is still timely.
	proposalWindow = 3 * time.Minute

	talkRatioAlertShare   = 70.0
	negativeEmotionShare  = 40.0
	questionShortageScore = 40.0
	riskConversionScore   = 50.0
)

// sessionState tracks what the dispatcher has seen for one session.
type sessionState struct {
	lastShown map[string]time.Time

	concern      []string
	concernAt    time.Time
	chanceSent   bool
	missedSent   bool
	proposalMade bool
}

type active struct {
	n     Notification
	timer *time.Timer
}

type Dispatcher struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	active   map[string]*active

	sink     Sink
	cooldown time.Duration
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	wg       sync.WaitGroup
}

type Option func(*Dispatcher)

func WithCooldown(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.cooldown = d
		}
	}
}

func WithTTL(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.ttl = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(disp *Dispatcher) {
		if now != nil {
			disp.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(disp *Dispatcher) {
		if logger != nil {
			disp.logger = logger
		}
	}
}

func NewDispatcher(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions: make(map[string]*sessionState),
		active:   make(map[string]*active),
		sink:     sink,
		cooldown: DefaultCooldown,
		ttl:      DefaultTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Observe converts indicator transitions from one chunk into notifications.
// Replayed transitions are ignored.
func (d *Dispatcher) Observe(sessionID string, transitions []scoring.Transition) []Notification {
	var candidates []Notification

	d.mu.Lock()
	st := d.session(sessionID)
	now := d.now()
	for _, tr := range transitions {
		if tr.Replay {
			continue
		}
		candidates = append(candidates, d.evaluate(st, sessionID, tr, now)...)
	}
	d.mu.Unlock()

	var sent []Notification
	for _, n := range candidates {
		if out, ok := d.Notify(sessionID, n); ok {
			sent = append(sent, out)
		}
	}
	return sent
}

func (d *Dispatcher) evaluate(st *sessionState, sessionID string, tr scoring.Transition, now time.Time) []Notification {
	var out []Notification
	switch tr.Type {
	case indicator.ConcernKeywords:
		cur, _ := tr.Current.Detail.(indicator.ConcernKeywordsDetail)
		prevCount := 0
		if tr.Previous != nil {
			if prev, ok := tr.Previous.Detail.(indicator.ConcernKeywordsDetail); ok {
				prevCount = len(prev.Keywords)
			}
		}
		if prevCount == 0 && len(cur.Keywords) > 0 {
			st.concern = append([]string(nil), cur.Keywords...)
			st.concernAt = now
			st.chanceSent = false
			st.missedSent = false
			title, msg := render(ConcernDetected, joinKeywords(cur.Keywords))
			out = append(out, Notification{Type: ConcernDetected, Title: title, Message: msg, Keywords: cur.Keywords})
		}

	case indicator.ProposalTiming:
		cur, _ := tr.Current.Detail.(indicator.ProposalTimingDetail)
		if cur.Proposed() {
			st.proposalMade = true
			break
		}
		if len(st.concern) == 0 || st.proposalMade {
			break
		}
		if !st.chanceSent {
			st.chanceSent = true
			product, talk := proposalFor(st.concern[0])
			title, msg := render(ProposalChance, joinKeywords(st.concern))
			out = append(out, Notification{
				Type:               ProposalChance,
				Title:              title,
				Message:            msg,
				SuccessTalk:        talk,
				RecommendedProduct: product,
				Keywords:           st.concern,
			})
		} else if !st.missedSent && now.Sub(st.concernAt) > proposalWindow {
			st.missedSent = true
			title, msg := render(ProposalMissed, joinKeywords(st.concern))
			out = append(out, Notification{Type: ProposalMissed, Title: title, Message: msg, Keywords: st.concern})
		}

	case indicator.TalkRatio:
		if entered(tr, func(s scoring.State) bool {
			v, ok := s.Detail.(indicator.TalkRatioDetail)
			return ok && v.StaffRatio > talkRatioAlertShare
		}) {
			title, msg := render(TalkRatioAlert)
			out = append(out, Notification{Type: TalkRatioAlert, Title: title, Message: msg})
		}

	case indicator.Emotion:
		if entered(tr, func(s scoring.State) bool {
			v, ok := s.Detail.(indicator.EmotionDetail)
			return ok && v.PositiveRatio < negativeEmotionShare
		}) {
			title, msg := render(EmotionNegativeAlert)
			out = append(out, Notification{Type: EmotionNegativeAlert, Title: title, Message: msg})
		}

	case indicator.QuestionQuality:
		if entered(tr, func(s scoring.State) bool { return s.Score < questionShortageScore }) {
			title, msg := render(QuestionShortageAlert)
			out = append(out, Notification{Type: QuestionShortageAlert, Title: title, Message: msg})
		}

	case indicator.Conversion:
		if !st.proposalMade {
			break
		}
		if entered(tr, func(s scoring.State) bool {
			v, ok := s.Detail.(indicator.ConversionDetail)
			return ok && !v.IsConverted && s.Score <= riskConversionScore
		}) {
			title, msg := render(RiskWarning)
			out = append(out, Notification{Type: RiskWarning, Title: title, Message: msg})
		}
	}

	for i := range out {
		out[i].SessionID = sessionID
	}
	return out
}

// entered reports whether the condition holds now but did not before.
func entered(tr scoring.Transition, cond func(scoring.State) bool) bool {
	if !cond(tr.Current) {
		return false
	}
	return tr.Previous == nil || !cond(*tr.Previous)
}

// Notify dispatches a notification unless one with the same key was shown in
// this session within the cooldown. It fills in ID, severity and timestamps.
func (d *Dispatcher) Notify(sessionID string, n Notification) (Notification, bool) {
	d.mu.Lock()
	st := d.session(sessionID)
	now := d.now()
	key := n.Key()
	if last, ok := st.lastShown[key]; ok && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		d.logger.Debug("notification suppressed", "session_id", sessionID, "key", key)
		return Notification{}, false
	}
	st.lastShown[key] = now

	n.SessionID = sessionID
	n.ID = newID(now)
	if n.Severity == "" {
		n.Severity = SeverityFor(n.Type)
	}
	n.Timestamp = now
	n.ExpiresAt = now.Add(d.ttl)

	id := n.ID
	d.active[id] = &active{
		n:     n,
		timer: time.AfterFunc(d.ttl, func() { d.close(id, ClosedExpired) }),
	}
	d.mu.Unlock()

	d.logger.Info("notification dispatched",
		"session_id", sessionID,
		"id", n.ID,
		"type", string(n.Type),
		"severity", string(n.Severity),
	)
	d.async(func() error { return d.sink.Publish(n) }, "publish", n)
	return n, true
}

// Dismiss closes a displayed notification before it expires. It returns
// false when the notification is unknown or already closed.
func (d *Dispatcher) Dismiss(id string) bool {
	return d.close(id, ClosedDismissed)
}

func (d *Dispatcher) close(id string, reason CloseReason) bool {
	d.mu.Lock()
	a, ok := d.active[id]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.active, id)
	a.timer.Stop()
	d.mu.Unlock()

	d.async(func() error { return d.sink.Closed(a.n.SessionID, id, reason) }, "close", a.n)
	return true
}

// Active returns the notifications currently displayed for a session.
func (d *Dispatcher) Active(sessionID string) []Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Notification
	for _, a := range d.active {
		if a.n.SessionID == sessionID {
			out = append(out, a.n)
		}
	}
	return out
}

// CloseSession forgets dedup and proposal state for a session. Notifications
// already displayed run out their TTL.
func (d *Dispatcher) CloseSession(sessionID string) {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()
}

// Wait blocks until every in-flight sink call has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) session(id string) *sessionState {
	st, ok := d.sessions[id]
	if !ok {
		st = &sessionState{lastShown: make(map[string]time.Time)}
		d.sessions[id] = st
	}
	return st
}

func (d *Dispatcher) async(fn func() error, op string, n Notification) {
	if d.sink == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := fn(); err != nil {
			d.logger.Warn("notification sink failed",
				"op", op,
				"session_id", n.SessionID,
				"id", n.ID,
				"error", err,
			)
		}
	}()
}

func newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
