// Package scoring maintains the per-session indicator state and the weighted
// overall score derived from it.
package scoring

import (
	"math"
	"sync"

	"github.com/sjawhar/salon-coach/internal/indicator"
)

// ChunkResult is one analyzed chunk of a session's conversation.
type ChunkResult struct {
	SessionID    string
	Index        int
	Observations []indicator.Observation
}

// State is the latest accepted observation for one indicator.
type State struct {
	ChunkIndex int              `json:"chunk_index"`
	Score      float64          `json:"score"`
	Value      float64          `json:"value"`
	Detail     indicator.Detail `json:"details"`
}

// Transition describes an accepted update to one indicator cell.
type Transition struct {
	Type     indicator.Type
	Previous *State
	Current  State
	// Replay is set when the update re-delivered an already applied chunk index.
	Replay bool
}

type cell struct {
	mu    sync.Mutex
	state *State
}

// Engine holds the seven indicator cells for a single session. Each cell is
// guarded independently so concurrent chunks touching different indicators
// never contend.
type Engine struct {
	sessionID string
	cells     [indicator.Count]cell
}

func NewEngine(sessionID string) *Engine {
	return &Engine{sessionID: sessionID}
}

func (e *Engine) SessionID() string {
	return e.sessionID
}

// Apply folds a chunk into the indicator state. An observation replaces the
// stored state only when its chunk index is at least the stored one; older
// indices are dropped without error.
func (e *Engine) Apply(chunk ChunkResult) []Transition {
	var transitions []Transition
	for _, obs := range chunk.Observations {
		idx := indicator.Index(obs.Type)
		if idx < 0 {
			continue
		}
		c := &e.cells[idx]

		c.mu.Lock()
		prev := c.state
		if prev != nil && chunk.Index < prev.ChunkIndex {
			c.mu.Unlock()
			continue
		}
		next := &State{
			ChunkIndex: chunk.Index,
			Score:      obs.Score,
			Value:      obs.Value,
			Detail:     obs.Detail,
		}
		c.state = next
		c.mu.Unlock()

		tr := Transition{Type: obs.Type, Current: *next}
		if prev != nil {
			p := *prev
			tr.Previous = &p
			tr.Replay = prev.ChunkIndex == chunk.Index
		}
		transitions = append(transitions, tr)
	}
	return transitions
}

// Get returns the current state of one indicator.
func (e *Engine) Get(t indicator.Type) (State, bool) {
	idx := indicator.Index(t)
	if idx < 0 {
		return State{}, false
	}
	c := &e.cells[idx]
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return State{}, false
	}
	return *c.state, true
}

// OverallScore returns the weighted mean over indicators that have data.
// The boolean is false when no indicator has been recorded.
func (e *Engine) OverallScore() (int, bool) {
	return e.Snapshot().Overall()
}

// Snapshot copies every cell. Each cell is read under its own lock.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID: e.sessionID,
		States:    make(map[indicator.Type]State, indicator.Count),
	}
	for i, t := range indicator.All() {
		c := &e.cells[i]
		c.mu.Lock()
		if c.state != nil {
			snap.States[t] = *c.state
		}
		c.mu.Unlock()
	}
	return snap
}

// Snapshot is a point-in-time copy of a session's indicator state.
type Snapshot struct {
	SessionID string
	States    map[indicator.Type]State
}

func (s Snapshot) Overall() (int, bool) {
	return Overall(s.States)
}

// Overall computes round(sum(score*weight) / sum(weight)) over the given states.
func Overall(states map[indicator.Type]State) (int, bool) {
	var weighted float64
	var totalWeight int
	for _, t := range indicator.All() {
		st, ok := states[t]
		if !ok {
			continue
		}
		w := indicator.WeightPercent(t)
		weighted += st.Score * float64(w)
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0, false
	}
	return int(math.Round(weighted / float64(totalWeight))), true
}
