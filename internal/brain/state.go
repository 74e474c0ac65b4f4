package brain

import (
	"strings"
	"sync"
	"time"
)

// State is a teaching mode the tutor can operate in.
type State string

const (
	StateExplain     State = "explain"
	StateStepByStep  State = "step_by_step"
	StateDrill       State = "drill"
	StateReview      State = "review"
	StateExam        State = "exam"
	StateErrorReview State = "error_review"
	StateApplication State = "application"

	// StateAuto is the sentinel used when no mode has been decided yet.
	StateAuto State = "auto"

	DefaultState = StateExplain
)

var allStates = map[State]struct{}{
	StateExplain:     {},
	StateStepByStep:  {},
	StateDrill:       {},
	StateReview:      {},
	StateExam:        {},
	StateErrorReview: {},
	StateApplication: {},
}

// transitions is the fixed adjacency table. Every state allows a self-loop
// plus a curated subset of others; anything else is rejected.
var transitions = map[State][]State{
	StateExplain:     {StateExplain, StateStepByStep, StateDrill, StateReview, StateApplication, StateExam, StateErrorReview},
	StateStepByStep:  {StateStepByStep, StateExplain, StateDrill, StateReview, StateExam, StateErrorReview, StateApplication},
	StateDrill:       {StateDrill, StateReview, StateExplain, StateStepByStep, StateErrorReview},
	StateReview:      {StateReview, StateDrill, StateExplain, StateStepByStep, StateApplication},
	StateExam:        {StateExam, StateExplain, StateStepByStep, StateErrorReview},
	StateErrorReview: {StateErrorReview, StateExplain, StateStepByStep, StateDrill},
	StateApplication: {StateApplication, StateExplain, StateStepByStep, StateReview},
}

// Valid reports whether s is a recognized teaching mode.
func (s State) Valid() bool {
	_, ok := allStates[s]
	return ok
}

// Normalize maps free-form input (including a few common aliases) onto a
// canonical State, falling back to the default when empty.
func Normalize(s string) State {
	x := strings.ToLower(strings.TrimSpace(s))
	switch x {
	case "":
		return DefaultState
	case "explain", "explanation":
		return StateExplain
	case "step", "steps", "step_by_step", "stepbystep":
		return StateStepByStep
	case "drill", "train", "practice":
		return StateDrill
	case "review", "revision":
		return StateReview
	case "exam", "test", "mock_exam":
		return StateExam
	case "error", "errors", "error_review", "common_errors":
		return StateErrorReview
	case "application", "applied":
		return StateApplication
	case "auto":
		return StateAuto
	}
	return State(x)
}

// Meta carries the metadata attached to the current mode of one user.
type Meta struct {
	Mode   string
	Source string
	Topic  string
	TS     time.Time
}

type userState struct {
	state State
	meta  Meta
}

// Machine tracks the teaching mode of every user. It is keyed per user so
// concurrent users never overwrite each other's mode, and can mirror writes
// into a persistent reader/writer so the mode survives restarts.
type Machine struct {
	mu     sync.RWMutex
	users  map[string]*userState
	mirror Mirror
	now    func() time.Time
}

// Mirror persists mode changes outside the process. Both methods are
// best-effort: a failing mirror never blocks a transition.
type Mirror interface {
	SaveState(userID string, state State) error
	LoadState(userID string) (State, bool, error)
}

// Option configures a Machine.
type Option func(*Machine)

// WithMirror attaches a persistent mirror for user modes.
func WithMirror(m Mirror) Option {
	return func(sm *Machine) { sm.mirror = m }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(sm *Machine) { sm.now = now }
}

// NewMachine creates an empty per-user state machine.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		users: make(map[string]*userState),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) load(userID string) *userState {
	if us, ok := m.users[userID]; ok {
		return us
	}
	us := &userState{
		state: DefaultState,
		meta:  Meta{Mode: string(DefaultState), Source: "boot", TS: m.now()},
	}
	if m.mirror != nil {
		if st, ok, err := m.mirror.LoadState(userID); err == nil && ok && st.Valid() {
			us.state = st
			us.meta.Source = "mirror"
		}
	}
	m.users[userID] = us
	return us
}

// SetState attempts to move the user to next. It returns false and mutates
// nothing when next is unknown or not reachable from the current state.
// Callers must check the return value; invalid transitions are silent.
func (m *Machine) SetState(userID string, next State, meta Meta) bool {
	if !next.Valid() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	us := m.load(userID)
	allowed := transitions[us.state]
	ok := false
	for _, s := range allowed {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}

	us.state = next
	merged := us.meta
	if meta.Mode != "" {
		merged.Mode = meta.Mode
	}
	if meta.Source != "" {
		merged.Source = meta.Source
	}
	if meta.Topic != "" {
		merged.Topic = meta.Topic
	}
	merged.TS = m.now()
	us.meta = merged

	if m.mirror != nil {
		_ = m.mirror.SaveState(userID, next)
	}
	return true
}

// State returns the user's current teaching mode.
func (m *Machine) State(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(userID).state
}

// Meta returns the metadata of the user's current mode.
func (m *Machine) Meta(userID string) Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(userID).meta
}

// Reset forces the user back to the default mode with fresh metadata.
func (m *Machine) Reset(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = &userState{
		state: DefaultState,
		meta:  Meta{Mode: string(DefaultState), Source: "reset", TS: m.now()},
	}
	if m.mirror != nil {
		_ = m.mirror.SaveState(userID, DefaultState)
	}
}

// CanTransition reports whether from -> to is allowed by the table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
