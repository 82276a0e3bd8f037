package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

var (
	ErrIllegalTransition = errors.New("session: request not legal in current phase")
	ErrTransitionPending = errors.New("session: transition already in progress")
	ErrTransitionDone    = errors.New("session: transition already finished")
)

// Phase is one step of the simulation lifecycle.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseIdle          Phase = "idle"
	PhaseRunning       Phase = "running"
	PhaseStepping      Phase = "stepping"
	PhaseStopped       Phase = "stopped"
)

// Phases lists every phase in lifecycle order.
func Phases() []Phase {
	return []Phase{
		PhaseUninitialized,
		PhaseInitializing,
		PhaseIdle,
		PhaseRunning,
		PhaseStepping,
		PhaseStopped,
	}
}

// StateError rejects a request kind in the phase it arrived in.
type StateError struct {
	Phase Phase
	Kind  message.Kind
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: %s not legal in phase %s", e.Kind, e.Phase)
}

func (e *StateError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// rule describes a request kind's legal source phases and its effect on success.
// A zero target leaves the phase unchanged. interim is entered while the host call runs.
type rule struct {
	from    func(Phase) bool
	interim Phase
	target  func(Phase) Phase
}

func always(Phase) bool { return true }

func in(phases ...Phase) func(Phase) bool {
	return func(p Phase) bool {
		for _, allowed := range phases {
			if p == allowed {
				return true
			}
		}
		return false
	}
}

func notIn(phases ...Phase) func(Phase) bool {
	match := in(phases...)
	return func(p Phase) bool { return !match(p) }
}

func to(p Phase) func(Phase) Phase {
	return func(Phase) Phase { return p }
}

func stay(p Phase) Phase { return p }

var rules = map[message.Kind]rule{
	message.KindModelInfo:    {from: always, target: stay},
	message.KindInitialize:   {from: in(PhaseUninitialized, PhaseStopped), interim: PhaseInitializing, target: to(PhaseIdle)},
	message.KindStart:        {from: in(PhaseIdle), target: to(PhaseRunning)},
	message.KindStop:         {from: always, target: to(PhaseStopped)},
	message.KindAdvance:      {from: in(PhaseRunning, PhaseStepping), target: to(PhaseStepping)},
	message.KindSetInput:     {from: notIn(PhaseRunning, PhaseStepping), target: stay},
	message.KindSetParameter: {from: notIn(PhaseRunning, PhaseStepping), target: stay},
	message.KindGetOutput:    {from: notIn(PhaseUninitialized), target: stay},
	message.KindGetParameter: {from: notIn(PhaseUninitialized), target: stay},
}

// Legal reports whether kind may be requested in phase p.
func Legal(p Phase, kind message.Kind) bool {
	r, ok := rules[kind]
	return ok && r.from(p)
}

// Status is a point-in-time view of a Machine.
type Status struct {
	Phase     Phase
	Pending   bool
	Accepted  uint64
	Rejected  uint64
	ChangedAt time.Time
}

// Machine tracks the lifecycle of one session. Phase reads are safe from any goroutine;
// transitions are expected to be driven by a single dispatch loop.
type Machine struct {
	mu sync.RWMutex

	phase     Phase
	pending   bool
	accepted  uint64
	rejected  uint64
	changedAt time.Time
	now       func() time.Time
}

func NewMachine() *Machine {
	return &Machine{
		phase:     PhaseUninitialized,
		changedAt: time.Now(),
		now:       time.Now,
	}
}

func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		Phase:     m.phase,
		Pending:   m.pending,
		Accepted:  m.accepted,
		Rejected:  m.rejected,
		ChangedAt: m.changedAt,
	}
}

// Begin validates kind against the current phase and opens a transition. The caller must
// Commit after the host accepts the request or Abort after it fails.
func (m *Machine) Begin(kind message.Kind) (*Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending {
		return nil, ErrTransitionPending
	}
	r, ok := rules[kind]
	if !ok || !r.from(m.phase) {
		m.rejected++
		log.Debug().Str("phase", string(m.phase)).Str("kind", kind.String()).Msg("session transition rejected")
		return nil, &StateError{Phase: m.phase, Kind: kind}
	}
	t := &Transition{m: m, kind: kind, from: m.phase, to: r.target(m.phase)}
	m.pending = true
	if r.interim != "" {
		m.setPhase(r.interim)
	}
	return t, nil
}

func (m *Machine) setPhase(p Phase) {
	if m.phase == p {
		return
	}
	log.Trace().Str("from", string(m.phase)).Str("to", string(p)).Msg("session phase")
	m.phase = p
	m.changedAt = m.now()
}

// Transition is an open request against a Machine.
type Transition struct {
	m    *Machine
	kind message.Kind
	from Phase
	to   Phase
	done bool
}

func (t *Transition) Kind() message.Kind { return t.kind }
func (t *Transition) From() Phase        { return t.from }
func (t *Transition) To() Phase          { return t.to }

// Commit applies the transition's target phase.
func (t *Transition) Commit() error {
	return t.finish(t.to, true)
}

// Abort restores the phase held before Begin.
func (t *Transition) Abort() error {
	return t.finish(t.from, false)
}

func (t *Transition) finish(p Phase, ok bool) error {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.done {
		return ErrTransitionDone
	}
	t.done = true
	t.m.pending = false
	if ok {
		t.m.accepted++
	}
	t.m.setPhase(p)
	return nil
}
