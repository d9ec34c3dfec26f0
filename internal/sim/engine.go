// Package sim implements the deterministic IPC simulation engine.
//
// An Engine consumes an immutable scenario and owns all runtime state:
// process program counters and states, resource buffers and holder
// sets, and the append-only event log. One call to Step evaluates
// every runnable process for that tick in ascending process-id order
// and commits all transitions before returning, so an identical
// scenario always produces an identical event sequence.
//
// Simulated concurrency only: nothing here runs in real threads, and a
// blocked process never blocks the host goroutine.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/synclab/ipcsim/internal/logging"
	"github.com/synclab/ipcsim/internal/scenario"
)

// State is a process lifecycle state. FINISHED is permanent.
type State string

const (
	StateReady    State = "READY"
	StateRunning  State = "RUNNING"
	StateBlocked  State = "BLOCKED"
	StateFinished State = "FINISHED"
)

// Outcome classifies how an operation attempt ended.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeBlocked   Outcome = "BLOCKED"
	OutcomeUnsafe    Outcome = "UNSAFE"
)

// ErrTimeout is returned by Run when the step budget is exhausted
// before every process finished or the simulation stalled. Partial
// results remain queryable on the engine.
var ErrTimeout = errors.New("simulation timeout: step budget exceeded")

// Event is one immutable record in the simulation trace.
type Event struct {
	Step    int                `json:"step"`
	PID     string             `json:"pid"`
	Op      scenario.Operation `json:"op"`
	Outcome Outcome            `json:"outcome"`
	Detail  string             `json:"detail,omitempty"`
}

// AccessRecord is one shared-memory access, kept on the resource for
// the unsafe-access detector. Locked records whether the process held
// a covering lock at access time.
type AccessRecord struct {
	PID      string              `json:"pid"`
	Mode     scenario.AccessMode `json:"mode"`
	Step     int                 `json:"step"`
	Duration int                 `json:"duration"`
	Locked   bool                `json:"locked"`
}

type proc struct {
	def       scenario.Process
	pc        int
	state     State
	blockedOn string // resource id while BLOCKED
	blockStep int
	// doneAt is the step the last operation completed. A process
	// granted mid-tick has already used its unit of simulated time and
	// sits out the rest of that tick.
	doneAt int
}

type message struct {
	from string
	size int
}

// waiter orders blocked processes FIFO by block step, then process id.
type waiter struct {
	pid  string
	mode scenario.AccessMode // lock waiters only
	step int
}

type holder struct {
	pid  string
	mode scenario.AccessMode
}

type resource struct {
	def scenario.Resource

	// pipes and queues
	buffer           []message
	blockedSenders   []waiter
	blockedReceivers []waiter

	// shared memory
	holders     []holder
	lockWaiters []waiter
	accessLog   []AccessRecord

	blockCount int
}

// Engine owns all mutable simulation state. Not safe for concurrent
// use; all mutation goes through Step.
type Engine struct {
	scn       *scenario.Scenario
	procs     map[string]*proc
	order     []string // process ids, ascending
	resources map[string]*resource
	resOrder  []string // resource ids, ascending

	step    int
	events  []Event
	history map[string][]State

	log *logging.Logger
}

// StepResult summarizes one tick.
type StepResult struct {
	Step       int     `json:"step"`
	Progressed bool    `json:"progressed"`
	Events     []Event `json:"events"`
	Finished   bool    `json:"finished"`
	Stalled    bool    `json:"stalled"`
}

// Result summarizes a Run.
type Result struct {
	Steps    int  `json:"steps"`
	Finished bool `json:"finished"`
	Stalled  bool `json:"stalled"`
}

// New validates the scenario and builds an initialized engine. A nil
// logger disables logging.
func New(scn *scenario.Scenario, log *logging.Logger) (*Engine, error) {
	if err := scn.Validate(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	if log == nil {
		log = logging.NewNop()
	}
	e := &Engine{scn: scn, log: log}
	e.init()
	return e, nil
}

// init builds fresh runtime state from the scenario.
func (e *Engine) init() {
	e.procs = make(map[string]*proc, len(e.scn.Processes))
	e.order = e.order[:0]
	for _, p := range e.scn.Processes {
		e.procs[p.ID] = &proc{def: p, state: StateReady, doneAt: -1}
		e.order = append(e.order, p.ID)
	}
	sort.Strings(e.order)

	e.resources = make(map[string]*resource, len(e.scn.Resources))
	e.resOrder = e.resOrder[:0]
	for _, r := range e.scn.Resources {
		e.resources[r.ID] = &resource{def: r}
		e.resOrder = append(e.resOrder, r.ID)
	}
	sort.Strings(e.resOrder)

	e.step = 0
	e.events = nil
	e.history = make(map[string][]State, len(e.procs))
}

// Reset restores the engine to its freshly loaded state, discarding
// the trace and all runtime state.
func (e *Engine) Reset() {
	e.init()
	e.log.Debug("engine reset")
}

// Step advances simulated time by one unit: every READY process
// attempts its current operation, in ascending process-id order.
// Stepping a finished or stalled engine is a no-op tick.
func (e *Engine) Step() *StepResult {
	first := len(e.events)
	progressed := false

	for _, pid := range e.order {
		p := e.procs[pid]
		if p.state == StateBlocked || p.state == StateFinished {
			continue
		}
		if p.doneAt == e.step {
			// Granted by an earlier releaser this tick; one operation
			// per unit of simulated time, so it resumes next step.
			continue
		}
		if p.pc >= len(p.def.Operations) {
			p.state = StateFinished
			continue
		}
		p.state = StateRunning
		if e.exec(p, p.def.Operations[p.pc]) {
			progressed = true
		}
	}

	// Commit the tick: anything still RUNNING attempted and completed,
	// so it returns to READY for the next tick.
	for _, pid := range e.order {
		if p := e.procs[pid]; p.state == StateRunning {
			p.state = StateReady
		}
	}

	for _, pid := range e.order {
		p := e.procs[pid]
		e.history[pid] = append(e.history[pid], p.state)
	}

	res := &StepResult{
		Step:       e.step,
		Progressed: progressed,
		Events:     append([]Event(nil), e.events[first:]...),
		Finished:   e.AllFinished(),
		Stalled:    e.Stalled(),
	}
	e.step++
	return res
}

// Run steps until all processes are FINISHED, the simulation stalls
// (every remaining process BLOCKED), the context is cancelled, or
// maxSteps is exceeded, in which case ErrTimeout is returned and the
// partial trace stays available.
func (e *Engine) Run(ctx context.Context, maxSteps int) (*Result, error) {
	steps := 0
	for {
		select {
		case <-ctx.Done():
			return e.result(steps), ctx.Err()
		default:
		}
		if e.AllFinished() || e.Stalled() {
			return e.result(steps), nil
		}
		if steps >= maxSteps {
			return e.result(steps), ErrTimeout
		}
		e.Step()
		steps++
	}
}

func (e *Engine) result(steps int) *Result {
	return &Result{Steps: steps, Finished: e.AllFinished(), Stalled: e.Stalled()}
}

// AllFinished reports whether every process has exhausted its script.
func (e *Engine) AllFinished() bool {
	for _, p := range e.procs {
		if p.state != StateFinished {
			return false
		}
	}
	return true
}

// Stalled reports whether no process can make progress: at least one
// process is BLOCKED and none is READY or RUNNING.
func (e *Engine) Stalled() bool {
	blocked := false
	for _, p := range e.procs {
		switch p.state {
		case StateReady, StateRunning:
			return false
		case StateBlocked:
			blocked = true
		}
	}
	return blocked
}

// CurrentStep returns the index of the next step to execute.
func (e *Engine) CurrentStep() int { return e.step }

// Events returns a copy of the full event log.
func (e *Engine) Events() []Event {
	return append([]Event(nil), e.events...)
}

// States returns the current state of every process.
func (e *Engine) States() map[string]State {
	out := make(map[string]State, len(e.procs))
	for pid, p := range e.procs {
		out[pid] = p.state
	}
	return out
}

// History returns the per-process state trajectory, one entry per
// completed step.
func (e *Engine) History() map[string][]State {
	out := make(map[string][]State, len(e.history))
	for pid, h := range e.history {
		out[pid] = append([]State(nil), h...)
	}
	return out
}

func (e *Engine) emit(pid string, op scenario.Operation, out Outcome, detail string) {
	e.events = append(e.events, Event{Step: e.step, PID: pid, Op: op, Outcome: out, Detail: detail})
	e.log.Debug("operation",
		zap.Int("step", e.step),
		zap.String("pid", pid),
		zap.String("kind", string(op.Kind)),
		zap.String("resource", op.Resource),
		zap.String("outcome", string(out)),
	)
}
