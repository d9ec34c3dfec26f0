package sim

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/synclab/ipcsim/internal/scenario"
)

// exec attempts one operation for p. Returns true when the process
// made progress (the operation completed this tick).
func (e *Engine) exec(p *proc, op scenario.Operation) bool {
	if op.Kind == scenario.OpNop {
		e.emit(p.def.ID, op, OutcomeSucceeded, "")
		e.complete(p)
		return true
	}

	r := e.resources[op.Resource] // reference validated at load

	switch r.def.Kind {
	case scenario.KindPipe, scenario.KindQueue:
		switch op.Kind {
		case scenario.OpSend, scenario.OpWrite:
			return e.execEnqueue(p, op, r)
		case scenario.OpReceive, scenario.OpRead:
			return e.execDequeue(p, op, r)
		}
	case scenario.KindSHM:
		switch op.Kind {
		case scenario.OpLock:
			return e.execLock(p, op, r)
		case scenario.OpUnlock:
			return e.execUnlock(p, op, r)
		case scenario.OpRead, scenario.OpWrite:
			return e.execAccess(p, op, r)
		}
	}

	// Unreachable for validated scenarios.
	e.emit(p.def.ID, op, OutcomeSucceeded, "skipped: incompatible operation")
	e.complete(p)
	return true
}

// complete advances the program counter and settles the process state.
func (e *Engine) complete(p *proc) {
	p.pc++
	p.blockedOn = ""
	p.doneAt = e.step
	if p.pc >= len(p.def.Operations) {
		p.state = StateFinished
	} else {
		p.state = StateReady
	}
}

func (e *Engine) block(p *proc, op scenario.Operation, r *resource, reason string) {
	p.state = StateBlocked
	p.blockedOn = r.def.ID
	p.blockStep = e.step
	r.blockCount++
	e.emit(p.def.ID, op, OutcomeBlocked, reason)
	e.log.Debug("process blocked",
		zap.String("pid", p.def.ID),
		zap.String("resource", r.def.ID),
		zap.String("reason", reason),
	)
}

func (e *Engine) execEnqueue(p *proc, op scenario.Operation, r *resource) bool {
	if len(r.buffer) < r.def.Capacity {
		r.buffer = append(r.buffer, message{from: p.def.ID, size: op.PayloadSize})
		e.emit(p.def.ID, op, OutcomeSucceeded, "")
		e.complete(p)
		e.grantReceivers(r)
		return true
	}
	e.block(p, op, r, "buffer full")
	r.blockedSenders = append(r.blockedSenders, waiter{pid: p.def.ID, step: e.step})
	return false
}

func (e *Engine) execDequeue(p *proc, op scenario.Operation, r *resource) bool {
	if len(r.buffer) > 0 {
		msg := r.buffer[0]
		r.buffer = r.buffer[1:]
		e.emit(p.def.ID, op, OutcomeSucceeded, fmt.Sprintf("message from %s", msg.from))
		e.complete(p)
		e.grantSenders(r)
		return true
	}
	e.block(p, op, r, "buffer empty")
	r.blockedReceivers = append(r.blockedReceivers, waiter{pid: p.def.ID, step: e.step})
	return false
}

// grantSenders hands freed buffer slots to blocked senders, oldest
// first. Released capacity is granted before the step ends, so a
// transient wait resolves within the tick that freed it.
func (e *Engine) grantSenders(r *resource) {
	for len(r.buffer) < r.def.Capacity && len(r.blockedSenders) > 0 {
		w := popOldest(&r.blockedSenders)
		p := e.procs[w.pid]
		op := p.def.Operations[p.pc]
		r.buffer = append(r.buffer, message{from: w.pid, size: op.PayloadSize})
		e.emit(w.pid, op, OutcomeSucceeded, "granted after wait")
		e.complete(p)
	}
}

// grantReceivers hands queued messages to blocked receivers, oldest
// first, cascading freed slots back to blocked senders.
func (e *Engine) grantReceivers(r *resource) {
	for len(r.buffer) > 0 && len(r.blockedReceivers) > 0 {
		w := popOldest(&r.blockedReceivers)
		p := e.procs[w.pid]
		op := p.def.Operations[p.pc]
		msg := r.buffer[0]
		r.buffer = r.buffer[1:]
		e.emit(w.pid, op, OutcomeSucceeded, fmt.Sprintf("granted after wait, message from %s", msg.from))
		e.complete(p)
		e.grantSenders(r)
	}
}

func (e *Engine) execLock(p *proc, op scenario.Operation, r *resource) bool {
	mode := op.Mode
	if mode == "" {
		mode = scenario.ModeWrite
	}
	if r.holds(p.def.ID) {
		e.emit(p.def.ID, op, OutcomeSucceeded, "already held")
		e.complete(p)
		return true
	}
	if r.lockCompatible(mode) {
		r.holders = append(r.holders, holder{pid: p.def.ID, mode: mode})
		e.emit(p.def.ID, op, OutcomeSucceeded, "")
		e.complete(p)
		return true
	}
	e.block(p, op, r, fmt.Sprintf("held by %s", strings.Join(r.holderIDs(), ",")))
	r.lockWaiters = append(r.lockWaiters, waiter{pid: p.def.ID, mode: mode, step: e.step})
	return false
}

func (e *Engine) execUnlock(p *proc, op scenario.Operation, r *resource) bool {
	if !r.holds(p.def.ID) {
		e.emit(p.def.ID, op, OutcomeSucceeded, "unlock ignored: not a holder")
		e.complete(p)
		return true
	}
	r.removeHolder(p.def.ID)
	e.emit(p.def.ID, op, OutcomeSucceeded, "")
	e.complete(p)
	e.grantLocks(r)
	return true
}

// grantLocks admits blocked lock waiters that are now compatible with
// the holder set, oldest first. A granted WRITE excludes everything
// after it; granted READs keep admitting further READs.
func (e *Engine) grantLocks(r *resource) {
	for {
		idx := -1
		for i, w := range r.lockWaiters {
			if !r.lockCompatible(w.mode) {
				continue
			}
			if idx == -1 || olderWaiter(w, r.lockWaiters[idx]) {
				idx = i
			}
		}
		if idx == -1 {
			return
		}
		w := r.lockWaiters[idx]
		r.lockWaiters = append(r.lockWaiters[:idx], r.lockWaiters[idx+1:]...)
		p := e.procs[w.pid]
		op := p.def.Operations[p.pc]
		r.holders = append(r.holders, holder{pid: w.pid, mode: w.mode})
		e.emit(w.pid, op, OutcomeSucceeded, "granted after wait")
		e.complete(p)
	}
}

// execAccess performs a shared-memory READ/WRITE. Access without a
// covering lock is permitted to proceed but flagged UNSAFE and logged
// on the resource; detecting the hazard is the analyzer's job, exactly
// like real unprotected shared memory.
func (e *Engine) execAccess(p *proc, op scenario.Operation, r *resource) bool {
	mode := scenario.ModeRead
	if op.Kind == scenario.OpWrite {
		mode = scenario.ModeWrite
	}
	locked := r.holderCovers(p.def.ID, mode)
	r.accessLog = append(r.accessLog, AccessRecord{
		PID:      p.def.ID,
		Mode:     mode,
		Step:     e.step,
		Duration: op.Duration,
		Locked:   locked,
	})
	if locked {
		e.emit(p.def.ID, op, OutcomeSucceeded, "")
	} else {
		e.emit(p.def.ID, op, OutcomeUnsafe, "no lock held")
	}
	e.complete(p)
	return true
}

func (r *resource) holds(pid string) bool {
	for _, h := range r.holders {
		if h.pid == pid {
			return true
		}
	}
	return false
}

// holderCovers reports whether pid holds a lock sufficient for mode:
// a WRITE lock covers both modes, a READ lock covers READ only.
func (r *resource) holderCovers(pid string, mode scenario.AccessMode) bool {
	for _, h := range r.holders {
		if h.pid != pid {
			continue
		}
		if h.mode == scenario.ModeWrite || mode == scenario.ModeRead {
			return true
		}
	}
	return false
}

// lockCompatible reports whether a new lock of mode can be granted:
// WRITE requires an empty holder set, READ tolerates other READs.
func (r *resource) lockCompatible(mode scenario.AccessMode) bool {
	if mode == scenario.ModeWrite {
		return len(r.holders) == 0
	}
	for _, h := range r.holders {
		if h.mode == scenario.ModeWrite {
			return false
		}
	}
	return true
}

func (r *resource) removeHolder(pid string) {
	out := r.holders[:0]
	for _, h := range r.holders {
		if h.pid != pid {
			out = append(out, h)
		}
	}
	r.holders = out
}

func (r *resource) holderIDs() []string {
	ids := make([]string, 0, len(r.holders))
	for _, h := range r.holders {
		ids = append(ids, h.pid)
	}
	return ids
}

func olderWaiter(a, b waiter) bool {
	if a.step != b.step {
		return a.step < b.step
	}
	return a.pid < b.pid
}

func popOldest(ws *[]waiter) waiter {
	best := 0
	for i := 1; i < len(*ws); i++ {
		if olderWaiter((*ws)[i], (*ws)[best]) {
			best = i
		}
	}
	w := (*ws)[best]
	*ws = append((*ws)[:best], (*ws)[best+1:]...)
	return w
}
