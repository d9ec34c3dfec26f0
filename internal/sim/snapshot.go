package sim

import (
	"sort"

	"github.com/synclab/ipcsim/internal/scenario"
)

// ProcView is the read-only projection of one process.
type ProcView struct {
	PID   string `json:"pid"`
	Name  string `json:"name,omitempty"`
	State State  `json:"state"`
	PC    int    `json:"pc"`
	// BlockedOn is the resource id the process is waiting for, set
	// only while BLOCKED.
	BlockedOn string `json:"blocked_on,omitempty"`
	BlockStep int    `json:"block_step,omitempty"`
}

// HolderView is one current occupant of a shared-memory block.
type HolderView struct {
	PID  string              `json:"pid"`
	Mode scenario.AccessMode `json:"mode"`
}

// ResourceView is the read-only projection of one resource.
type ResourceView struct {
	ID       string                `json:"id"`
	Kind     scenario.ResourceKind `json:"kind"`
	Capacity int                   `json:"capacity,omitempty"`
	Queued   int                   `json:"queued"`
	Holders  []HolderView          `json:"holders,omitempty"`
	// Waiters are processes blocked on this resource, FIFO by block
	// step then process id.
	Waiters    []string       `json:"waiters,omitempty"`
	AccessLog  []AccessRecord `json:"access_log,omitempty"`
	BlockCount int            `json:"block_count"`
}

// Snapshot is a deterministic view of engine state after the last
// completed step. The graph tracker and detectors consume it; it holds
// copies, so later steps never mutate an issued snapshot.
type Snapshot struct {
	Step      int            `json:"step"`
	Procs     []ProcView     `json:"procs"`
	Resources []ResourceView `json:"resources"`
}

// Snapshot projects the current engine state. Processes and resources
// appear in ascending id order.
func (e *Engine) Snapshot() *Snapshot {
	snap := &Snapshot{Step: e.step}

	for _, pid := range e.order {
		p := e.procs[pid]
		pv := ProcView{PID: pid, Name: p.def.Name, State: p.state, PC: p.pc}
		if p.state == StateBlocked {
			pv.BlockedOn = p.blockedOn
			pv.BlockStep = p.blockStep
		}
		snap.Procs = append(snap.Procs, pv)
	}

	for _, rid := range e.resOrder {
		r := e.resources[rid]
		rv := ResourceView{
			ID:         rid,
			Kind:       r.def.Kind,
			Capacity:   r.def.Capacity,
			Queued:     len(r.buffer),
			BlockCount: r.blockCount,
			AccessLog:  append([]AccessRecord(nil), r.accessLog...),
		}
		for _, h := range r.holders {
			rv.Holders = append(rv.Holders, HolderView{PID: h.pid, Mode: h.mode})
		}
		var ws []waiter
		ws = append(ws, r.blockedSenders...)
		ws = append(ws, r.blockedReceivers...)
		ws = append(ws, r.lockWaiters...)
		sort.Slice(ws, func(i, j int) bool { return olderWaiter(ws[i], ws[j]) })
		for _, w := range ws {
			rv.Waiters = append(rv.Waiters, w.pid)
		}
		snap.Resources = append(snap.Resources, rv)
	}

	return snap
}
