package detect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/synclab/ipcsim/internal/rag"
	"github.com/synclab/ipcsim/internal/sim"
)

// deadlockDetector reports directed cycles in the resource-allocation
// graph. A cycle means every process on it waits, directly or
// transitively, for a resource held inside the same cycle.
//
// Two guards avoid false positives: a cycle must persist across two
// consecutive observations (same-step grants can create waits that
// resolve instantly), and every process on it must currently be
// BLOCKED.
type deadlockDetector struct {
	// candidates maps canonical cycle keys to the step each cycle was
	// first observed in the current consecutive run.
	candidates map[string]int
	reported   map[string]bool
	// cycleResources marks resources on reported cycles; the
	// bottleneck detector suppresses these to avoid double-counting.
	cycleResources map[string]bool
}

func newDeadlockDetector() *deadlockDetector {
	return &deadlockDetector{
		candidates:     make(map[string]int),
		reported:       make(map[string]bool),
		cycleResources: make(map[string]bool),
	}
}

func (d *deadlockDetector) observe(g *rag.Graph, snap *sim.Snapshot) []Finding {
	blocked := make(map[string]bool, len(snap.Procs))
	for _, p := range snap.Procs {
		blocked[p.PID] = p.State == sim.StateBlocked
	}

	current := make(map[string][]rag.Node)
	next := make(map[string]int)
	for _, cyc := range g.Cycles() {
		cyc = canonical(cyc)
		key := cycleKey(cyc)
		current[key] = cyc
		if first, ok := d.candidates[key]; ok {
			next[key] = first
		} else {
			next[key] = snap.Step
		}
	}
	d.candidates = next

	keys := make([]string, 0, len(current))
	for k := range current {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Finding
	for _, key := range keys {
		if d.reported[key] {
			continue
		}
		if d.candidates[key] >= snap.Step {
			continue // not persisted for a full step yet
		}
		cyc := current[key]
		procs, resources := split(cyc)
		all := true
		for _, pid := range procs {
			if !blocked[pid] {
				all = false
				break
			}
		}
		if !all {
			continue
		}

		d.reported[key] = true
		for _, rid := range resources {
			d.cycleResources[rid] = true
		}
		out = append(out, Finding{
			Kind:        KindDeadlock,
			Level:       LevelHigh,
			Severity:    1.0,
			Processes:   procs,
			Resources:   resources,
			FromStep:    d.candidates[key],
			ToStep:      snap.Step,
			Explanation: fmt.Sprintf("circular wait: %s", chain(cyc)),
			key:         key,
		})
	}
	return out
}

// canonical rotates a cycle so its lexicographically smallest node
// leads; cycles differing only by starting point collapse to one key.
func canonical(cyc []rag.Node) []rag.Node {
	best := 0
	for i := 1; i < len(cyc); i++ {
		if nodeKey(cyc[i]) < nodeKey(cyc[best]) {
			best = i
		}
	}
	out := make([]rag.Node, 0, len(cyc))
	out = append(out, cyc[best:]...)
	out = append(out, cyc[:best]...)
	return out
}

func nodeKey(n rag.Node) string {
	return string(n.Kind) + ":" + n.Ref
}

func cycleKey(cyc []rag.Node) string {
	parts := make([]string, len(cyc))
	for i, n := range cyc {
		parts[i] = nodeKey(n)
	}
	return strings.Join(parts, ">")
}

func split(cyc []rag.Node) (procs, resources []string) {
	for _, n := range cyc {
		if n.Kind == rag.NodeProcess {
			procs = append(procs, n.Ref)
		} else {
			resources = append(resources, n.Ref)
		}
	}
	sort.Strings(procs)
	sort.Strings(resources)
	return procs, resources
}

func chain(cyc []rag.Node) string {
	parts := make([]string, 0, len(cyc)+1)
	for _, n := range cyc {
		parts = append(parts, n.Ref)
	}
	if len(cyc) > 0 {
		parts = append(parts, cyc[0].Ref)
	}
	return strings.Join(parts, " -> ")
}
