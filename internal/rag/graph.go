// Package rag derives the resource-allocation graph from engine state.
//
// The graph is a pure projection: it is rebuilt from scratch from each
// snapshot rather than patched incrementally, which keeps deadlock
// detection correctness independent of update bookkeeping. Nodes are
// processes and resources; a REQUESTS edge runs from a blocked process
// to the resource it waits for, and a HOLDS edge runs from a resource
// to each current holder.
package rag

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/synclab/ipcsim/internal/sim"
)

// NodeKind distinguishes the two node populations.
type NodeKind string

const (
	NodeProcess  NodeKind = "PROCESS"
	NodeResource NodeKind = "RESOURCE"
)

// Node is one graph vertex: a process or a resource.
type Node struct {
	id   int64
	Kind NodeKind
	// Ref is the process or resource id from the scenario.
	Ref string
}

// ID implements gonum's graph.Node.
func (n Node) ID() int64 { return n.id }

// InvariantError reports internal graph/state disagreement. It means
// an engine bug, not a scenario problem: callers must abort rather
// than trust any downstream diagnosis. Dump carries the full snapshot.
type InvariantError struct {
	Message string
	Dump    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation: %s\nstate dump: %s", e.Message, e.Dump)
}

// Graph is the derived resource-allocation graph for one step.
type Graph struct {
	Step int

	g     *simple.DirectedGraph
	nodes map[int64]Node
	procs map[string]Node
	res   map[string]Node
}

// Build constructs the graph from an engine snapshot. Any edge
// referencing an unknown node is an InvariantError.
func Build(snap *sim.Snapshot) (*Graph, error) {
	rg := &Graph{
		Step:  snap.Step,
		g:     simple.NewDirectedGraph(),
		nodes: make(map[int64]Node),
		procs: make(map[string]Node, len(snap.Procs)),
		res:   make(map[string]Node, len(snap.Resources)),
	}

	next := int64(0)
	for _, p := range snap.Procs {
		n := Node{id: next, Kind: NodeProcess, Ref: p.PID}
		next++
		rg.g.AddNode(n)
		rg.nodes[n.id] = n
		rg.procs[p.PID] = n
	}
	for _, r := range snap.Resources {
		n := Node{id: next, Kind: NodeResource, Ref: r.ID}
		next++
		rg.g.AddNode(n)
		rg.nodes[n.id] = n
		rg.res[r.ID] = n
	}

	// REQUESTS: blocked process -> awaited resource.
	for _, p := range snap.Procs {
		if p.State != sim.StateBlocked {
			continue
		}
		from, ok := rg.procs[p.PID]
		if !ok {
			return nil, invariant(snap, "blocked process %q missing from arena", p.PID)
		}
		to, ok := rg.res[p.BlockedOn]
		if !ok {
			return nil, invariant(snap, "process %q blocked on unknown resource %q", p.PID, p.BlockedOn)
		}
		rg.g.SetEdge(rg.g.NewEdge(from, to))
	}

	// HOLDS: resource -> each current holder.
	for _, r := range snap.Resources {
		from, ok := rg.res[r.ID]
		if !ok {
			return nil, invariant(snap, "resource %q missing from arena", r.ID)
		}
		for _, h := range r.Holders {
			to, ok := rg.procs[h.PID]
			if !ok {
				return nil, invariant(snap, "resource %q held by unknown process %q", r.ID, h.PID)
			}
			rg.g.SetEdge(rg.g.NewEdge(from, to))
		}
	}

	return rg, nil
}

func invariant(snap *sim.Snapshot, format string, args ...any) error {
	return &InvariantError{
		Message: fmt.Sprintf(format, args...),
		Dump:    fmt.Sprintf("%+v", *snap),
	}
}

// Cycles enumerates the elementary directed cycles (Johnson's
// algorithm via gonum). Cycles alternate process and resource nodes by
// construction. The closing repetition of the first node is stripped.
func (g *Graph) Cycles() [][]Node {
	raw := topo.DirectedCyclesIn(g.g)
	out := make([][]Node, 0, len(raw))
	for _, cyc := range raw {
		nodes := make([]Node, 0, len(cyc))
		for i, n := range cyc {
			if i == len(cyc)-1 && len(cyc) > 1 && cyc[0].ID() == n.ID() {
				break
			}
			nodes = append(nodes, g.nodes[n.ID()])
		}
		if len(nodes) > 0 {
			out = append(out, nodes)
		}
	}
	return out
}

// Requesters returns the processes with REQUESTS edges to resource id,
// i.e. the processes currently blocked on it.
func (g *Graph) Requesters(resID string) []string {
	rn, ok := g.res[resID]
	if !ok {
		return nil
	}
	var pids []string
	it := g.g.To(rn.ID())
	for it.Next() {
		n := g.nodes[it.Node().ID()]
		if n.Kind == NodeProcess {
			pids = append(pids, n.Ref)
		}
	}
	sort.Strings(pids)
	return pids
}

// Holders returns the processes with HOLDS edges from resource id.
func (g *Graph) Holders(resID string) []string {
	rn, ok := g.res[resID]
	if !ok {
		return nil
	}
	var pids []string
	it := g.g.From(rn.ID())
	for it.Next() {
		n := g.nodes[it.Node().ID()]
		if n.Kind == NodeProcess {
			pids = append(pids, n.Ref)
		}
	}
	sort.Strings(pids)
	return pids
}

// Resources returns the resource ids present in the graph.
func (g *Graph) Resources() []string {
	out := make([]string, 0, len(g.res))
	for id := range g.res {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
