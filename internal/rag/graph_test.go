package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synclab/ipcsim/internal/scenario"
	"github.com/synclab/ipcsim/internal/sim"
)

func snapshot() *sim.Snapshot {
	return &sim.Snapshot{
		Step: 3,
		Procs: []sim.ProcView{
			{PID: "P1", State: sim.StateBlocked, BlockedOn: "B", BlockStep: 2},
			{PID: "P2", State: sim.StateBlocked, BlockedOn: "A", BlockStep: 2},
			{PID: "P3", State: sim.StateReady},
		},
		Resources: []sim.ResourceView{
			{ID: "A", Kind: scenario.KindSHM, Holders: []sim.HolderView{{PID: "P1", Mode: scenario.ModeWrite}}},
			{ID: "B", Kind: scenario.KindSHM, Holders: []sim.HolderView{{PID: "P2", Mode: scenario.ModeWrite}}},
		},
	}
}

func TestBuildEdges(t *testing.T) {
	g, err := Build(snapshot())
	require.NoError(t, err)

	assert.Equal(t, 3, g.Step)
	assert.Equal(t, []string{"P2"}, g.Requesters("A"))
	assert.Equal(t, []string{"P1"}, g.Requesters("B"))
	assert.Equal(t, []string{"P1"}, g.Holders("A"))
	assert.Equal(t, []string{"P2"}, g.Holders("B"))
	assert.Equal(t, []string{"A", "B"}, g.Resources())
}

func TestCycleDetection(t *testing.T) {
	g, err := Build(snapshot())
	require.NoError(t, err)

	cycles := g.Cycles()
	require.Len(t, cycles, 1)
	// P1 -> B -> P2 -> A -> P1: alternating process/resource nodes.
	require.Len(t, cycles[0], 4)
	kinds := map[NodeKind]int{}
	for _, n := range cycles[0] {
		kinds[n.Kind]++
	}
	assert.Equal(t, 2, kinds[NodeProcess])
	assert.Equal(t, 2, kinds[NodeResource])
}

func TestNoCycleWithoutHold(t *testing.T) {
	snap := snapshot()
	// A finished process holds nothing: drop B's holder, leaving P1
	// waiting on a resource nobody owns.
	snap.Resources[1].Holders = nil
	g, err := Build(snap)
	require.NoError(t, err)
	assert.Empty(t, g.Cycles())
}

func TestInvariantViolation(t *testing.T) {
	t.Run("blocked on unknown resource", func(t *testing.T) {
		snap := snapshot()
		snap.Procs[0].BlockedOn = "ghost"
		_, err := Build(snap)
		require.Error(t, err)
		var inv *InvariantError
		require.True(t, errors.As(err, &inv))
		assert.Contains(t, inv.Message, "ghost")
		assert.NotEmpty(t, inv.Dump)
	})

	t.Run("held by unknown process", func(t *testing.T) {
		snap := snapshot()
		snap.Resources[0].Holders = []sim.HolderView{{PID: "P99", Mode: scenario.ModeWrite}}
		_, err := Build(snap)
		var inv *InvariantError
		require.True(t, errors.As(err, &inv))
		assert.Contains(t, inv.Message, "P99")
	})
}
