package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synclab/ipcsim/internal/config"
	"github.com/synclab/ipcsim/internal/rag"
	"github.com/synclab/ipcsim/internal/scenario"
	"github.com/synclab/ipcsim/internal/sim"
)

func newAcc(t *testing.T) *Accumulator {
	t.Helper()
	return NewAccumulator(config.Default().Detect, nil)
}

func observe(t *testing.T, acc *Accumulator, snap *sim.Snapshot) {
	t.Helper()
	g, err := rag.Build(snap)
	require.NoError(t, err)
	acc.Observe(g, snap)
}

func cycleSnapshot(step int) *sim.Snapshot {
	return &sim.Snapshot{
		Step: step,
		Procs: []sim.ProcView{
			{PID: "P1", State: sim.StateBlocked, BlockedOn: "B", BlockStep: 1},
			{PID: "P2", State: sim.StateBlocked, BlockedOn: "A", BlockStep: 1},
		},
		Resources: []sim.ResourceView{
			{ID: "A", Kind: scenario.KindSHM, Holders: []sim.HolderView{{PID: "P1", Mode: scenario.ModeWrite}}},
			{ID: "B", Kind: scenario.KindSHM, Holders: []sim.HolderView{{PID: "P2", Mode: scenario.ModeWrite}}},
		},
	}
}

func TestDeadlockDetector(t *testing.T) {
	t.Run("cycle must persist one full step", func(t *testing.T) {
		acc := newAcc(t)
		observe(t, acc, cycleSnapshot(1))
		assert.Empty(t, acc.Findings(), "first observation must not report")

		observe(t, acc, cycleSnapshot(2))
		findings := acc.Findings()
		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, KindDeadlock, f.Kind)
		assert.Equal(t, LevelHigh, f.Level)
		assert.Equal(t, 1.0, f.Severity)
		assert.Equal(t, []string{"P1", "P2"}, f.Processes)
		assert.Equal(t, []string{"A", "B"}, f.Resources)
		assert.Contains(t, f.Explanation, "circular wait")
		assert.NotEmpty(t, f.ID)
	})

	t.Run("never duplicated across steps", func(t *testing.T) {
		acc := newAcc(t)
		for step := 1; step <= 6; step++ {
			observe(t, acc, cycleSnapshot(step))
		}
		assert.Len(t, acc.Findings(), 1)
	})

	t.Run("not reported when a participant is not blocked", func(t *testing.T) {
		acc := newAcc(t)
		snap := cycleSnapshot(1)
		observe(t, acc, snap)
		snap2 := cycleSnapshot(2)
		snap2.Procs[0].State = sim.StateReady
		snap2.Procs[0].BlockedOn = ""
		observe(t, acc, snap2)
		assert.Empty(t, acc.Findings())
	})

	t.Run("interrupted cycle restarts persistence clock", func(t *testing.T) {
		acc := newAcc(t)
		observe(t, acc, cycleSnapshot(1))
		// Cycle disappears for one step.
		observe(t, acc, &sim.Snapshot{Step: 2, Procs: []sim.ProcView{{PID: "P1", State: sim.StateReady}, {PID: "P2", State: sim.StateReady}},
			Resources: []sim.ResourceView{{ID: "A", Kind: scenario.KindSHM}, {ID: "B", Kind: scenario.KindSHM}}})
		observe(t, acc, cycleSnapshot(3))
		assert.Empty(t, acc.Findings(), "fresh cycle needs to persist again")
		observe(t, acc, cycleSnapshot(4))
		assert.Len(t, acc.Findings(), 1)
	})
}

func bottleneckSnapshot(step int) *sim.Snapshot {
	return &sim.Snapshot{
		Step: step,
		Procs: []sim.ProcView{
			{PID: "P1", State: sim.StateReady},
			{PID: "P2", State: sim.StateBlocked, BlockedOn: "Q", BlockStep: 0},
			{PID: "P3", State: sim.StateBlocked, BlockedOn: "Q", BlockStep: 0},
			{PID: "P4", State: sim.StateBlocked, BlockedOn: "Q", BlockStep: 0},
		},
		Resources: []sim.ResourceView{
			{ID: "Q", Kind: scenario.KindQueue, Capacity: 1, Queued: 1},
		},
	}
}

func TestBottleneckDetector(t *testing.T) {
	t.Run("sustained contention reported once", func(t *testing.T) {
		acc := newAcc(t)
		// Defaults: >2 waiters for >3 consecutive steps.
		for step := 1; step <= 3; step++ {
			observe(t, acc, bottleneckSnapshot(step))
			assert.Empty(t, acc.Findings(), "window not reached at step %d", step)
		}
		observe(t, acc, bottleneckSnapshot(4))
		findings := acc.Findings()
		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, KindBottleneck, f.Kind)
		assert.Equal(t, []string{"Q"}, f.Resources)
		assert.Equal(t, []string{"P2", "P3", "P4"}, f.Processes)
		assert.Equal(t, 1, f.FromStep)
		assert.Equal(t, 4, f.ToStep)
		assert.InDelta(t, 1.0, f.Severity, 0.001)

		// Persisting further does not re-report the episode.
		observe(t, acc, bottleneckSnapshot(5))
		assert.Len(t, acc.Findings(), 1)
	})

	t.Run("lock contention names the holder", func(t *testing.T) {
		acc := newAcc(t)
		snap := func(step int) *sim.Snapshot {
			return &sim.Snapshot{
				Step: step,
				Procs: []sim.ProcView{
					{PID: "P1", State: sim.StateReady},
					{PID: "P2", State: sim.StateBlocked, BlockedOn: "L", BlockStep: 0},
					{PID: "P3", State: sim.StateBlocked, BlockedOn: "L", BlockStep: 0},
					{PID: "P4", State: sim.StateBlocked, BlockedOn: "L", BlockStep: 0},
				},
				Resources: []sim.ResourceView{
					{ID: "L", Kind: scenario.KindSHM, Holders: []sim.HolderView{{PID: "P1", Mode: scenario.ModeWrite}}},
				},
			}
		}
		for step := 1; step <= 4; step++ {
			observe(t, acc, snap(step))
		}
		findings := acc.Findings()
		require.Len(t, findings, 1)
		assert.Equal(t, KindBottleneck, findings[0].Kind)
		assert.Contains(t, findings[0].Explanation, "held by P1")
	})

	t.Run("contention below threshold never reported", func(t *testing.T) {
		acc := newAcc(t)
		for step := 1; step <= 10; step++ {
			snap := bottleneckSnapshot(step)
			snap.Procs = snap.Procs[:3] // two waiters, not more than threshold
			observe(t, acc, snap)
		}
		assert.Empty(t, acc.Findings())
	})

	t.Run("deadlock takes precedence", func(t *testing.T) {
		acc := newAcc(t)
		snap := func(step int) *sim.Snapshot {
			s := cycleSnapshot(step)
			// Three more processes pile onto A while it sits on the cycle.
			for _, pid := range []string{"P3", "P4", "P5"} {
				s.Procs = append(s.Procs, sim.ProcView{PID: pid, State: sim.StateBlocked, BlockedOn: "A", BlockStep: 0})
			}
			return s
		}
		for step := 1; step <= 8; step++ {
			observe(t, acc, snap(step))
		}
		var kinds []Kind
		for _, f := range acc.Findings() {
			kinds = append(kinds, f.Kind)
		}
		assert.Equal(t, []Kind{KindDeadlock}, kinds, "resource on a cycle is never also a bottleneck")
	})
}

func shmSnapshot(step int, log []sim.AccessRecord) *sim.Snapshot {
	return &sim.Snapshot{
		Step: step,
		Procs: []sim.ProcView{
			{PID: "P1", State: sim.StateFinished},
			{PID: "P2", State: sim.StateFinished},
		},
		Resources: []sim.ResourceView{
			{ID: "M", Kind: scenario.KindSHM, AccessLog: log},
		},
	}
}

func TestUnsafeDetector(t *testing.T) {
	t.Run("same-step unlocked writes are HIGH", func(t *testing.T) {
		acc := newAcc(t)
		log := []sim.AccessRecord{
			{PID: "P1", Mode: scenario.ModeWrite, Step: 0},
			{PID: "P2", Mode: scenario.ModeWrite, Step: 0},
		}
		observe(t, acc, shmSnapshot(1, log))
		findings := acc.Findings()
		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, KindUnsafe, f.Kind)
		assert.Equal(t, LevelHigh, f.Level)
		assert.Equal(t, 1.5, f.Severity)
		assert.Equal(t, []string{"P1", "P2"}, f.Processes)
		assert.Equal(t, []string{"M"}, f.Resources)

		// Rescanning the log on later steps must not duplicate.
		observe(t, acc, shmSnapshot(2, log))
		assert.Len(t, acc.Findings(), 1)
	})

	t.Run("read-write overlap via duration is MEDIUM", func(t *testing.T) {
		acc := newAcc(t)
		log := []sim.AccessRecord{
			{PID: "P1", Mode: scenario.ModeRead, Step: 0, Duration: 2},
			{PID: "P2", Mode: scenario.ModeWrite, Step: 1, Locked: true},
		}
		observe(t, acc, shmSnapshot(2, log))
		findings := acc.Findings()
		require.Len(t, findings, 1)
		assert.Equal(t, LevelMedium, findings[0].Level)
		assert.Equal(t, 0, findings[0].FromStep)
		assert.Equal(t, 2, findings[0].ToStep)
	})

	t.Run("no finding when both locked", func(t *testing.T) {
		acc := newAcc(t)
		log := []sim.AccessRecord{
			{PID: "P1", Mode: scenario.ModeWrite, Step: 0, Locked: true},
			{PID: "P2", Mode: scenario.ModeWrite, Step: 0, Locked: true},
		}
		observe(t, acc, shmSnapshot(1, log))
		assert.Empty(t, acc.Findings())
	})

	t.Run("no finding for disjoint steps", func(t *testing.T) {
		acc := newAcc(t)
		log := []sim.AccessRecord{
			{PID: "P1", Mode: scenario.ModeWrite, Step: 0},
			{PID: "P2", Mode: scenario.ModeWrite, Step: 2},
		}
		observe(t, acc, shmSnapshot(3, log))
		assert.Empty(t, acc.Findings())
	})

	t.Run("no finding for read-read overlap", func(t *testing.T) {
		acc := newAcc(t)
		log := []sim.AccessRecord{
			{PID: "P1", Mode: scenario.ModeRead, Step: 0},
			{PID: "P2", Mode: scenario.ModeRead, Step: 0},
		}
		observe(t, acc, shmSnapshot(1, log))
		assert.Empty(t, acc.Findings())
	})

	t.Run("same process never conflicts with itself", func(t *testing.T) {
		acc := newAcc(t)
		log := []sim.AccessRecord{
			{PID: "P1", Mode: scenario.ModeWrite, Step: 0},
			{PID: "P1", Mode: scenario.ModeWrite, Step: 0},
		}
		observe(t, acc, shmSnapshot(1, log))
		assert.Empty(t, acc.Findings())
	})
}
