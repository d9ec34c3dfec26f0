package detect

import (
	"go.uber.org/zap"

	"github.com/synclab/ipcsim/internal/config"
	"github.com/synclab/ipcsim/internal/logging"
	"github.com/synclab/ipcsim/internal/rag"
	"github.com/synclab/ipcsim/internal/shared/id"
	"github.com/synclab/ipcsim/internal/sim"
)

// Accumulator runs all detectors against each step's graph and
// snapshot and accumulates their findings append-only.
type Accumulator struct {
	deadlock   *deadlockDetector
	bottleneck *bottleneckDetector
	unsafe     *unsafeDetector

	findings []Finding
	seen     map[string]bool
	log      *logging.Logger
}

// NewAccumulator builds an accumulator with the configured thresholds.
// A nil logger disables logging.
func NewAccumulator(cfg config.DetectConfig, log *logging.Logger) *Accumulator {
	if log == nil {
		log = logging.NewNop()
	}
	return &Accumulator{
		deadlock:   newDeadlockDetector(),
		bottleneck: newBottleneckDetector(cfg.BottleneckWaiters, cfg.BottleneckWindow),
		unsafe:     &unsafeDetector{},
		seen:       make(map[string]bool),
		log:        log,
	}
}

// Observe runs the detectors for one step. Deadlock runs first so the
// bottleneck detector can suppress resources already reported as
// deadlock participants.
func (a *Accumulator) Observe(g *rag.Graph, snap *sim.Snapshot) {
	var fresh []Finding
	fresh = append(fresh, a.deadlock.observe(g, snap)...)
	fresh = append(fresh, a.bottleneck.observe(g, snap.Step, a.deadlock.cycleResources)...)
	fresh = append(fresh, a.unsafe.observe(snap)...)

	for _, f := range fresh {
		if a.seen[f.key] {
			continue
		}
		a.seen[f.key] = true
		f.ID = id.NewFindingID()
		a.findings = append(a.findings, f)
		a.log.Info("finding",
			zap.String("id", f.ID),
			zap.String("kind", string(f.Kind)),
			zap.String("level", string(f.Level)),
			zap.Strings("processes", f.Processes),
			zap.Strings("resources", f.Resources),
		)
	}
}

// Findings returns a copy of all accumulated findings.
func (a *Accumulator) Findings() []Finding {
	return append([]Finding(nil), a.findings...)
}
