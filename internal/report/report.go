// Package report drives the step/analyze loop and packages the
// simulation trace, findings, and risk into the artifact handed to
// external consumers (CLI, GUI, JSON export).
//
// Control flow per step: the engine advances one tick, the
// resource-allocation graph is rebuilt from the fresh snapshot, the
// detectors observe it, and the risk score is recomputed. A Report can
// be taken after any completed step, not only at the end.
package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/synclab/ipcsim/internal/config"
	"github.com/synclab/ipcsim/internal/detect"
	"github.com/synclab/ipcsim/internal/logging"
	"github.com/synclab/ipcsim/internal/rag"
	"github.com/synclab/ipcsim/internal/risk"
	"github.com/synclab/ipcsim/internal/scenario"
	"github.com/synclab/ipcsim/internal/shared/id"
	"github.com/synclab/ipcsim/internal/sim"
)

// Report is the full diagnostic artifact for one run, queryable after
// any completed step.
type Report struct {
	RunID       string                 `json:"run_id"`
	Step        int                    `json:"step"`
	Finished    bool                   `json:"finished"`
	Stalled     bool                   `json:"stalled"`
	Events      []sim.Event            `json:"events"`
	Findings    []detect.Finding       `json:"findings"`
	Risk        risk.Snapshot          `json:"risk"`
	FinalStates map[string]sim.State   `json:"final_states"`
	History     map[string][]sim.State `json:"state_history,omitempty"`
}

// Assembler owns one engine and its analysis pipeline.
type Assembler struct {
	runID string
	eng   *sim.Engine
	acc   *detect.Accumulator
	cfg   *config.Config
	log   *logging.Logger
}

// New loads the scenario into a fresh engine and analysis pipeline.
// Scenario validation failures surface here and the simulation never
// starts.
func New(scn *scenario.Scenario, cfg *config.Config, log *logging.Logger) (*Assembler, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewNop()
	}
	eng, err := sim.New(scn, log)
	if err != nil {
		return nil, err
	}
	a := &Assembler{
		runID: id.NewRunID(),
		eng:   eng,
		acc:   detect.NewAccumulator(cfg.Detect, log),
		cfg:   cfg,
		log:   log,
	}
	log.Info("scenario loaded",
		zap.String("run_id", a.runID),
		zap.Int("processes", len(scn.Processes)),
		zap.Int("resources", len(scn.Resources)),
	)
	return a, nil
}

// Engine exposes the underlying engine for callers that need raw
// access to the trace.
func (a *Assembler) Engine() *sim.Engine { return a.eng }

// Step advances the simulation one tick and runs the analysis pass.
// An InvariantError from the graph tracker is fatal and returned as-is
// so callers abort instead of trusting a corrupt diagnosis.
func (a *Assembler) Step() (*sim.StepResult, error) {
	res := a.eng.Step()
	if err := a.analyze(); err != nil {
		return res, err
	}
	return res, nil
}

func (a *Assembler) analyze() error {
	snap := a.eng.Snapshot()
	g, err := rag.Build(snap)
	if err != nil {
		return fmt.Errorf("graph rebuild at step %d: %w", snap.Step, err)
	}
	a.acc.Observe(g, snap)
	return nil
}

// Run steps to completion: all processes FINISHED, a stall (which gets
// one extra observation so persistent cycles qualify as deadlocks), a
// cancelled context, or an exhausted step budget, which returns
// sim.ErrTimeout with the partial report still available.
func (a *Assembler) Run(ctx context.Context, maxSteps int) (*Report, error) {
	steps := 0
	confirmedStall := false
	for {
		select {
		case <-ctx.Done():
			return a.Snapshot(), ctx.Err()
		default:
		}
		if a.eng.AllFinished() {
			break
		}
		if a.eng.Stalled() {
			if confirmedStall {
				break
			}
			confirmedStall = true
		}
		if steps >= maxSteps {
			return a.Snapshot(), sim.ErrTimeout
		}
		if _, err := a.Step(); err != nil {
			return a.Snapshot(), err
		}
		steps++
	}
	rep := a.Snapshot()
	a.log.Info("run complete",
		zap.String("run_id", a.runID),
		zap.Int("steps", steps),
		zap.Bool("finished", rep.Finished),
		zap.Bool("stalled", rep.Stalled),
		zap.Float64("risk_score", rep.Risk.Score),
		zap.String("risk_category", string(rep.Risk.Category)),
	)
	return rep, nil
}

// Snapshot assembles the current report.
func (a *Assembler) Snapshot() *Report {
	snap := a.eng.Snapshot()
	blocks := make(map[string]int, len(snap.Resources))
	for _, r := range snap.Resources {
		blocks[r.ID] = r.BlockCount
	}
	findings := a.acc.Findings()
	return &Report{
		RunID:       a.runID,
		Step:        snap.Step,
		Finished:    a.eng.AllFinished(),
		Stalled:     a.eng.Stalled(),
		Events:      a.eng.Events(),
		Findings:    findings,
		Risk:        risk.Score(findings, blocks, a.cfg.Risk),
		FinalStates: a.eng.States(),
		History:     a.eng.History(),
	}
}
