// Command ipcsim loads a scenario document, simulates it to
// completion, and emits the diagnostic report.
//
// The simulation core is I/O-free; reading the scenario file and
// writing the report happen here, at the driver boundary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/synclab/ipcsim/internal/codec"
	"github.com/synclab/ipcsim/internal/config"
	"github.com/synclab/ipcsim/internal/logging"
	"github.com/synclab/ipcsim/internal/report"
	"github.com/synclab/ipcsim/internal/sim"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Scenario document (.json, .yaml, .toml)")
	maxSteps := flag.Int("max-steps", 1000, "Step budget before the run is cut off")
	outPath := flag.String("out", "", "Report output path (default: JSON to stdout)")
	dev := flag.Bool("dev", false, "Development logging (console, debug level)")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ipcsim -scenario <file> [-max-steps N] [-out report.json]")
		os.Exit(2)
	}

	cfg := config.LoadOrDefault()
	log := newLogger(cfg, *dev)
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log, *scenarioPath, *outPath, *maxSteps); err != nil {
		log.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logging.Logger, scenarioPath, outPath string, maxSteps int) error {
	format, err := codec.FormatForPath(scenarioPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(scenarioPath)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	scn, err := codec.DecodeScenario(data, format)
	if err != nil {
		return err
	}

	assembler, err := report.New(scn, cfg, log)
	if err != nil {
		return err
	}

	// Cooperative cancellation between steps on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := assembler.Run(ctx, maxSteps)
	switch {
	case errors.Is(err, sim.ErrTimeout):
		// Non-fatal: the partial report is still worth emitting.
		log.Warn("step budget exceeded, emitting partial report", zap.Int("max_steps", maxSteps))
	case err != nil:
		return err
	}

	outFormat := codec.FormatJSON
	if outPath != "" {
		if outFormat, err = codec.FormatForPath(outPath); err != nil {
			return err
		}
	}
	out, err := codec.EncodeReport(rep, outFormat)
	if err != nil {
		return err
	}
	if outPath == "" {
		fmt.Println(string(out))
		return nil
	}
	if err := os.WriteFile(outPath, out, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	log.Info("report written", zap.String("path", outPath))
	return nil
}

func newLogger(cfg *config.Config, dev bool) *logging.Logger {
	if dev {
		return logging.NewDevelopment()
	}
	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		return logging.NewDefault()
	}
	return log
}
