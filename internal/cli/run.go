package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/agenda/internal/engine"
	"github.com/roach88/agenda/internal/harness"
	"github.com/roach88/agenda/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Metrics  string // file for the metrics dump, "-" for stderr
	Resolver string // overrides the scenario and rulebase resolver

	// SnapshotIDs allows overriding the snapshot ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	SnapshotIDs engine.IDGenerator
}

// RunResult is the JSON payload of the run command.
type RunResult struct {
	Scenario  string   `json:"scenario"`
	Pass      bool     `json:"pass"`
	Fired     []string `json:"fired"`
	Focus     []string `json:"focus"`
	Snapshots []string `json:"snapshots"`
	Errors    []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario against a persistent snapshot store",
		Long: `Run a scenario and persist its agenda snapshots to SQLite.

Every roundtrip step and the final agenda state are saved as snapshots
with UUIDv7 identifiers. The database is created if it doesn't exist.
Use "agenda inspect" to read the snapshots back.

Example:
  agenda run --db ./agenda.db ./scenarios/orders.yaml
  agenda run --db /tmp/test.db ./scenarios/orders.yaml --metrics - --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file after the run (- for stderr)")
	cmd.Flags().StringVar(&opts.Resolver, "resolver", "", "conflict resolver override (default|salience|sequential)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeScenario, fmt.Sprintf("failed to load scenario: %v", err), nil)
	}
	if opts.Resolver != "" {
		if _, err := engine.ParseConflictResolver(opts.Resolver); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfigInvalid, err.Error(), nil)
		}
		scenario.Resolver = opts.Resolver
	}

	logger.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("failed to open database: %v", err), nil)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ids := opts.SnapshotIDs
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}
	registry := prometheus.NewRegistry()

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("running scenario", "scenario", scenario.Name, "steps", len(scenario.Steps))
	result, err := harness.RunWithConfig(ctx, scenario, harness.Config{
		Logger:      logger,
		SnapshotIDs: ids,
		Store:       st,
		Metrics:     engine.NewMetrics(registry),
		SaveFinal:   true,
	})
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, fmt.Sprintf("scenario run failed: %v", err), nil)
	}

	if opts.Metrics != "" {
		if err := dumpMetrics(registry, opts.Metrics, cmd.ErrOrStderr()); err != nil {
			logger.Error("failed to write metrics", "error", err)
		}
	}

	return outputRunResult(formatter, logger, scenario.Name, result)
}

func outputRunResult(formatter *OutputFormatter, logger *slog.Logger, name string, result *harness.Result) error {
	rr := RunResult{
		Scenario:  name,
		Pass:      result.Pass,
		Fired:     []string{},
		Focus:     result.Focus,
		Snapshots: result.Snapshots,
		Errors:    result.Errors,
	}
	for _, e := range result.Fired() {
		rr.Fired = append(rr.Fired, e.ActivationID)
	}
	logger.Info("scenario finished",
		"scenario", name,
		"fired", len(rr.Fired),
		"snapshots", len(rr.Snapshots),
		"pass", rr.Pass,
	)

	if formatter.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: rr}
		if !rr.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_SCENARIO_FAILED", Message: fmt.Sprintf("%d error(s)", len(rr.Errors))}
		}
		if err := formatter.encode(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		mark := "✓"
		if !rr.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s: fired %d activation(s)\n", mark, name, len(rr.Fired))
		for _, e := range rr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		fmt.Fprintf(w, "Focus: %v\n", rr.Focus)
		for _, id := range rr.Snapshots {
			fmt.Fprintf(w, "Saved snapshot %s\n", id)
		}
	}

	if !rr.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed with %d error(s)", name, len(rr.Errors)))
	}
	return nil
}

// dumpMetrics writes the registry in Prometheus text format to path, or to
// stderr when path is "-".
func dumpMetrics(g prometheus.Gatherer, path string, stderr io.Writer) error {
	mfs, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}

	w := stderr
	if path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode metrics family %q: %w", mf.GetName(), err)
		}
	}
	return nil
}
