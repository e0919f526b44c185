package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/DrSkyle/vmplace/pkg/config"
	"github.com/DrSkyle/vmplace/pkg/engine"
	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/engine/report"
	"github.com/DrSkyle/vmplace/pkg/storage"
	"github.com/DrSkyle/vmplace/pkg/tui"
)

var (
	interactive bool
	noExport    bool
	runPrefix   string
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Run the placement strategies and export the solutions",
	Long: `Loads workloads and servers, runs every configured strategy concurrently
and prints a summary. Solutions are written as JSON and CSV to --output,
a local directory or s3://bucket/prefix.

Example:
  vmplace solve --workloads vms.csv --server-capacity vcpu=64,memory=512,storage=2Ki
  vmplace solve --workloads vms.csv --fleet fleet.yaml --strategies best_fit --criterion memory`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := applyQuantityFlags(&cfg); err != nil {
			return err
		}
		logger := newLogger(cfg)
		slog.SetDefault(logger)

		ctx := cmd.Context()
		problem, err := loadProblem(ctx, cfg, logger)
		if err != nil {
			return err
		}

		var res *engine.Result
		var runErr error
		if interactive {
			runErr = tui.Watch("VMPLACE", len(cfg.Placement.Strategies), func(progress func(engine.Event)) error {
				// The program owns the terminal while it runs.
				quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
				res, runErr = runEngine(ctx, cfg, problem, quiet, engine.WithProgress(progress))
				return runErr
			})
		} else {
			res, runErr = runEngine(ctx, cfg, problem, logger)
		}
		if res == nil {
			return runErr
		}

		out := cmd.OutOrStdout()
		records := report.Build(res.Problem, res.Solutions)
		fmt.Fprintln(out, report.Summary(res.Problem.Schema, records))
		if len(res.Rejected) > 0 {
			fmt.Fprintf(out, "%d workloads rejected by filters\n", len(res.Rejected))
		}
		for _, f := range res.Failures {
			fmt.Fprintf(out, "[FAIL] %s: %v\n", f.Strategy, f.Err)
		}
		if best := report.Best(records); best >= 0 {
			fmt.Fprintf(out, "Best: %s\n", res.Solutions[best])
		}

		if !noExport && len(records) > 0 {
			keys, err := publish(ctx, cfg, res.Problem, records)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(out, "[SUCCESS] Wrote %s\n", k)
			}
		}
		return runErr
	},
}

func init() {
	f := solveCmd.Flags()
	f.StringSlice("strategies", nil, "Strategies: first_fit, first_fit_divide, best_fit, milp")
	f.String("criterion", "", "Best-fit criterion: a resource name or weighted_resources")
	f.Bool("presort", false, "Order workloads by scarcity-weighted demand first")
	f.StringArray("filter", nil, "CEL filter a workload must satisfy, e.g. 'storage <= 2048.0'")
	f.Int("concurrency", 0, "Maximum strategies run in parallel")
	f.Bool("strict", false, "Fail on unplaced workloads or failed strategies")
	f.String("output", "", "Output directory or s3://bucket/prefix")
	f.StringVar(&runPrefix, "prefix", "", "Key prefix for exported files")
	f.BoolVar(&noExport, "no-export", false, "Do not write solution files")
	f.BoolVarP(&interactive, "interactive", "i", false, "Show live progress")
	f.Bool("relaxed", false, "Solve the linear relaxation in the milp strategy")
	f.String("glpsol", "", "Path to the glpsol binary")
	f.Duration("time-limit", 0, "glpsol time limit")
}

func runEngine(ctx context.Context, cfg config.Config, p *placement.Problem, logger *slog.Logger, opts ...engine.Option) (*engine.Result, error) {
	eng, err := engine.New(ctx, append([]engine.Option{
		engine.WithConfig(engine.Config{
			Placement:     cfg.Placement,
			MILP:          cfg.MILP,
			OtelEndpoint:  cfg.OtelEndpoint,
			SkipTelemetry: cfg.SkipTelemetry,
			Logger:        logger,
		}),
		engine.WithConcurrency(cfg.Placement.MaxConcurrency),
	}, opts...)...)
	if err != nil {
		return nil, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Close(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()
	return eng.Run(ctx, p)
}

func publish(ctx context.Context, cfg config.Config, p *placement.Problem, records []report.SolutionRecord) ([]string, error) {
	store, err := storage.Open(ctx, cfg.Output, cfg.AWS.Region, cfg.AWS.Profile)
	if err != nil {
		return nil, err
	}
	return report.Publish(ctx, store, runPrefix, p.Schema, records)
}
