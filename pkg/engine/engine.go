package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/DrSkyle/vmplace/pkg/config"
	"github.com/DrSkyle/vmplace/pkg/engine/filter"
	"github.com/DrSkyle/vmplace/pkg/engine/milp"
	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
	"github.com/DrSkyle/vmplace/pkg/telemetry"
	"github.com/DrSkyle/vmplace/pkg/version"
)

var (
	// ErrPartialResult indicates at least one strategy failed while others
	// produced a solution.
	ErrPartialResult = errors.New("placement completed with partial results")

	// ErrCapacityExhausted is returned in strict mode when a solution left
	// workloads unplaced.
	ErrCapacityExhausted = errors.New("server capacity exhausted")

	// ErrAllStrategiesFailed is returned when no strategy produced a solution.
	ErrAllStrategiesFailed = errors.New("all placement strategies failed")

	// ErrPanic wraps a panic recovered from a strategy.
	ErrPanic = errors.New("strategy panicked")
)

// Config holds engine settings.
type Config struct {
	Placement config.PlacementConfig
	MILP      config.MILPConfig

	// Telemetry config.
	OtelEndpoint  string // "http://localhost:4318" or via env
	SkipTelemetry bool   // Set true if embedding in an app that already has OTEL

	Logger *slog.Logger
}

// Engine runs several placement strategies against one problem.
type Engine struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	config   Config
	solver   milp.Solver
	progress func(Event)
	shutdown func(context.Context) error

	placed   metric.Int64Counter
	oversize metric.Int64Counter
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New initializes the Engine.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		Logger: NewLogger(os.Stdout, "json", slog.LevelInfo),
		Tracer: telemetry.Tracer("vmplace/engine"),
		config: Config{
			Placement: config.DefaultPlacementConfig(),
			MILP:      config.DefaultMILPConfig(),
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	slog.SetDefault(e.Logger)

	if !e.config.SkipTelemetry {
		shutdown, err := telemetry.Init(ctx, version.AppName, version.Current, e.config.OtelEndpoint)
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdown = shutdown
		}
	}

	if e.solver == nil {
		e.solver = &milp.GLPK{
			Binary:    e.config.MILP.Binary,
			TimeLimit: e.config.MILP.TimeLimit,
			Logger:    e.Logger,
		}
	}

	meter := otel.Meter("vmplace/engine")
	var err error
	if e.placed, err = meter.Int64Counter("vmplace.workloads.placed",
		metric.WithDescription("Workloads placed whole or split, per strategy run.")); err != nil {
		return nil, fmt.Errorf("failed to create placed counter: %w", err)
	}
	if e.oversize, err = meter.Int64Counter("vmplace.workloads.oversize",
		metric.WithDescription("Workloads or remainders left unplaced, per strategy run.")); err != nil {
		return nil, fmt.Errorf("failed to create oversize counter: %w", err)
	}

	return e, nil
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.Logger = l
	}
}

// WithConcurrency bounds parallel strategy runs.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.config.Placement.MaxConcurrency = n
		}
	}
}

// WithSolver replaces the glpsol runner used by the milp strategy.
func WithSolver(s milp.Solver) Option {
	return func(e *Engine) {
		e.solver = s
	}
}

// WithProgress registers a callback for strategy lifecycle events. It is
// called from several goroutines.
func WithProgress(fn func(Event)) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithConfig sets raw config.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.config = cfg
		if cfg.Logger != nil {
			e.Logger = cfg.Logger
		}
	}
}

// Close flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e.shutdown == nil {
		return nil
	}
	return e.shutdown(ctx)
}

// Failure records a strategy that returned an error.
type Failure struct {
	Strategy string
	Err      error
}

// Result is the outcome of one engine run.
type Result struct {
	// Problem is the problem the strategies saw, after filtering and
	// optional scarcity ordering.
	Problem  *placement.Problem
	Scarcity resource.Vector
	Rejected []filter.Rejection

	// Solutions follow the configured strategy order.
	Solutions []*placement.Solution
	Failures  []Failure
}

// Run validates p, applies the configured filters and runs every configured
// strategy concurrently, each on its own usage table.
func (e *Engine) Run(ctx context.Context, p *placement.Problem) (res *Result, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Run")
	defer span.End()

	defer e.recoverPanic(ctx, &err)

	start := time.Now()
	cfg := e.config.Placement

	if err := p.Validate(); err != nil {
		return nil, err
	}

	res = &Result{Problem: &placement.Problem{
		Schema:     p.Schema,
		Workloads:  p.Workloads,
		Capacities: p.Capacities,
	}}

	if len(cfg.Filters) > 0 {
		kept, rejected, err := e.applyFilters(ctx, p.Schema, p.Workloads)
		if err != nil {
			return nil, err
		}
		res.Problem.Workloads = kept
		res.Rejected = rejected
	}

	criterion := placement.ParseCriterion(cfg.Criterion)
	if needsScarcity(cfg, criterion) {
		ratio, err := placement.ScarcityRatio(p.Schema, res.Problem.Workloads, p.Capacities)
		if err != nil {
			return nil, fmt.Errorf("scarcity ratio: %w", err)
		}
		res.Scarcity = ratio
		criterion.Scarcity = ratio
		if cfg.PresortScarcity {
			res.Problem.Workloads = placement.SortByScarcity(res.Problem.Workloads, ratio)
		}
	}

	strategies, err := e.strategies(cfg.Strategies, criterion)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("placement.workloads", len(res.Problem.Workloads)),
		attribute.Int("placement.servers", len(p.Capacities)),
		attribute.Int("placement.strategies", len(strategies)),
	)

	limit := cfg.MaxConcurrency
	if limit <= 0 {
		limit = len(strategies)
	}

	solutions := make([]*placement.Solution, len(strategies))
	failures := make([]error, len(strategies))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, s := range strategies {
		g.Go(func() error {
			solutions[i], failures[i] = e.solve(ctx, s, res.Problem)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var exhausted []string
	for i, s := range strategies {
		if failures[i] != nil {
			res.Failures = append(res.Failures, Failure{Strategy: s.Name(), Err: failures[i]})
			continue
		}
		sol := solutions[i]
		res.Solutions = append(res.Solutions, sol)
		if len(sol.Oversize) > 0 || sol.Exhausted {
			exhausted = append(exhausted, sol.Algorithm)
		}
	}

	e.Logger.Info("Placement finished",
		"workloads", len(res.Problem.Workloads),
		"rejected", len(res.Rejected),
		"servers", len(p.Capacities),
		"solutions", len(res.Solutions),
		"failures", len(res.Failures),
		"duration", time.Since(start).String(),
	)

	if len(res.Solutions) == 0 {
		errs := make([]error, len(res.Failures))
		for i, f := range res.Failures {
			errs[i] = fmt.Errorf("%s: %w", f.Strategy, f.Err)
		}
		span.SetStatus(codes.Error, "no solution")
		return res, fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(errs...))
	}

	if len(res.Failures) > 0 {
		span.SetAttributes(attribute.Bool("placement.partial", true))
		span.SetAttributes(attribute.Int("placement.failed_strategies", len(res.Failures)))
		if cfg.StrictMode {
			e.Logger.Error("Strict Mode: Failing due to failed strategies")
			return res, ErrPartialResult
		}
		e.Logger.Warn("Placement finished with failed strategies (StrictMode=false)")
	}

	if len(exhausted) > 0 {
		span.SetAttributes(attribute.StringSlice("placement.exhausted", exhausted))
		if cfg.StrictMode {
			e.Logger.Error("Strict Mode: Failing due to unplaced workloads", "strategies", exhausted)
			return res, fmt.Errorf("%w: %v", ErrCapacityExhausted, exhausted)
		}
	}

	return res, nil
}

func needsScarcity(cfg config.PlacementConfig, c placement.Criterion) bool {
	if cfg.PresortScarcity {
		return true
	}
	if !c.Weighted {
		return false
	}
	for _, s := range cfg.Strategies {
		if s == placement.BestFitName {
			return true
		}
	}
	return false
}

func (e *Engine) applyFilters(ctx context.Context, schema resource.Schema, ws []placement.Workload) ([]placement.Workload, []filter.Rejection, error) {
	f, err := filter.New(schema)
	if err != nil {
		return nil, nil, err
	}
	rules := make([]filter.Rule, len(e.config.Placement.Filters))
	for i, cond := range e.config.Placement.Filters {
		rules[i] = filter.Rule{ID: fmt.Sprintf("filter-%d", i), Condition: cond}
	}
	if err := f.Compile(rules...); err != nil {
		return nil, nil, err
	}
	kept, rejected, err := f.Apply(ctx, ws)
	if err != nil {
		return nil, nil, err
	}
	for _, r := range rejected {
		e.Logger.Debug("Workload filtered out", "workload", r.Workload.ID, "rule", r.RuleID)
	}
	return kept, rejected, nil
}

func (e *Engine) strategies(names []string, criterion placement.Criterion) ([]placement.Strategy, error) {
	out := make([]placement.Strategy, 0, len(names))
	for _, name := range names {
		if name == milp.Name {
			out = append(out, &milp.Strategy{Solver: e.solver, Relaxed: e.config.MILP.Relaxed})
			continue
		}
		s, err := placement.New(name, criterion)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, errors.New("no placement strategy configured")
	}
	return out, nil
}

// solve runs one strategy under its own span. A panic becomes an ErrPanic
// failure for that strategy only.
func (e *Engine) solve(ctx context.Context, s placement.Strategy, p *placement.Problem) (sol *placement.Solution, err error) {
	name := s.Name()
	ctx, span := e.Tracer.Start(ctx, "Strategy.Solve", trace.WithAttributes(attribute.String("strategy", name)))
	defer span.End()

	start := time.Now()
	e.emit(Event{Strategy: name, Phase: PhaseStarted})
	defer func() {
		ev := Event{Strategy: name, Phase: PhaseDone, Solution: sol, Elapsed: time.Since(start)}
		if err != nil {
			ev.Phase, ev.Err = PhaseFailed, err
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.emit(ev)
	}()
	defer e.recoverPanic(ctx, &err)

	sol, err = s.Solve(ctx, p)
	if err != nil {
		return nil, err
	}

	attrs := metric.WithAttributes(attribute.String("strategy", name))
	e.placed.Add(ctx, int64(sol.Placed()), attrs)
	e.oversize.Add(ctx, int64(len(sol.Oversize)), attrs)
	span.SetAttributes(
		attribute.Int("solution.servers", sol.NumServers()),
		attribute.Float64("solution.filling_rate", sol.FillingRate()),
		attribute.Int("solution.oversize", len(sol.Oversize)),
	)
	return sol, nil
}

func (e *Engine) emit(ev Event) {
	if e.progress != nil {
		e.progress(ev)
	}
}

// recoverPanic handles failures. When errp is non-nil the panic is also
// turned into an ErrPanic error for the caller.
func (e *Engine) recoverPanic(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		tr := otel.Tracer("vmplace/engine")
		_, span := tr.Start(ctx, "CriticalPanic")

		stack := debug.Stack()

		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "CRITICAL FAILURE")
		span.SetAttributes(
			attribute.String("crash.stack", string(stack)),
			attribute.String("crash.reason", fmt.Sprintf("%v", r)),
		)
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))

		if errp != nil {
			*errp = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}
}

// NewLogger builds the engine's structured logger. format is "json" or
// "text".
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSensitiveData,
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	sensitiveKeys := map[string]bool{
		"password": true, "access_key": true, "token": true,
		"secret": true, "api_key": true, "private_key": true, "auth_token": true,
		"refresh_token": true, "certificate": true, "credential": true,
		"kubeconfig_token": true, "session_token": true, "connection_string": true,
	}

	if sensitiveKeys[a.Key] {
		return slog.Attr{
			Key:   a.Key,
			Value: slog.StringValue("[REDACTED]"),
		}
	}
	return a
}
