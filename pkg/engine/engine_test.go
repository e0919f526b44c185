package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/vmplace/pkg/config"
	"github.com/DrSkyle/vmplace/pkg/engine/milp"
	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

type solverFunc func(ctx context.Context, m *milp.Model) (*milp.Assignment, error)

func (f solverFunc) Solve(ctx context.Context, m *milp.Model) (*milp.Assignment, error) {
	return f(ctx, m)
}

func testProblem(servers int) *placement.Problem {
	p := &placement.Problem{
		Schema: resource.DefaultSchema(),
		Workloads: []placement.Workload{
			{ID: "a", Class: "web", Demand: resource.Vector{6, 5, 10}},
			{ID: "b", Class: "db", Demand: resource.Vector{5, 5, 10}},
			{ID: "c", Class: "web", Demand: resource.Vector{4, 5, 10}},
		},
	}
	for range servers {
		p.Capacities = append(p.Capacities, resource.Vector{10, 14, 100})
	}
	return p
}

func newTestEngine(t *testing.T, pc config.PlacementConfig, opts ...Option) *Engine {
	t.Helper()
	cfg := Config{
		Placement:     pc,
		MILP:          config.DefaultMILPConfig(),
		SkipTelemetry: true,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	eng, err := New(context.Background(), append([]Option{WithConfig(cfg)}, opts...)...)
	require.NoError(t, err)
	return eng
}

func TestEngineInitialization(t *testing.T) {
	eng, err := New(context.Background(), WithConfig(Config{SkipTelemetry: true}))
	require.NoError(t, err)
	require.NotNil(t, eng.Logger, "engine should have default logger")
	assert.NotNil(t, eng.Tracer)
	assert.NoError(t, eng.Close(context.Background()))
}

func TestRunHeuristics(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	eng := newTestEngine(t, pc)

	res, err := eng.Run(context.Background(), testProblem(3))
	require.NoError(t, err)
	require.Len(t, res.Solutions, 3)
	assert.Empty(t, res.Failures)
	assert.NotNil(t, res.Scarcity, "weighted best fit needs the scarcity ratio")

	names := make([]string, len(res.Solutions))
	for i, s := range res.Solutions {
		names[i] = s.Algorithm
	}
	assert.Equal(t, []string{"FirstFitAlgo", "FirstFitDivideAlgo", "BestFitAlgo(weighted_resources)"}, names)

	best := res.Solutions[2]
	assert.Equal(t, 2, best.NumServers())
	assert.Equal(t, []resource.Vector{{10, 10, 20}, {5, 5, 10}}, best.Fillings)
}

func TestRunSkipsScarcityWhenUnused(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"first_fit"}
	eng := newTestEngine(t, pc)

	res, err := eng.Run(context.Background(), testProblem(3))
	require.NoError(t, err)
	assert.Nil(t, res.Scarcity)
}

func TestRunPresortByScarcity(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"first_fit"}
	pc.PresortScarcity = true
	eng := newTestEngine(t, pc)

	p := testProblem(3)
	p.Workloads[0], p.Workloads[2] = p.Workloads[2], p.Workloads[0]

	res, err := eng.Run(context.Background(), p)
	require.NoError(t, err)

	ids := []string{}
	for _, w := range res.Problem.Workloads {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, "c", p.Workloads[0].ID, "input problem is not reordered")
}

func TestRunFilters(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"first_fit"}
	pc.Filters = []string{"vcpu <= 5.0"}
	eng := newTestEngine(t, pc)

	res, err := eng.Run(context.Background(), testProblem(3))
	require.NoError(t, err)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "a", res.Rejected[0].Workload.ID)
	assert.Equal(t, "filter-0", res.Rejected[0].RuleID)
	assert.Len(t, res.Problem.Workloads, 2)
	assert.Equal(t, 2, res.Solutions[0].Placed())
}

func TestRunRejectsMalformedProblem(t *testing.T) {
	eng := newTestEngine(t, config.DefaultPlacementConfig())

	p := testProblem(1)
	p.Workloads[1].Demand = resource.Vector{1, 2}
	_, err := eng.Run(context.Background(), p)
	assert.ErrorIs(t, err, resource.ErrMalformed)
}

func TestRunUnknownStrategy(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"worst_fit"}
	eng := newTestEngine(t, pc)

	_, err := eng.Run(context.Background(), testProblem(1))
	assert.Error(t, err)
}

func TestRunStrictCapacity(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"first_fit"}

	res, err := newTestEngine(t, pc).Run(context.Background(), testProblem(1))
	require.NoError(t, err, "oversize is not an error by default")
	assert.Len(t, res.Solutions[0].Oversize, 1)

	pc.StrictMode = true
	res, err = newTestEngine(t, pc).Run(context.Background(), testProblem(1))
	assert.ErrorIs(t, err, ErrCapacityExhausted)
	require.NotNil(t, res, "strict mode still returns the result")
	assert.Len(t, res.Solutions, 1)
}

func TestRunMILPWithSolver(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"milp"}

	var gotColumns int
	solver := solverFunc(func(_ context.Context, m *milp.Model) (*milp.Assignment, error) {
		gotColumns = m.NumColumns()
		return &milp.Assignment{
			Status: milp.StatusOptimal,
			X:      [][]float64{{1, 0, 0}, {0, 1, 0}, {1, 0, 0}},
			Y:      []float64{1, 1, 0},
		}, nil
	})

	res, err := newTestEngine(t, pc, WithSolver(solver)).Run(context.Background(), testProblem(3))
	require.NoError(t, err)
	assert.Equal(t, 12, gotColumns)
	require.Len(t, res.Solutions, 1)
	assert.Equal(t, "NominalModel", res.Solutions[0].Algorithm)
	assert.Equal(t, 2, res.Solutions[0].NumServers())
}

func TestRunPartialFailures(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"first_fit", "milp"}

	boom := solverFunc(func(context.Context, *milp.Model) (*milp.Assignment, error) {
		panic("solver exploded")
	})

	res, err := newTestEngine(t, pc, WithSolver(boom)).Run(context.Background(), testProblem(3))
	require.NoError(t, err)
	require.Len(t, res.Solutions, 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "NominalModel", res.Failures[0].Strategy)
	assert.ErrorIs(t, res.Failures[0].Err, ErrPanic)

	pc.StrictMode = true
	_, err = newTestEngine(t, pc, WithSolver(boom)).Run(context.Background(), testProblem(3))
	assert.ErrorIs(t, err, ErrPartialResult)
}

func TestRunAllStrategiesFailed(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"milp"}

	failing := solverFunc(func(context.Context, *milp.Model) (*milp.Assignment, error) {
		return nil, milp.ErrInfeasible
	})

	res, err := newTestEngine(t, pc, WithSolver(failing)).Run(context.Background(), testProblem(3))
	assert.ErrorIs(t, err, ErrAllStrategiesFailed)
	assert.ErrorIs(t, err, milp.ErrInfeasible)
	require.NotNil(t, res)
	assert.Empty(t, res.Solutions)
}

func TestRunCancelled(t *testing.T) {
	eng := newTestEngine(t, config.DefaultPlacementConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, testProblem(3))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunProgressEvents(t *testing.T) {
	pc := config.DefaultPlacementConfig()
	pc.Strategies = []string{"first_fit", "best_fit"}
	pc.Criterion = "memory"

	var mu sync.Mutex
	counts := map[Phase]int{}
	eng := newTestEngine(t, pc, WithConcurrency(1), WithProgress(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		counts[ev.Phase]++
		if ev.Phase == PhaseDone {
			assert.NotNil(t, ev.Solution)
		}
	}))

	_, err := eng.Run(context.Background(), testProblem(3))
	require.NoError(t, err)
	assert.Equal(t, map[Phase]int{PhaseStarted: 2, PhaseDone: 2}, counts)
}

func TestNewLoggerRedacts(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "json", slog.LevelDebug)
	l.Info("loaded", "token", "abc123", "region", "us-east-1")

	out := buf.String()
	assert.Contains(t, out, `"token":"[REDACTED]"`)
	assert.Contains(t, out, `"region":"us-east-1"`)
	assert.NotContains(t, out, "abc123")

	buf.Reset()
	NewLogger(&buf, "text", slog.LevelWarn).Info("hidden")
	assert.Empty(t, buf.String())
}
