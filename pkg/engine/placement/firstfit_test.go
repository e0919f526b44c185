package placement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

func TestFirstFitSolve(t *testing.T) {
	p := &Problem{
		Schema: resource.DefaultSchema(),
		Workloads: workloads(
			resource.Vector{6, 5, 10},
			resource.Vector{5, 5, 10},
			resource.Vector{4, 5, 10},
			resource.Vector{20, 1, 1}, // larger than any server
		),
		Capacities: []resource.Vector{{10, 14, 100}, {10, 14, 100}, {10, 14, 100}},
	}
	require.NoError(t, p.Validate())

	sol, err := (&FirstFit{}).Solve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 2, sol.NumServers())
	assert.Equal(t, []resource.Vector{{10, 10, 20}, {5, 5, 10}}, sol.Fillings)
	assert.Equal(t, []int{0, 1}, sol.Servers)
	require.Len(t, sol.Oversize, 1)
	assert.Equal(t, "d", sol.Oversize[0].ID)
	assert.Equal(t, "4", sol.Oversize[0].Class)
	assert.Equal(t, 3, sol.Placed())
}

func TestFirstFitRescansFromFirstServer(t *testing.T) {
	p := &Problem{
		Schema:     resource.DefaultSchema(),
		Workloads:  workloads(resource.Vector{8, 1, 1}, resource.Vector{8, 1, 1}, resource.Vector{2, 1, 1}),
		Capacities: []resource.Vector{{10, 10, 10}, {10, 10, 10}},
	}

	sol, err := (&FirstFit{}).Solve(context.Background(), p)
	require.NoError(t, err)

	require.Len(t, sol.Placements, 3)
	assert.Equal(t, 0, sol.Placements[2].Server, "small VM goes back to the first server")
	for _, pl := range sol.Placements {
		assert.Equal(t, 1.0, pl.Fraction)
	}
}

func TestFirstFitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Problem{
		Schema:     resource.DefaultSchema(),
		Workloads:  workloads(resource.Vector{1, 1, 1}),
		Capacities: []resource.Vector{{10, 10, 10}},
	}
	_, err := (&FirstFit{}).Solve(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}
