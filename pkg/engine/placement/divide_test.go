package placement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

func partitionFixture() ([]resource.Vector, Fillings) {
	capacities := []resource.Vector{{5, 20, 1000}, {5, 20, 1000}, {5, 20, 1000}, {5, 20, 1000}}
	fillings := Fillings{{4, 20, 100}, {4, 8, 100}, {4, 8, 100}, {0, 0, 0}}
	return capacities, fillings
}

func TestPartitionIntoReturnsRemainder(t *testing.T) {
	capacities, fillings := partitionFixture()

	portion, remainder, fraction, err := PartitionInto(fillings, capacities, 1, resource.Vector{4, 8, 100})
	require.NoError(t, err)

	assert.Equal(t, Fillings{{4, 20, 100}, {5, 10, 125}, {4, 8, 100}, {0, 0, 0}}, fillings)
	assert.Equal(t, resource.Vector{1, 2, 25}, portion)
	assert.Equal(t, resource.Vector{3, 6, 75}, remainder)
	assert.Equal(t, 0.25, fraction)
}

func TestPartitionIntoReturnsFullDemandWhenNothingFits(t *testing.T) {
	capacities, fillings := partitionFixture()

	portion, remainder, fraction, err := PartitionInto(fillings, capacities, 0, resource.Vector{4, 8, 100})
	require.NoError(t, err)

	assert.Equal(t, Fillings{{4, 20, 100}, {4, 8, 100}, {4, 8, 100}, {0, 0, 0}}, fillings)
	assert.True(t, portion.IsZero())
	assert.Equal(t, resource.Vector{4, 8, 100}, remainder)
	assert.Equal(t, 0.0, fraction)
}

func TestPartitionIntoPlacesWholeDemand(t *testing.T) {
	capacities, fillings := partitionFixture()

	_, remainder, fraction, err := PartitionInto(fillings, capacities, 3, resource.Vector{4, 8, 100})
	require.NoError(t, err)

	assert.Equal(t, Fillings{{4, 20, 100}, {4, 8, 100}, {4, 8, 100}, {4, 8, 100}}, fillings)
	assert.Nil(t, remainder)
	assert.Equal(t, 1.0, fraction)
}

func TestPartitionIntoLargeVM(t *testing.T) {
	capacities := []resource.Vector{{64, 512, 2048}, {64, 512, 2048}}
	fillings := NewFillings(2, 3)

	_, remainder, _, err := PartitionInto(fillings, capacities, 0, resource.Vector{16, 32, 2074})
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{2048.0 / 2074 * 16, 2048.0 / 2074 * 32, 2048}, []float64(fillings[0]), 1e-9)
	assert.Equal(t, 2048.0, fillings[0][2], "binding dimension is filled exactly")
	assert.True(t, fillings[1].IsZero())
	assert.InDeltaSlice(t, []float64{16 - 2048.0/2074*16, 32 - 2048.0/2074*32, 26}, []float64(remainder), 1e-9)
}

func TestFirstFitDivideSplitsAcrossServers(t *testing.T) {
	p := &Problem{
		Schema:     resource.DefaultSchema(),
		Workloads:  []Workload{{ID: "big", Class: "2", Demand: resource.Vector{16, 32, 2074}}},
		Capacities: []resource.Vector{{64, 512, 2048}, {64, 512, 2048}},
	}

	sol, err := (&FirstFitDivide{}).Solve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 2, sol.NumServers())
	assert.False(t, sol.Exhausted)
	assert.Empty(t, sol.Oversize)
	assert.InDelta(t, 26.0, sol.Fillings[1][2], 1e-9)

	require.Len(t, sol.Placements, 2)
	assert.InDelta(t, 2048.0/2074, sol.Placements[0].Fraction, 1e-12)
	assert.InDelta(t, 1-2048.0/2074, sol.Placements[1].Fraction, 1e-12)
}

func TestFirstFitDivideConservesDemand(t *testing.T) {
	demands := []resource.Vector{
		{3, 7, 120}, {9, 2, 40}, {1, 1, 900}, {6, 6, 6}, {12, 30, 10}, {0, 4, 0}, {5, 5, 500},
	}
	capacities := make([]resource.Vector, 20)
	for i := range capacities {
		capacities[i] = resource.Vector{8, 16, 512}
	}
	p := &Problem{Schema: resource.DefaultSchema(), Workloads: workloads(demands...), Capacities: capacities}

	sol, err := (&FirstFitDivide{}).Solve(context.Background(), p)
	require.NoError(t, err)
	require.False(t, sol.Exhausted)

	placed := make(map[int]resource.Vector)
	lastCursor := 0
	for _, pl := range sol.Placements {
		if placed[pl.Workload] == nil {
			placed[pl.Workload] = make(resource.Vector, 3)
		}
		placed[pl.Workload].AddInPlace(pl.Demand)

		assert.GreaterOrEqual(t, pl.Cursor, lastCursor, "cursor never moves back")
		lastCursor = pl.Cursor
	}
	for i, d := range demands {
		assert.True(t, placed[i].EqualApprox(d, 1e-9), "workload %d: placed %v, want %v", i, placed[i], d)
	}
	for j := range sol.Fillings {
		for d := range sol.Fillings[j] {
			assert.LessOrEqual(t, sol.Fillings[j][d], sol.Capacities[j][d]+1e-9, "server %d over capacity", sol.Servers[j])
		}
	}
}

func TestFirstFitDivideExhaustion(t *testing.T) {
	p := &Problem{
		Schema: resource.DefaultSchema(),
		Workloads: []Workload{
			{ID: "a", Class: "web", Demand: resource.Vector{10, 10, 10}},
			{ID: "b", Class: "db", Demand: resource.Vector{1, 1, 1}},
		},
		Capacities: []resource.Vector{{4, 100, 100}, {4, 100, 100}},
	}

	sol, err := (&FirstFitDivide{}).Solve(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, sol.Exhausted)
	require.Len(t, sol.Oversize, 2)
	assert.Equal(t, "a", sol.Oversize[0].ID)
	assert.Equal(t, "web", sol.Oversize[0].Class, "fragments keep their class")
	assert.InDeltaSlice(t, []float64{2, 2, 2}, []float64(sol.Oversize[0].Demand), 1e-9)
	assert.Equal(t, resource.Vector{1, 1, 1}, sol.Oversize[1].Demand)
	require.Equal(t, 2, sol.NumServers())
	for _, f := range sol.Fillings {
		assert.InDeltaSlice(t, []float64{4, 4, 4}, []float64(f), 1e-9)
	}
}
