package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

func TestNewSolutionDropsIdleServers(t *testing.T) {
	schema := resource.DefaultSchema()
	capacities := []resource.Vector{{10, 14, 100}, {20, 28, 200}, {10, 14, 100}, {10, 14, 100}}
	fillings := Fillings{{10, 10, 20}, {0, 0, 0}, {5, 4, 10}, {0, 0, 0}}

	sol := NewSolution("test", schema, capacities, fillings, nil)

	assert.Equal(t, 2, sol.NumServers())
	assert.Equal(t, []int{0, 2}, sol.Servers)
	assert.Equal(t, []resource.Vector{{10, 14, 100}, {10, 14, 100}}, sol.Capacities)
	assert.InDeltaSlice(t, []float64{0.75, 0.5, 0.15}, []float64(sol.Utilization()), 1e-12)
	assert.InDelta(t, (0.75+0.5+0.15)/3, sol.FillingRate(), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 4.0 / 14, 0.1}, []float64(sol.ServerUtilization(1)), 1e-12)

	fillings[0][0] = 0
	assert.Equal(t, 10.0, sol.Fillings[0][0], "solution owns its rows")
}

func TestNewSolutionIsIdempotent(t *testing.T) {
	schema := resource.DefaultSchema()
	capacities := []resource.Vector{{10, 14, 100}, {10, 14, 100}, {10, 14, 100}}
	fillings := Fillings{{10, 10, 20}, {5, 5, 10}, {0, 0, 0}}

	first := NewSolution("x", schema, capacities, fillings, nil)
	second := NewSolution("x", schema, first.Capacities, first.Fillings, nil)

	assert.Equal(t, first.NumServers(), second.NumServers())
	assert.Equal(t, first.Utilization(), second.Utilization())
	assert.Equal(t, first.Fillings, second.Fillings)
}

func TestSolutionString(t *testing.T) {
	schema := resource.DefaultSchema()
	sol := NewSolution("FirstFitAlgo", schema,
		[]resource.Vector{{10, 10, 10}},
		Fillings{{5, 5, 5}},
		[]Workload{{ID: "big"}},
	)
	assert.Equal(t, "Solution FirstFitAlgo: [1 servers]<50.0% full><1 oversize VMs>", sol.String())

	empty := NewSolution("none", schema, nil, nil, nil)
	require.Equal(t, 0, empty.NumServers())
	assert.Equal(t, 0.0, empty.FillingRate())
	assert.Equal(t, "Solution none: [0 servers]<0.0% full>", empty.String())
}
