package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

func TestFits(t *testing.T) {
	vm := resource.Vector{4, 8, 10}

	tests := []struct {
		name     string
		demand   resource.Vector
		capacity resource.Vector
		usage    resource.Vector
		want     bool
	}{
		{"empty server", vm, resource.Vector{10, 20, 100}, resource.Vector{0, 0, 0}, true},
		{"short on one resource", vm, resource.Vector{10, 20, 7}, resource.Vector{0, 0, 0}, false},
		{"server filled", resource.Vector{4, 8, 100}, resource.Vector{10, 20, 7}, resource.Vector{7, 12, 50}, false},
		{"exact fit", vm, resource.Vector{10, 20, 100}, resource.Vector{6, 12, 90}, true},
		{"one unit short", vm, resource.Vector{10, 20, 100}, resource.Vector{7, 0, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fits(tt.demand, tt.capacity, tt.usage))
			assert.Equal(t, tt.want, FitsInRemaining(tt.demand, tt.capacity.Sub(tt.usage)))
		})
	}
}

func TestAccumulate(t *testing.T) {
	vm := resource.Vector{4, 8, 100}

	t.Run("empty server", func(t *testing.T) {
		fillings := Fillings{{10, 14, 50}, {0, 0, 0}, {0, 0, 0}}
		require.NoError(t, Accumulate(fillings, 1, vm))
		assert.Equal(t, Fillings{{10, 14, 50}, {4, 8, 100}, {0, 0, 0}}, fillings)
	})

	t.Run("partially filled server", func(t *testing.T) {
		fillings := Fillings{{10, 14, 50}, {12, 2, 8}, {0, 0, 0}}
		require.NoError(t, Accumulate(fillings, 1, vm))
		assert.Equal(t, Fillings{{10, 14, 50}, {16, 10, 108}, {0, 0, 0}}, fillings)
	})

	t.Run("additive", func(t *testing.T) {
		a := resource.Vector{1.5, 2, 3}
		b := resource.Vector{0.25, 4, 0}

		twice := NewFillings(1, 3)
		require.NoError(t, Accumulate(twice, 0, a))
		require.NoError(t, Accumulate(twice, 0, b))

		once := NewFillings(1, 3)
		require.NoError(t, Accumulate(once, 0, a.Add(b)))

		assert.Equal(t, once, twice)
	})

	t.Run("out of range", func(t *testing.T) {
		fillings := NewFillings(2, 3)
		assert.ErrorIs(t, Accumulate(fillings, 2, vm), ErrServerOutOfRange)
		assert.ErrorIs(t, Accumulate(fillings, -1, vm), ErrServerOutOfRange)
	})
}

func TestFindNextFittingServer(t *testing.T) {
	capacities := []resource.Vector{{10, 10}, {10, 10}, {10, 10}, {10, 10}}
	fillings := Fillings{{9, 0}, {2, 2}, {0, 9}, {0, 0}}

	j, ok := FindNextFittingServer(0, resource.Vector{5, 5}, capacities, fillings)
	require.True(t, ok)
	assert.Equal(t, 1, j)

	j, ok = FindNextFittingServer(2, resource.Vector{5, 5}, capacities, fillings)
	require.True(t, ok)
	assert.Equal(t, 3, j)

	_, ok = FindNextFittingServer(0, resource.Vector{11, 1}, capacities, fillings)
	assert.False(t, ok)

	_, ok = FindNextFittingServer(4, resource.Vector{1, 1}, capacities, fillings)
	assert.False(t, ok)
}

func TestProblemValidate(t *testing.T) {
	schema := resource.DefaultSchema()
	good := &Problem{
		Schema:     schema,
		Workloads:  []Workload{{ID: "vm-1", Demand: resource.Vector{1, 2, 3}}},
		Capacities: []resource.Vector{{10, 10, 10}},
	}
	require.NoError(t, good.Validate())

	partial := &Problem{
		Schema:     schema,
		Workloads:  []Workload{{ID: "vm-1", Demand: resource.Vector{1, 2}}},
		Capacities: []resource.Vector{{10, 10, 10}},
	}
	assert.ErrorIs(t, partial.Validate(), resource.ErrMalformed)

	negative := &Problem{
		Schema:     schema,
		Workloads:  []Workload{{ID: "vm-1", Demand: resource.Vector{1, 2, 3}}},
		Capacities: []resource.Vector{{10, -1, 10}},
	}
	assert.ErrorIs(t, negative.Validate(), resource.ErrMalformed)

	assert.ErrorIs(t, (&Problem{}).Validate(), resource.ErrMalformed)
}
