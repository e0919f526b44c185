package placement

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

func TestStrategiesRejectMalformedInput(t *testing.T) {
	servers := []resource.Vector{{10, 10, 100}}

	tests := []struct {
		name    string
		problem *Problem
	}{
		{
			name: "negative demand",
			problem: &Problem{
				Schema:     resource.DefaultSchema(),
				Workloads:  workloads(resource.Vector{-8, -8, -80}, resource.Vector{15, 15, 150}),
				Capacities: servers,
			},
		},
		{
			name: "short demand",
			problem: &Problem{
				Schema:     resource.DefaultSchema(),
				Workloads:  workloads(resource.Vector{1, 1}),
				Capacities: servers,
			},
		},
		{
			name: "non-finite demand",
			problem: &Problem{
				Schema:     resource.DefaultSchema(),
				Workloads:  workloads(resource.Vector{math.NaN(), 1, 1}),
				Capacities: servers,
			},
		},
		{
			name: "short capacity",
			problem: &Problem{
				Schema:     resource.DefaultSchema(),
				Workloads:  workloads(resource.Vector{1, 1, 1}),
				Capacities: []resource.Vector{{10, 10}},
			},
		},
		{
			name: "no schema",
			problem: &Problem{
				Workloads:  workloads(resource.Vector{1, 1, 1}),
				Capacities: servers,
			},
		},
	}

	for _, name := range Names() {
		s, err := New(name, ParseCriterion("vcpu"))
		require.NoError(t, err)

		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				var sol *Solution
				require.NotPanics(t, func() {
					sol, err = s.Solve(context.Background(), tt.problem)
				})
				assert.ErrorIs(t, err, resource.ErrMalformed)
				assert.Nil(t, sol)
			})
		}
	}
}
