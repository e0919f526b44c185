package placement

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

var (
	// ErrDegenerateCapacity is returned when a resource has zero mean capacity.
	ErrDegenerateCapacity = errors.New("degenerate capacity: zero mean capacity for resource")
	// ErrEmptyInput is returned when a statistic is requested over no rows.
	ErrEmptyInput = errors.New("empty input")
)

// ScarcityRatio computes, per resource, the mean workload demand divided by the
// mean server capacity. Resources with a high ratio are globally scarce.
func ScarcityRatio(schema resource.Schema, workloads []Workload, capacities []resource.Vector) (resource.Vector, error) {
	if len(workloads) == 0 || len(capacities) == 0 {
		return nil, fmt.Errorf("scarcity ratio: %w", ErrEmptyInput)
	}
	demands := make([]resource.Vector, len(workloads))
	for i, w := range workloads {
		demands[i] = w.Demand
	}

	ratio := schema.Zero()
	for d := range ratio {
		meanCap := stat.Mean(resource.Column(d, capacities), nil)
		if meanCap == 0 {
			return nil, fmt.Errorf("%w %q", ErrDegenerateCapacity, schema.Name(d))
		}
		ratio[d] = stat.Mean(resource.Column(d, demands), nil) / meanCap
		if math.IsNaN(ratio[d]) || math.IsInf(ratio[d], 0) {
			return nil, fmt.Errorf("%w %q", ErrDegenerateCapacity, schema.Name(d))
		}
	}
	return ratio, nil
}

// WeightedScores scales every vector by the per-resource maximum over the
// whole list, then combines the scaled values with the scarcity weights.
// A resource whose maximum is zero contributes nothing.
func WeightedScores(vs []resource.Vector, weights resource.Vector) []float64 {
	scores := make([]float64, len(vs))
	if len(vs) == 0 {
		return scores
	}
	colMax := resource.ColumnMax(len(weights), vs)
	for i, v := range vs {
		var s float64
		for d, q := range v {
			if colMax[d] == 0 {
				continue
			}
			s += q / colMax[d] * weights[d]
		}
		scores[i] = s
	}
	return scores
}

// SortByScarcity returns the workloads ordered by decreasing weighted demand,
// so that the ones heaviest on scarce resources are placed first. Ties keep
// input order.
func SortByScarcity(workloads []Workload, ratio resource.Vector) []Workload {
	demands := make([]resource.Vector, len(workloads))
	for i, w := range workloads {
		demands[i] = w.Demand
	}
	scores := WeightedScores(demands, ratio)

	order := make([]int, len(workloads))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	out := make([]Workload, len(workloads))
	for i, idx := range order {
		out[i] = workloads[idx]
	}
	return out
}
