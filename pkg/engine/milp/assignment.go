package milp

import (
	"errors"
	"fmt"
	"math"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

// ErrInvalidAssignment is returned when a solver assignment breaks the model
// constraints.
var ErrInvalidAssignment = errors.New("invalid assignment")

// Tolerance absorbs solver round-off when checking an assignment.
const Tolerance = 1e-6

// Assignment holds x[i][j], the share of workload i on server j, and y[j].
type Assignment struct {
	Status    Status
	Objective float64
	X         [][]float64
	Y         []float64
}

// Solution checks the assignment against the problem and aggregates it.
// Every workload must be fully assigned and no server may exceed its
// capacity beyond Tolerance.
func (a *Assignment) Solution(name string, p *placement.Problem) (*placement.Solution, error) {
	n, s := len(p.Workloads), len(p.Capacities)
	if len(a.X) != n {
		return nil, fmt.Errorf("%w: %d rows for %d workloads", ErrInvalidAssignment, len(a.X), n)
	}

	fillings := placement.NewFillings(s, p.Schema.Len())
	var placements []placement.Placement
	for i, row := range a.X {
		if len(row) != s {
			return nil, fmt.Errorf("%w: workload %d has %d columns for %d servers", ErrInvalidAssignment, i, len(row), s)
		}
		total := 0.0
		for j, x := range row {
			if math.IsNaN(x) || x < -Tolerance || x > 1+Tolerance {
				return nil, fmt.Errorf("%w: x[%d,%d] = %g", ErrInvalidAssignment, i, j, x)
			}
			total += x
			if x <= Tolerance {
				continue
			}
			share := p.Workloads[i].Demand.Scale(x)
			if err := placement.Accumulate(fillings, j, share); err != nil {
				return nil, err
			}
			placements = append(placements, placement.Placement{Workload: i, Server: j, Cursor: j, Fraction: x, Demand: share})
		}
		if math.Abs(total-1) > Tolerance {
			return nil, fmt.Errorf("%w: workload %d (%s) assigned %g of its demand", ErrInvalidAssignment, i, p.Workloads[i].ID, total)
		}
	}

	for j := range fillings {
		slack := p.Capacities[j].Sub(fillings[j])
		for d, q := range slack {
			if q < -Tolerance*math.Max(1, p.Capacities[j][d]) {
				return nil, fmt.Errorf("%w: server %d over capacity on %s", ErrInvalidAssignment, j, p.Schema.Name(d))
			}
		}
		clamp(fillings[j], p.Capacities[j])
	}

	sol := placement.NewSolution(name, p.Schema, p.Capacities, fillings, nil)
	sol.Placements = placements
	return sol, nil
}

func clamp(v, limit resource.Vector) {
	for d := range v {
		v[d] = math.Min(v[d], limit[d])
	}
}
