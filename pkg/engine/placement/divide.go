package placement

import (
	"context"
	"math"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// FirstFitDivide walks the servers once with a single cursor. A workload that
// does not fit in the current server is split: the largest proportional share
// that fits stays there and the remainder moves on to the next server.
type FirstFitDivide struct{}

func (*FirstFitDivide) Name() string { return "FirstFitDivideAlgo" }

func (f *FirstFitDivide) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	fillings := NewFillings(len(p.Capacities), p.Schema.Len())
	var oversize []Workload
	var placements []Placement
	cursor := 0
	exhausted := false

	for i, w := range p.Workloads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if exhausted {
			oversize = append(oversize, w)
			continue
		}

		remainder := w.Demand
		share := 1.0
		for remainder != nil {
			if cursor >= len(p.Capacities) {
				exhausted = true
				oversize = append(oversize, w.Fragment(remainder))
				break
			}
			portion, rest, fraction, err := PartitionInto(fillings, p.Capacities, cursor, remainder)
			if err != nil {
				return nil, err
			}
			if !portion.IsZero() || rest == nil {
				placements = append(placements, Placement{
					Workload: i,
					Server:   cursor,
					Cursor:   cursor,
					Fraction: share * fraction,
					Demand:   portion,
				})
			}
			share *= 1 - fraction
			remainder = rest
			if remainder != nil {
				cursor++
			}
		}
	}

	sol := NewSolution(f.Name(), p.Schema, p.Capacities, fillings, oversize)
	sol.Placements = placements
	sol.Exhausted = exhausted
	return sol, nil
}

// PartitionInto places as much of demand as fits into server and returns the
// placed portion, the remainder (nil when everything fit) and the fraction of
// demand that was placed.
func PartitionInto(table Fillings, capacities []resource.Vector, server int, demand resource.Vector) (portion, remainder resource.Vector, fraction float64, err error) {
	if server < 0 || server >= len(capacities) || server >= len(table) {
		return nil, nil, 0, ErrServerOutOfRange
	}
	if Fits(demand, capacities[server], table[server]) {
		if err := Accumulate(table, server, demand); err != nil {
			return nil, nil, 0, err
		}
		return demand.Clone(), nil, 1, nil
	}

	space := capacities[server].Sub(table[server])
	fraction = 1.0
	binding := -1
	for d, q := range demand {
		if q == 0 {
			continue
		}
		if c := space[d] / q; c < fraction {
			fraction = c
			binding = d
		}
	}
	if fraction < 0 {
		fraction = 0
	}

	portion = demand.Scale(fraction)
	if binding >= 0 {
		portion[binding] = math.Max(space[binding], 0)
	}
	for d := range portion {
		// q*(space/q) can overshoot by an ulp.
		if portion[d] > space[d] {
			portion[d] = math.Max(space[d], 0)
		}
	}
	remainder = demand.Sub(portion)
	if err := Accumulate(table, server, portion); err != nil {
		return nil, nil, 0, err
	}
	for d, c := range capacities[server] {
		table[server][d] = math.Min(table[server][d], c)
	}
	return portion, remainder, fraction, nil
}
