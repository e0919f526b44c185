package placement

import (
	"context"
)

// FirstFit places every workload whole into the lowest-index server where it
// fits, rescanning from server 0 each time.
type FirstFit struct{}

func (*FirstFit) Name() string { return "FirstFitAlgo" }

func (f *FirstFit) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	fillings := NewFillings(len(p.Capacities), p.Schema.Len())
	var oversize []Workload
	var placements []Placement

	for i, w := range p.Workloads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j, ok := FindNextFittingServer(0, w.Demand, p.Capacities, fillings)
		if !ok {
			oversize = append(oversize, w)
			continue
		}
		if err := Accumulate(fillings, j, w.Demand); err != nil {
			return nil, err
		}
		placements = append(placements, Placement{Workload: i, Server: j, Cursor: 0, Fraction: 1, Demand: w.Demand.Clone()})
	}

	sol := NewSolution(f.Name(), p.Schema, p.Capacities, fillings, oversize)
	sol.Placements = placements
	return sol, nil
}
