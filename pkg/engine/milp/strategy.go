package milp

import (
	"context"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
)

// Name is the strategy name accepted by the engine.
const Name = "milp"

// Strategy adapts a Solver to placement.Strategy.
type Strategy struct {
	Solver  Solver
	Relaxed bool
}

func (s *Strategy) Name() string {
	if s.Relaxed {
		return "NominalModel(relaxed)"
	}
	return "NominalModel"
}

func (s *Strategy) Solve(ctx context.Context, p *placement.Problem) (*placement.Solution, error) {
	m, err := Build(p, s.Relaxed)
	if err != nil {
		return nil, err
	}
	a, err := s.Solver.Solve(ctx, m)
	if err != nil {
		return nil, err
	}
	return a.Solution(s.Name(), p)
}
