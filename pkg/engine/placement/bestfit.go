package placement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// WeightedResources is the criterion name for the scarcity-weighted composite.
const WeightedResources = "weighted_resources"

// ErrMissingScarcity is returned when the weighted criterion has no usable
// scarcity ratio.
var ErrMissingScarcity = errors.New("weighted criterion requires a finite scarcity ratio")

// Criterion selects how visited servers are ranked by Best-Fit.
type Criterion struct {
	// Resource ranks servers by the remaining quantity of one resource. Empty
	// when Weighted is set.
	Resource string
	// Weighted ranks servers by the scarcity-weighted composite of their
	// remaining capacity.
	Weighted bool
	// Scarcity holds the per-resource weights for the weighted criterion.
	Scarcity resource.Vector
}

// ParseCriterion accepts a resource name or "weighted_resources".
func ParseCriterion(s string) Criterion {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == WeightedResources {
		return Criterion{Weighted: true}
	}
	return Criterion{Resource: s}
}

func (c Criterion) String() string {
	if c.Weighted {
		return WeightedResources
	}
	return c.Resource
}

// BestFit places each workload on the most nearly full visited server that can
// hold it, and only brings a new server into the visited set when none can.
type BestFit struct {
	Criterion Criterion
}

// NewBestFit validates the criterion shape. The schema-dependent checks run in
// Solve.
func NewBestFit(c Criterion) (*BestFit, error) {
	if !c.Weighted && c.Resource == "" {
		return nil, fmt.Errorf("best fit: empty sorting criterion")
	}
	if c.Weighted && c.Scarcity != nil && !c.Scarcity.Finite() {
		return nil, ErrMissingScarcity
	}
	return &BestFit{Criterion: c}, nil
}

func (b *BestFit) Name() string { return "BestFitAlgo(" + b.Criterion.String() + ")" }

func (b *BestFit) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	rank, err := b.ranker(p.Schema)
	if err != nil {
		return nil, err
	}

	fillings := NewFillings(len(p.Capacities), p.Schema.Len())
	var oversize []Workload
	var placements []Placement
	cursor := 0

	for i, w := range p.Workloads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		j, ok := bestVisited(w.Demand, p.Capacities, fillings, cursor, rank)
		if !ok {
			j, ok = FindNextFittingServer(cursor, w.Demand, p.Capacities, fillings)
			if !ok {
				oversize = append(oversize, w)
				continue
			}
			cursor = j
		}
		if err := Accumulate(fillings, j, w.Demand); err != nil {
			return nil, err
		}
		placements = append(placements, Placement{Workload: i, Server: j, Cursor: cursor, Fraction: 1, Demand: w.Demand.Clone()})
	}

	sol := NewSolution(b.Name(), p.Schema, p.Capacities, fillings, oversize)
	sol.Placements = placements
	return sol, nil
}

// FindBestFittingServer returns the visited server (index < cursor) with the
// least remaining space under the criterion where demand fits.
func (b *BestFit) FindBestFittingServer(schema resource.Schema, demand resource.Vector, capacities []resource.Vector, table Fillings, cursor int) (int, bool, error) {
	rank, err := b.ranker(schema)
	if err != nil {
		return 0, false, err
	}
	j, ok := bestVisited(demand, capacities, table, cursor, rank)
	return j, ok, nil
}

// ranker scores remaining-capacity vectors; smaller is tighter.
type ranker func(remaining []resource.Vector) []float64

func (b *BestFit) ranker(schema resource.Schema) (ranker, error) {
	c := b.Criterion
	if c.Weighted {
		if len(c.Scarcity) != schema.Len() || !c.Scarcity.Finite() {
			return nil, ErrMissingScarcity
		}
		weights := c.Scarcity.Clone()
		return func(remaining []resource.Vector) []float64 {
			return WeightedScores(remaining, weights)
		}, nil
	}
	d, ok := schema.Index(c.Resource)
	if !ok {
		return nil, fmt.Errorf("%w: sorting criterion %q is not in schema %s", resource.ErrMalformed, c.Resource, schema)
	}
	return func(remaining []resource.Vector) []float64 {
		return resource.Column(d, remaining)
	}, nil
}

func bestVisited(demand resource.Vector, capacities []resource.Vector, table Fillings, cursor int, rank ranker) (int, bool) {
	remaining := Remaining(capacities, table, cursor)
	if len(remaining) == 0 {
		return 0, false
	}
	scores := rank(remaining)

	order := make([]int, len(remaining))
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})

	for _, j := range order {
		if FitsInRemaining(demand, remaining[j]) {
			return j, true
		}
	}
	return 0, false
}
