package placement

import (
	"fmt"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// Workload represents a deployable VM.
type Workload struct {
	ID     string
	Class  string // opaque classification tag, carried through untouched
	Demand resource.Vector
}

// Fragment returns a copy of w carrying a different demand. Used when a
// workload is split across servers.
func (w Workload) Fragment(demand resource.Vector) Workload {
	return Workload{ID: w.ID, Class: w.Class, Demand: demand}
}

// Problem is the fully materialized input of a placement run.
type Problem struct {
	Schema     resource.Schema
	Workloads  []Workload
	Capacities []resource.Vector
}

// Validate rejects malformed input before any placement begins.
func (p *Problem) Validate() error {
	if p.Schema.Len() == 0 {
		return fmt.Errorf("%w: problem has no resource schema", resource.ErrMalformed)
	}
	for i, w := range p.Workloads {
		if err := p.Schema.Check(w.Demand); err != nil {
			return fmt.Errorf("workload %d (%s): %w", i, w.ID, err)
		}
	}
	for j, c := range p.Capacities {
		if err := p.Schema.Check(c); err != nil {
			return fmt.Errorf("server %d: %w", j, err)
		}
	}
	return nil
}

// Demands returns the demand vectors in workload order.
func (p *Problem) Demands() []resource.Vector {
	out := make([]resource.Vector, len(p.Workloads))
	for i, w := range p.Workloads {
		out[i] = w.Demand
	}
	return out
}

// Fillings is the per-server usage table, indexed like the capacities.
type Fillings []resource.Vector

// NewFillings returns a zeroed usage table for n servers of dims dimensions.
func NewFillings(n, dims int) Fillings {
	f := make(Fillings, n)
	for i := range f {
		f[i] = make(resource.Vector, dims)
	}
	return f
}

// Placement records one (server, workload-or-fragment) pairing.
type Placement struct {
	Workload int // index into Problem.Workloads
	Server   int
	Cursor   int     // strategy cursor when the placement was made
	Fraction float64 // share of the original demand placed here
	Demand   resource.Vector
}
