package placement

import (
	"fmt"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// Solution is the read-only summary of a placement run.
type Solution struct {
	Algorithm string
	Schema    resource.Schema

	// Servers holds the original indices of the active servers. Capacities and
	// Fillings are aligned to it.
	Servers    []int
	Capacities []resource.Vector
	Fillings   []resource.Vector

	Oversize   []Workload
	Placements []Placement

	// Exhausted is set when the server sequence ran out while a remainder was
	// still pending.
	Exhausted bool

	utilization resource.Vector
}

// NewSolution compacts the usage table to the servers with non-zero usage and
// computes utilization figures. The inputs are copied.
func NewSolution(name string, schema resource.Schema, capacities []resource.Vector, fillings Fillings, oversize []Workload) *Solution {
	s := &Solution{
		Algorithm: name,
		Schema:    schema,
		Oversize:  append([]Workload(nil), oversize...),
	}
	for j, usage := range fillings {
		if usage.IsZero() {
			continue
		}
		s.Servers = append(s.Servers, j)
		s.Fillings = append(s.Fillings, usage.Clone())
		s.Capacities = append(s.Capacities, capacities[j].Clone())
	}

	used := resource.Total(schema.Len(), s.Fillings)
	mobilized := resource.Total(schema.Len(), s.Capacities)
	s.utilization = schema.Zero()
	for d := range used {
		if mobilized[d] > 0 {
			s.utilization[d] = used[d] / mobilized[d]
		}
	}
	return s
}

// NumServers returns the number of active servers.
func (s *Solution) NumServers() int { return len(s.Fillings) }

// Utilization returns total usage over total mobilized capacity per resource.
func (s *Solution) Utilization() resource.Vector { return s.utilization.Clone() }

// FillingRate is the mean of the per-resource utilization.
func (s *Solution) FillingRate() float64 {
	if len(s.utilization) == 0 {
		return 0
	}
	return s.utilization.Sum() / float64(len(s.utilization))
}

// ServerUtilization returns usage/capacity of active server i (position in
// Servers, not the original index).
func (s *Solution) ServerUtilization(i int) resource.Vector {
	out := s.Schema.Zero()
	for d := range out {
		if s.Capacities[i][d] > 0 {
			out[d] = s.Fillings[i][d] / s.Capacities[i][d]
		}
	}
	return out
}

// Placed returns the number of distinct workloads that received any share of
// a server.
func (s *Solution) Placed() int {
	seen := make(map[int]struct{}, len(s.Placements))
	for _, p := range s.Placements {
		seen[p.Workload] = struct{}{}
	}
	return len(seen)
}

func (s *Solution) String() string {
	out := fmt.Sprintf("Solution %s: [%d servers]<%.1f%% full>", s.Algorithm, s.NumServers(), s.FillingRate()*100)
	if len(s.Oversize) > 0 {
		out += fmt.Sprintf("<%d oversize VMs>", len(s.Oversize))
	}
	return out
}
