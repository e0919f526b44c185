// Package dataset loads workload tables and server fleets and prepares them
// for placement.
package dataset

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

// Dataset pairs a workload table with a server fleet over one schema.
type Dataset struct {
	Schema    resource.Schema
	Workloads []placement.Workload
	Servers   []resource.Vector
}

func (d *Dataset) String() string {
	return fmt.Sprintf("Data[%d VMs, %d server]", len(d.Workloads), len(d.Servers))
}

// Problem returns the dataset as a placement problem. Slices are shared.
func (d *Dataset) Problem() *placement.Problem {
	return &placement.Problem{Schema: d.Schema, Workloads: d.Workloads, Capacities: d.Servers}
}

// FilterByResource drops the workloads whose demand for name exceeds max and
// returns how many were removed.
func (d *Dataset) FilterByResource(name string, max float64) (int, error) {
	i, ok := d.Schema.Index(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown resource %q", resource.ErrMalformed, name)
	}
	kept := d.Workloads[:0:0]
	for _, w := range d.Workloads {
		if w.Demand[i] <= max {
			kept = append(kept, w)
		}
	}
	removed := len(d.Workloads) - len(kept)
	d.Workloads = kept
	slog.Info("filtered workloads by resource", "resource", name, "max", max, "removed", removed)
	return removed, nil
}

// Subset keeps n workloads sampled without replacement. The same seed yields
// the same sample and order.
func (d *Dataset) Subset(n int, seed uint64) error {
	if n < 0 || n > len(d.Workloads) {
		return fmt.Errorf("cannot sample %d workloads from %d", n, len(d.Workloads))
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	perm := r.Perm(len(d.Workloads))[:n]
	out := make([]placement.Workload, n)
	for i, j := range perm {
		out[i] = d.Workloads[j]
	}
	d.Workloads = out
	slog.Info("sampled workloads", "n", n, "seed", seed)
	return nil
}

// Replicate returns n copies of one server capacity, a homogeneous fleet.
// A non-positive n defaults to one server per workload.
func Replicate(capacity resource.Vector, n int, workloads int) []resource.Vector {
	if n <= 0 {
		n = workloads
	}
	out := make([]resource.Vector, n)
	for i := range out {
		out[i] = capacity.Clone()
	}
	return out
}
