// Package report exports placement solutions as JSON, CSV and terminal
// tables, and publishes them to blob storage.
package report

import (
	"math"
	"slices"
	"sort"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

// ratioPrecision is the number of decimals kept for utilization ratios.
const ratioPrecision = 1e4

// SolutionRecord is the exported form of one solution.
type SolutionRecord struct {
	Algorithm   string             `json:"algorithm"`
	Servers     int                `json:"servers"`
	FillingRate float64            `json:"filling_rate"`
	Utilization map[string]float64 `json:"utilization"`
	Exhausted   bool               `json:"exhausted"`
	Oversize    []WorkloadRecord   `json:"oversize"`
	Assignment  []ServerRecord     `json:"assignment"`
}

// WorkloadRecord is a workload (or fragment) left without a server.
type WorkloadRecord struct {
	ID     string             `json:"id"`
	Class  string             `json:"class"`
	Demand map[string]float64 `json:"demand"`
}

// ServerRecord is one active server of a solution.
type ServerRecord struct {
	Server    int                `json:"server"`
	Capacity  map[string]float64 `json:"capacity"`
	Usage     map[string]float64 `json:"usage"`
	Workloads []PlacedRecord     `json:"workloads"`
}

// PlacedRecord is a workload share placed on a server.
type PlacedRecord struct {
	ID       string  `json:"id"`
	Fraction float64 `json:"fraction"`
}

// Build converts solutions of problem p into records. Solutions keep their
// order.
func Build(p *placement.Problem, solutions []*placement.Solution) []SolutionRecord {
	out := make([]SolutionRecord, 0, len(solutions))
	for _, s := range solutions {
		out = append(out, record(p, s))
	}
	return out
}

func record(p *placement.Problem, s *placement.Solution) SolutionRecord {
	r := SolutionRecord{
		Algorithm:   s.Algorithm,
		Servers:     s.NumServers(),
		FillingRate: round(s.FillingRate()),
		Utilization: ratios(s.Schema, s.Utilization()),
		Exhausted:   s.Exhausted,
		Oversize:    []WorkloadRecord{},
		Assignment:  []ServerRecord{},
	}
	for _, w := range s.Oversize {
		r.Oversize = append(r.Oversize, WorkloadRecord{ID: w.ID, Class: w.Class, Demand: s.Schema.Map(w.Demand)})
	}

	byServer := make(map[int][]PlacedRecord)
	for _, pl := range s.Placements {
		id := ""
		if pl.Workload >= 0 && pl.Workload < len(p.Workloads) {
			id = p.Workloads[pl.Workload].ID
		}
		byServer[pl.Server] = append(byServer[pl.Server], PlacedRecord{ID: id, Fraction: round(pl.Fraction)})
	}
	for i, j := range s.Servers {
		placed := byServer[j]
		if placed == nil {
			placed = []PlacedRecord{}
		}
		r.Assignment = append(r.Assignment, ServerRecord{
			Server:    j,
			Capacity:  s.Schema.Map(s.Capacities[i]),
			Usage:     s.Schema.Map(s.Fillings[i]),
			Workloads: placed,
		})
	}
	sort.SliceStable(r.Assignment, func(a, b int) bool { return r.Assignment[a].Server < r.Assignment[b].Server })
	return r
}

func ratios(schema resource.Schema, v resource.Vector) map[string]float64 {
	m := schema.Map(v)
	for k, q := range m {
		m[k] = round(q)
	}
	return m
}

func round(x float64) float64 {
	return math.Round(x*ratioPrecision) / ratioPrecision
}

// Best returns the index of the preferred record: fewest oversize workloads
// first, then fewest servers, then the higher filling rate. It returns -1 for
// an empty list.
func Best(records []SolutionRecord) int {
	if len(records) == 0 {
		return -1
	}
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		ra, rb := records[a], records[b]
		if len(ra.Oversize) != len(rb.Oversize) {
			return len(ra.Oversize) - len(rb.Oversize)
		}
		if ra.Servers != rb.Servers {
			return ra.Servers - rb.Servers
		}
		switch {
		case ra.FillingRate > rb.FillingRate:
			return -1
		case ra.FillingRate < rb.FillingRate:
			return 1
		}
		return 0
	})
	return idx[0]
}
