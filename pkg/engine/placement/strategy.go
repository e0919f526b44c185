// Package placement implements the multi-resource bin packing heuristics used
// to place VMs onto an ordered sequence of servers.
package placement

import (
	"context"
	"fmt"
	"strings"
)

// Strategy places the workloads of a problem onto its servers.
type Strategy interface {
	// Name returns the strategy name used in reports.
	Name() string

	// Solve validates the problem and runs the placement.
	Solve(ctx context.Context, p *Problem) (*Solution, error)
}

// Strategy names accepted by New.
const (
	FirstFitName       = "first_fit"
	FirstFitDivideName = "first_fit_divide"
	BestFitName        = "best_fit"
)

// Names lists the heuristic strategy names.
func Names() []string {
	return []string{FirstFitName, FirstFitDivideName, BestFitName}
}

// New builds a heuristic strategy by name. Best-Fit uses criterion and, for
// the weighted criterion, the scarcity ratio.
func New(name string, criterion Criterion) (Strategy, error) {
	switch strings.ToLower(name) {
	case FirstFitName:
		return &FirstFit{}, nil
	case FirstFitDivideName:
		return &FirstFitDivide{}, nil
	case BestFitName:
		return NewBestFit(criterion)
	default:
		return nil, fmt.Errorf("unknown placement strategy %q", name)
	}
}
