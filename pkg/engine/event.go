package engine

import (
	"time"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
)

// Phase is the lifecycle stage of one strategy run.
type Phase int

const (
	PhaseStarted Phase = iota
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "running"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports progress of a strategy run to a WithProgress callback.
type Event struct {
	Strategy string
	Phase    Phase
	Solution *placement.Solution // set when Phase is PhaseDone
	Err      error               // set when Phase is PhaseFailed
	Elapsed  time.Duration
}
