package placement

import (
	"errors"
	"fmt"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// ErrServerOutOfRange is returned when a server index is outside the usage table.
var ErrServerOutOfRange = errors.New("server index out of range")

// Fits reports whether demand fits in the space left on a server.
func Fits(demand, capacity, usage resource.Vector) bool {
	for d := range demand {
		if capacity[d]-usage[d] < demand[d] {
			return false
		}
	}
	return true
}

// FitsInRemaining is Fits against a precomputed remaining-capacity vector.
func FitsInRemaining(demand, remaining resource.Vector) bool {
	return demand.LessOrEqual(remaining)
}

// Accumulate adds demand into the usage of server. It performs no fit check.
func Accumulate(table Fillings, server int, demand resource.Vector) error {
	if server < 0 || server >= len(table) {
		return fmt.Errorf("%w: %d (table has %d servers)", ErrServerOutOfRange, server, len(table))
	}
	table[server].AddInPlace(demand)
	return nil
}

// FindNextFittingServer scans servers from start in index order and returns
// the first one where demand fits entirely.
func FindNextFittingServer(start int, demand resource.Vector, capacities []resource.Vector, table Fillings) (int, bool) {
	if start < 0 {
		start = 0
	}
	for j := start; j < len(capacities); j++ {
		if Fits(demand, capacities[j], table[j]) {
			return j, true
		}
	}
	return 0, false
}

// Remaining returns capacity - usage for every server below bound.
func Remaining(capacities []resource.Vector, table Fillings, bound int) []resource.Vector {
	if bound > len(capacities) {
		bound = len(capacities)
	}
	out := make([]resource.Vector, bound)
	for j := 0; j < bound; j++ {
		out[j] = capacities[j].Sub(table[j])
	}
	return out
}
