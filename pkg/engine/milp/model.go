// Package milp builds the nominal mixed-integer placement model, hands it to
// an external solver and turns the returned assignment back into a placement
// solution.
package milp

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

// Model is the nominal formulation:
//
//	min  sum_j y[j]
//	s.t. sum_j x[i,j] = 1                       for every workload i
//	     sum_i demand[i,d] * x[i,j] <= cap[j,d]  for every server j, resource d
//	     x[i,j] <= y[j]
//	     x binary (or in [0,1] when relaxed), y non-negative integer
type Model struct {
	Schema     resource.Schema
	Demands    []resource.Vector
	Capacities []resource.Vector
	// Relaxed replaces the binary assignment variables with continuous
	// fractions in [0,1]. Server variables stay integer.
	Relaxed bool
}

// Build validates the problem and captures it as a model.
func Build(p *placement.Problem, relaxed bool) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(p.Workloads) == 0 || len(p.Capacities) == 0 {
		return nil, fmt.Errorf("milp: %w", placement.ErrEmptyInput)
	}
	return &Model{
		Schema:     p.Schema,
		Demands:    p.Demands(),
		Capacities: p.Capacities,
		Relaxed:    relaxed,
	}, nil
}

// NumWorkloads returns the number of assignment rows.
func (m *Model) NumWorkloads() int { return len(m.Demands) }

// NumServers returns the number of candidate servers.
func (m *Model) NumServers() int { return len(m.Capacities) }

// NumColumns returns the number of structural variables.
func (m *Model) NumColumns() int { return m.NumServers() * (m.NumWorkloads() + 1) }

func yName(j int) string    { return "y_" + strconv.Itoa(j) }
func xName(i, j int) string { return "x_" + strconv.Itoa(i) + "_" + strconv.Itoa(j) }

// Column returns the 1-based column number the LP reader assigns to x[i,j].
// Columns are numbered in order of first appearance: the objective lists
// every y first, then the demand rows list x row by row.
func (m *Model) Column(i, j int) int {
	return m.NumServers() + i*m.NumServers() + j + 1
}

// ServerColumn returns the 1-based column number of y[j].
func (m *Model) ServerColumn(j int) int { return j + 1 }

// WriteLP writes the model in CPLEX LP format.
func (m *Model) WriteLP(w io.Writer) error {
	bw := bufio.NewWriter(w)
	n, s := m.NumWorkloads(), m.NumServers()
	kind := "binary"
	if m.Relaxed {
		kind = "relaxed"
	}

	fmt.Fprintf(bw, "\\* vmplace nominal model: %d workloads, %d servers, %s assignment *\\\n", n, s, kind)
	bw.WriteString("Minimize\n obj:")
	for j := 0; j < s; j++ {
		if j > 0 {
			bw.WriteString(" +")
		}
		bw.WriteString(" " + yName(j))
	}
	bw.WriteString("\nSubject To\n")

	for i := 0; i < n; i++ {
		fmt.Fprintf(bw, " demand_%d:", i)
		for j := 0; j < s; j++ {
			if j > 0 {
				bw.WriteString(" +")
			}
			bw.WriteString(" " + xName(i, j))
		}
		bw.WriteString(" = 1\n")
	}

	for j := 0; j < s; j++ {
		for d, name := range m.Schema.Names() {
			var terms []string
			for i := 0; i < n; i++ {
				q := m.Demands[i][d]
				if q == 0 {
					continue
				}
				terms = append(terms, formatCoef(q)+" "+xName(i, j))
			}
			// Rows without terms are trivially satisfied by non-negative capacities.
			if len(terms) == 0 {
				continue
			}
			fmt.Fprintf(bw, " cap_%s_%d: %s <= %s\n", name, j, strings.Join(terms, " + "), formatCoef(m.Capacities[j][d]))
		}
	}

	for i := 0; i < n; i++ {
		for j := 0; j < s; j++ {
			fmt.Fprintf(bw, " link_%d_%d: %s - %s <= 0\n", i, j, xName(i, j), yName(j))
		}
	}

	bw.WriteString("Bounds\n")
	if m.Relaxed {
		for i := 0; i < n; i++ {
			for j := 0; j < s; j++ {
				fmt.Fprintf(bw, " 0 <= %s <= 1\n", xName(i, j))
			}
		}
	}
	for j := 0; j < s; j++ {
		fmt.Fprintf(bw, " %s >= 0\n", yName(j))
	}

	bw.WriteString("General\n")
	for j := 0; j < s; j++ {
		bw.WriteString(" " + yName(j) + "\n")
	}
	if !m.Relaxed {
		bw.WriteString("Binary\n")
		for i := 0; i < n; i++ {
			for j := 0; j < s; j++ {
				bw.WriteString(" " + xName(i, j) + "\n")
			}
		}
	}
	bw.WriteString("End\n")
	return bw.Flush()
}

func formatCoef(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
