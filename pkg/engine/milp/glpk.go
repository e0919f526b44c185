package milp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSolverNotFound is returned when the solver binary is not on PATH.
	ErrSolverNotFound = errors.New("solver binary not found")
	// ErrInfeasible is returned when the solver proves there is no feasible
	// assignment.
	ErrInfeasible = errors.New("model has no feasible assignment")
	// ErrNoSolution is returned when the solver stopped without a usable
	// solution, for example on a time limit.
	ErrNoSolution = errors.New("solver returned no solution")
)

// Status is the solution status reported by the solver.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusFeasible   Status = "feasible"
	StatusInfeasible Status = "infeasible"
	StatusUndefined  Status = "undefined"
)

// Solver solves a model and returns the primal values of its columns.
type Solver interface {
	Solve(ctx context.Context, m *Model) (*Assignment, error)
}

// GLPK runs the glpsol binary on an LP file and reads back its plain text
// solution file.
type GLPK struct {
	// Binary defaults to "glpsol".
	Binary string
	// TimeLimit is passed as --tmlim when positive.
	TimeLimit time.Duration
	// WorkDir holds the model and solution files. A temporary directory is
	// used and removed when empty.
	WorkDir string
	Logger  *slog.Logger
}

func (g *GLPK) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *GLPK) Solve(ctx context.Context, m *Model) (*Assignment, error) {
	bin := g.Binary
	if bin == "" {
		bin = "glpsol"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSolverNotFound, bin)
	}

	dir := g.WorkDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "vmplace-milp-")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(dir)
	}
	lpPath := filepath.Join(dir, "model.lp")
	solPath := filepath.Join(dir, "model.sol")

	f, err := os.Create(lpPath)
	if err != nil {
		return nil, err
	}
	if err := m.WriteLP(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing model: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	args := []string{"--lp", lpPath, "-w", solPath}
	if g.TimeLimit > 0 {
		secs := int(g.TimeLimit.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		args = append(args, "--tmlim", strconv.Itoa(secs))
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	g.logger().Debug("launching solver", "binary", path, "workloads", m.NumWorkloads(), "servers", m.NumServers(), "relaxed", m.Relaxed)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("glpsol failed: %w: %s", err, lastLine(out.String()))
	}
	g.logger().Debug("solver finished", "duration", time.Since(start))

	sol, err := os.Open(solPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSolution, err)
	}
	defer sol.Close()

	res, err := ParseSolution(sol)
	if err != nil {
		return nil, err
	}
	return res.Assignment(m)
}

// Result is the parsed content of a glpsol solution file.
type Result struct {
	Status    Status
	Objective float64
	Rows      int
	// Columns holds primal values indexed by 1-based column number; index 0
	// is unused.
	Columns []float64
}

// ParseSolution reads the plain text format written by `glpsol -w`. Both MIP
// ("s mip") and basic ("s bas") solutions are accepted.
func ParseSolution(r io.Reader) (*Result, error) {
	var (
		res  *Result
		kind string
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "c", "i":
		case "s":
			if len(fields) < 6 {
				return nil, fmt.Errorf("solution line %d: malformed status line", line)
			}
			kind = fields[1]
			rows, err1 := strconv.Atoi(fields[2])
			cols, err2 := strconv.Atoi(fields[3])
			if err1 != nil || err2 != nil || cols < 0 {
				return nil, fmt.Errorf("solution line %d: bad dimensions", line)
			}
			var stat, obj string
			switch kind {
			case "mip", "ipt":
				stat, obj = fields[4], fields[5]
			case "bas":
				if len(fields) < 7 {
					return nil, fmt.Errorf("solution line %d: malformed status line", line)
				}
				stat, obj = fields[4], fields[6]
			default:
				return nil, fmt.Errorf("solution line %d: unknown solution kind %q", line, kind)
			}
			v, err := strconv.ParseFloat(obj, 64)
			if err != nil {
				return nil, fmt.Errorf("solution line %d: bad objective: %w", line, err)
			}
			res = &Result{Status: parseStatus(stat), Objective: v, Rows: rows, Columns: make([]float64, cols+1)}
		case "j":
			if res == nil {
				return nil, fmt.Errorf("solution line %d: column before status line", line)
			}
			// mip: j col val; bas/ipt: j col [stat] prim dual
			valAt := 2
			if kind == "bas" {
				valAt = 3
			}
			if len(fields) <= valAt {
				return nil, fmt.Errorf("solution line %d: malformed column line", line)
			}
			col, err := strconv.Atoi(fields[1])
			if err != nil || col < 1 || col >= len(res.Columns) {
				return nil, fmt.Errorf("solution line %d: column %q out of range", line, fields[1])
			}
			v, err := strconv.ParseFloat(fields[valAt], 64)
			if err != nil {
				return nil, fmt.Errorf("solution line %d: %w", line, err)
			}
			res.Columns[col] = v
		case "e":
			return finish(res)
		default:
			return nil, fmt.Errorf("solution line %d: unexpected record %q", line, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return finish(res)
}

func finish(res *Result) (*Result, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty solution file", ErrNoSolution)
	}
	return res, nil
}

func parseStatus(s string) Status {
	switch s {
	case "o":
		return StatusOptimal
	case "f":
		return StatusFeasible
	case "n", "i":
		return StatusInfeasible
	default:
		return StatusUndefined
	}
}

// Assignment maps the column values of a result onto the model variables.
func (r *Result) Assignment(m *Model) (*Assignment, error) {
	switch r.Status {
	case StatusInfeasible:
		return nil, ErrInfeasible
	case StatusOptimal, StatusFeasible:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrNoSolution, r.Status)
	}
	if len(r.Columns)-1 != m.NumColumns() {
		return nil, fmt.Errorf("%w: solution has %d columns, model has %d", ErrInvalidAssignment, len(r.Columns)-1, m.NumColumns())
	}

	a := &Assignment{
		Status:    r.Status,
		Objective: r.Objective,
		X:         make([][]float64, m.NumWorkloads()),
		Y:         make([]float64, m.NumServers()),
	}
	for j := range a.Y {
		a.Y[j] = r.Columns[m.ServerColumn(j)]
	}
	for i := range a.X {
		a.X[i] = make([]float64, m.NumServers())
		for j := range a.X[i] {
			a.X[i][j] = r.Columns[m.Column(i, j)]
		}
	}
	return a, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
