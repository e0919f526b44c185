// Package filter selects workloads with CEL expressions such as
// "storage <= 2048.0 && class != 'batch'".
package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

// Rule is a named boolean expression. A workload is kept only when every
// rule evaluates to true.
type Rule struct {
	ID        string `mapstructure:"id" yaml:"id" json:"id"`
	Condition string `mapstructure:"condition" yaml:"condition" json:"condition"`
}

// Rejection records the first rule a workload failed.
type Rejection struct {
	Workload placement.Workload
	RuleID   string
}

type program struct {
	id  string
	prg cel.Program
}

// Filter evaluates compiled rules against workloads of one schema.
type Filter struct {
	schema   resource.Schema
	env      *cel.Env
	programs []program
}

// New declares one double variable per resource of the schema, plus "id",
// "class" and the "demand" map.
func New(schema resource.Schema) (*Filter, error) {
	opts := []cel.EnvOption{
		cel.Variable("id", cel.StringType),
		cel.Variable("class", cel.StringType),
		cel.Variable("demand", cel.MapType(cel.StringType, cel.DoubleType)),
	}
	for _, name := range schema.Names() {
		switch name {
		case "id", "class", "demand":
			return nil, fmt.Errorf("%w: resource name %q is reserved in filter expressions", resource.ErrMalformed, name)
		}
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Filter{schema: schema, env: env}, nil
}

// Compile adds rules. Expressions must type-check to bool.
func (f *Filter) Compile(rules ...Rule) error {
	for _, r := range rules {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("rule_%d", len(f.programs))
		}
		ast, issues := f.env.Compile(r.Condition)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("rule %s compilation error: %w", id, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return fmt.Errorf("rule %s must evaluate to bool, got %s", id, ast.OutputType())
		}
		prg, err := f.env.Program(ast)
		if err != nil {
			return fmt.Errorf("rule %s program creation error: %w", id, err)
		}
		f.programs = append(f.programs, program{id: id, prg: prg})
	}
	return nil
}

// Len returns the number of compiled rules.
func (f *Filter) Len() int { return len(f.programs) }

// Match reports whether w passes every rule, and otherwise the failing rule.
func (f *Filter) Match(ctx context.Context, w placement.Workload) (bool, string, error) {
	vars := f.activation(w)
	for _, p := range f.programs {
		out, _, err := p.prg.ContextEval(ctx, vars)
		if err != nil {
			return false, p.id, fmt.Errorf("rule %s on workload %s: %w", p.id, w.ID, err)
		}
		if ok, _ := out.Value().(bool); !ok {
			return false, p.id, nil
		}
	}
	return true, "", nil
}

// Apply splits workloads into kept and rejected, preserving order.
func (f *Filter) Apply(ctx context.Context, workloads []placement.Workload) ([]placement.Workload, []Rejection, error) {
	if len(f.programs) == 0 {
		return workloads, nil, nil
	}
	kept := make([]placement.Workload, 0, len(workloads))
	var rejected []Rejection
	for _, w := range workloads {
		ok, rule, err := f.Match(ctx, w)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			kept = append(kept, w)
			continue
		}
		rejected = append(rejected, Rejection{Workload: w, RuleID: rule})
	}
	if len(rejected) > 0 {
		slog.Debug("workloads filtered out", "rejected", len(rejected), "kept", len(kept))
	}
	return kept, rejected, nil
}

func (f *Filter) activation(w placement.Workload) map[string]any {
	demand := f.schema.Map(w.Demand)
	vars := make(map[string]any, len(demand)+3)
	for k, v := range demand {
		vars[k] = v
	}
	vars["id"] = w.ID
	vars["class"] = w.Class
	vars["demand"] = demand
	return vars
}
