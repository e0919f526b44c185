package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
	"gopkg.in/yaml.v3"

	"github.com/DrSkyle/vmplace/pkg/resource"
)

// ServerGroup is a run of identical servers. Capacity is given either
// directly, as quantities per resource, or through an instance type. Count
// defaults to 1.
type ServerGroup struct {
	Name         string            `yaml:"name"`
	Count        int               `yaml:"count"`
	InstanceType string            `yaml:"instance_type"`
	Capacity     map[string]string `yaml:"capacity"`
}

// Fleet is an ordered list of server groups. Group order is server order.
type Fleet struct {
	Resources []string      `yaml:"resources"`
	Groups    []ServerGroup `yaml:"servers"`
}

// CapacityResolver maps an instance type to a capacity vector.
type CapacityResolver interface {
	Capacity(schema resource.Schema, instanceType string) (resource.Vector, error)
}

// LoadFleetFile reads a fleet from a .yaml/.yml or .hcl file.
func LoadFleetFile(path string) (*Fleet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		return ParseFleetHCL(data, path)
	case ".yaml", ".yml":
		return ParseFleetYAML(data)
	default:
		return nil, fmt.Errorf("unsupported fleet file extension %q", filepath.Ext(path))
	}
}

// ParseFleetYAML decodes
//
//	resources: [vcpu, memory, storage]
//	servers:
//	  - name: rack-a
//	    count: 10
//	    capacity: {vcpu: 64, memory: 512, storage: 2Ti}
func ParseFleetYAML(data []byte) (*Fleet, error) {
	var f Fleet
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: fleet yaml: %v", resource.ErrMalformed, err)
	}
	return &f, f.validate()
}

var fleetSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "resources"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "server", LabelNames: []string{"name"}},
	},
}

var groupSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "count"},
		{Name: "instance_type"},
		{Name: "capacity"},
	},
}

// ParseFleetHCL decodes
//
//	resources = ["vcpu", "memory", "storage"]
//
//	server "rack-a" {
//	  count    = 10
//	  capacity = { vcpu = 64, memory = 512, storage = "2Ti" }
//	}
func ParseFleetHCL(data []byte, filename string) (*Fleet, error) {
	file, diags := hclparse.NewParser().ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", resource.ErrMalformed, diags.Error())
	}
	content, diags := file.Body.Content(fleetSchema)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: %s", resource.ErrMalformed, diags.Error())
	}

	var f Fleet
	if attr, ok := content.Attributes["resources"]; ok {
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("%w: %s", resource.ErrMalformed, diags.Error())
		}
		list, err := convert.Convert(v, cty.List(cty.String))
		if err != nil {
			return nil, fmt.Errorf("%w: resources: %v", resource.ErrMalformed, err)
		}
		if err := gocty.FromCtyValue(list, &f.Resources); err != nil {
			return nil, fmt.Errorf("%w: resources: %v", resource.ErrMalformed, err)
		}
	}

	for _, block := range content.Blocks {
		g, err := decodeGroup(block)
		if err != nil {
			return nil, err
		}
		f.Groups = append(f.Groups, g)
	}
	return &f, f.validate()
}

func decodeGroup(block *hcl.Block) (ServerGroup, error) {
	g := ServerGroup{Name: block.Labels[0], Count: 1}
	content, diags := block.Body.Content(groupSchema)
	if diags.HasErrors() {
		return g, fmt.Errorf("%w: %s", resource.ErrMalformed, diags.Error())
	}
	eval := func(name string) (cty.Value, bool, error) {
		attr, ok := content.Attributes[name]
		if !ok {
			return cty.NilVal, false, nil
		}
		v, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return cty.NilVal, false, fmt.Errorf("%w: %s", resource.ErrMalformed, diags.Error())
		}
		return v, true, nil
	}

	if v, ok, err := eval("count"); err != nil {
		return g, err
	} else if ok {
		if err := gocty.FromCtyValue(v, &g.Count); err != nil {
			return g, fmt.Errorf("%w: server %q count: %v", resource.ErrMalformed, g.Name, err)
		}
	}
	if v, ok, err := eval("instance_type"); err != nil {
		return g, err
	} else if ok {
		if err := gocty.FromCtyValue(v, &g.InstanceType); err != nil {
			return g, fmt.Errorf("%w: server %q instance_type: %v", resource.ErrMalformed, g.Name, err)
		}
	}
	if v, ok, err := eval("capacity"); err != nil {
		return g, err
	} else if ok {
		if !v.Type().IsObjectType() && !v.Type().IsMapType() {
			return g, fmt.Errorf("%w: server %q capacity must be an object", resource.ErrMalformed, g.Name)
		}
		g.Capacity = make(map[string]string)
		for k, q := range v.AsValueMap() {
			switch {
			case q.IsNull() || !q.IsKnown():
				return g, fmt.Errorf("%w: server %q capacity %s is not set", resource.ErrMalformed, g.Name, k)
			case q.Type() == cty.Number:
				g.Capacity[k] = q.AsBigFloat().Text('f', -1)
			case q.Type() == cty.String:
				g.Capacity[k] = q.AsString()
			default:
				return g, fmt.Errorf("%w: server %q capacity %s must be a number or string", resource.ErrMalformed, g.Name, k)
			}
		}
	}
	return g, nil
}

func (f *Fleet) validate() error {
	if len(f.Groups) == 0 {
		return fmt.Errorf("%w: fleet has no servers", resource.ErrMalformed)
	}
	for i := range f.Groups {
		g := &f.Groups[i]
		if g.Name == "" {
			g.Name = fmt.Sprintf("group-%d", i)
		}
		if g.Count == 0 {
			g.Count = 1
		}
		if g.Count < 0 {
			return fmt.Errorf("%w: server %q has negative count", resource.ErrMalformed, g.Name)
		}
		if (g.InstanceType == "") == (len(g.Capacity) == 0) {
			return fmt.Errorf("%w: server %q needs exactly one of capacity or instance_type", resource.ErrMalformed, g.Name)
		}
	}
	return nil
}

// InstanceTypes lists the distinct instance types referenced by the fleet.
func (f *Fleet) InstanceTypes() []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range f.Groups {
		if g.InstanceType != "" && !seen[g.InstanceType] {
			seen[g.InstanceType] = true
			out = append(out, g.InstanceType)
		}
	}
	sort.Strings(out)
	return out
}

// Schema returns the declared resource schema, or fallback when the file
// declares none.
func (f *Fleet) Schema(fallback resource.Schema) (resource.Schema, error) {
	if len(f.Resources) == 0 {
		return fallback, nil
	}
	return resource.NewSchema(f.Resources...)
}

// Servers expands the groups into capacity vectors. resolver may be nil when
// no group uses an instance type.
func (f *Fleet) Servers(schema resource.Schema, resolver CapacityResolver) ([]resource.Vector, error) {
	var out []resource.Vector
	for _, g := range f.Groups {
		var capacity resource.Vector
		if g.InstanceType != "" {
			if resolver == nil {
				return nil, fmt.Errorf("server %q uses instance type %s but no catalog is configured", g.Name, g.InstanceType)
			}
			c, err := resolver.Capacity(schema, g.InstanceType)
			if err != nil {
				return nil, fmt.Errorf("server %q: %w", g.Name, err)
			}
			capacity = c
		} else {
			values := make(map[string]float64, len(g.Capacity))
			for k, s := range g.Capacity {
				v, err := ParseQuantity(s)
				if err != nil {
					return nil, fmt.Errorf("server %q, resource %s: %w", g.Name, k, err)
				}
				values[k] = v
			}
			c, err := schema.Vector(values)
			if err != nil {
				return nil, fmt.Errorf("server %q: %w", g.Name, err)
			}
			capacity = c
		}
		out = append(out, Replicate(capacity, g.Count, 0)...)
	}
	return out, nil
}
