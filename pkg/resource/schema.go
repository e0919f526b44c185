// Package resource defines the fixed resource schema shared by workloads and
// servers, and the Vector value type aligned to it.
package resource

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrMalformed indicates a record that does not match the schema.
var ErrMalformed = errors.New("malformed resource record")

// Default resource names, matching the columns of the reference VM dataset.
const (
	VCPU    = "vcpu"
	Memory  = "memory"
	Storage = "storage"
)

var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Schema is the ordered set of resource names every Vector is aligned to.
type Schema struct {
	names []string
	index map[string]int
}

// DefaultSchema returns the vcpu/memory/storage schema.
func DefaultSchema() Schema {
	s, _ := NewSchema(VCPU, Memory, Storage)
	return s
}

// NewSchema builds a schema. Names are lowercased; they must be valid
// identifiers and unique.
func NewSchema(names ...string) (Schema, error) {
	if len(names) == 0 {
		return Schema{}, fmt.Errorf("%w: empty schema", ErrMalformed)
	}
	s := Schema{
		names: make([]string, 0, len(names)),
		index: make(map[string]int, len(names)),
	}
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if !nameRe.MatchString(name) {
			return Schema{}, fmt.Errorf("%w: invalid resource name %q", ErrMalformed, raw)
		}
		if _, dup := s.index[name]; dup {
			return Schema{}, fmt.Errorf("%w: duplicate resource name %q", ErrMalformed, name)
		}
		s.index[name] = len(s.names)
		s.names = append(s.names, name)
	}
	return s, nil
}

// Names returns a copy of the ordered names.
func (s Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of dimensions.
func (s Schema) Len() int { return len(s.names) }

// Index returns the position of name in the schema.
func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[strings.ToLower(name)]
	return i, ok
}

// Name returns the name of dimension i.
func (s Schema) Name(i int) string { return s.names[i] }

// Zero returns a zero vector of the schema's length.
func (s Schema) Zero() Vector { return make(Vector, len(s.names)) }

// Vector converts a name->quantity map into a Vector. Every schema name must be
// present, no other names are accepted, and quantities must be finite and
// non-negative.
func (s Schema) Vector(quantities map[string]float64) (Vector, error) {
	v := s.Zero()
	set := make([]bool, len(s.names))
	for raw, q := range quantities {
		i, ok := s.Index(raw)
		if !ok {
			return nil, fmt.Errorf("%w: unknown resource %q", ErrMalformed, raw)
		}
		if set[i] {
			return nil, fmt.Errorf("%w: resource %q given twice", ErrMalformed, s.names[i])
		}
		v[i] = q
		set[i] = true
	}
	var missing []string
	for i, ok := range set {
		if !ok {
			missing = append(missing, s.names[i])
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing resources %v", ErrMalformed, missing)
	}
	if err := s.Check(v); err != nil {
		return nil, err
	}
	return v, nil
}

// Check validates an already-built vector against the schema.
func (s Schema) Check(v Vector) error {
	if len(v) != len(s.names) {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrMalformed, len(v), len(s.names))
	}
	for i, q := range v {
		if math.IsNaN(q) || math.IsInf(q, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrMalformed, s.names[i])
		}
		if q < 0 {
			return fmt.Errorf("%w: %s is negative (%g)", ErrMalformed, s.names[i], q)
		}
	}
	return nil
}

// Map converts v back to a name->quantity map.
func (s Schema) Map(v Vector) map[string]float64 {
	out := make(map[string]float64, len(s.names))
	for i, name := range s.names {
		out[name] = v[i]
	}
	return out
}

// Equal reports whether both schemas have the same names in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.names) != len(o.names) {
		return false
	}
	for i := range s.names {
		if s.names[i] != o.names[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	return "[" + strings.Join(s.names, " ") + "]"
}
