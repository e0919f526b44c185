package resource

import (
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Vector holds one quantity per schema dimension. All binary operations assume
// both operands come from the same schema; callers validate shapes up front.
type Vector []float64

// Clone returns an owned copy.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Add returns v + o.
func (v Vector) Add(o Vector) Vector {
	out := v.Clone()
	floats.Add(out, o)
	return out
}

// Sub returns v - o.
func (v Vector) Sub(o Vector) Vector {
	out := v.Clone()
	floats.Sub(out, o)
	return out
}

// Scale returns v * f.
func (v Vector) Scale(f float64) Vector {
	out := v.Clone()
	floats.Scale(f, out)
	return out
}

// AddInPlace adds o into v.
func (v Vector) AddInPlace(o Vector) {
	floats.Add(v, o)
}

// LessOrEqual reports whether v[d] <= o[d] for every dimension.
func (v Vector) LessOrEqual(o Vector) bool {
	for i := range v {
		if v[i] > o[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether every dimension is exactly zero.
func (v Vector) IsZero() bool {
	for _, q := range v {
		if q != 0 {
			return false
		}
	}
	return true
}

// Sum returns the sum over all dimensions.
func (v Vector) Sum() float64 {
	return floats.Sum(v)
}

// Dot returns the weighted sum of v by w.
func (v Vector) Dot(w Vector) float64 {
	return floats.Dot(v, w)
}

// Finite reports whether every dimension is a finite number.
func (v Vector) Finite() bool {
	for _, q := range v {
		if math.IsNaN(q) || math.IsInf(q, 0) {
			return false
		}
	}
	return true
}

// EqualApprox compares element-wise within an absolute tolerance.
func (v Vector) EqualApprox(o Vector, tol float64) bool {
	if len(v) != len(o) {
		return false
	}
	return floats.EqualApprox(v, o, tol)
}

func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, q := range v {
		parts[i] = strconv.FormatFloat(q, 'g', -1, 64)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Total sums a list of vectors of length dims.
func Total(dims int, vs []Vector) Vector {
	out := make(Vector, dims)
	for _, v := range vs {
		floats.Add(out, v)
	}
	return out
}

// ColumnMax returns the per-dimension maximum of a list of vectors.
func ColumnMax(dims int, vs []Vector) Vector {
	out := make(Vector, dims)
	for i := range out {
		out[i] = math.Inf(-1)
	}
	for _, v := range vs {
		for i, q := range v {
			if q > out[i] {
				out[i] = q
			}
		}
	}
	if len(vs) == 0 {
		for i := range out {
			out[i] = 0
		}
	}
	return out
}

// Column extracts dimension d from every vector.
func Column(d int, vs []Vector) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = v[d]
	}
	return out
}
