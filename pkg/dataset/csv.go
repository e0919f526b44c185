package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	apiresource "k8s.io/apimachinery/pkg/api/resource"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

// DefaultComma is the field separator of the workload tables.
const DefaultComma = ';'

// CSVOptions control how a workload table is read.
type CSVOptions struct {
	// Comma defaults to ';'.
	Comma rune
	// Schema fixes the resource columns. When empty, every column other than
	// the class and id columns is a resource, in header order.
	Schema resource.Schema
	// ClassColumn defaults to "class".
	ClassColumn string
	// IDColumn defaults to "id". Rows without one are numbered "vm-<row>".
	IDColumn string
}

func (o *CSVOptions) defaults() {
	if o.Comma == 0 {
		o.Comma = DefaultComma
	}
	if o.ClassColumn == "" {
		o.ClassColumn = "class"
	}
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
}

// LoadWorkloadsFile reads a workload table from path.
func LoadWorkloadsFile(path string, opts CSVOptions) (resource.Schema, []placement.Workload, error) {
	f, err := os.Open(path)
	if err != nil {
		return resource.Schema{}, nil, err
	}
	defer f.Close()
	return LoadWorkloads(f, opts)
}

// LoadWorkloads reads a header-led table. Header names are matched
// case-insensitively, so "vCPU;Memory;Storage;Class" works. Cells are
// quantities: plain numbers, decimal or binary suffixes ("2Ki", "1.5G") and
// milli-units ("500m").
func LoadWorkloads(r io.Reader, opts CSVOptions) (resource.Schema, []placement.Workload, error) {
	opts.defaults()
	cr := csv.NewReader(r)
	cr.Comma = opts.Comma
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return resource.Schema{}, nil, fmt.Errorf("%w: empty workload table", resource.ErrMalformed)
		}
		return resource.Schema{}, nil, err
	}

	classCol, idCol := -1, -1
	var resourceCols []int
	var resourceNames []string
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, opts.ClassColumn):
			classCol = i
		case strings.EqualFold(h, opts.IDColumn):
			idCol = i
		default:
			resourceCols = append(resourceCols, i)
			resourceNames = append(resourceNames, h)
		}
	}

	schema := opts.Schema
	if schema.Len() == 0 {
		schema, err = resource.NewSchema(resourceNames...)
		if err != nil {
			return resource.Schema{}, nil, err
		}
	}

	// Column position of every schema dimension.
	dimCol := make([]int, schema.Len())
	for d := range dimCol {
		dimCol[d] = -1
	}
	for k, name := range resourceNames {
		d, ok := schema.Index(name)
		if !ok {
			return resource.Schema{}, nil, fmt.Errorf("%w: column %q is not a resource of %s", resource.ErrMalformed, name, schema)
		}
		if dimCol[d] >= 0 {
			return resource.Schema{}, nil, fmt.Errorf("%w: duplicate column for resource %q", resource.ErrMalformed, schema.Name(d))
		}
		dimCol[d] = resourceCols[k]
	}
	for d, c := range dimCol {
		if c < 0 {
			return resource.Schema{}, nil, fmt.Errorf("%w: missing column for resource %q", resource.ErrMalformed, schema.Name(d))
		}
	}

	var workloads []placement.Workload
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return resource.Schema{}, nil, err
		}
		demand := schema.Zero()
		for d, c := range dimCol {
			v, err := ParseQuantity(rec[c])
			if err != nil {
				return resource.Schema{}, nil, fmt.Errorf("row %d, column %s: %w", row, schema.Name(d), err)
			}
			demand[d] = v
		}
		if err := schema.Check(demand); err != nil {
			return resource.Schema{}, nil, fmt.Errorf("row %d: %w", row, err)
		}
		w := placement.Workload{ID: "vm-" + strconv.Itoa(row-1), Demand: demand}
		if idCol >= 0 && rec[idCol] != "" {
			w.ID = rec[idCol]
		}
		if classCol >= 0 {
			w.Class = rec[classCol]
		}
		workloads = append(workloads, w)
	}
	return schema, workloads, nil
}

// ParseQuantity parses a resource quantity into a float.
func ParseQuantity(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty quantity", resource.ErrMalformed)
	}
	q, err := apiresource.ParseQuantity(s)
	if err != nil {
		return 0, fmt.Errorf("%w: quantity %q: %v", resource.ErrMalformed, s, err)
	}
	return q.AsApproximateFloat64(), nil
}
