package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/vmplace/pkg/engine/placement"
	"github.com/DrSkyle/vmplace/pkg/resource"
)

func TestFilterApply(t *testing.T) {
	f, err := New(resource.DefaultSchema())
	require.NoError(t, err)

	require.NoError(t, f.Compile(
		Rule{ID: "fits_storage", Condition: "storage <= 2048.0"},
		Rule{ID: "not_batch", Condition: "class != 'batch' && demand['vcpu'] > 0.0"},
	))
	assert.Equal(t, 2, f.Len())

	in := []placement.Workload{
		{ID: "a", Class: "web", Demand: resource.Vector{2, 4, 100}},
		{ID: "b", Class: "web", Demand: resource.Vector{16, 32, 2074}},
		{ID: "c", Class: "batch", Demand: resource.Vector{1, 1, 10}},
		{ID: "d", Class: "db", Demand: resource.Vector{8, 64, 2048}},
	}

	kept, rejected, err := f.Apply(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].ID)
	assert.Equal(t, "d", kept[1].ID)

	require.Len(t, rejected, 2)
	assert.Equal(t, "b", rejected[0].Workload.ID)
	assert.Equal(t, "fits_storage", rejected[0].RuleID)
	assert.Equal(t, "c", rejected[1].Workload.ID)
	assert.Equal(t, "not_batch", rejected[1].RuleID)
}

func TestFilterCompileErrors(t *testing.T) {
	f, err := New(resource.DefaultSchema())
	require.NoError(t, err)

	assert.Error(t, f.Compile(Rule{ID: "syntax", Condition: "storage <="}))
	assert.Error(t, f.Compile(Rule{ID: "unknown", Condition: "gpu > 1.0"}))
	assert.Error(t, f.Compile(Rule{ID: "not_bool", Condition: "storage * 2.0"}))
	assert.Equal(t, 0, f.Len())
}

func TestFilterWithoutRulesKeepsEverything(t *testing.T) {
	f, err := New(resource.DefaultSchema())
	require.NoError(t, err)

	in := []placement.Workload{{ID: "a", Demand: resource.Vector{1, 1, 1}}}
	kept, rejected, err := f.Apply(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, in, kept)
	assert.Empty(t, rejected)
}

func TestFilterReservedResourceName(t *testing.T) {
	schema, err := resource.NewSchema("cpu", "class")
	require.NoError(t, err)
	_, err = New(schema)
	assert.ErrorIs(t, err, resource.ErrMalformed)
}
