package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kgfoundry/kgraph/internal/model"
)

func filterEntity() model.Entity {
	props := model.NewProperties()
	props.Set("name", model.String("Ada Lovelace"))
	props.Set("age", model.Int(36))
	props.Set("tags", model.List(model.String("math"), model.String("computing")))
	return model.Entity{ID: "ada", EntityType: "person", Properties: props}
}

func TestMatchesFiltersEquality(t *testing.T) {
	e := filterEntity()
	assert.True(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "name", Op: model.OpEq, Value: model.String("Ada Lovelace")},
	}))
	assert.False(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "name", Op: model.OpEq, Value: model.String("ada lovelace")},
	}))
	// Int and float compare numerically.
	assert.True(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "age", Op: model.OpEq, Value: model.Float(36.0)},
	}))
}

func TestMatchesFiltersRange(t *testing.T) {
	e := filterEntity()
	assert.True(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "age", Op: model.OpGte, Value: model.Int(36)},
		{Field: "age", Op: model.OpLt, Value: model.Int(40)},
	}))
	assert.False(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "age", Op: model.OpGt, Value: model.Int(36)},
	}))
	// Range against an incomparable kind never matches.
	assert.False(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "name", Op: model.OpLt, Value: model.Int(10)},
	}))
}

func TestMatchesFiltersContains(t *testing.T) {
	e := filterEntity()
	assert.True(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "name", Op: model.OpContains, Value: model.String("Love")},
	}))
	assert.True(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "tags", Op: model.OpContains, Value: model.String("math")},
	}))
	assert.False(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "tags", Op: model.OpContains, Value: model.String("physics")},
	}))
}

func TestMatchesFiltersAbsentProperty(t *testing.T) {
	e := filterEntity()
	// Absent satisfies only inequality against a non-null value.
	assert.False(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "email", Op: model.OpEq, Value: model.String("x")},
	}))
	assert.True(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "email", Op: model.OpNeq, Value: model.String("x")},
	}))
	assert.False(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "email", Op: model.OpNeq, Value: model.Null()},
	}))
}

func TestMatchesFiltersConjunction(t *testing.T) {
	e := filterEntity()
	assert.False(t, MatchesFilters(e, []model.PropertyFilter{
		{Field: "age", Op: model.OpGt, Value: model.Int(30)},
		{Field: "name", Op: model.OpEq, Value: model.String("nobody")},
	}))
	assert.True(t, MatchesFilters(e, nil))
}

func TestApplyWindow(t *testing.T) {
	entities := []model.Entity{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}

	assert.Len(t, ApplyWindow(entities, 0, 0), 4)
	assert.Equal(t, "c", ApplyWindow(entities, 2, 0)[0].ID)
	assert.Len(t, ApplyWindow(entities, 1, 2), 2)
	assert.Equal(t, "b", ApplyWindow(entities, 1, 2)[0].ID)
	assert.Empty(t, ApplyWindow(entities, 10, 5))
	assert.Len(t, ApplyWindow(entities, 0, 100), 4)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 2}, []float32{-1, -2}), 1e-9)
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
}
