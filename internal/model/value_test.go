package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKinds(t *testing.T) {
	assert.True(t, Null().IsNull())

	s, ok := String("hi").AsString()
	require.True(t, ok)
	assert.Equal(t, "hi", s)

	i, ok := Int(42).AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), i)

	b, ok := Bool(true).AsBool()
	require.True(t, ok)
	assert.True(t, b)

	list, ok := List(Int(1), String("x")).AsList()
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestValueIntSatisfiesFloat(t *testing.T) {
	f, ok := Int(3).AsFloat()
	require.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = String("3").AsFloat()
	assert.False(t, ok)
}

func TestValueEqualAcrossNumericKinds(t *testing.T) {
	assert.True(t, Int(2).Equal(Float(2.0)))
	assert.True(t, Float(2.0).Equal(Int(2)))
	assert.False(t, Int(2).Equal(Float(2.5)))
	assert.False(t, Int(2).Equal(String("2")))
}

func TestValueCompare(t *testing.T) {
	c, ok := Int(1).Compare(Float(2))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = String("b").Compare(String("a"))
	require.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = String("a").Compare(Int(1))
	assert.False(t, ok)
}

func TestValueJSONRoundTrip(t *testing.T) {
	orig := List(Int(1), Float(2.5), String("x"), Bool(false), Null())
	data, err := json.Marshal(orig)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2.5,"x",false,null]`, string(data))

	var decoded Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, orig.Equal(decoded))
}

func TestValueUnmarshalPreservesIntegers(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte("9007199254740993"), &v))
	i, ok := v.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), i)
}

func TestPropertiesInsertionOrder(t *testing.T) {
	p := NewProperties()
	p.Set("z", Int(1))
	p.Set("a", Int(2))
	p.Set("m", Int(3))
	assert.Equal(t, []string{"z", "a", "m"}, p.Keys())

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":2,"m":3}`, string(data))

	var decoded Properties
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []string{"z", "a", "m"}, decoded.Keys())
}

func TestPropertiesSetOverwriteKeepsPosition(t *testing.T) {
	p := NewProperties()
	p.Set("a", Int(1))
	p.Set("b", Int(2))
	p.Set("a", Int(9))
	assert.Equal(t, []string{"a", "b"}, p.Keys())
	v, _ := p.Get("a")
	i, _ := v.AsInt()
	assert.Equal(t, int64(9), i)
}

func TestPropertiesNonNullCount(t *testing.T) {
	p := NewProperties()
	p.Set("a", Int(1))
	p.Set("b", Null())
	p.Set("c", String("x"))
	assert.Equal(t, 2, p.NonNullCount())
}

func TestPropertiesCloneIsDeep(t *testing.T) {
	p := NewProperties()
	p.Set("a", Int(1))
	clone := p.Clone()
	clone.Set("a", Int(2))
	v, _ := p.Get("a")
	i, _ := v.AsInt()
	assert.Equal(t, int64(1), i)
}

func TestEntityValidate(t *testing.T) {
	valid := Entity{ID: "x", EntityType: "person", Metadata: Metadata{Confidence: 0.5}}
	assert.NoError(t, valid.Validate())

	assert.Error(t, Entity{EntityType: "person"}.Validate())
	assert.Error(t, Entity{ID: "x"}.Validate())
	assert.Error(t, Entity{ID: "x", EntityType: "person", Metadata: Metadata{Confidence: 1.5}}.Validate())
}

func TestRelationValidate(t *testing.T) {
	valid := Relation{ID: "r", RelationType: "knows", SourceID: "a", TargetID: "b"}
	assert.NoError(t, valid.Validate())
	assert.Error(t, Relation{ID: "r", RelationType: "knows", SourceID: "a"}.Validate())
}

func TestDirectionNormalize(t *testing.T) {
	assert.Equal(t, DirectionBoth, Direction("").Normalize())
	assert.Equal(t, DirectionOutgoing, DirectionOutgoing.Normalize())
	assert.False(t, Direction("sideways").Valid())
}

func TestTenantContextNormalization(t *testing.T) {
	var nilTC *TenantContext
	assert.Equal(t, LegacyTenant, nilTC.Tenant())
	assert.Equal(t, LegacyTenant, (&TenantContext{TenantID: "default"}).Tenant())
	assert.Equal(t, "acme", (&TenantContext{TenantID: "acme"}).Tenant())
	assert.False(t, (&TenantContext{TenantID: "default"}).Scoped())
	assert.True(t, (&TenantContext{TenantID: "acme"}).Scoped())
}

func TestPathHelpers(t *testing.T) {
	p := Path{
		Entities: []Entity{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Relations: []Relation{
			{ID: "r1", RelationType: "knows", SourceID: "a", TargetID: "b", Weight: 0.5},
			{ID: "r2", RelationType: "knows", SourceID: "b", TargetID: "c", Weight: 0.5},
		},
	}
	require.NoError(t, p.Validate())
	assert.Equal(t, 2, p.Hops())
	assert.Equal(t, "a", p.StartID())
	assert.Equal(t, "c", p.EndID())
	assert.InDelta(t, 0.25, p.WeightProduct(), 1e-9)
	assert.Equal(t, 1, p.DistinctRelationTypes())

	broken := Path{Entities: []Entity{{ID: "a"}}, Relations: p.Relations}
	assert.Error(t, broken.Validate())
}

func TestGraphQueryValidate(t *testing.T) {
	assert.NoError(t, GraphQuery{EntityType: "person"}.Validate())
	assert.Error(t, GraphQuery{Filters: []PropertyFilter{{Field: "", Op: OpEq}}}.Validate())
	assert.Error(t, GraphQuery{Filters: []PropertyFilter{{Field: "x", Op: "like"}}}.Validate())
	assert.Error(t, GraphQuery{Limit: -1}.Validate())
}
