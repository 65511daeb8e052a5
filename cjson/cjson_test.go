package cjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/tags"
	"github.com/narwhaldb/narwhal/variant"
)

func testSchema(t *testing.T) (*tags.Matcher, *payload.Type) {
	t.Helper()
	tm := tags.NewMatcher()
	pt := payload.NewType("ns")
	_, err := pt.Add(payload.Field{Name: "id", Type: variant.TypeInt})
	require.NoError(t, err)
	_, err = pt.Add(payload.Field{Name: "title", Type: variant.TypeString})
	require.NoError(t, err)
	_, err = pt.Add(payload.Field{Name: "tags", Type: variant.TypeString, IsArray: true})
	require.NoError(t, err)
	return tm, pt
}

func TestJSONRoundTrip(t *testing.T) {
	tm, pt := testSchema(t)
	dec := NewDecoder(tm, pt)

	src := `{"id":1,"title":"war and peace","tags":["x","y"],"nested":{"deep":true},"price":3.5}`
	pl, err := dec.FromJSON([]byte(src))
	require.NoError(t, err)

	out, err := NewEncoder(tm).ToJSON(pl.Tuple())
	require.NoError(t, err)

	var a, b map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(src), &a))
	require.NoError(t, json.Unmarshal(out, &b))
	assert.Equal(t, a, b)
}

func TestIndexedFieldExtraction(t *testing.T) {
	tm, pt := testSchema(t)
	dec := NewDecoder(tm, pt)

	pl, err := dec.FromJSON([]byte(`{"id":7,"title":"abc","tags":["p","q"]}`))
	require.NoError(t, err)

	idField, _ := pt.FieldByName("id")
	assert.Equal(t, 7, pl.GetOne(idField).Int())

	tagsField, _ := pt.FieldByName("tags")
	vals := pl.Get(tagsField)
	require.Len(t, vals, 2)
	assert.Equal(t, "p", vals[0].Str())
	assert.Equal(t, "q", vals[1].Str())
}

func TestCJSONRoundTripThroughDecoder(t *testing.T) {
	tm, pt := testSchema(t)
	dec := NewDecoder(tm, pt)

	pl, err := dec.FromJSON([]byte(`{"id":2,"title":"b"}`))
	require.NoError(t, err)

	// A later matcher version must still decode the tuple.
	tm.Name2Tag("later", true)
	restored, err := NewDecoder(tm, pt).FromCJSON(pl.Tuple())
	require.NoError(t, err)

	idField, _ := pt.FieldByName("id")
	assert.Equal(t, 2, restored.GetOne(idField).Int())
	assert.Equal(t, pl.Tuple(), restored.Tuple())
}

func TestUnknownTagFailsAsMismatch(t *testing.T) {
	tm, pt := testSchema(t)
	dec := NewDecoder(tm, pt)
	pl, err := dec.FromJSON([]byte(`{"id":2,"extra":"x"}`))
	require.NoError(t, err)

	fresh := tags.NewMatcher()
	_, err = NewDecoder(fresh, pt).FromCJSON(pl.Tuple())
	require.Error(t, err)
}

func TestArrayIntoScalarFieldFails(t *testing.T) {
	tm, pt := testSchema(t)
	dec := NewDecoder(tm, pt)
	_, err := dec.FromJSON([]byte(`{"id":[1,2]}`))
	assert.Error(t, err)
}

func TestPointField(t *testing.T) {
	tm := tags.NewMatcher()
	pt := payload.NewType("geo")
	_, err := pt.Add(payload.Field{Name: "loc", Type: variant.TypePoint})
	require.NoError(t, err)

	dec := NewDecoder(tm, pt)
	pl, err := dec.FromJSON([]byte(`{"loc":[1.5,2.5]}`))
	require.NoError(t, err)

	f, _ := pt.FieldByName("loc")
	p := pl.GetOne(f).Point()
	assert.Equal(t, 1.5, p.X)
	assert.Equal(t, 2.5, p.Y)

	out, err := NewEncoder(tm).ToJSON(pl.Tuple())
	require.NoError(t, err)
	assert.JSONEq(t, `{"loc":[1.5,2.5]}`, string(out))
}

func TestExtractPath(t *testing.T) {
	tm := tags.NewMatcher()
	pt := payload.NewType("ns")
	dec := NewDecoder(tm, pt)
	pl, err := dec.FromJSON([]byte(`{"a":{"b":[1,2]},"c":"x"}`))
	require.NoError(t, err)

	vals := ExtractPath(pl.Tuple(), tm, "a.b")
	require.Len(t, vals, 2)
	assert.Equal(t, 1, vals[0].Int())
	assert.Equal(t, 2, vals[1].Int())

	vals = ExtractPath(pl.Tuple(), tm, "c")
	require.Len(t, vals, 1)
	assert.Equal(t, "x", vals[0].Str())

	assert.Empty(t, ExtractPath(pl.Tuple(), tm, "missing"))
}
