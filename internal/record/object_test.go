package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalKeepsKeyOrder(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"zeta":1,"alpha":"a","location":{"city":"A","address":null},"tags":["x",2]}`), &obj)
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "location", "tags"}, obj.Keys())

	loc, ok := obj.Get("location")
	require.True(t, ok)
	nested, ok := loc.(*Object)
	require.True(t, ok, "nested objects decode to *Object")
	assert.Equal(t, []string{"city", "address"}, nested.Keys())

	zeta, _ := obj.Get("zeta")
	assert.Equal(t, json.Number("1"), zeta)

	tags, _ := obj.Get("tags")
	assert.Equal(t, []any{"x", json.Number("2")}, tags)
}

func TestUnmarshalRejectsNonObject(t *testing.T) {
	var obj Object
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &obj))
}

func TestMarshalRoundTripPreservesOrder(t *testing.T) {
	in := `{"b":1,"a":{"y":true,"x":null}}`
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(in), &obj))

	out, err := json.Marshal(&obj)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Equal(t, in, string(out))
}

func TestID(t *testing.T) {
	tests := []struct {
		name string
		obj  *Object
		want string
	}{
		{"plaid", New().Set("transaction_id", "tx-1").Set("id", "other"), "tx-1"},
		{"saltedge string", New().Set("id", "444"), "444"},
		{"saltedge number", New().Set("id", json.Number("987")), "987"},
		{"empty transaction id falls back", New().Set("transaction_id", "").Set("id", "x"), "x"},
		{"missing", New().Set("amount", 1), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.obj.ID())
		})
	}
}

func TestSetOverwriteKeepsPosition(t *testing.T) {
	obj := New().Set("a", 1).Set("b", 2).Set("a", 3)
	assert.Equal(t, []string{"a", "b"}, obj.Keys())
	v, _ := obj.Get("a")
	assert.Equal(t, 3, v)
}

func TestUnmarshalObjectsInsideArrays(t *testing.T) {
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(`{"counterparties":[{"name":"Acme","type":"merchant"}],"empty":[]}`), &obj))

	cps, _ := obj.Get("counterparties")
	items, ok := cps.([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	first, ok := items[0].(*Object)
	require.True(t, ok, "objects inside arrays keep their order too")
	assert.Equal(t, []string{"name", "type"}, first.Keys())

	empty, _ := obj.Get("empty")
	assert.Equal(t, []any{}, empty)
}

func TestMarshalZeroObject(t *testing.T) {
	var obj Object
	out, err := json.Marshal(&obj)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
	assert.Zero(t, obj.Len())
	assert.Nil(t, obj.Keys())
}
