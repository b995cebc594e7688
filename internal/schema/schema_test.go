package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/record"
)

func mustRecord(t *testing.T, raw string) *record.Object {
	t.Helper()
	var obj record.Object
	require.NoError(t, json.Unmarshal([]byte(raw), &obj))
	return &obj
}

func TestDeriveHeader(t *testing.T) {
	first := mustRecord(t, `{"id":"x","amount":10,"location":{"city":"A"}}`)

	header := DeriveHeader(first)

	assert.Equal(t, []string{"id", "amount", "location.city", "deleted"}, header)
}

func TestFlatten(t *testing.T) {
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	obj := mustRecord(t, `{
		"transaction_id": "tx-1",
		"amount": 12.5,
		"pending": false,
		"merchant_name": null,
		"category": ["Food", "Groceries"],
		"counterparties": [{"name": "Shop"}],
		"location": {"city": "Berlin", "geo": {"lat": 52.5}},
		"payment_meta": {}
	}`)
	obj.Set("fetched_at", ts)

	flat := Flatten(obj, "")

	assert.Equal(t, []string{
		"transaction_id", "amount", "pending", "merchant_name",
		"category", "counterparties", "location.city", "location.geo.lat", "fetched_at",
	}, flat.Keys())

	tests := []struct {
		key  string
		want any
	}{
		{"transaction_id", "tx-1"},
		{"pending", false},
		{"merchant_name", ""},
		{"category", "Food, Groceries"},
		{"counterparties", `{"name":"Shop"}`},
		{"location.city", "Berlin"},
		{"fetched_at", ts},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := flat.Get(tt.key)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	amount, _ := flat.Get("amount")
	require.IsType(t, decimal.Decimal{}, amount)
	assert.Equal(t, "12.5", amount.(decimal.Decimal).String())
}

func TestFlattenPrefix(t *testing.T) {
	obj := record.New().Set("city", "A")
	assert.Equal(t, []string{"location.city"}, Flatten(obj, "location").Keys())
}

func TestFlattenDeterministic(t *testing.T) {
	a := mustRecord(t, `{"id":"1","x":{"b":1,"a":2},"y":[1,2]}`)
	b := mustRecord(t, `{"id":"2","x":{"b":9,"a":8},"y":[]}`)
	assert.Equal(t, Flatten(a, "").Keys(), Flatten(b, "").Keys())
}

func TestFlattenPlainMapIsSorted(t *testing.T) {
	obj := record.New().Set("meta", map[string]any{"z": 1, "a": "x"})
	assert.Equal(t, []string{"meta.a", "meta.z"}, Flatten(obj, "").Keys())
}

func TestAlign(t *testing.T) {
	header := []string{"id", "amount", "location.city", "deleted"}
	flat := Flatten(mustRecord(t, `{"id":"x","amount":5,"new_field":"n"}`), "")

	row, dropped := Align(flat, header)

	require.Len(t, row, 4)
	assert.Equal(t, "x", row[0])
	assert.Equal(t, "5", CellString(row[1]))
	assert.Equal(t, "", row[2])
	assert.Equal(t, false, row[3])
	assert.Equal(t, []string{"new_field"}, dropped)
}

func TestFindIDColumn(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   int
	}{
		{"plaid", []string{"account_id", "transaction_id", "deleted"}, 1},
		{"saltedge", []string{"id", "amount", "deleted"}, 0},
		{"transaction_id wins", []string{"id", "transaction_id"}, 1},
		{"none", []string{"amount", "deleted"}, -1},
		{"empty", nil, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FindIDColumn(tt.header))
		})
	}
}

func TestExtend(t *testing.T) {
	header := []string{"id", "deleted"}
	flat := Flatten(mustRecord(t, `{"id":"1","memo":"m"}`), "")

	out, added := Extend(header, flat)

	assert.Equal(t, []string{"id", "deleted", "memo"}, out)
	assert.Equal(t, []string{"memo"}, added)
	assert.Equal(t, []string{"id", "deleted"}, header, "input header must not be modified")
}

func TestCellString(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "", CellString(nil))
	assert.Equal(t, "true", CellString(true))
	assert.Equal(t, "10.25", CellString(decimal.RequireFromString("10.25")))
	assert.Equal(t, "2024-01-02T03:04:05Z", CellString(ts))
}
