// Package schema projects nested transaction payloads onto flat store rows.
//
// Flatten is pure: the same payload shape always yields the same key set in
// the same order, which header derivation relies on.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/record"
)

const (
	// KeySeparator joins nested keys.
	KeySeparator = "."

	// ArraySeparator joins array elements into one cell.
	ArraySeparator = ", "
)

// Flat is an ordered single-level mapping from dotted keys to scalar cells.
// Cell values are string, bool, decimal.Decimal or time.Time.
type Flat struct {
	keys   []string
	values map[string]any
}

// Keys returns the flattened keys in projection order.
func (f *Flat) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Get returns the cell stored under key.
func (f *Flat) Get(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

// Len returns the number of flattened keys.
func (f *Flat) Len() int {
	return len(f.keys)
}

func (f *Flat) put(key string, value any) {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Flatten converts obj into a Flat mapping. Keys are prefixed with prefix
// when it is non-empty.
//
//   - nested objects recurse with dot-joined keys
//   - arrays become one ArraySeparator-joined string
//   - nil becomes ""
//   - time.Time passes through unchanged
//   - JSON numbers become decimal.Decimal
func Flatten(obj *record.Object, prefix string) *Flat {
	f := &Flat{values: make(map[string]any)}
	flattenInto(f, obj, prefix)
	return f
}

func flattenInto(f *Flat, obj *record.Object, prefix string) {
	for _, k := range obj.Keys() {
		v, _ := obj.Get(k)
		key := k
		if prefix != "" {
			key = prefix + KeySeparator + k
		}

		switch val := v.(type) {
		case *record.Object:
			flattenInto(f, val, key)
		case map[string]any:
			flattenInto(f, fromMap(val), key)
		default:
			f.put(key, Scalar(val))
		}
	}
}

// Scalar converts a single decoded JSON value into a cell value.
func Scalar(v any) any {
	switch val := v.(type) {
	case nil:
		return ""
	case string, bool, decimal.Decimal:
		return val
	case time.Time:
		return val
	case *time.Time:
		if val == nil {
			return ""
		}
		return *val
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return val.String()
		}
		return d
	case float64:
		return decimal.NewFromFloat(val)
	case float32:
		return decimal.NewFromFloat32(val)
	case int:
		return decimal.NewFromInt(int64(val))
	case int64:
		return decimal.NewFromInt(val)
	case []any:
		return joinArray(val)
	case []string:
		return strings.Join(val, ArraySeparator)
	default:
		return fmt.Sprint(val)
	}
}

func joinArray(arr []any) string {
	parts := make([]string, 0, len(arr))
	for _, el := range arr {
		switch e := el.(type) {
		case *record.Object, []any, map[string]any:
			b, err := json.Marshal(e)
			if err != nil {
				parts = append(parts, fmt.Sprint(e))
				continue
			}
			parts = append(parts, string(b))
		default:
			parts = append(parts, CellString(Scalar(e)))
		}
	}
	return strings.Join(parts, ArraySeparator)
}

// fromMap adapts an unordered map; keys are taken in sorted order so the
// result stays deterministic.
func fromMap(m map[string]any) *record.Object {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj := record.New()
	for _, k := range keys {
		obj.Set(k, m[k])
	}
	return obj
}

// CellString renders a cell as text, the form used by persistent stores.
func CellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case decimal.Decimal:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
