// Package record holds the aggregator-supplied transaction payload.
//
// Provider payloads are decoded into Object, an insertion-ordered JSON object,
// because the store header is derived from the key order of the first record
// ever seen and Go maps do not preserve order. Nested objects decode to
// *Object, arrays to []any, numbers to json.Number.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// IDFields lists the identity fields in lookup order.
var IDFields = []string{"transaction_id", "id"}

// Object is a JSON object that remembers key order.
type Object struct {
	fields *orderedmap.OrderedMap[string, any]
}

// New returns an empty Object.
func New() *Object {
	return &Object{fields: orderedmap.New[string, any]()}
}

// Set stores value under key. A new key goes last; an existing key keeps
// its position.
func (o *Object) Set(key string, value any) *Object {
	if o.fields == nil {
		o.fields = orderedmap.New[string, any]()
	}
	o.fields.Set(key, value)
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	if o == nil || o.fields == nil {
		return nil, false
	}
	return o.fields.Get(key)
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil || o.fields == nil {
		return nil
	}
	out := make([]string, 0, o.fields.Len())
	for pair := o.fields.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil || o.fields == nil {
		return 0
	}
	return o.fields.Len()
}

// ID returns the record identity, trying IDFields in order.
func (o *Object) ID() string {
	for _, f := range IDFields {
		v, ok := o.Get(f)
		if !ok || v == nil {
			continue
		}
		switch id := v.(type) {
		case string:
			if id != "" {
				return id
			}
		case json.Number:
			return id.String()
		default:
			return fmt.Sprint(id)
		}
	}
	return ""
}

// UnmarshalJSON decodes a JSON object keeping key order.
func (o *Object) UnmarshalJSON(data []byte) error {
	raw := orderedmap.New[string, json.RawMessage]()
	if err := raw.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("record: %w", err)
	}

	obj := New()
	for pair := raw.Oldest(); pair != nil; pair = pair.Next() {
		v, err := decodeValue(pair.Value)
		if err != nil {
			return fmt.Errorf("record: key %q: %w", pair.Key, err)
		}
		obj.fields.Set(pair.Key, v)
	}
	*o = *obj
	return nil
}

// MarshalJSON encodes the object with its original key order.
func (o *Object) MarshalJSON() ([]byte, error) {
	if o == nil {
		return []byte("null"), nil
	}
	if o.fields == nil {
		return []byte("{}"), nil
	}
	return o.fields.MarshalJSON()
}

// decodeValue turns one raw value into *Object, []any, json.Number or a
// plain scalar.
func decodeValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty value")
	}

	switch raw[0] {
	case '{':
		obj := New()
		if err := obj.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		arr := make([]any, 0, len(items))
		for _, item := range items {
			v, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, nil
	default:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
