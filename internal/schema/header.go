package schema

import (
	"github.com/dvloznov/finance-sync/internal/record"
)

// DeletedColumn is the synthetic soft-delete flag appended to every header.
const DeletedColumn = "deleted"

// DeriveHeader builds the header for an empty store from the first record of
// a cycle: its flattened keys followed by DeletedColumn.
func DeriveHeader(first *record.Object) []string {
	keys := Flatten(first, "").Keys()
	header := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		if k == DeletedColumn {
			continue
		}
		header = append(header, k)
	}
	return append(header, DeletedColumn)
}

// Align projects flat onto header. Header columns missing from flat are
// written as "", the deleted column is set to false, and keys of flat that
// the header does not know are returned as dropped.
func Align(flat *Flat, header []string) (row []any, dropped []string) {
	row = make([]any, len(header))
	known := make(map[string]struct{}, len(header))
	for i, col := range header {
		known[col] = struct{}{}
		if col == DeletedColumn {
			row[i] = false
			continue
		}
		if v, ok := flat.Get(col); ok {
			row[i] = v
		} else {
			row[i] = ""
		}
	}
	for _, k := range flat.Keys() {
		if _, ok := known[k]; !ok {
			dropped = append(dropped, k)
		}
	}
	return row, dropped
}

// FindIDColumn returns the index of the identity column, trying
// record.IDFields in order, or -1 when none is present.
func FindIDColumn(header []string) int {
	for _, field := range record.IDFields {
		for i, col := range header {
			if col == field {
				return i
			}
		}
	}
	return -1
}

// FindColumn returns the index of name in header or -1.
func FindColumn(header []string, name string) int {
	for i, col := range header {
		if col == name {
			return i
		}
	}
	return -1
}

// Extend appends to header every key of flat it does not contain yet.
// Existing columns keep their positions.
func Extend(header []string, flat *Flat) ([]string, []string) {
	var added []string
	out := append([]string(nil), header...)
	for _, k := range flat.Keys() {
		if FindColumn(out, k) < 0 {
			out = append(out, k)
			added = append(added, k)
		}
	}
	return out, added
}
