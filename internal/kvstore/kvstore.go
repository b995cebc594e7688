// Package kvstore defines the namespaced key-value contract used to persist
// credentials, access tokens and sync cursors.
package kvstore

import (
	"context"
	"strings"
)

// Separator joins the parts of a key.
const Separator = ":"

// Store is a string key-value store. Implementations must be safe for use by
// a single sync invocation at a time; no cross-key transactions are assumed.
type Store interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns every key starting with prefix, in lexical order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Key builds a deterministic key from a fixed prefix, an environment name and
// optional scope parts. Empty scope parts are skipped so that an absent
// account id does not change the key of an item-level scope.
func Key(prefix, environment string, parts ...string) string {
	elems := make([]string, 0, 2+len(parts))
	elems = append(elems, prefix, environment)
	for _, p := range parts {
		if p != "" {
			elems = append(elems, p)
		}
	}
	return strings.Join(elems, Separator)
}

// Prefix returns the key prefix shared by every key built with Key from the
// same leading parts, including the trailing separator.
func Prefix(parts ...string) string {
	return strings.Join(parts, Separator) + Separator
}
