// Package cursor persists the opaque pagination cursor of each sync scope.
package cursor

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/kvstore"
)

// Scope identifies the state owned by one sync: an environment, the item
// (Plaid) or connection (SaltEdge), and optionally one account under it.
type Scope struct {
	Environment string
	ItemID      string
	AccountID   string
}

// String renders the scope for logs and job bookkeeping.
func (s Scope) String() string {
	return kvstore.Key("scope", s.Environment, s.ItemID, s.AccountID)
}

// Validate reports whether the scope can address state.
func (s Scope) Validate() error {
	if s.Environment == "" {
		return fmt.Errorf("scope: environment is required")
	}
	if s.ItemID == "" {
		return fmt.Errorf("scope: item id is required")
	}
	return nil
}

// Store reads and writes cursors under "<prefix>:<environment>:<item>[:<account>]".
// An empty cursor means "fetch full history".
type Store struct {
	kv     kvstore.Store
	prefix string
}

// NewStore creates a cursor store. prefix is typically "<integration>.cursor".
func NewStore(kv kvstore.Store, prefix string) *Store {
	return &Store{kv: kv, prefix: prefix}
}

// Key returns the key a scope's cursor is stored under.
func (s *Store) Key(scope Scope) string {
	return kvstore.Key(s.prefix, scope.Environment, scope.ItemID, scope.AccountID)
}

// Get returns the persisted cursor, or "" when none is stored.
func (s *Store) Get(ctx context.Context, scope Scope) (string, error) {
	v, _, err := s.kv.Get(ctx, s.Key(scope))
	if err != nil {
		return "", fmt.Errorf("cursor.Get: %w", err)
	}
	return v, nil
}

// Set persists cursor for scope. An empty cursor is rejected: the only way
// back to full history is Reset.
func (s *Store) Set(ctx context.Context, scope Scope, cursor string) error {
	if cursor == "" {
		return fmt.Errorf("cursor.Set: empty cursor for %s, use Reset", scope)
	}
	if err := s.kv.Set(ctx, s.Key(scope), cursor); err != nil {
		return fmt.Errorf("cursor.Set: %w", err)
	}
	return nil
}

// Reset deletes the cursor of scope, forcing a full resync.
func (s *Store) Reset(ctx context.Context, scope Scope) error {
	if err := s.kv.Delete(ctx, s.Key(scope)); err != nil {
		return fmt.Errorf("cursor.Reset: %w", err)
	}
	return nil
}

// ResetItem deletes the item cursor and every account cursor under it.
// It returns the number of cursors removed.
func (s *Store) ResetItem(ctx context.Context, environment, itemID string) (int, error) {
	itemKey := kvstore.Key(s.prefix, environment, itemID)
	keys, err := s.kv.Keys(ctx, itemKey+kvstore.Separator)
	if err != nil {
		return 0, fmt.Errorf("cursor.ResetItem: %w", err)
	}
	keys = append(keys, itemKey)

	removed := 0
	for _, k := range keys {
		_, ok, err := s.kv.Get(ctx, k)
		if err != nil {
			return removed, fmt.Errorf("cursor.ResetItem: %w", err)
		}
		if !ok {
			continue
		}
		if err := s.kv.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("cursor.ResetItem: %w", err)
		}
		removed++
	}
	return removed, nil
}
