// Package credentials resolves per-environment aggregator credentials and
// per-item access tokens from a namespaced key-value store.
package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/finance-sync/internal/kvstore"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

// Integration names an aggregator family.
type Integration string

const (
	// Plaid is the changefeed-style aggregator authenticated by a static secret.
	Plaid Integration = "plaid"

	// SaltEdge is the listing-style aggregator authenticated by RSA signatures.
	SaltEdge Integration = "saltedge"
)

// ParseIntegration validates an integration name.
func ParseIntegration(s string) (Integration, error) {
	switch Integration(strings.ToLower(strings.TrimSpace(s))) {
	case Plaid:
		return Plaid, nil
	case SaltEdge:
		return SaltEdge, nil
	default:
		return "", syncerr.Configuration("ParseIntegration", fmt.Sprintf("unknown integration %q", s), nil)
	}
}

// Key prefixes, joined with the integration name.
const (
	fieldClientID    = "client_id"
	fieldSecret      = "secret"
	fieldPrivateKey  = "private_key"
	fieldAccessToken = "access_token"
)

// Set holds the credentials of one integration in one environment.
// ClientID is Plaid's client_id or SaltEdge's App-id.
type Set struct {
	ClientID   string
	Secret     string
	PrivateKey string // PEM, SaltEdge only
}

// Store resolves credentials and tokens. Keys are pure functions of
// (integration, field, environment, item) so sandbox and production state
// never mix.
type Store struct {
	kv kvstore.Store
}

// NewStore creates a credential store backed by kv.
func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// FieldPrefix returns the key prefix of one credential field.
func FieldPrefix(integration Integration, field string) string {
	return string(integration) + "." + field
}

// Resolve returns the credential set of integration in environment.
// A missing client id or secret is a ConfigurationError.
func (s *Store) Resolve(ctx context.Context, integration Integration, environment string) (Set, error) {
	var set Set
	var missing []string

	fields := []struct {
		name string
		dst  *string
	}{
		{fieldClientID, &set.ClientID},
		{fieldSecret, &set.Secret},
		{fieldPrivateKey, &set.PrivateKey},
	}
	for _, f := range fields {
		v, ok, err := s.kv.Get(ctx, kvstore.Key(FieldPrefix(integration, f.name), environment))
		if err != nil {
			return Set{}, fmt.Errorf("Resolve: reading %s: %w", f.name, err)
		}
		if !ok || v == "" {
			if f.name != fieldPrivateKey {
				missing = append(missing, f.name)
			}
			continue
		}
		*f.dst = v
	}

	if len(missing) > 0 {
		return Set{}, syncerr.Configuration("Resolve",
			fmt.Sprintf("%s %s credentials missing: %s", integration, environment, strings.Join(missing, ", ")), nil)
	}
	return set, nil
}

// Save stores a credential set. Empty fields are left untouched.
func (s *Store) Save(ctx context.Context, integration Integration, environment string, set Set) error {
	fields := map[string]string{
		fieldClientID:   set.ClientID,
		fieldSecret:     set.Secret,
		fieldPrivateKey: set.PrivateKey,
	}
	for name, v := range fields {
		if v == "" {
			continue
		}
		if err := s.kv.Set(ctx, kvstore.Key(FieldPrefix(integration, name), environment), v); err != nil {
			return fmt.Errorf("Save: writing %s: %w", name, err)
		}
	}
	return nil
}

// AccessToken returns the access token of one item (Plaid) or the
// connection secret of one connection (SaltEdge).
func (s *Store) AccessToken(ctx context.Context, integration Integration, environment, itemID string) (string, error) {
	v, ok, err := s.kv.Get(ctx, tokenKey(integration, environment, itemID))
	if err != nil {
		return "", fmt.Errorf("AccessToken: %w", err)
	}
	if !ok || v == "" {
		return "", syncerr.Configuration("AccessToken",
			fmt.Sprintf("no %s access token for item %q in %s", integration, itemID, environment), nil)
	}
	return v, nil
}

// SetAccessToken stores the access token of one item.
func (s *Store) SetAccessToken(ctx context.Context, integration Integration, environment, itemID, token string) error {
	if itemID == "" || token == "" {
		return syncerr.Configuration("SetAccessToken", "item id and token are required", nil)
	}
	if err := s.kv.Set(ctx, tokenKey(integration, environment, itemID), token); err != nil {
		return fmt.Errorf("SetAccessToken: %w", err)
	}
	return nil
}

// DeleteAccessToken removes the access token of one item.
func (s *Store) DeleteAccessToken(ctx context.Context, integration Integration, environment, itemID string) error {
	if err := s.kv.Delete(ctx, tokenKey(integration, environment, itemID)); err != nil {
		return fmt.Errorf("DeleteAccessToken: %w", err)
	}
	return nil
}

// Items lists the item ids holding an access token in environment.
func (s *Store) Items(ctx context.Context, integration Integration, environment string) ([]string, error) {
	prefix := kvstore.Prefix(FieldPrefix(integration, fieldAccessToken), environment)
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("Items: %w", err)
	}
	items := make([]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, strings.TrimPrefix(k, prefix))
	}
	return items, nil
}

// Purge deletes every key of integration in environment: credentials,
// tokens and cursors alike. It returns the number of keys removed.
func (s *Store) Purge(ctx context.Context, integration Integration, environment string) (int, error) {
	keys, err := s.kv.Keys(ctx, string(integration)+".")
	if err != nil {
		return 0, fmt.Errorf("Purge: listing keys: %w", err)
	}

	removed := 0
	for _, k := range keys {
		parts := strings.SplitN(k, kvstore.Separator, 3)
		if len(parts) < 2 || parts[1] != environment {
			continue
		}
		if err := s.kv.Delete(ctx, k); err != nil {
			return removed, fmt.Errorf("Purge: deleting %s: %w", k, err)
		}
		removed++
	}
	return removed, nil
}

func tokenKey(integration Integration, environment, itemID string) string {
	return kvstore.Key(FieldPrefix(integration, fieldAccessToken), environment, itemID)
}
