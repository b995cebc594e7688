// Package aggregator drains transaction changes from bank-data aggregators.
//
// Two families are supported. Plaid exposes a changefeed (/transactions/sync)
// returning added, modified and removed records. SaltEdge exposes a plain
// listing paged by record id; every listed record is reported as added.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/record"
	"github.com/dvloznov/finance-sync/internal/signer"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

// Page sizes are fixed per family.
const (
	PlaidPageSize    = 500
	SaltEdgePageSize = 250
)

// Removal identifies a record the provider reports as deleted.
type Removal struct {
	ID string `json:"transaction_id"`
}

// ChangeSet is the accumulated result of a full drain.
type ChangeSet struct {
	Added    []*record.Object
	Modified []*record.Object
	Removed  []Removal
}

// Empty reports whether the change set carries no work.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// Len returns the total number of changes.
func (c ChangeSet) Len() int {
	return len(c.Added) + len(c.Modified) + len(c.Removed)
}

// Drain is what a fetcher returns once the provider reports no more pages.
// Cursor is the position to resume from next cycle.
type Drain struct {
	Changes ChangeSet
	Cursor  string
	Pages   int
}

// Fetcher drains every page available after since. On any failure it
// returns an error and no partial result.
type Fetcher interface {
	FetchAll(ctx context.Context, scope cursor.Scope, since string) (*Drain, error)
}

// Disconnector revokes an item or connection at the provider.
type Disconnector interface {
	Disconnect(ctx context.Context, scope cursor.Scope) error
}

// Client is a fetcher that can also revoke its items.
type Client interface {
	Fetcher
	Disconnector
	Integration() credentials.Integration
}

// Doer executes HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource resolves per-item access tokens.
type TokenSource interface {
	AccessToken(ctx context.Context, integration credentials.Integration, environment, itemID string) (string, error)
}

// Option configures a fetcher.
type Option func(*transport)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(d Doer) Option {
	return func(t *transport) { t.doer = d }
}

// DefaultBaseURL returns the API root of integration in environment.
func DefaultBaseURL(integration credentials.Integration, environment string) string {
	switch integration {
	case credentials.Plaid:
		switch environment {
		case "production":
			return "https://production.plaid.com"
		case "development":
			return "https://development.plaid.com"
		default:
			return "https://sandbox.plaid.com"
		}
	case credentials.SaltEdge:
		return "https://www.saltedge.com/api/v5"
	default:
		return ""
	}
}

// New returns the client of integration.
func New(integration credentials.Integration, baseURL string, s signer.Signer, tokens TokenSource, opts ...Option) (Client, error) {
	switch integration {
	case credentials.Plaid:
		return NewPlaidFetcher(baseURL, s, tokens, opts...), nil
	case credentials.SaltEdge:
		return NewSaltEdgeFetcher(baseURL, s, opts...), nil
	default:
		return nil, syncerr.Configuration("aggregator.New", fmt.Sprintf("unknown integration %q", integration), nil)
	}
}

// transport issues signed JSON requests. It never retries and sets no
// timeout of its own: the caller's context is the only ceiling.
type transport struct {
	baseURL string
	signer  signer.Signer
	doer    Doer
}

func newTransport(baseURL string, s signer.Signer, opts []Option) transport {
	t := transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  s,
		doer:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// do sends one request and decodes a 2xx JSON body into out.
func (t *transport) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	endpoint := method + " " + path

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encoding request: %w", endpoint, err)
		}
		body = b
	}

	u := t.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: building request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := t.signer.Sign(req, body); err != nil {
		return err
	}

	resp, err := t.doer.Do(req)
	if err != nil {
		return syncerr.Transport(endpoint, 0, nil, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncerr.Transport(endpoint, resp.StatusCode, nil, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return syncerr.Transport(endpoint, resp.StatusCode, respBody, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return syncerr.DataShape(fmt.Sprintf("%s: malformed response: %v", endpoint, err))
	}
	return nil
}
