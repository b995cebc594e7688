package aggregator

import (
	"context"
	"net/http"

	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/record"
	"github.com/dvloznov/finance-sync/internal/signer"
)

const (
	plaidSyncPath   = "/transactions/sync"
	plaidRemovePath = "/item/remove"
)

type plaidSyncRequest struct {
	AccessToken string            `json:"access_token"`
	Cursor      string            `json:"cursor,omitempty"`
	Count       int               `json:"count"`
	Options     *plaidSyncOptions `json:"options,omitempty"`
}

// plaidSyncOptions narrows the changefeed to one account of the item.
type plaidSyncOptions struct {
	AccountID string `json:"account_id"`
}

type plaidSyncResponse struct {
	Added      []*record.Object `json:"added"`
	Modified   []*record.Object `json:"modified"`
	Removed    []Removal        `json:"removed"`
	NextCursor string           `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

type plaidRemoveRequest struct {
	AccessToken string `json:"access_token"`
}

// PlaidFetcher drains the /transactions/sync changefeed of one item.
type PlaidFetcher struct {
	transport
	tokens TokenSource
}

var _ Client = (*PlaidFetcher)(nil)

// NewPlaidFetcher creates a Plaid changefeed client.
func NewPlaidFetcher(baseURL string, s signer.Signer, tokens TokenSource, opts ...Option) *PlaidFetcher {
	return &PlaidFetcher{transport: newTransport(baseURL, s, opts), tokens: tokens}
}

// Integration implements Client.
func (f *PlaidFetcher) Integration() credentials.Integration { return credentials.Plaid }

// FetchAll requests pages until has_more is false. The returned cursor is
// the next_cursor of the last page.
func (f *PlaidFetcher) FetchAll(ctx context.Context, scope cursor.Scope, since string) (*Drain, error) {
	log := logger.FromContext(ctx)

	token, err := f.tokens.AccessToken(ctx, credentials.Plaid, scope.Environment, scope.ItemID)
	if err != nil {
		return nil, err
	}

	var options *plaidSyncOptions
	if scope.AccountID != "" {
		options = &plaidSyncOptions{AccountID: scope.AccountID}
	}

	drain := &Drain{Cursor: since}
	next := since
	for {
		var page plaidSyncResponse
		req := plaidSyncRequest{AccessToken: token, Cursor: next, Count: PlaidPageSize, Options: options}
		if err := f.do(ctx, http.MethodPost, plaidSyncPath, nil, req, &page); err != nil {
			log.Error().Err(err).
				Str("item_id", scope.ItemID).
				Str("account_id", scope.AccountID).
				Int("pages", drain.Pages).
				Msg("Plaid transactions sync failed")
			return nil, err
		}
		drain.Pages++

		drain.Changes.Added = append(drain.Changes.Added, page.Added...)
		drain.Changes.Modified = append(drain.Changes.Modified, page.Modified...)
		drain.Changes.Removed = append(drain.Changes.Removed, page.Removed...)
		if page.NextCursor != "" {
			next = page.NextCursor
		}

		log.Debug().
			Int("page", drain.Pages).
			Int("added", len(page.Added)).
			Int("modified", len(page.Modified)).
			Int("removed", len(page.Removed)).
			Bool("has_more", page.HasMore).
			Msg("Fetched Plaid page")

		if !page.HasMore {
			break
		}
	}
	drain.Cursor = next
	return drain, nil
}

// Disconnect revokes the item's access token at Plaid.
func (f *PlaidFetcher) Disconnect(ctx context.Context, scope cursor.Scope) error {
	token, err := f.tokens.AccessToken(ctx, credentials.Plaid, scope.Environment, scope.ItemID)
	if err != nil {
		return err
	}
	return f.do(ctx, http.MethodPost, plaidRemovePath, nil, plaidRemoveRequest{AccessToken: token}, nil)
}
