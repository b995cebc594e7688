package syncer

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-sync/internal/aggregator"
	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/cursor"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// DisconnectResult reports what a disconnect did.
type DisconnectResult struct {
	// RemoteErr is set when the provider could not be reached. It does
	// not make Disconnect fail.
	RemoteErr      error
	CursorsRemoved int
}

// Disconnect revokes an item at the provider, then removes its access
// token and every cursor stored under it. The remote call is best effort;
// local removal always happens. remote may be nil when no client can be
// built, for example after credentials were purged.
func Disconnect(ctx context.Context, integration credentials.Integration, scope cursor.Scope, remote aggregator.Disconnector, creds *credentials.Store, cursors *cursor.Store) (*DisconnectResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("Disconnect: %w", err)
	}
	ctx = logger.WithScope(ctx, string(integration), scope.Environment, scope.ItemID, "")
	log := logger.FromContext(ctx)

	res := &DisconnectResult{}
	if remote == nil {
		log.Warn().Msg("No aggregator client, skipping remote disconnect")
	} else if err := remote.Disconnect(ctx, scope); err != nil {
		res.RemoteErr = err
		log.Warn().Err(err).Msg("Remote disconnect failed, removing local state anyway")
	}

	if err := creds.DeleteAccessToken(ctx, integration, scope.Environment, scope.ItemID); err != nil {
		return res, fmt.Errorf("Disconnect: %w", err)
	}
	n, err := cursors.ResetItem(ctx, scope.Environment, scope.ItemID)
	if err != nil {
		return res, fmt.Errorf("Disconnect: %w", err)
	}
	res.CursorsRemoved = n

	log.Info().Int("cursors_removed", n).Bool("remote_ok", res.RemoteErr == nil).Msg("Disconnected item")
	return res, nil
}

// ResetCursor forces the next cycle of scope to fetch full history. With
// allAccounts set, every account cursor under the item is removed too.
func ResetCursor(ctx context.Context, cursors *cursor.Store, scope cursor.Scope, allAccounts bool) (int, error) {
	if err := scope.Validate(); err != nil {
		return 0, fmt.Errorf("ResetCursor: %w", err)
	}
	log := logger.FromContext(ctx)

	if allAccounts {
		n, err := cursors.ResetItem(ctx, scope.Environment, scope.ItemID)
		if err != nil {
			return 0, err
		}
		log.Info().Str("scope", scope.String()).Int("cursors_removed", n).Msg("Reset item cursors")
		return n, nil
	}

	if err := cursors.Reset(ctx, scope); err != nil {
		return 0, err
	}
	log.Info().Str("scope", scope.String()).Msg("Reset cursor")
	return 1, nil
}
