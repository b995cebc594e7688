package service

import (
	"context"
	"fmt"
	"io"

	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/credentials"
	bqinfra "github.com/dvloznov/finance-sync/internal/infra/bigquery"
	"github.com/dvloznov/finance-sync/internal/infra/gcs"
	"github.com/dvloznov/finance-sync/internal/infra/sqlite"
	"github.com/dvloznov/finance-sync/internal/kvstore"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/reconcile"
	"github.com/dvloznov/finance-sync/internal/sheet"
	"github.com/dvloznov/finance-sync/internal/syncer"
)

// Open builds a service from cfg, opening the configured backends. The
// SQLite database is shared when the key-value store and the transaction
// store point at the same file.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	log := logger.FromContext(ctx)

	integration, err := credentials.ParseIntegration(cfg.Integration)
	if err != nil {
		return nil, err
	}

	b := &builder{dbs: map[string]*sqlite.DB{}}
	deps := Deps{
		Integration: integration,
		BaseURL:     cfg.BaseURL(integration),
		Reconcile: reconcile.Options{
			UpsertAdded: cfg.Sync.UpsertAdded,
			GrowHeader:  cfg.Sync.GrowHeader,
		},
	}

	deps.KV, err = b.openKV(ctx, cfg.KV)
	if err != nil {
		b.closeAll()
		return nil, err
	}
	deps.Store, deps.Recorder, err = b.openStore(ctx, cfg.Store)
	if err != nil {
		b.closeAll()
		return nil, err
	}
	deps.Closers = b.closers

	log.Info().
		Str("integration", string(integration)).
		Str("kv_backend", cfg.KV.Backend).
		Str("store_backend", cfg.Store.Backend).
		Str("sheet", cfg.Store.Name).
		Msg("Service ready")

	return New(deps), nil
}

type builder struct {
	dbs     map[string]*sqlite.DB
	closers []io.Closer
}

func (b *builder) sqliteDB(path string) (*sqlite.DB, error) {
	if db, ok := b.dbs[path]; ok {
		return db, nil
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	b.dbs[path] = db
	b.closers = append(b.closers, db)
	return db, nil
}

func (b *builder) openKV(ctx context.Context, cfg config.KVConfig) (kvstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return kvstore.NewMemory(), nil
	case config.BackendSQLite:
		db, err := b.sqliteDB(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("Open: kv: %w", err)
		}
		return sqlite.NewKV(db), nil
	case config.BackendGCS:
		loc, err := gcs.ParseURI(cfg.GCSBucket)
		if err != nil {
			return nil, fmt.Errorf("Open: kv: %w", err)
		}
		kv, err := gcs.NewKV(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("Open: kv: %w", err)
		}
		b.closers = append(b.closers, kv)
		return kv, nil
	default:
		return nil, fmt.Errorf("Open: unknown kv backend %q", cfg.Backend)
	}
}

func (b *builder) openStore(ctx context.Context, cfg config.StoreConfig) (sheet.Store, syncer.RunRecorder, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return sheet.NewMemory(), syncer.NewMemoryRecorder(), nil
	case config.BackendSQLite:
		db, err := b.sqliteDB(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("Open: store: %w", err)
		}
		return sqlite.NewSheet(db, cfg.Name), sqlite.NewRunRecorder(db), nil
	case config.BackendBigQuery:
		ds := bqinfra.Dataset{ProjectID: cfg.BigQueryProject, DatasetID: cfg.BigQueryDataset}
		client, err := bqinfra.NewClient(ctx, ds)
		if err != nil {
			return nil, nil, fmt.Errorf("Open: store: %w", err)
		}
		b.closers = append(b.closers, client)
		return bqinfra.NewBigQuerySheetStoreWithClient(client, ds, cfg.Name),
			bqinfra.NewBigQueryRunRecorderWithClient(client, ds), nil
	default:
		return nil, nil, fmt.Errorf("Open: unknown store backend %q", cfg.Backend)
	}
}

func (b *builder) closeAll() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i].Close()
	}
}
