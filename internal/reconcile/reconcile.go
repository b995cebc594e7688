// Package reconcile applies an aggregator change set to a transaction store.
package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/dvloznov/finance-sync/internal/aggregator"
	"github.com/dvloznov/finance-sync/internal/logger"
	"github.com/dvloznov/finance-sync/internal/record"
	"github.com/dvloznov/finance-sync/internal/schema"
	"github.com/dvloznov/finance-sync/internal/sheet"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

var (
	dateColumn     = regexp.MustCompile(`(?i)(date|datetime|_at)`)
	currencyColumn = regexp.MustCompile(`(?i)(amount|balance)`)
)

// Options tunes reconciliation beyond the default policy.
type Options struct {
	// UpsertAdded overwrites an existing row when an added record's id is
	// already present instead of appending a duplicate.
	UpsertAdded bool

	// GrowHeader appends columns for fields the header does not know yet.
	// When false the existing header is authoritative and such fields are dropped.
	GrowHeader bool
}

// Stats summarises one Apply call.
type Stats struct {
	Appended         int
	Updated          int
	Flagged          int
	Upserted         int
	Unmatched        int
	DroppedFields    []string
	AddedColumns     []string
	HeaderDerived    bool
	FormattedColumns int
}

// Reconciler writes change sets into one store. Apply calls on the same
// Reconciler are serialized: row positions come from a scan and stay valid
// only while no other writer appends.
type Reconciler struct {
	mu    sync.Mutex
	store sheet.Store
	opts  Options
}

// New creates a reconciler for store.
func New(store sheet.Store, opts Options) *Reconciler {
	return &Reconciler{store: store, opts: opts}
}

type pending struct {
	rec  *record.Object
	flat *schema.Flat
}

// Apply reconciles changes in one pass:
//   - added records are appended in arrival order
//   - modified rows are overwritten with deleted=false
//   - removed rows get deleted=true and keep every other cell
//
// Modified and removed rows are located by a single scan of the store.
// A header without an id column fails before anything is written.
func (r *Reconciler) Apply(ctx context.Context, changes aggregator.ChangeSet) (Stats, error) {
	log := logger.FromContext(ctx)
	var stats Stats

	if changes.Empty() {
		return stats, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	header, err := r.store.HeaderRow(ctx)
	if err != nil {
		return stats, fmt.Errorf("Apply: reading header: %w", err)
	}

	writeHeader := false
	if len(header) == 0 {
		first := firstRecord(changes)
		if first == nil {
			return stats, syncerr.DataShape("store has no header and the change set carries no record to derive one from")
		}
		header = schema.DeriveHeader(first)
		writeHeader = true
		stats.HeaderDerived = true
	}

	idCol := schema.FindIDColumn(header)
	if idCol < 0 {
		return stats, syncerr.Configuration("Apply", fmt.Sprintf("no id column in header %v", header), nil)
	}

	added := flattenAll(changes.Added)
	modified := flattenAll(changes.Modified)

	if r.opts.GrowHeader && !writeHeader {
		for _, batch := range [][]pending{added, modified} {
			for _, p := range batch {
				var cols []string
				header, cols = schema.Extend(header, p.flat)
				stats.AddedColumns = append(stats.AddedColumns, cols...)
			}
		}
		writeHeader = len(stats.AddedColumns) > 0
	}
	deletedCol := schema.FindColumn(header, schema.DeletedColumn)
	if deletedCol < 0 {
		header = append(header, schema.DeletedColumn)
		deletedCol = len(header) - 1
		writeHeader = true
	}

	if writeHeader {
		if err := r.store.WriteHeaderRow(ctx, header); err != nil {
			return stats, fmt.Errorf("Apply: writing header: %w", err)
		}
		log.Info().Strs("header", header).Msg("Wrote store header")
	}

	var index map[string]int
	var rowCount int
	if r.opts.UpsertAdded || len(modified) > 0 || len(changes.Removed) > 0 {
		rows, err := r.store.ScanRows(ctx)
		if err != nil {
			return stats, fmt.Errorf("Apply: scanning rows: %w", err)
		}
		index = make(map[string]int, len(rows))
		for i, row := range rows {
			if idCol < len(row) {
				if id := schema.CellString(row[idCol]); id != "" {
					index[id] = i
				}
			}
		}
		rowCount = len(rows)
	}

	dropped := map[string]struct{}{}
	align := func(p pending) sheet.Row {
		row, drop := schema.Align(p.flat, header)
		for _, k := range drop {
			dropped[k] = struct{}{}
		}
		return row
	}

	var appends []sheet.Row
	for _, p := range added {
		row := align(p)
		id := p.rec.ID()
		if r.opts.UpsertAdded && id != "" {
			if at, ok := index[id]; ok {
				if at >= rowCount {
					appends[at-rowCount] = row
				} else if err := r.store.UpdateRow(ctx, at, row); err != nil {
					return stats, fmt.Errorf("Apply: upserting %s: %w", id, err)
				}
				stats.Upserted++
				continue
			}
		}
		if index != nil && id != "" {
			index[id] = rowCount + len(appends)
		}
		appends = append(appends, row)
	}
	if len(appends) > 0 {
		if err := r.store.AppendRows(ctx, appends); err != nil {
			return stats, fmt.Errorf("Apply: appending rows: %w", err)
		}
		stats.Appended = len(appends)
	}

	updates := make(map[int]sheet.Row, len(modified))
	for _, p := range modified {
		id := p.rec.ID()
		at, ok := index[id]
		if !ok {
			stats.Unmatched++
			log.Warn().Str("transaction_id", id).Msg("Modified transaction not found in store")
			continue
		}
		updates[at] = align(p)
		stats.Updated++
	}
	if err := r.update(ctx, updates); err != nil {
		return stats, fmt.Errorf("Apply: %w", err)
	}

	for _, rm := range changes.Removed {
		at, ok := index[rm.ID]
		if !ok {
			stats.Unmatched++
			log.Warn().Str("transaction_id", rm.ID).Msg("Removed transaction not found in store")
			continue
		}
		if err := r.store.SetCell(ctx, at, deletedCol, true); err != nil {
			return stats, fmt.Errorf("Apply: flagging %s: %w", rm.ID, err)
		}
		stats.Flagged++
	}

	for k := range dropped {
		stats.DroppedFields = append(stats.DroppedFields, k)
	}
	sort.Strings(stats.DroppedFields)
	if len(stats.DroppedFields) > 0 {
		log.Warn().Strs("fields", stats.DroppedFields).Msg("Fields not in header were dropped")
	}

	stats.FormattedColumns = r.format(ctx, header)

	log.Info().
		Int("appended", stats.Appended).
		Int("updated", stats.Updated).
		Int("flagged", stats.Flagged).
		Int("upserted", stats.Upserted).
		Int("unmatched", stats.Unmatched).
		Msg("Reconciled change set")
	return stats, nil
}

// update overwrites rows keyed by position, in one call when the store
// supports batches.
func (r *Reconciler) update(ctx context.Context, rows map[int]sheet.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if u, ok := r.store.(sheet.RowsUpdater); ok {
		if err := u.UpdateRows(ctx, rows); err != nil {
			return fmt.Errorf("updating %d rows: %w", len(rows), err)
		}
		return nil
	}

	positions := make([]int, 0, len(rows))
	for at := range rows {
		positions = append(positions, at)
	}
	sort.Ints(positions)
	for _, at := range positions {
		if err := r.store.UpdateRow(ctx, at, rows[at]); err != nil {
			return fmt.Errorf("updating row %d: %w", at, err)
		}
	}
	return nil
}

// format applies column formats when the store supports them. Failures
// are logged only; formatting never affects stored values.
func (r *Reconciler) format(ctx context.Context, header []string) int {
	f, ok := r.store.(sheet.Formatter)
	if !ok {
		return 0
	}
	log := logger.FromContext(ctx)

	n := 0
	for col, name := range header {
		format, ok := ColumnFormatFor(name)
		if !ok {
			continue
		}
		if err := f.SetColumnFormat(ctx, col, format); err != nil {
			log.Warn().Err(err).Str("column", name).Msg("Failed to format column")
			continue
		}
		n++
	}
	return n
}

// ColumnFormatFor returns the presentation format of a header name.
func ColumnFormatFor(name string) (sheet.ColumnFormat, bool) {
	switch {
	case name == schema.DeletedColumn:
		return "", false
	case dateColumn.MatchString(name):
		return sheet.FormatDate, true
	case currencyColumn.MatchString(name):
		return sheet.FormatCurrency, true
	default:
		return "", false
	}
}

func firstRecord(changes aggregator.ChangeSet) *record.Object {
	if len(changes.Added) > 0 {
		return changes.Added[0]
	}
	if len(changes.Modified) > 0 {
		return changes.Modified[0]
	}
	return nil
}

func flattenAll(recs []*record.Object) []pending {
	out := make([]pending, 0, len(recs))
	for _, rec := range recs {
		out = append(out, pending{rec: rec, flat: schema.Flatten(rec, "")})
	}
	return out
}
