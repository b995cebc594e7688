package reconcile

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/aggregator"
	"github.com/dvloznov/finance-sync/internal/record"
	"github.com/dvloznov/finance-sync/internal/sheet"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

// recordingStore counts every mutating call on top of an in-memory store.
type recordingStore struct {
	*sheet.Memory
	headerWrites int
	appends      int
	updates      int
	cellWrites   int
	scans        int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: sheet.NewMemory()}
}

func (s *recordingStore) WriteHeaderRow(ctx context.Context, header []string) error {
	s.headerWrites++
	return s.Memory.WriteHeaderRow(ctx, header)
}

func (s *recordingStore) AppendRows(ctx context.Context, rows []sheet.Row) error {
	s.appends++
	return s.Memory.AppendRows(ctx, rows)
}

func (s *recordingStore) ScanRows(ctx context.Context) ([]sheet.Row, error) {
	s.scans++
	return s.Memory.ScanRows(ctx)
}

func (s *recordingStore) UpdateRow(ctx context.Context, index int, row sheet.Row) error {
	s.updates++
	return s.Memory.UpdateRow(ctx, index, row)
}

func (s *recordingStore) SetCell(ctx context.Context, row, col int, value any) error {
	s.cellWrites++
	return s.Memory.SetCell(ctx, row, col, value)
}

func (s *recordingStore) mutations() int {
	return s.headerWrites + s.appends + s.updates + s.cellWrites
}

func obj(t *testing.T, raw string) *record.Object {
	t.Helper()
	o := record.New()
	require.NoError(t, json.Unmarshal([]byte(raw), o))
	return o
}

func seedABC(t *testing.T, store *recordingStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WriteHeaderRow(ctx, []string{"transaction_id", "amount", "name", "deleted"}))
	require.NoError(t, store.AppendRows(ctx, []sheet.Row{
		{"A", decimal.NewFromInt(1), "coffee", false},
		{"B", decimal.NewFromInt(2), "lunch", false},
		{"C", decimal.NewFromInt(3), "rent", false},
	}))
	store.headerWrites, store.appends = 0, 0
}

func TestApply_ModifiedAndRemoved(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	seedABC(t, store)
	before, _ := store.ScanRows(ctx)
	store.scans = 0

	changes := aggregator.ChangeSet{
		Modified: []*record.Object{obj(t, `{"transaction_id":"B","amount":20.5,"name":"dinner"}`)},
		Removed:  []aggregator.Removal{{ID: "C"}},
	}

	stats, err := New(store, Options{}).Apply(ctx, changes)
	require.NoError(t, err)

	rows, err := store.ScanRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3, "row count is unchanged")

	assert.Equal(t, before[0], rows[0], "row A is untouched")
	assert.Equal(t, "B", rows[1][0])
	assert.True(t, decimal.RequireFromString("20.5").Equal(rows[1][1].(decimal.Decimal)))
	assert.Equal(t, "dinner", rows[1][2])
	assert.Equal(t, false, rows[1][3])
	assert.Equal(t, sheet.Row{"C", decimal.NewFromInt(3), "rent", true}, rows[2])

	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Flagged)
	assert.Equal(t, 0, stats.Appended)
	assert.Equal(t, 0, store.appends)
	assert.Equal(t, 2, store.scans, "one reconcile scan plus the assertion scan")
}

func TestApply_AddedAppendsInOrder(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	seedABC(t, store)

	changes := aggregator.ChangeSet{Added: []*record.Object{
		obj(t, `{"transaction_id":"D","amount":4,"name":"gym"}`),
		obj(t, `{"transaction_id":"E","name":"books"}`),
	}}

	stats, err := New(store, Options{}).Apply(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Appended)

	rows, _ := store.ScanRows(ctx)
	require.Len(t, rows, 5)
	assert.Equal(t, "D", rows[3][0])
	assert.Equal(t, sheet.Row{"E", "", "books", false}, rows[4], "missing fields are empty strings")
}

func TestApply_BlindAppendDuplicatesByDefault(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	seedABC(t, store)

	changes := aggregator.ChangeSet{Added: []*record.Object{obj(t, `{"transaction_id":"A","amount":1,"name":"coffee"}`)}}
	_, err := New(store, Options{}).Apply(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, 4, store.Len())
}

func TestApply_UpsertAdded(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	seedABC(t, store)

	changes := aggregator.ChangeSet{Added: []*record.Object{
		obj(t, `{"transaction_id":"A","amount":9,"name":"espresso"}`),
		obj(t, `{"transaction_id":"F","amount":6,"name":"taxi"}`),
		obj(t, `{"transaction_id":"F","amount":7,"name":"taxi home"}`),
	}}
	stats, err := New(store, Options{UpsertAdded: true}).Apply(ctx, changes)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Upserted)
	assert.Equal(t, 1, stats.Appended)

	rows, _ := store.ScanRows(ctx)
	require.Len(t, rows, 4)
	assert.Equal(t, "espresso", rows[0][2])
	assert.Equal(t, "taxi home", rows[3][2])
}

func TestApply_DerivesHeaderOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()

	changes := aggregator.ChangeSet{Added: []*record.Object{
		obj(t, `{"id":"x","amount":10,"location":{"city":"A"}}`),
		obj(t, `{"id":"y","amount":11,"location":{"city":"B"},"extra":"z"}`),
	}}
	stats, err := New(store, Options{}).Apply(ctx, changes)
	require.NoError(t, err)

	header, _ := store.HeaderRow(ctx)
	assert.Equal(t, []string{"id", "amount", "location.city", "deleted"}, header)
	assert.True(t, stats.HeaderDerived)
	assert.Equal(t, []string{"extra"}, stats.DroppedFields)
	assert.Equal(t, 2, store.Len())
}

func TestApply_EmptyStoreWithoutRecord(t *testing.T) {
	store := newRecordingStore()
	changes := aggregator.ChangeSet{Removed: []aggregator.Removal{{ID: "gone"}}}

	_, err := New(store, Options{}).Apply(context.Background(), changes)
	require.Error(t, err)
	assert.True(t, syncerr.IsDataShape(err))
	assert.Zero(t, store.mutations())
}

func TestApply_MissingIDColumnIsFatal(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	require.NoError(t, store.WriteHeaderRow(ctx, []string{"name", "amount", "deleted"}))
	require.NoError(t, store.AppendRows(ctx, []sheet.Row{{"coffee", "1", false}}))
	store.headerWrites, store.appends = 0, 0

	changes := aggregator.ChangeSet{
		Added:    []*record.Object{obj(t, `{"transaction_id":"A","name":"x"}`)},
		Modified: []*record.Object{obj(t, `{"transaction_id":"B","name":"y"}`)},
		Removed:  []aggregator.Removal{{ID: "C"}},
	}
	_, err := New(store, Options{UpsertAdded: true, GrowHeader: true}).Apply(ctx, changes)
	require.Error(t, err)
	assert.True(t, syncerr.IsConfiguration(err))
	assert.Zero(t, store.mutations(), "nothing may be written before the id guard")
	assert.Equal(t, 1, store.Len())
}

func TestApply_DerivedHeaderWithoutIDIsFatal(t *testing.T) {
	store := newRecordingStore()
	changes := aggregator.ChangeSet{Added: []*record.Object{obj(t, `{"name":"no id"}`)}}

	_, err := New(store, Options{}).Apply(context.Background(), changes)
	assert.True(t, syncerr.IsConfiguration(err))
	assert.Zero(t, store.mutations())
}

func TestApply_EmptyChangeSetIsNoOp(t *testing.T) {
	store := newRecordingStore()
	seedABC(t, store)

	stats, err := New(store, Options{}).Apply(context.Background(), aggregator.ChangeSet{})
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.Zero(t, store.mutations())
	assert.Zero(t, store.scans)
}

func TestApply_GrowHeader(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	seedABC(t, store)

	changes := aggregator.ChangeSet{Added: []*record.Object{
		obj(t, `{"transaction_id":"G","name":"fuel","merchant":{"name":"Shell"}}`),
	}}
	stats, err := New(store, Options{GrowHeader: true}).Apply(ctx, changes)
	require.NoError(t, err)

	header, _ := store.HeaderRow(ctx)
	assert.Equal(t, []string{"transaction_id", "amount", "name", "deleted", "merchant.name"}, header)
	assert.Equal(t, []string{"merchant.name"}, stats.AddedColumns)
	assert.Empty(t, stats.DroppedFields)

	rows, _ := store.ScanRows(ctx)
	assert.Equal(t, sheet.Row{"G", "", "fuel", false, "Shell"}, rows[3])
	assert.Equal(t, sheet.Row{"A", decimal.NewFromInt(1), "coffee", false, ""}, rows[0], "old rows pad to the new width")
}

func TestApply_UnmatchedIDsAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	seedABC(t, store)

	changes := aggregator.ChangeSet{
		Modified: []*record.Object{obj(t, `{"transaction_id":"Z","name":"ghost"}`)},
		Removed:  []aggregator.Removal{{ID: "Y"}},
	}
	stats, err := New(store, Options{}).Apply(ctx, changes)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Unmatched)
	assert.Zero(t, store.updates+store.cellWrites)
}

func TestApply_ModifyAfterAddInSameCycle(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	seedABC(t, store)

	changes := aggregator.ChangeSet{
		Added:    []*record.Object{obj(t, `{"transaction_id":"H","name":"pending"}`)},
		Modified: []*record.Object{obj(t, `{"transaction_id":"H","name":"posted"}`)},
	}
	_, err := New(store, Options{}).Apply(ctx, changes)
	require.NoError(t, err)

	rows, _ := store.ScanRows(ctx)
	require.Len(t, rows, 4)
	assert.Equal(t, "posted", rows[3][2])
}

func TestApply_FormatsColumns(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()

	changes := aggregator.ChangeSet{Added: []*record.Object{
		obj(t, `{"transaction_id":"A","amount":1,"authorized_date":"2024-01-02","created_at":"x","balance":{"current":5},"name":"n"}`),
	}}
	stats, err := New(store, Options{}).Apply(ctx, changes)
	require.NoError(t, err)

	assert.Equal(t, map[int]sheet.ColumnFormat{
		1: sheet.FormatCurrency,
		2: sheet.FormatDate,
		3: sheet.FormatDate,
		4: sheet.FormatCurrency,
	}, store.Formats())
	assert.Equal(t, 4, stats.FormattedColumns)
}

// batchStore accepts modified rows in one UpdateRows call.
type batchStore struct {
	*recordingStore
	batches [][]int
}

func (s *batchStore) UpdateRows(ctx context.Context, rows map[int]sheet.Row) error {
	var positions []int
	for at, row := range rows {
		positions = append(positions, at)
		if err := s.Memory.UpdateRow(ctx, at, row); err != nil {
			return err
		}
	}
	s.batches = append(s.batches, positions)
	return nil
}

func TestApply_ModifiedRowsUseOneBatch(t *testing.T) {
	ctx := context.Background()
	store := &batchStore{recordingStore: newRecordingStore()}
	seedABC(t, store.recordingStore)

	stats, err := New(store, Options{}).Apply(ctx, aggregator.ChangeSet{
		Modified: []*record.Object{
			obj(t, `{"transaction_id":"A","amount":10,"name":"coffee"}`),
			obj(t, `{"transaction_id":"C","amount":30,"name":"rent"}`),
			obj(t, `{"transaction_id":"Z","amount":0}`),
		},
	})
	require.NoError(t, err)

	require.Len(t, store.batches, 1)
	assert.ElementsMatch(t, []int{0, 2}, store.batches[0])
	assert.Zero(t, store.updates, "no per-row updates when the store batches")
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 1, stats.Unmatched)

	rows, err := store.ScanRows(ctx)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(rows[2][1].(decimal.Decimal)))
}

// gatedStore holds its first ScanRows until release is closed.
type gatedStore struct {
	*sheet.Memory
	once    sync.Once
	scanned chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Memory:  sheet.NewMemory(),
		scanned: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedStore) ScanRows(ctx context.Context) ([]sheet.Row, error) {
	rows, err := s.Memory.ScanRows(ctx)
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.scanned)
		<-s.release
	}
	return rows, err
}

func TestApply_ConcurrentAppliesDoNotInterleave(t *testing.T) {
	ctx := context.Background()
	store := newGatedStore()
	require.NoError(t, store.WriteHeaderRow(ctx, []string{"transaction_id", "amount", "deleted"}))
	require.NoError(t, store.AppendRows(ctx, []sheet.Row{{"b0", decimal.NewFromInt(1), false}}))

	r := New(store, Options{})
	first := aggregator.ChangeSet{
		Added:   []*record.Object{obj(t, `{"transaction_id":"a1","amount":5}`)},
		Removed: []aggregator.Removal{{ID: "a1"}},
	}
	other := aggregator.ChangeSet{
		Added: []*record.Object{obj(t, `{"transaction_id":"b1","amount":5}`)},
	}

	errs := make(chan error, 2)
	go func() {
		_, err := r.Apply(ctx, first)
		errs <- err
	}()
	<-store.scanned

	second := make(chan struct{})
	go func() {
		_, err := r.Apply(ctx, other)
		errs <- err
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second apply finished while the first held its scan")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	rows, err := store.Memory.ScanRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "b0", rows[0][0])
	assert.Equal(t, false, rows[0][2])
	assert.Equal(t, "a1", rows[1][0])
	assert.Equal(t, true, rows[1][2], "the removal flags a1, not the row appended after it")
	assert.Equal(t, "b1", rows[2][0])
	assert.Equal(t, false, rows[2][2])
}

func TestApply_ConcurrentFirstSyncsWriteHeaderOnce(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	r := New(store, Options{})

	var wg sync.WaitGroup
	for _, raw := range []string{`{"transaction_id":"A","amount":1}`, `{"transaction_id":"B","amount":1}`} {
		changes := aggregator.ChangeSet{Added: []*record.Object{obj(t, raw)}}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Apply(ctx, changes)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.headerWrites)
	assert.Equal(t, 2, store.Len())
}

func TestColumnFormatFor(t *testing.T) {
	tests := []struct {
		name string
		want sheet.ColumnFormat
		ok   bool
	}{
		{"date", sheet.FormatDate, true},
		{"datetime", sheet.FormatDate, true},
		{"made_on", "", false},
		{"updated_at", sheet.FormatDate, true},
		{"amount", sheet.FormatCurrency, true},
		{"balance.available", sheet.FormatCurrency, true},
		{"deleted", "", false},
		{"name", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ColumnFormatFor(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
