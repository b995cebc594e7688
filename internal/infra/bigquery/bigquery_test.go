package bigquery

import (
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/sheet"
)

func TestDataset_Table(t *testing.T) {
	ds := Dataset{ProjectID: "proj", DatasetID: "ds"}
	assert.Equal(t, "`proj.ds.sheet_rows`", ds.Table(sheetRowsTable))

	ds.DatasetID = ""
	assert.Equal(t, "`proj.finsync.sync_runs`", ds.Table(syncRunsTable))
}

func TestDataset_Validate(t *testing.T) {
	assert.Error(t, Dataset{}.Validate())
	assert.NoError(t, Dataset{ProjectID: "proj"}.Validate())
}

func TestEncodeAppend(t *testing.T) {
	params, err := encodeAppend([]sheet.Row{
		{"A", decimal.RequireFromString("1.50"), false},
		{"B", nil, true},
	})
	require.NoError(t, err)
	assert.Equal(t, []appendParam{
		{Idx: 0, Cells: `["A","1.5","false"]`},
		{Idx: 1, Cells: `["B","","true"]`},
	}, params)
}

func TestEncodeUpdates(t *testing.T) {
	params, err := encodeUpdates(map[int]sheet.Row{
		7: {"C", "3", true},
		2: {"A", decimal.NewFromInt(10), false},
	})
	require.NoError(t, err)
	assert.Equal(t, []updateParam{
		{Position: 2, Cells: `["A","10","false"]`},
		{Position: 7, Cells: `["C","3","true"]`},
	}, params)
}

func TestDecodeCells(t *testing.T) {
	rows, err := decodeCells([]SheetCellsRow{
		{Sheet: "tx", Position: 0, Cells: `["A","1"]`},
		{Sheet: "tx", Position: 1, Cells: `["B"]`},
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, []sheet.Row{{"A", "1", ""}, {"B", "", ""}}, rows)

	_, err = decodeCells([]SheetCellsRow{{Position: 4, Cells: "not json"}}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 4")
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "", truncateError(nil))
	assert.Equal(t, "boom", truncateError(errors.New("boom")))
	assert.Len(t, truncateError(errors.New(strings.Repeat("x", 5000))), maxErrorLen)
}

func TestMigrations_Embedded(t *testing.T) {
	names, err := fs.Glob(Migrations, "migrations/*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations/0001_sheet_tables.sql", "migrations/0002_sync_runs.sql"}, names)

	for _, name := range names {
		raw, err := fs.ReadFile(Migrations, name)
		require.NoError(t, err)
		assert.Contains(t, string(raw), "{{PROJECT_ID}}.{{DATASET_ID}}", name)
	}
}
