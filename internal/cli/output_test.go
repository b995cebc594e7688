package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextReports_Golden(t *testing.T) {
	var buf bytes.Buffer
	out := &OutputFormatter{Format: "text", Writer: &buf}

	reports := []interface{}{
		syncReport{ItemID: "item-1", CursorAfter: "c9", Pages: 2, Added: 3, Modified: 1, Removed: 1, Appended: 3, Updated: 1, Flagged: 1},
		syncReports{
			{ItemID: "item-1", CursorAfter: "c1", Pages: 1, Added: 2, Appended: 2},
			{ItemID: "item-2", CursorAfter: "", Pages: 1},
		},
		resetReport{ItemID: "item-1", CursorsRemoved: 2},
		disconnectReport{ItemID: "item-1", CursorsRemoved: 1, RemoteError: "timeout"},
		disconnectReport{ItemID: "conn-1", RemoteRevoked: true},
		savedReport{What: "credentials", Integration: "plaid", Environment: "sandbox"},
		purgeReport{Environment: "sandbox", KeysRemoved: 4},
	}
	for _, r := range reports {
		require.NoError(t, out.Success(r))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "text_reports", buf.Bytes())
}

func TestJSONEnvelope(t *testing.T) {
	var buf bytes.Buffer
	out := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, out.Success(purgeReport{Environment: "sandbox", KeysRemoved: 4}))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, map[string]any{"environment": "sandbox", "keys_removed": float64(4)}, resp["data"])
}
