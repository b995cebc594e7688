package kvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		env    string
		parts  []string
		want   string
	}{
		{"credential", "plaid.secret", "sandbox", nil, "plaid.secret:sandbox"},
		{"item cursor", "plaid.cursor", "production", []string{"item-1"}, "plaid.cursor:production:item-1"},
		{"account cursor", "saltedge.cursor", "sandbox", []string{"conn-1", "acc-9"}, "saltedge.cursor:sandbox:conn-1:acc-9"},
		{"empty account skipped", "saltedge.cursor", "sandbox", []string{"conn-1", ""}, "saltedge.cursor:sandbox:conn-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.prefix, tt.env, tt.parts...))
		})
	}
}

func TestKeyEnvironmentsNeverCollide(t *testing.T) {
	assert.NotEqual(t,
		Key("plaid.cursor", "sandbox", "item-1"),
		Key("plaid.cursor", "production", "item-1"))
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "a:sandbox:1", "one"))
	require.NoError(t, m.Set(ctx, "a:sandbox:2", "two"))
	require.NoError(t, m.Set(ctx, "a:production:1", "prod"))

	v, ok, err := m.Get(ctx, "a:sandbox:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	keys, err := m.Keys(ctx, Prefix("a", "sandbox"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a:sandbox:1", "a:sandbox:2"}, keys)

	require.NoError(t, m.Delete(ctx, "a:sandbox:1"))
	require.NoError(t, m.Delete(ctx, "never-set"))

	_, ok, err = m.Get(ctx, "a:sandbox:1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, m.Snapshot(), 2)
}
