package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

func generateKey(t *testing.T) (*rsa.PrivateKey, string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pkcs1 := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pkcs8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return key, string(pkcs1), string(pkcs8)
}

func TestStatic(t *testing.T) {
	s, err := NewStatic(credentials.Set{ClientID: "cid", Secret: "sec"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, "https://sandbox.plaid.com/transactions/sync", nil)
		require.NoError(t, s.Sign(req, []byte(`{}`)))
		assert.Equal(t, "cid", req.Header.Get(HeaderPlaidClientID))
		assert.Equal(t, "sec", req.Header.Get(HeaderPlaidSecret))
	}

	_, err = NewStatic(credentials.Set{ClientID: "cid"})
	assert.True(t, syncerr.IsConfiguration(err))
}

func TestRSA_SignVerifies(t *testing.T) {
	key, pkcs1, _ := generateKey(t)
	now := time.Unix(1_700_000_000, 0)

	s, err := NewRSA(credentials.Set{ClientID: "app", Secret: "sec", PrivateKey: pkcs1}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	body := []byte(`{"data":{}}`)
	req, _ := http.NewRequest(http.MethodGet, "https://www.saltedge.com/api/v5/transactions?connection_id=1", nil)
	require.NoError(t, s.Sign(req, body))

	assert.Equal(t, "app", req.Header.Get(HeaderAppID))
	assert.Equal(t, "sec", req.Header.Get(HeaderSecret))
	assert.Equal(t, strconv.FormatInt(now.Add(60*time.Second).Unix(), 10), req.Header.Get(HeaderExpiresAt))

	sig, err := base64.StdEncoding.DecodeString(req.Header.Get(HeaderSignature))
	require.NoError(t, err)
	canonical := "1700000060|GET|https://www.saltedge.com/api/v5/transactions?connection_id=1|" + string(body)
	digest := sha256.Sum256([]byte(canonical))
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
}

func TestRSA_ExpiryRecomputedPerRequest(t *testing.T) {
	_, _, pkcs8 := generateKey(t)
	current := time.Unix(1_700_000_000, 0)

	s, err := NewRSA(credentials.Set{ClientID: "app", Secret: "sec", PrivateKey: pkcs8}, WithClock(func() time.Time { return current }))
	require.NoError(t, err)

	first, _ := http.NewRequest(http.MethodGet, "https://example.test/a", nil)
	require.NoError(t, s.Sign(first, nil))

	current = current.Add(5 * time.Second)
	second, _ := http.NewRequest(http.MethodGet, "https://example.test/a", nil)
	require.NoError(t, s.Sign(second, nil))

	assert.NotEqual(t, first.Header.Get(HeaderExpiresAt), second.Header.Get(HeaderExpiresAt))
}

func TestParsePrivateKeyErrors(t *testing.T) {
	tests := []struct {
		name string
		pem  string
	}{
		{"missing", ""},
		{"not pem", "not a key"},
		{"garbage block", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte("junk")}))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePrivateKey(tt.pem)
			require.Error(t, err)
			assert.True(t, syncerr.IsConfiguration(err))
		})
	}
}

func TestFor(t *testing.T) {
	_, pkcs1, _ := generateKey(t)

	s, err := For(credentials.Plaid, credentials.Set{ClientID: "a", Secret: "b"})
	require.NoError(t, err)
	assert.IsType(t, &Static{}, s)

	s, err = For(credentials.SaltEdge, credentials.Set{ClientID: "a", Secret: "b", PrivateKey: pkcs1})
	require.NoError(t, err)
	assert.IsType(t, &RSA{}, s)

	_, err = For(credentials.SaltEdge, credentials.Set{ClientID: "a", Secret: "b"})
	assert.True(t, syncerr.IsConfiguration(err), "signed integration without a key is fatal")
}

func TestCanonicalString(t *testing.T) {
	got := CanonicalString(10, "POST", "https://x/y", []byte(`{"a":1}`))
	assert.True(t, strings.HasPrefix(got, "10|POST|https://x/y|"))
	assert.Equal(t, `10|POST|https://x/y|{"a":1}`, got)
}
