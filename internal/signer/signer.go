// Package signer authenticates outgoing aggregator requests.
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dvloznov/finance-sync/internal/credentials"
	"github.com/dvloznov/finance-sync/internal/syncerr"
)

// Freshness is how long a signed request stays valid.
const Freshness = 60 * time.Second

// Header names of the two signing schemes.
const (
	HeaderPlaidClientID = "PLAID-CLIENT-ID"
	HeaderPlaidSecret   = "PLAID-SECRET"

	HeaderAppID     = "App-id"
	HeaderSecret    = "Secret"
	HeaderExpiresAt = "Expires-at"
	HeaderSignature = "Signature"
)

// Signer adds authentication to a request whose body has already been
// serialized into body.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// Static sends the client id and secret unchanged on every call.
type Static struct {
	clientID string
	secret   string
}

// NewStatic creates a static-secret signer.
func NewStatic(set credentials.Set) (*Static, error) {
	if set.ClientID == "" || set.Secret == "" {
		return nil, syncerr.Configuration("NewStatic", "client id and secret are required", nil)
	}
	return &Static{clientID: set.ClientID, secret: set.Secret}, nil
}

// Sign implements the Signer interface.
func (s *Static) Sign(req *http.Request, _ []byte) error {
	req.Header.Set(HeaderPlaidClientID, s.clientID)
	req.Header.Set(HeaderPlaidSecret, s.secret)
	return nil
}

// RSA signs "{expiresAt}|{METHOD}|{url}|{body}" with RSA-SHA256. The expiry
// is recomputed for every request and never reused.
type RSA struct {
	appID  string
	secret string
	key    *rsa.PrivateKey
	now    func() time.Time
}

// Option configures an RSA signer.
type Option func(*RSA)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *RSA) { r.now = now }
}

// NewRSA creates a signer from a credential set holding a PEM private key.
func NewRSA(set credentials.Set, opts ...Option) (*RSA, error) {
	if set.ClientID == "" || set.Secret == "" {
		return nil, syncerr.Configuration("NewRSA", "app id and secret are required", nil)
	}
	key, err := ParsePrivateKey(set.PrivateKey)
	if err != nil {
		return nil, err
	}

	r := &RSA{appID: set.ClientID, secret: set.Secret, key: key, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Sign implements the Signer interface.
func (r *RSA) Sign(req *http.Request, body []byte) error {
	expiresAt := r.now().Add(Freshness).Unix()

	sig, err := r.Signature(expiresAt, req.Method, req.URL.String(), body)
	if err != nil {
		return err
	}

	req.Header.Set(HeaderAppID, r.appID)
	req.Header.Set(HeaderSecret, r.secret)
	req.Header.Set(HeaderExpiresAt, strconv.FormatInt(expiresAt, 10))
	req.Header.Set(HeaderSignature, sig)
	return nil
}

// Signature returns base64(RSA_SHA256(CanonicalString(...))).
func (r *RSA) Signature(expiresAt int64, method, url string, body []byte) (string, error) {
	digest := sha256.Sum256([]byte(CanonicalString(expiresAt, method, url, body)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, r.key, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("Signature: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// CanonicalString builds the signed payload.
func CanonicalString(expiresAt int64, method, url string, body []byte) string {
	return fmt.Sprintf("%d|%s|%s|%s", expiresAt, method, url, body)
}

// ParsePrivateKey decodes a PEM RSA key in PKCS#1 or PKCS#8 form.
func ParsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return nil, syncerr.Configuration("ParsePrivateKey", "private key is missing", nil)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, syncerr.Configuration("ParsePrivateKey", "private key is not PEM encoded", nil)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, syncerr.Configuration("ParsePrivateKey", "private key is malformed", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, syncerr.Configuration("ParsePrivateKey", fmt.Sprintf("expected RSA key, got %T", parsed), nil)
	}
	return key, nil
}

// For returns the signer matching integration.
func For(integration credentials.Integration, set credentials.Set, opts ...Option) (Signer, error) {
	switch integration {
	case credentials.Plaid:
		s, err := NewStatic(set)
		if err != nil {
			return nil, err
		}
		return s, nil
	case credentials.SaltEdge:
		s, err := NewRSA(set, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, syncerr.Configuration("signer.For", fmt.Sprintf("unknown integration %q", integration), nil)
	}
}
