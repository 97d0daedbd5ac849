package leadguard

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// DefaultTokenTTL is how long an issued token stays verifiable.
	DefaultTokenTTL = 15 * time.Minute

	sessionIDBytes = 32
	macKeyInfo     = "leadguard anti-forgery token mac"
)

// tokenPayload is the self-describing token body. No server-side record is
// kept; validity is re-derived from this payload and the companion
// fingerprint at verification time.
type tokenPayload struct {
	SessionID string `json:"sessionId"`
	IssuedAt  int64  `json:"issuedAt"`
	UserAgent string `json:"userAgent"`
	ClientID  string `json:"clientId"`
	Expires   int64  `json:"expires"`
}

// TokenService issues and verifies stateless anti-forgery tokens. With a
// secret configured the serialized payload carries an HMAC-SHA256 signature
// under an HKDF-derived key; without one the bare payload is used and the
// fingerprint binding alone provides tamper resistance (the constrained
// deployment fallback).
type TokenService struct {
	macKey []byte
	ttl    time.Duration
	clock  func() time.Time
	rand   io.Reader
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithTokenClock overrides the wall clock, for tests.
func WithTokenClock(clock func() time.Time) TokenOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.clock = clock
		}
	}
}

// WithTokenTTL overrides the token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.ttl = ttl
		}
	}
}

// NewTokenService creates a token service. secret may be empty, which
// disables the keyed MAC and leaves fingerprint binding as the only
// integrity check.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	ts := &TokenService{
		ttl:   DefaultTokenTTL,
		clock: time.Now,
		rand:  rand.Reader,
	}
	if secret != "" {
		key := make([]byte, sha256.Size)
		kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(macKeyInfo))
		if _, err := io.ReadFull(kdf, key); err != nil {
			return nil, fmt.Errorf("derive token mac key: %w", err)
		}
		ts.macKey = key
	}
	for _, opt := range opts {
		opt(ts)
	}
	return ts, nil
}

// IssuedToken is the result of a token-issuance request.
type IssuedToken struct {
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
	Expires     int64  `json:"expires"`
}

// Issue mints a fresh token bound to the given identity and returns it with
// its companion fingerprint. The only side effect is randomness consumption.
func (ts *TokenService) Issue(identity ClientIdentity) (*IssuedToken, error) {
	raw := make([]byte, sessionIDBytes)
	if _, err := io.ReadFull(ts.rand, raw); err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	sessionID := hex.EncodeToString(raw)

	now := ts.clock().UnixMilli()
	payload := tokenPayload{
		SessionID: sessionID,
		IssuedAt:  now,
		UserAgent: identity.UserAgent,
		ClientID:  identity.Key(),
		Expires:   now + ts.ttl.Milliseconds(),
	}
	token, err := ts.encode(payload)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{
		Token:       token,
		Fingerprint: Fingerprint(identity.UserAgent, identity.Key(), sessionID),
		Expires:     payload.Expires,
	}, nil
}

// Verify checks a presented token and fingerprint against the identity
// observed on the current request. Fails closed: any parse error, MAC
// mismatch, expiry, or fingerprint mismatch means invalid. No store is
// consulted.
func (ts *TokenService) Verify(token, fingerprint string, current ClientIdentity) bool {
	payload, ok := ts.decode(token)
	if !ok {
		return false
	}
	if ts.clock().UnixMilli() > payload.Expires {
		return false
	}
	// Bind to the identity observed now, not the one at issuance: a token
	// replayed from a different network context computes a different digest.
	expected := Fingerprint(current.UserAgent, current.Key(), payload.SessionID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(fingerprint)) == 1
}

func (ts *TokenService) encode(payload tokenPayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	if ts.macKey == nil {
		return encoded, nil
	}
	return encoded + "." + ts.sign(encoded), nil
}

func (ts *TokenService) decode(token string) (*tokenPayload, bool) {
	encoded := token
	if ts.macKey != nil {
		parts := strings.Split(token, ".")
		if len(parts) != 2 {
			return nil, false
		}
		encoded = parts[0]
		if subtle.ConstantTimeCompare([]byte(ts.sign(encoded)), []byte(parts[1])) != 1 {
			return nil, false
		}
	}
	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	var payload tokenPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, false
	}
	if payload.SessionID == "" || payload.Expires == 0 {
		return nil, false
	}
	return &payload, true
}

func (ts *TokenService) sign(encoded string) string {
	mac := hmac.New(sha256.New, ts.macKey)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
