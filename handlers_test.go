package leadguard

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testClientIP = "203.0.113.7"
	browserUA    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

type serverFixture struct {
	server  *Server
	sink    *captureSink
	metrics *InMemoryMetricsCollector
	ledger  *MemoryLedger
	tokens  *TokenService
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	f := &serverFixture{
		sink:    &captureSink{},
		metrics: NewInMemoryMetricsCollector(),
		ledger:  NewMemoryLedger(time.Hour),
	}

	store := NewInMemoryGuardStore()
	limiter := NewLimiter(store)

	var err error
	f.tokens, err = NewTokenService("handler-test-secret")
	require.NoError(t, err)

	orchestrator := NewOrchestrator(limiter, f.tokens, NewClassifier(DefaultSignatures()),
		WithSink(f.sink, "owner@example.com"),
		WithLedger(f.ledger),
		WithOrchestratorMetrics(f.metrics),
	)

	profiler := NewTrafficProfiler(time.Minute, 64)
	edge := NewEdgeFilter(
		WithBlockedCIDRs([]string{"192.0.2.0/24"}),
		WithEdgeProfiler(profiler),
		WithEdgeMetrics(f.metrics),
	)

	f.server = NewServer(f.tokens, orchestrator, store, edge,
		WithServerLedger(f.ledger),
		WithServerProfiler(profiler),
		WithServerMetrics(f.metrics),
	)
	return f
}

func (f *serverFixture) request(t *testing.T, method, path string, body []byte, tweak func(*http.Request)) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Forwarded-For", testClientIP)
	req.Header.Set("User-Agent", browserUA)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tweak != nil {
		tweak(req)
	}
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func (f *serverFixture) issueToken(t *testing.T) *IssuedToken {
	t.Helper()
	resp := f.request(t, http.MethodGet, "/api/csrf", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var issued IssuedToken
	decodeJSON(t, resp, &issued)
	require.NotEmpty(t, issued.Token)
	require.Len(t, issued.Fingerprint, 16)
	return &issued
}

func (f *serverFixture) submitBody(t *testing.T) []byte {
	t.Helper()
	issued := f.issueToken(t)
	sub := validSubmission(time.Now())
	sub.CSRFToken = issued.Token
	sub.Fingerprint = issued.Fingerprint
	body, err := json.Marshal(sub)
	require.NoError(t, err)
	return body
}

func TestServerIssuesTokens(t *testing.T) {
	f := newServerFixture(t)
	issued := f.issueToken(t)
	assert.Greater(t, issued.Expires, time.Now().UnixMilli())
	assert.Equal(t, int64(1), f.metrics.CounterValue("inquiry_tokens_issued_total", nil))
}

func TestServerAcceptsSubmission(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/api/send", f.submitBody(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 1, f.sink.calls)
}

func TestServerRejectsForgedToken(t *testing.T) {
	f := newServerFixture(t)

	sub := validSubmission(time.Now())
	sub.CSRFToken = "forged"
	sub.Fingerprint = "0123456789abcdef"
	body, err := json.Marshal(sub)
	require.NoError(t, err)

	resp := f.request(t, http.MethodPost, "/api/send", body, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, defaultMessages[ReasonInvalidToken], out["error"])
	assert.NotContains(t, out, "reason", "the machine tag stays server side")
	assert.Zero(t, f.sink.calls)
}

func TestServerRejectsTokenFromDifferentClient(t *testing.T) {
	f := newServerFixture(t)
	body := f.submitBody(t)

	resp := f.request(t, http.MethodPost, "/api/send", body, func(req *http.Request) {
		req.Header.Set("X-Forwarded-For", "198.51.100.200")
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerRateLimitsSubmissions(t *testing.T) {
	f := newServerFixture(t)
	body := f.submitBody(t)

	for i := 0; i < DefaultMaxRequests; i++ {
		resp := f.request(t, http.MethodPost, "/api/send", body, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp := f.request(t, http.MethodPost, "/api/send", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestServerRejectsMalformedBody(t *testing.T) {
	f := newServerFixture(t)
	resp := f.request(t, http.MethodPost, "/api/send", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out map[string]any
	decodeJSON(t, resp, &out)
	assert.Equal(t, defaultMessages[ReasonMalformedInput], out["error"])
	assert.NotContains(t, out, "reason")
}

func TestServerMalformedBodiesAreCharged(t *testing.T) {
	f := newServerFixture(t)

	for i := 0; i < DefaultMaxRequests; i++ {
		resp := f.request(t, http.MethodPost, "/api/send", []byte("{not json"), nil)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "attempt %d", i+1)
	}

	// The garbage attempts filled the window, so even a well-formed
	// submission from the same client now bounces.
	resp := f.request(t, http.MethodPost, "/api/send", []byte("{not json"), nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = f.request(t, http.MethodPost, "/api/send", f.submitBody(t), nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Zero(t, f.sink.calls)
}

func TestServerEdgeBlocksAutomatedClients(t *testing.T) {
	f := newServerFixture(t)

	for _, ua := range []string{"curl/8.4.0", "python-requests/2.31", "Googlebot/2.1", ""} {
		resp := f.request(t, http.MethodGet, "/api/csrf", nil, func(req *http.Request) {
			req.Header.Set("User-Agent", ua)
			if ua == "" {
				req.Header.Del("User-Agent")
			}
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "user agent %q", ua)
	}
}

func TestServerEdgeBlocksDeniedNetworks(t *testing.T) {
	f := newServerFixture(t)
	resp := f.request(t, http.MethodGet, "/api/csrf", nil, func(req *http.Request) {
		req.Header.Set("X-Forwarded-For", "192.0.2.50")
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestServerEdgeRejectsSuspiciousHeaders(t *testing.T) {
	f := newServerFixture(t)
	for _, h := range []string{"X-Forwarded-Host", "X-Original-URL", "X-Rewrite-URL"} {
		resp := f.request(t, http.MethodGet, "/api/csrf", nil, func(req *http.Request) {
			req.Header.Set(h, "evil.example")
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "header %s", h)
	}
}

func TestServerEdgeRequiresJSONOnPost(t *testing.T) {
	f := newServerFixture(t)
	resp := f.request(t, http.MethodPost, "/api/send", f.submitBody(t), func(req *http.Request) {
		req.Header.Set("Content-Type", "text/plain")
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerSecurityHeaders(t *testing.T) {
	f := newServerFixture(t)
	resp := f.request(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "nonce-")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestServerHealthAndMetrics(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	decodeJSON(t, resp, &health)
	assert.Equal(t, "ok", health["status"])

	f.issueToken(t)
	resp = f.request(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "inquiry_tokens_issued_total 1")
}

func TestServerGuardSummary(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/api/send", f.submitBody(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.request(t, http.MethodGet, "/api/guard/summary", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary LedgerSummary
	decodeJSON(t, resp, &summary)
	assert.Equal(t, 1, summary.Accepted)
}

func TestServerTrafficProfile(t *testing.T) {
	f := newServerFixture(t)
	f.issueToken(t)

	resp := f.request(t, http.MethodGet, "/api/guard/profile?ip="+testClientIP, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap TrafficSnapshot
	decodeJSON(t, resp, &snap)
	assert.GreaterOrEqual(t, snap.Requests, 1)

	resp = f.request(t, http.MethodGet, "/api/guard/profile", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
