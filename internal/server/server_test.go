package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Gatekeep/internal/limiter"
	"github.com/SmitUplenchwar2687/Gatekeep/internal/recorder"
)

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "192.0.2.10:5000"
	req.Header.Set("User-Agent", "gatekeep-test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_Root(t *testing.T) {
	ts := newTestServer(t)
	w := do(t, ts.srv.Handler(), http.MethodGet, "/")

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "gatekeep", body["service"])
	assert.Equal(t, []any{"login", "search"}, body["policies"])
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, do(t, ts.srv.Handler(), http.MethodGet, "/health").Code)

	require.NoError(t, ts.store.Close())
	w := do(t, ts.srv.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unavailable")
}

func TestServer_Policies(t *testing.T) {
	ts := newTestServer(t)
	w := do(t, ts.srv.Handler(), http.MethodGet, "/api/policies")

	require.Equal(t, http.StatusOK, w.Code)
	var policies []limiter.Policy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &policies))
	require.Len(t, policies, 2)
	assert.Equal(t, "login", policies[0].Name)
	assert.Equal(t, 24*time.Hour, policies[0].Window)
}

func TestServer_UnknownPolicy(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, ts.srv.Handler(), http.MethodGet, "/api/check/nope").Code)
	assert.Equal(t, http.StatusNotFound, do(t, ts.srv.Handler(), http.MethodPost, "/api/attempt/nope").Code)
}

func TestServer_CheckDoesNotConsume(t *testing.T) {
	ts := newTestServer(t)
	for i := 0; i < 5; i++ {
		w := do(t, ts.srv.Handler(), http.MethodGet, "/api/check/login")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get(HeaderLimit))
	}
	assert.Zero(t, ts.recorder.Len(), "checks are not captured as attempts")
}

func TestServer_AttemptUntilDenied(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	w := do(t, h, http.MethodPost, "/api/attempt/login")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get(HeaderRemaining))

	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/attempt/login").Code)

	ts.clock.Advance(time.Hour)
	w = do(t, h, http.MethodPost, "/api/attempt/login")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// Now is 07:00; the day epoch ends at midnight.
	wantRetry := int64(17 * 3600)
	assert.Equal(t, strconv.FormatInt(wantRetry, 10), w.Header().Get(HeaderRetryAfter))
	assert.Equal(t, "0", w.Header().Get(HeaderRemaining))
	assert.Equal(t, strconv.FormatInt(epoch.Add(24*time.Hour).Unix(), 10), w.Header().Get(HeaderReset))

	var body DenyBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, limiter.DefaultMessage, body.Error)
	assert.Equal(t, wantRetry, body.RetryAfterSeconds)
	assert.Equal(t, 2, body.MaxAttempts)
	assert.True(t, body.NextAllowedAt.Equal(epoch.Add(24*time.Hour)))

	records := ts.recorder.Records()
	require.Len(t, records, 3)
	assert.True(t, records[0].Succeeded)
	assert.False(t, records[2].Succeeded)
	assert.Equal(t, "gatekeep-test", records[0].Headers["User-Agent"])
}

func TestServer_FailedAttemptIsNotRecorded(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	for i := 0; i < 3; i++ {
		w := do(t, h, http.MethodPost, "/api/attempt/search?fail=true")
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	}
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/api/attempt/search").Code)

	w := do(t, h, http.MethodPost, "/api/attempt/search")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "search quota used")
}

func TestServer_DemoRouteUsesMiddleware(t *testing.T) {
	ts := newTestServer(t)
	h := ts.srv.Handler()

	assert.Equal(t, http.StatusUnprocessableEntity, do(t, h, http.MethodPost, "/demo/search?fail=true").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/demo/search").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodPost, "/demo/search").Code)

	records := ts.recorder.Records()
	require.Len(t, records, 3)
	assert.False(t, records[0].Succeeded)
	assert.True(t, records[1].Succeeded)
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t)
	do(t, ts.srv.Handler(), http.MethodGet, "/api/check/login")

	w := do(t, ts.srv.Handler(), http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gatekeep_ratelimit_decisions_total{algorithm="fixed_window",outcome="admit",policy="login"} 1`)
}

func TestServer_WebSocketFeed(t *testing.T) {
	ts := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go ts.srv.StartOnListener(ln)
	t.Cleanup(func() { _ = ts.srv.Shutdown(context.Background()) })

	base := "http://" + ln.Addr().String()
	conn, _, err := websocket.DefaultDialer.Dial(strings.Replace(base, "http", "ws", 1)+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(base+"/api/attempt/login", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev recorder.DecisionEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "login", ev.Record.Policy)
	assert.True(t, ev.Decision.Allowed)
	assert.NotEmpty(t, ev.Fingerprint)
}
