package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typewitness/internal/analysis"
	"typewitness/internal/clipboard"
	"typewitness/internal/config"
	"typewitness/internal/health"
	"typewitness/internal/metrics"
	"typewitness/internal/playback"
	"typewitness/internal/store"
)

const copyPasteSession = `{
  "sessionId": "sess-http",
  "editorHTML": "<p>HH</p>",
  "events": [
    {"id": "a", "type": "text-input", "timestamp": 0, "meta": {"html": "<p>H</p>", "domInput": {"inputType": "insertText", "data": "H"}}},
    {"id": "c", "type": "copy", "timestamp": 500, "meta": {"html": "<p>H</p>", "clipboard": {"action": "copy", "length": 1, "text": "H"}}},
    {"id": "p", "type": "paste", "timestamp": 900, "meta": {"html": "<p>HH</p>", "pastePayload": {"text": "H", "length": 1}}}
  ]
}`

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	return New(config.DefaultConfig().Server, opts...)
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	w := do(t, newTestServer(t), "GET", "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestNotFoundEndpoint(t *testing.T) {
	w := do(t, newTestServer(t), "GET", "/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyze(t *testing.T) {
	w := do(t, newTestServer(t), "POST", "/api/v1/analyze", copyPasteSession)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "sess-http", w.Header().Get("X-Session-Id"))
	assert.Empty(t, w.Header().Get("X-Analysis-Id"))

	var a analysis.SessionAnalysis
	require.NoError(t, json.NewDecoder(w.Body).Decode(&a))
	require.Len(t, a.Pastes, 1)
	assert.Equal(t, analysis.PasteInternalCopy, a.Pastes[0].Classification)
	require.NotNil(t, a.Pastes[0].LedgerMatch)
	assert.Equal(t, "c", a.Pastes[0].LedgerMatch.CopyEventID)
	assert.Len(t, a.PauseHistogram, 4)
	assert.Len(t, a.Metrics, 5)
}

func TestAnalyzeUsesFreshLedgerPerRequest(t *testing.T) {
	s := newTestServer(t)

	// A copy in one request must not match a paste in another.
	pasteOnly := `{"events": [{"id": "p", "type": "paste", "timestamp": 900,
		"meta": {"html": "<p>H</p>", "pastePayload": {"text": "H"}}}]}`

	require.Equal(t, http.StatusOK, do(t, s, "POST", "/api/v1/analyze", copyPasteSession).Code)
	w := do(t, s, "POST", "/api/v1/analyze", pasteOnly)
	require.Equal(t, http.StatusOK, w.Code)

	var a analysis.SessionAnalysis
	require.NoError(t, json.NewDecoder(w.Body).Decode(&a))
	require.Len(t, a.Pastes, 1)
	assert.Equal(t, analysis.PasteUnmatched, a.Pastes[0].Classification)
	assert.NotEmpty(t, w.Header().Get("X-Session-Id"), "missing session id is generated")
}

func TestSetLedgerOptionsAppliesToLaterRequests(t *testing.T) {
	s := newTestServer(t)

	s.SetLedgerOptions(clipboard.WithTTL(100 * time.Millisecond))
	w := do(t, s, "POST", "/api/v1/analyze", copyPasteSession)
	require.Equal(t, http.StatusOK, w.Code)

	var a analysis.SessionAnalysis
	require.NoError(t, json.NewDecoder(w.Body).Decode(&a))
	require.Len(t, a.Pastes, 1)
	assert.Equal(t, analysis.PasteUnmatched, a.Pastes[0].Classification, "copy expired before the paste")

	s.SetLedgerOptions(clipboard.WithTTL(time.Minute))
	w = do(t, s, "POST", "/api/v1/analyze", copyPasteSession)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&a))
	require.Len(t, a.Pastes, 1)
	assert.Equal(t, analysis.PasteInternalCopy, a.Pastes[0].Classification)
}

func TestAnalyzeBadPayloads(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"missing events", `{"sessionId": "x"}`},
		{"null events", `{"events": null}`},
		{"events not array", `{"events": {}}`},
		{"event missing meta", `{"events": [{"id": "a", "type": "paste", "timestamp": 1}]}`},
		{"string timestamp", `{"events": [{"id": "a", "type": "paste", "timestamp": "1", "meta": {"html": ""}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(t), "POST", "/api/v1/analyze", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAnalyzePayloadTooLarge(t *testing.T) {
	cfg := config.DefaultConfig().Server
	cfg.MaxBodyBytes = 16
	s := New(cfg)

	w := do(t, s, "POST", "/api/v1/analyze", copyPasteSession)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPlayback(t *testing.T) {
	w := do(t, newTestServer(t), "POST", "/api/v1/playback", copyPasteSession)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var snaps []playback.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snaps))
	require.Len(t, snaps, 3)
	assert.Equal(t, "1. text-input", snaps[0].Label)
	assert.Equal(t, playback.PasteInternal, snaps[2].Classification)
	assert.Equal(t, playback.FinalSnapshotMs, snaps[2].DurationMs)
}

func TestPlaybackEmptySession(t *testing.T) {
	w := do(t, newTestServer(t), "POST", "/api/v1/playback", `{"events": []}`)
	require.Equal(t, http.StatusOK, w.Code)

	var snaps []playback.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, "current", snaps[0].ID)
	assert.Equal(t, "<p></p>", snaps[0].HTML)
}

func TestHistoryDisabled(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "GET", "/api/v1/analyses", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "GET", "/api/v1/sessions/x/analysis", "").Code)
}

func TestAnalyzePersistsAndServesHistory(t *testing.T) {
	s := newTestServer(t, WithHistory(newStore(t)))

	w := do(t, s, "POST", "/api/v1/analyze", copyPasteSession)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	analysisID := w.Header().Get("X-Analysis-Id")
	require.NotEmpty(t, analysisID)

	w = do(t, s, "GET", "/api/v1/sessions/sess-http/analysis", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rec store.AnalysisRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))
	assert.Equal(t, analysisID, rec.ID)
	assert.Equal(t, "sess-http", rec.Session.SessionID)
	assert.Equal(t, 3, rec.Session.EventCount)

	w = do(t, s, "GET", "/api/v1/analyses?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var records []store.AnalysisRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	assert.Len(t, records, 1)
}

func TestLatestAnalysisNotFound(t *testing.T) {
	s := newTestServer(t, WithHistory(newStore(t)))

	w := do(t, s, "GET", "/api/v1/sessions/missing/analysis", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAnalysesBadLimit(t *testing.T) {
	s := newTestServer(t, WithHistory(newStore(t)))

	for _, limit := range []string{"abc", "0", "-3"} {
		w := do(t, s, "GET", "/api/v1/analyses?limit="+limit, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}

type failingHistory struct{}

func (failingHistory) SaveAnalysis(context.Context, *store.AnalysisRecord) error {
	return errors.New("disk full")
}

func (failingHistory) LatestAnalysis(context.Context, string) (*store.AnalysisRecord, error) {
	return nil, errors.New("disk full")
}

func (failingHistory) ListAnalyses(context.Context, int) ([]store.AnalysisRecord, error) {
	return nil, errors.New("disk full")
}

func (failingHistory) Ping(context.Context) error {
	return errors.New("database is locked")
}

func TestHistoryFailures(t *testing.T) {
	s := newTestServer(t, WithHistory(failingHistory{}))

	assert.Equal(t, http.StatusInternalServerError, do(t, s, "POST", "/api/v1/analyze", copyPasteSession).Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, s, "GET", "/api/v1/analyses", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, s, "GET", "/api/v1/sessions/x/analysis", "").Code)
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantCode   int
		wantStatus health.Status
	}{
		{"no history", nil, http.StatusOK, health.StatusHealthy},
		{"store", []Option{WithHistory(newStore(t))}, http.StatusOK, health.StatusHealthy},
		{"failing store", []Option{WithHistory(failingHistory{})}, http.StatusServiceUnavailable, health.StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(t, tt.opts...), "GET", "/ready", "")
			assert.Equal(t, tt.wantCode, w.Code)

			var resp health.Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry("typewitness")
	s := newTestServer(t, WithMetrics(reg))

	do(t, s, "POST", "/api/v1/analyze", copyPasteSession)
	do(t, s, "POST", "/api/v1/playback", copyPasteSession)
	do(t, s, "POST", "/api/v1/analyze", "{nope")

	w := do(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	var a analysis.SessionAnalysis
	aw := do(t, newTestServer(t), "POST", "/api/v1/analyze", copyPasteSession)
	require.NoError(t, json.NewDecoder(aw.Body).Decode(&a))

	assert.Contains(t, body, `typewitness_analyses_total{verdict="`+string(a.Verdict)+`"} 1`)
	assert.Contains(t, body, "typewitness_playbacks_total 1")
	assert.Contains(t, body, "typewitness_payloads_rejected_total 1")
	assert.Contains(t, body, `typewitness_http_requests_total{method="POST",route="/api/v1/analyze",status="400"} 1`)
	assert.Contains(t, body, "typewitness_session_events_count 2")
	assert.Equal(t, uint64(1), reg.Counter("playbacks_total", "", nil).Value())
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig().Server
	cfg.Addr = "127.0.0.1:0"
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
