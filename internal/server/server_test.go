package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"defgen/internal/generation"
	"defgen/internal/llm"
	"defgen/internal/rules"
	"defgen/internal/usage"
)

const goodDefinition = "activiteit waarbij gegevens over een persoon of zaak in een basisregistratie worden vastgelegd"

type fixture struct {
	srv     *httptest.Server
	rec     *usage.Recorder
	service *generation.Service
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	prom, err := usage.NewPrometheusSink(reg)
	require.NoError(t, err)
	rec := usage.NewRecorder(nil, prom)

	svc, err := generation.NewService(rules.NewStore(rules.MustDefault()), generation.WithSink(rec))
	require.NoError(t, err)

	s := New(svc, append([]Option{WithStats(rec), WithGatherer(reg)}, opts...)...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, rec: rec, service: svc}
}

func (f *fixture) post(t *testing.T, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (f *fixture) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func failureKind(body map[string]interface{}) string {
	errObj, _ := body["error"].(map[string]interface{})
	kind, _ := errObj["kind"].(string)
	return kind
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, rules.MustDefault().Version(), body["catalog_version"])
}

func TestPrepareThenValidate(t *testing.T) {
	f := newFixture(t)

	resp, preview := f.post(t, "/api/prepare", map[string]interface{}{"term": "registratie"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reqID, _ := preview["request_id"].(string)
	require.NotEmpty(t, reqID)
	assert.Contains(t, preview["text"], "registratie")

	resp, body := f.post(t, "/api/validate", map[string]interface{}{
		"request_id": reqID,
		"candidate":  goodDefinition,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, reqID, body["request_id"])
	report, ok := body["validation_report"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, report, "is_acceptable")
	assert.Len(t, report["results"], rules.MustDefault().Len())

	assert.EqualValues(t, 1, f.rec.Stats().Total.Events)
}

func TestValidate_WithTermPreparesFresh(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post(t, "/api/validate", map[string]interface{}{
		"term":      "registratie",
		"candidate": "de " + goodDefinition,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	report := body["validation_report"].(map[string]interface{})
	assert.Equal(t, false, report["is_acceptable"])
	assert.Contains(t, report["critical_failures"], "STR-01")
}

func TestValidate_Failures(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"malformed json", "{", http.StatusBadRequest, "invalid_input"},
		{"unknown field", map[string]interface{}{"term": "x", "candidate": "y", "extra": 1}, http.StatusBadRequest, "invalid_input"},
		{"missing candidate", map[string]interface{}{"term": "registratie"}, http.StatusBadRequest, "invalid_input"},
		{"no term or request id", map[string]interface{}{"candidate": "y"}, http.StatusBadRequest, "invalid_input"},
		{"unknown request id", map[string]interface{}{"request_id": "nope", "candidate": "y"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.post(t, "/api/validate", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, failureKind(body))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}
	assert.Zero(t, f.rec.Stats().Total.Events)
}

func TestGenerate(t *testing.T) {
	t.Run("without completer", func(t *testing.T) {
		f := newFixture(t)
		resp, body := f.post(t, "/api/generate", map[string]interface{}{"term": "registratie"})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "unavailable", failureKind(body))
	})

	t.Run("with completer", func(t *testing.T) {
		stub := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			return &llm.Completion{Text: goodDefinition, Provider: "stub"}, nil
		})
		f := newFixture(t, WithCompleter(stub))
		resp, body := f.post(t, "/api/generate", map[string]interface{}{"term": "registratie"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, goodDefinition, body["candidate_text"])
		assert.NotNil(t, body["validation_report"])
	})

	t.Run("timeout", func(t *testing.T) {
		slow := llm.CompleterFunc(func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
		reg := prometheus.NewRegistry()
		svc, err := generation.NewService(rules.NewStore(rules.MustDefault()),
			generation.WithLLMTimeout(10*time.Millisecond))
		require.NoError(t, err)
		srv := httptest.NewServer(New(svc, WithCompleter(slow), WithGatherer(reg)).Handler())
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/generate", "application/json", strings.NewReader(`{"term":"registratie"}`))
		require.NoError(t, err)
		body := decodeBody(t, resp)
		assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
		assert.Equal(t, "external_call_timeout", failureKind(body))
	})
}

func TestCatalogRoutes(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/api/catalog/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, rules.MustDefault().Len(), body["rule_count"])
	byCat := body["by_category"].(map[string]interface{})
	assert.Len(t, byCat, len(rules.AllCategories()))

	resp, body = f.get(t, "/api/catalog/rules/STR-01")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "STR-01", body["id"])

	resp, body = f.get(t, "/api/catalog/rules/XYZ-99")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", failureKind(body))
}

func TestStatsAndMetrics(t *testing.T) {
	f := newFixture(t)
	f.post(t, "/api/validate", map[string]interface{}{"term": "registratie", "candidate": goodDefinition})

	resp, body := f.get(t, "/api/telemetry/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	total := body["total"].(map[string]interface{})
	assert.EqualValues(t, 1, total["events"])

	mresp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "defgen_validations_total")
}

func TestPreviewCache(t *testing.T) {
	c := newPreviewCache(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for _, id := range []string{"a", "b", "c"} {
		c.put(&generation.Preview{RequestID: id})
	}
	assert.Equal(t, 2, c.len())
	_, ok := c.get("a")
	assert.False(t, ok, "oldest evicted")
	_, ok = c.get("c")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.get("b")
	assert.False(t, ok, "expired")
	assert.Equal(t, 1, c.len())
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	svc, err := generation.NewService(rules.NewStore(rules.MustDefault()))
	require.NoError(t, err)
	s := New(svc, WithGatherer(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0", time.Second, time.Second) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
