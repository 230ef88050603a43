package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelingo/edgecache/internal/config"
	"github.com/carelingo/edgecache/internal/engine"
	"github.com/carelingo/edgecache/internal/fusion"
)

type okBackend struct{ calls int }

func (b *okBackend) Prefetch(ctx context.Context, p fusion.Prediction) error {
	b.calls++
	return nil
}

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	cfg := config.Default()
	eng := engine.New(cfg, &okBackend{}, nil, engine.Options{})
	return NewServer(cfg, nil, eng), eng
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPostEvent_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/events", map[string]string{"source_lang": "en"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodPost, "/v1/events", map[string]string{
		"source_lang": "en", "target_lang": "es", "context": "triage",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
}

func TestPostSample_ClassifiesState(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/samples", map[string]interface{}{
		"online": false,
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "offline", resp["state"])
}

func TestUpdate_InsufficientDataConflict(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/update", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_data", resp["reason"])
}

func TestUpdateAndPredictions_FullFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for i := 0; i < 20; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/events", map[string]interface{}{
			"id":          fmt.Sprintf("e%02d", i),
			"timestamp":   time.Now().UTC().Add(-time.Duration(i) * time.Minute),
			"source_lang": "en",
			"target_lang": "es",
			"context":     "general",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/predictions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count       int                 `json:"count"`
		Predictions []fusion.Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Greater(t, resp.Count, 0)
	assert.Equal(t, "en", resp.Predictions[0].SourceLang)
	assert.Equal(t, "es", resp.Predictions[0].TargetLang)
}

func TestPredictions_QueryParameters(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for i := 0; i < 20; i++ {
		rec := doJSON(t, h, http.MethodPost, "/v1/events", map[string]interface{}{
			"id":          fmt.Sprintf("q%02d", i),
			"timestamp":   time.Now().UTC().Add(-time.Duration(i) * time.Minute),
			"source_lang": "en",
			"target_lang": "es",
			"context":     "general",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/v1/update", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/predictions?limit=3&aggressiveness=0.9", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Greater(t, resp.Count, 0)
	assert.LessOrEqual(t, resp.Count, 3)

	rec = doJSON(t, h, http.MethodGet, "/v1/predictions?aggressiveness=7", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRisk_InvalidHorizonRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/risk?horizon_hours=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRisk_ReturnsForecast(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/risk?location=clinic&horizon_hours=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "risk")
	assert.Contains(t, resp, "factors")
}

func TestDevice_Accepted(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/device", map[string]float64{
		"battery_percent":          90,
		"storage_headroom_percent": 80,
		"network_speed_bps":        50_000_000,
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStatus_ReportsCounts(t *testing.T) {
	srv, eng := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/events", map[string]string{
		"source_lang": "en", "target_lang": "es",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st engine.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Events)
	assert.Equal(t, eng.Status().Events, st.Events)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edgecache_")
}

func TestPrefetch_WithoutModelConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/prefetch", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
