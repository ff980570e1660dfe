package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpomsoft/clev2er/pkg/config"
	"github.com/cpomsoft/clev2er/pkg/metrics"
	"github.com/cpomsoft/clev2er/pkg/shm"
	"github.com/cpomsoft/clev2er/pkg/stages"
)

func newTestEngine(t *testing.T, providers ...RouteProvider) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	for _, provider := range providers {
		group := engine.Group(provider.GetGroupPath())
		group.Use(provider.GetMiddlewares()...)
		provider.RegisterRoutes(group)
	}
	return engine
}

func statusFixture(t *testing.T) *RunStatusProvider {
	t.Helper()

	cfg := config.NewRunConfig()
	cfg.ChainName = "testchain"
	cfg.Stages = []string{"ingest", "export"}

	registry := stages.NewRegistry()
	for _, name := range cfg.Stages {
		name := name
		require.NoError(t, registry.Register(name, func(map[string]interface{}) (stages.Stage, error) {
			return stages.NewFuncStage(name, nil), nil
		}))
	}
	built, err := registry.Build(cfg.Stages, stages.BuildParams{Mode: cfg.ExecutionMode()})
	require.NoError(t, err)

	monitor := metrics.NewRunMonitor()
	monitor.Start(3)
	monitor.RecordProcessed()
	monitor.RecordSkipped()

	return NewRunStatusProvider(cfg, monitor, built, nil)
}

func TestRunStatusProvider_GetStatus(t *testing.T) {
	engine := newTestEngine(t, statusFixture(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/run/status", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "testchain", body["chain_name"])
	assert.Equal(t, float64(3), body["total_jobs"])
	assert.Equal(t, float64(2), body["processed_jobs"])
	assert.Equal(t, float64(1), body["skipped_jobs"])
	assert.Equal(t, true, body["running"])
}

func TestRunStatusProvider_ListStages(t *testing.T) {
	engine := newTestEngine(t, statusFixture(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/run/stages", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count  int `json:"count"`
		Stages []struct {
			Name     string `json:"name"`
			Position int    `json:"position"`
			State    string `json:"state"`
		} `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	require.Equal(t, 2, body.Count)
	assert.Equal(t, "ingest", body.Stages[0].Name)
	assert.Equal(t, "initialized", body.Stages[0].State)
	assert.Equal(t, 1, body.Stages[1].Position)
}

func TestRunStatusProvider_SharedMemoryDisabled(t *testing.T) {
	engine := newTestEngine(t, statusFixture(t))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/run/shm", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":false`)
}

func TestRunStatusProvider_SharedMemoryStats(t *testing.T) {
	provider := statusFixture(t)
	shared := shm.NewRegistry()
	_, err := shared.Create("ref-block", []byte("data"))
	require.NoError(t, err)
	provider.shared = shared

	engine := newTestEngine(t, provider)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/run/shm", nil)
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, float64(1), body["block_count"])
}
