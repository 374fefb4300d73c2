package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operandhq/operand/aurora"
	"github.com/operandhq/operand/core"
	"github.com/operandhq/operand/executor"
	"github.com/operandhq/operand/hub"
	"github.com/operandhq/operand/planner"
	"github.com/operandhq/operand/router"
	"github.com/operandhq/operand/session"
)

type harness struct {
	srv *Server
	ts  *httptest.Server
	bus *core.EventBus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := &core.NoOpLogger{}
	cfg := core.DefaultConfig()
	cfg.RunDir = t.TempDir()

	bus := core.NewEventBus()
	store, err := session.NewStore(cfg.RunDir, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := core.NewSkillRegistry(core.ProfileNormal, logger)
	registerStub(t, registry, "ai.generate", core.CategoryAI, false)
	registerStub(t, registry, "util.status", core.CategoryUtil, false)
	registerStub(t, registry, "web.fetch", core.CategoryWeb, false)
	registerStub(t, registry, "comm.notify", core.CategoryComm, false)
	registerStub(t, registry, "exec.shell", core.CategoryExec, true)

	hubs := hub.NewRuntime(logger)
	require.NoError(t, hub.LoadBuiltin(hubs))

	monitor := aurora.New(cfg, bus, logger, nil)
	exec := executor.New(cfg, registry, store, bus, monitor, hubs, logger)
	srv := New(cfg, logger, bus, registry, router.New(logger), planner.New(registry, cfg, logger), monitor, exec, store, hubs)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, ts: ts, bus: bus}
}

func registerStub(t *testing.T, registry *core.SkillRegistry, name string, category core.SkillCategory, dangerous bool) {
	t.Helper()
	err := registry.Register(core.NewSkill(core.Descriptor{
		Name:        name,
		Description: "test stub for " + name,
		Category:    category,
		Dangerous:   dangerous,
		TimeoutMS:   5000,
	}, func(ctx context.Context, params map[string]interface{}) (*core.Result, error) {
		return &core.Result{Success: true, Data: map[string]interface{}{"content": "output of " + name}}, nil
	}))
	require.NoError(t, err)
}

func (h *harness) do(t *testing.T, method, path string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func dataMap(t *testing.T, env envelope) map[string]interface{} {
	t.Helper()
	m, ok := env.Data.(map[string]interface{})
	require.True(t, ok, "data is not an object: %#v", env.Data)
	return m
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	data := dataMap(t, env)
	assert.Equal(t, "ok", data["status"])
	assert.EqualValues(t, 3, data["hubs_available"])
	assert.EqualValues(t, 5, data["total_skills"])
	assert.NotEmpty(t, env.Meta.RequestID)
}

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodGet, "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	data := dataMap(t, env)
	assert.Equal(t, "ok", data["health"])
	assert.EqualValues(t, 0, data["active_executions"])
	assert.NotNil(t, data["metrics"])
}

func TestIntentRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodPost, "/api/v1/intent", map[string]interface{}{
		"message": "Gerar um texto de teste",
		"origin":  "api",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	data := dataMap(t, env)
	executionID, _ := data["execution_id"].(string)
	require.NotEmpty(t, executionID)
	assert.Equal(t, "running", data["status"])

	require.Eventually(t, func() bool {
		_, env := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID, nil)
		rec := dataMap(t, env)
		return rec["status"] == string(core.ExecutionCompleted)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestIntentDestructiveBlocked(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodPost, "/api/v1/intent", map[string]interface{}{
		"message": "execute rm -rf / now",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BLOCKED", env.Error.Code)

	data := dataMap(t, env)
	assert.Equal(t, "blocked", data["status"])
	executionID, _ := data["execution_id"].(string)
	require.NotEmpty(t, executionID)

	_, getEnv := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID, nil)
	rec := dataMap(t, getEnv)
	assert.Equal(t, string(core.ExecutionBlocked), rec["status"])
}

func TestIntentValidation(t *testing.T) {
	h := newHarness(t)

	resp, env := h.do(t, http.MethodPost, "/api/v1/intent", map[string]interface{}{"message": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	// Unroutable gibberish cannot become a plan.
	resp, env = h.do(t, http.MethodPost, "/api/v1/intent", map[string]interface{}{"message": "xqzt vvkp"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestListExecutions(t *testing.T) {
	h := newHarness(t)
	_, env := h.do(t, http.MethodPost, "/api/v1/intent", map[string]interface{}{"message": "Gerar um texto de teste"})
	executionID, _ := dataMap(t, env)["execution_id"].(string)
	require.NotEmpty(t, executionID)

	require.Eventually(t, func() bool {
		_, listEnv := h.do(t, http.MethodGet, "/api/v1/executions", nil)
		data := dataMap(t, listEnv)
		total, _ := data["total"].(float64)
		return total >= 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestExecutionNotFound(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodGet, "/api/v1/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestHubDiscoveryEndpoints(t *testing.T) {
	h := newHarness(t)

	resp, env := h.do(t, http.MethodGet, "/api/v1/hubs", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := dataMap(t, env)
	hubs, ok := data["hubs"].([]interface{})
	require.True(t, ok)
	assert.Len(t, hubs, 3)

	resp, env = h.do(t, http.MethodGet, "/api/v1/hubs/supabase", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	detail := dataMap(t, env)
	assert.Equal(t, "ready", detail["status"])

	resp, env = h.do(t, http.MethodGet, "/api/v1/hubs/supabase/workflows", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	wfData := dataMap(t, env)
	workflows, ok := wfData["workflows"].([]interface{})
	require.True(t, ok)
	assert.Len(t, workflows, 3)

	resp, _ = h.do(t, http.MethodGet, "/api/v1/hubs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHubExecuteRejectsBadParams(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodPost, "/api/v1/hubs/supabase/execute", map[string]interface{}{
		"workflow": "security-audit",
		"params":   map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	// No record is created for a rejected request.
	_, listEnv := h.do(t, http.MethodGet, "/api/v1/executions", nil)
	assert.EqualValues(t, 0, dataMap(t, listEnv)["total"])
}

func TestHubExecuteUnknownTargets(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(t, http.MethodPost, "/api/v1/hubs/ghost/execute", map[string]interface{}{"workflow": "full"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = h.do(t, http.MethodPost, "/api/v1/hubs/social/execute", map[string]interface{}{"workflow": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHubExecuteCompletes(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodPost, "/api/v1/hubs/social/execute", map[string]interface{}{
		"workflow": "content-draft",
		"params":   map[string]interface{}{"topic": "tides"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)

	data := dataMap(t, env)
	assert.Equal(t, "social", data["hub"])
	assert.Equal(t, "content-draft", data["workflow"])
	assert.Equal(t, string(core.ExecutionCompleted), data["status"])

	metrics, ok := data["metrics"].(map[string]interface{})
	require.True(t, ok)
	// The hub step plus its two expanded children.
	assert.EqualValues(t, 3, metrics["steps_total"])
	assert.EqualValues(t, 0, metrics["steps_failed"])
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req, err := http.NewRequest(http.MethodOptions, h.ts.URL+"/api/v1/intent", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t)
	req, err := http.NewRequest(http.MethodGet, h.ts.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-me-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-me-123", resp.Header.Get("X-Request-ID"))

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "trace-me-123", env.Meta.RequestID)
}

func TestHubExecuteDestructiveBlocked(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodPost, "/api/v1/hubs/supabase/execute", map[string]interface{}{
		"workflow": "migration-plan",
		"params": map[string]interface{}{
			"project_ref": "ref_123",
			"change":      "drop table users",
		},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "BLOCKED", env.Error.Code)

	data := dataMap(t, env)
	assert.Equal(t, string(core.ExecutionBlocked), data["status"])
	executionID, _ := data["execution_id"].(string)
	require.NotEmpty(t, executionID)

	// The record lands blocked with no steps run.
	_, getEnv := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID, nil)
	rec := dataMap(t, getEnv)
	assert.Equal(t, string(core.ExecutionBlocked), rec["status"])
	assert.Nil(t, rec["step_results"])
}

func TestConfirmedIntentResumesAndCompletes(t *testing.T) {
	h := newHarness(t)
	resp, env := h.do(t, http.MethodPost, "/api/v1/intent", map[string]interface{}{
		"message": "execute rm -rf / now",
		"origin":  "cli",
		"context": map[string]interface{}{"confirmed": true},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, env.Success)

	data := dataMap(t, env)
	assert.Equal(t, "requires_confirmation", data["status"])
	assert.NotEmpty(t, data["confirmation_prompt"])
	executionID, _ := data["execution_id"].(string)
	require.NotEmpty(t, executionID)

	_, getEnv := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID, nil)
	assert.Equal(t, string(core.ExecutionPending), dataMap(t, getEnv)["status"])

	resumeResp, resumeEnv := h.do(t, http.MethodPost, "/api/v1/executions/"+executionID+"/resume", nil)
	require.Equal(t, http.StatusOK, resumeResp.StatusCode)
	assert.Equal(t, "resuming", dataMap(t, resumeEnv)["status"])

	require.Eventually(t, func() bool {
		_, env := h.do(t, http.MethodGet, "/api/v1/executions/"+executionID, nil)
		return dataMap(t, env)["status"] == string(core.ExecutionCompleted)
	}, 3*time.Second, 25*time.Millisecond)
}
