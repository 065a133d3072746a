//go:build integration && linux

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggakawa/teledocker/internal/admission"
	"github.com/anggakawa/teledocker/internal/api"
	"github.com/anggakawa/teledocker/internal/bridge"
	"github.com/anggakawa/teledocker/internal/config"
	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/health"
	"github.com/anggakawa/teledocker/internal/scheduler"
	"github.com/anggakawa/teledocker/internal/session"
	"github.com/anggakawa/teledocker/internal/store"
)

const testServiceToken = "tok-integration-test"

type harness struct {
	baseURL string
	eng     *engine.Client
}

func startTestServer(t *testing.T) (*harness, func()) {
	t.Helper()

	cfg := &config.Config{
		Listen:       "127.0.0.1:0",
		ServiceToken: testServiceToken,
		DBPath:       ":memory:",
		LogLevel:     "warn",
		Engine: config.EngineConfig{
			APITimeoutSeconds:  30,
			StopTimeoutSeconds: 5,
		},
		Sandbox: config.SandboxConfig{
			Image:               "teledocker/agent:latest",
			Network:             "teledocker-e2e",
			BridgePort:          9100,
			CPULimit:            0.5,
			MemLimitMB:          512,
			PidsLimit:           128,
			TmpfsSizeMB:         64,
			WorkspaceQuotaMB:    256,
			ReadyTimeoutSeconds: 30,
			Env:                 map[string]string{},
		},
		Quota: config.QuotaConfig{
			MaxSessions:         3,
			MaxSessionsPerOwner: 1,
		},
		Lifecycle: config.LifecycleConfig{
			IdlePauseMinutes:     30,
			DestroyStoppedHours:  24,
			SweepIntervalSeconds: 5,
		},
		Health: config.HealthConfig{
			IntervalSeconds:     10,
			ProbeTimeoutSeconds: 5,
			MaxConcurrent:       4,
		},
	}
	if img := os.Getenv("TELEDOCKER_E2E_IMAGE"); img != "" {
		cfg.Sandbox.Image = img
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	st, err := store.New(cfg.DBPath, 1)
	require.NoError(t, err)

	br := bridge.New(cfg.Sandbox.BridgePort, logger)

	eng, err := engine.New(cfg, logger, br)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	adm := admission.New(cfg.Quota.MaxSessions, cfg.Quota.MaxSessionsPerOwner)
	mgr := session.NewManager(cfg, st, eng, br, adm, logger)

	// Reconcile walks the engine's containers, so it only runs when an
	// engine is actually there. Tests that need one gate on requireDocker.
	pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
	if eng.Ping(pingCtx) == nil {
		require.NoError(t, mgr.ReconcileStartup(ctx))
	}
	pingCancel()

	go scheduler.New(st, mgr, cfg.Lifecycle, logger).Run(ctx)
	go health.New(st, eng, mgr, cfg.Health, logger).Run(ctx)

	srv := api.NewServer(cfg, mgr, adm, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	httpServer := &http.Server{Handler: srv.Handler()}
	go httpServer.Serve(listener)

	h := &harness{
		baseURL: fmt.Sprintf("http://%s", listener.Addr().String()),
		eng:     eng,
	}

	cleanup := func() {
		cancel()
		httpServer.Close()
		eng.Close()
		st.Close()
	}

	return h, cleanup
}

// requireDocker skips the test when no engine daemon is reachable.
func requireDocker(t *testing.T, eng *engine.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Ping(ctx); err != nil {
		t.Skipf("docker engine not available: %v", err)
	}
}

func TestE2E_Healthz(t *testing.T) {
	h, cleanup := startTestServer(t)
	defer cleanup()

	// No token: the health endpoint is exempt from auth.
	client := newTestClient(h.baseURL, "")
	resp := client.doRequest(t, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestE2E_AuthRequired(t *testing.T) {
	h, cleanup := startTestServer(t)
	defer cleanup()

	noToken := newTestClient(h.baseURL, "")
	resp := noToken.doRequest(t, "GET", "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decodeResponse(t, resp)
	assert.Equal(t, "UNAUTHORIZED", body["error_code"])

	wrongToken := newTestClient(h.baseURL, "wrong-token")
	resp = wrongToken.doRequest(t, "GET", "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	valid := newTestClient(h.baseURL, testServiceToken)
	resp = valid.doRequest(t, "GET", "/v1/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestE2E_ServiceStatus(t *testing.T) {
	h, cleanup := startTestServer(t)
	defer cleanup()

	client := newTestClient(h.baseURL, testServiceToken)
	resp := client.doRequest(t, "GET", "/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeResponse(t, resp)
	assert.Equal(t, float64(0), body["active_sessions"])
	assert.Equal(t, float64(3), body["max_sessions"])
}

func TestE2E_SessionNotFound(t *testing.T) {
	h, cleanup := startTestServer(t)
	defer cleanup()

	client := newTestClient(h.baseURL, testServiceToken)
	resp := client.doRequest(t, "GET", "/v1/sessions/aaaabbbbcccc", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeResponse(t, resp)
	assert.Equal(t, "SESSION_NOT_FOUND", body["error_code"])
}

// TestE2E_SessionLifecycle drives a real container through the full path:
// create, reuse, shell, file round trip, stop, destroy. It needs a local
// docker daemon and a sandbox image with the agent-bridge baked in.
func TestE2E_SessionLifecycle(t *testing.T) {
	if os.Getenv("TELEDOCKER_E2E_IMAGE") == "" {
		t.Skip("TELEDOCKER_E2E_IMAGE not set")
	}

	h, cleanup := startTestServer(t)
	defer cleanup()
	requireDocker(t, h.eng)

	ctx := context.Background()
	require.NoError(t, h.eng.EnsureImage(ctx))
	require.NoError(t, h.eng.EnsureNetwork(ctx))

	client := newTestClient(h.baseURL, testServiceToken)

	created, status := client.createSession(t, "100200300")
	require.Equal(t, http.StatusCreated, status)
	sessionID, _ := created["id"].(string)
	require.NotEmpty(t, sessionID)
	assert.Equal(t, "running", created["status"])

	defer client.destroySession(t, sessionID)

	// A second create for the same owner hands back the live session.
	reused, status := client.createSession(t, "100200300")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, sessionID, reused["id"])

	// Shell round trip through the container and its bridge.
	lines := client.runShell(t, sessionID, "echo e2e-marker")
	require.NotEmpty(t, lines)
	assert.Equal(t, "[DONE]", lines[len(lines)-1])
	assert.Contains(t, strings.Join(lines, "\n"), "e2e-marker")

	// File transfer up and back down.
	client.uploadFile(t, sessionID, "data/input.txt", []byte("round trip payload"))
	assert.Equal(t, []byte("round trip payload"), client.downloadFile(t, sessionID, "data/input.txt"))

	// Path escapes bounce at the API before anything reaches the container.
	resp := client.doRaw(t, "PUT", "/v1/sessions/"+sessionID+"/files", []byte("x"), map[string]string{
		"X-Filename": "../../etc/passwd",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var apiErr map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
	resp.Body.Close()
	assert.Equal(t, "PATH_ESCAPE", apiErr["error_code"])

	client.stopSession(t, sessionID)
	info := client.getSession(t, sessionID)
	assert.Equal(t, "stopped", info["status"])
}
