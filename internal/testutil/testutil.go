package testutil

import (
	"testing"
	"time"

	"github.com/anggakawa/teledocker/internal/config"
	"github.com/anggakawa/teledocker/internal/store"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig() *config.Config {
	return &config.Config{
		Listen:       "127.0.0.1:0",
		ServiceToken: "test-service-token",
		DBPath:       ":memory:",
		LogLevel:     "error",
		Engine: config.EngineConfig{
			APITimeoutSeconds:  5,
			StopTimeoutSeconds: 2,
		},
		Sandbox: config.SandboxConfig{
			Image:               "teledocker/agent:test",
			Network:             "teledocker-test",
			BridgePort:          9100,
			CPULimit:            1.0,
			MemLimitMB:          512,
			PidsLimit:           128,
			TmpfsSizeMB:         64,
			WorkspaceQuotaMB:    256,
			ReadyTimeoutSeconds: 2,
			Env:                 make(map[string]string),
		},
		Quota: config.QuotaConfig{
			MaxSessions:         5,
			MaxSessionsPerOwner: 1,
		},
		Lifecycle: config.LifecycleConfig{
			IdlePauseMinutes:     30,
			DestroyStoppedHours:  24,
			SweepIntervalSeconds: 60,
		},
		Health: config.HealthConfig{
			IntervalSeconds:     30,
			ProbeTimeoutSeconds: 1,
			MaxConcurrent:       4,
		},
	}
}

// TestSession returns a running session owned by owner.
func TestSession(id, owner string) *store.Session {
	now := time.Now().UTC()
	return &store.Session{
		ID:            id,
		OwnerID:       owner,
		ContainerID:   "container-" + id,
		ContainerName: "teledocker-" + id,
		Status:        store.StatusRunning,
		CPULimit:      1.0,
		MemLimitMB:    512,
		PidsLimit:     128,
		CreatedAt:     now,
		LastActivity:  now,
	}
}

// NewTestStore creates an in-memory SQLite store for testing. Single
// connection so the memory database is shared across all queries.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(":memory:", 1)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
