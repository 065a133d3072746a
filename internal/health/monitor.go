// Package health periodically probes session containers and hands failure
// verdicts to the session manager. The monitor only classifies; state
// changes stay with the manager.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anggakawa/teledocker/internal/config"
	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
)

type Monitor struct {
	store         HealthStore
	prober        Prober
	manager       SessionManager
	interval      time.Duration
	probeTimeout  time.Duration
	maxConcurrent int
	logger        *slog.Logger
}

func New(st HealthStore, pr Prober, mgr SessionManager, cfg config.HealthConfig, logger *slog.Logger) *Monitor {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Monitor{
		store:         st,
		prober:        pr,
		manager:       mgr,
		interval:      time.Duration(cfg.IntervalSeconds) * time.Second,
		probeTimeout:  time.Duration(cfg.ProbeTimeoutSeconds) * time.Second,
		maxConcurrent: maxConcurrent,
		logger:        logger,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("health monitor started",
		"interval", m.interval, "probe_timeout", m.probeTimeout, "max_concurrent", m.maxConcurrent)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// probeAll probes every running and paused session, at most maxConcurrent
// at a time, and waits for the round to finish.
func (m *Monitor) probeAll(ctx context.Context) {
	sessions, err := m.listProbeTargets()
	if err != nil {
		m.logger.Error("health: list sessions", "error", err)
		return
	}

	sem := make(chan struct{}, m.maxConcurrent)
	var wg sync.WaitGroup
	for _, sess := range sessions {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(sess *store.Session) {
			defer wg.Done()
			defer func() { <-sem }()
			m.probeOne(ctx, sess)
		}(sess)
	}
	wg.Wait()
}

func (m *Monitor) listProbeTargets() ([]*store.Session, error) {
	running, err := m.store.ListSessions("", store.StatusRunning)
	if err != nil {
		return nil, err
	}
	paused, err := m.store.ListSessions("", store.StatusPaused)
	if err != nil {
		return nil, err
	}
	return append(running, paused...), nil
}

func (m *Monitor) probeOne(ctx context.Context, sess *store.Session) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	res := m.prober.Probe(probeCtx, engine.ProbeRef{
		ContainerID:   sess.ContainerID,
		ContainerName: sess.ContainerName,
	})
	if res.Verdict == engine.ProbeOK {
		return
	}

	// A probe cut short by shutdown is not a verdict on the session.
	if ctx.Err() != nil {
		return
	}

	m.logger.Warn("session probe failed",
		"session_id", sess.ID, "verdict", res.Verdict.String(), "detail", res.Detail)

	detail := fmt.Sprintf("%s: %s", res.Verdict, res.Detail)
	if err := m.manager.MarkError(sess.ID, detail); err != nil {
		m.logger.Error("health: mark session errored", "session_id", sess.ID, "error", err)
	}
}
