// Package scheduler runs the periodic lifecycle sweeps: pausing sessions
// that have sat idle and destroying sessions that stayed stopped too long.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/anggakawa/teledocker/internal/config"
)

type Scheduler struct {
	store        SweepStore
	manager      SessionManager
	interval     time.Duration
	idleAfter    time.Duration
	destroyAfter time.Duration
	logger       *slog.Logger
}

func New(st SweepStore, mgr SessionManager, cfg config.LifecycleConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:        st,
		manager:      mgr,
		interval:     time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		idleAfter:    time.Duration(cfg.IdlePauseMinutes) * time.Minute,
		destroyAfter: time.Duration(cfg.DestroyStoppedHours) * time.Hour,
		logger:       logger,
	}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started",
		"interval", s.interval, "idle_pause_after", s.idleAfter, "destroy_stopped_after", s.destroyAfter)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	s.pauseIdle(ctx)
	s.destroyStopped(ctx)
}

// pauseIdle nominates running sessions idle past the cutoff. The manager
// may still decline a candidate (open stream, fresh activity); those stay
// for the next sweep.
func (s *Scheduler) pauseIdle(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.idleAfter)
	idle, err := s.store.ListIdleRunning(cutoff)
	if err != nil {
		s.logger.Error("scheduler: list idle sessions", "error", err)
		return
	}

	for _, sess := range idle {
		if err := s.manager.PauseIdle(ctx, sess.ID, cutoff); err != nil {
			s.logger.Error("scheduler: pause idle session", "session_id", sess.ID, "error", err)
		}
	}

	if len(idle) > 0 {
		s.logger.Info("scheduler: idle sweep complete", "candidates", len(idle))
	}
}

// destroyStopped retires sessions that stopped before the retention cutoff.
// A non-positive destroy_stopped_after disables the sweep.
func (s *Scheduler) destroyStopped(ctx context.Context) {
	if s.destroyAfter <= 0 {
		return
	}

	cutoff := time.Now().UTC().Add(-s.destroyAfter)
	stopped, err := s.store.ListStoppedBefore(cutoff)
	if err != nil {
		s.logger.Error("scheduler: list stopped sessions", "error", err)
		return
	}

	for _, sess := range stopped {
		s.logger.Info("destroying long-stopped session", "session_id", sess.ID, "stopped_at", sess.StoppedAt)
		if err := s.manager.Destroy(ctx, sess.ID); err != nil {
			s.logger.Error("scheduler: destroy session", "session_id", sess.ID, "error", err)
		}
	}
}
