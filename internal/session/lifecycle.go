package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
)

// Stop takes a running or paused session to stopped. The container stays on
// disk for a later restart; its admission slot is freed. Stopping an
// already stopped session succeeds.
func (m *Manager) Stop(ctx context.Context, id string) error {
	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	switch sess.Status {
	case store.StatusStopped:
		return nil
	case store.StatusRunning, store.StatusPaused:
	default:
		return fmt.Errorf("%w: %s (status=%s)", ErrNotActive, id, sess.Status)
	}

	// A paused container cannot be stopped directly.
	if sess.Status == store.StatusPaused {
		if err := m.engine.Unpause(ctx, sess.ContainerID); err != nil && !errors.Is(err, engine.ErrNotFound) {
			return fmt.Errorf("unpause before stop: %w", err)
		}
	}

	if err := m.engine.Stop(ctx, sess.ContainerID); err != nil {
		if !errors.Is(err, engine.ErrNotFound) {
			return fmt.Errorf("stop container: %w", err)
		}
		m.logger.Warn("container already gone on stop", "session_id", id)
	}

	if err := m.store.CompareAndSetStatus(id, sess.Status, store.StatusStopped); err != nil {
		return err
	}
	m.admission.Release(sess.OwnerID)

	m.logger.Info("session stopped", "session_id", id, "owner_id", sess.OwnerID)
	return nil
}

// Destroy removes the session's container and workspace volume and retires
// the record. The engine already having nothing to remove counts as
// success; a session that is already gone does too. The record is only
// touched once the engine side is durably gone, so a failed destroy can be
// retried.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		m.removeSessionLock(id)
		return nil
	}
	if sess.Status == store.StatusRemoved {
		m.removeSessionLock(id)
		return nil
	}

	ref := sess.ContainerID
	if ref == "" {
		// Crashed mid-create: the record never learned the container ID,
		// but the container may exist under its deterministic name.
		ref = engine.ContainerName(id)
	}
	if err := m.engine.Remove(ctx, ref, id); err != nil {
		return fmt.Errorf("remove container: %w", err)
	}

	if m.cfg.Lifecycle.RetainRemoved {
		if err := m.store.CompareAndSetStatus(id, sess.Status, store.StatusRemoved); err != nil {
			return err
		}
	} else {
		if err := m.store.DeleteSession(id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}

	if store.IsActiveStatus(sess.Status) {
		m.admission.Release(sess.OwnerID)
	}

	m.removeSessionLock(id)
	m.logger.Info("session destroyed", "session_id", id, "owner_id", sess.OwnerID)
	return nil
}

// PauseIdle freezes a running session that has sat idle past the cutoff.
// Sessions with open streams are left alone; the next sweep will look at
// them again. Activity after the cutoff wins over the pause.
func (m *Manager) PauseIdle(ctx context.Context, id string, cutoff time.Time) error {
	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.Status != store.StatusRunning {
		return nil
	}
	if m.HasOpenStreams(id) {
		m.logger.Debug("idle pause deferred, stream open", "session_id", id)
		return nil
	}
	if sess.LastActivity.After(cutoff) {
		return nil
	}

	if err := m.engine.Pause(ctx, sess.ContainerID); err != nil {
		return fmt.Errorf("pause container: %w", err)
	}
	if err := m.store.CompareAndSetStatus(id, store.StatusRunning, store.StatusPaused); err != nil {
		return err
	}

	m.logger.Info("session paused for idleness", "session_id", id, "idle_since", sess.LastActivity)
	return nil
}

// MarkError flags an active session as degraded. The slot is released:
// errored sessions hold no capacity, and a later restart re-admits.
func (m *Manager) MarkError(id, detail string) error {
	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.GetSession(id)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	if !store.IsActiveStatus(sess.Status) {
		return nil
	}

	if err := m.store.SetError(id, sess.Status, detail); err != nil {
		return err
	}
	m.admission.Release(sess.OwnerID)

	m.logger.Warn("session marked errored", "session_id", id, "detail", detail)
	return nil
}

// ReconcileStartup aligns the store with what the engine actually has after
// a daemon restart: half-created sessions are marked errored, records adopt
// the observed container state, and containers without a record are removed.
// Run before admission counters are seeded.
func (m *Manager) ReconcileStartup(ctx context.Context) error {
	sessions, err := m.store.ListSessions("", "")
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	known := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		known[sess.ID] = true
		switch sess.Status {
		case store.StatusCreating:
			m.failCreate(sess.ID, sess.OwnerID, sess.ContainerID, "interrupted by daemon restart")
		case store.StatusRunning, store.StatusPaused:
			m.adoptEngineState(ctx, sess)
		}
	}

	managed, err := m.engine.ListManaged(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	for _, ctr := range managed {
		if known[ctr.SessionID] {
			continue
		}
		m.logger.Warn("removing orphaned container", "session_id", ctr.SessionID, "container_id", ctr.ContainerID)
		if err := m.engine.Remove(ctx, ctr.ContainerID, ctr.SessionID); err != nil {
			m.logger.Warn("remove orphaned container", "container_id", ctr.ContainerID, "error", err)
		}
	}

	return nil
}

// adoptEngineState makes an active session's record match the container the
// engine reports.
func (m *Manager) adoptEngineState(ctx context.Context, sess *store.Session) {
	state, err := m.engine.Inspect(ctx, sess.ContainerID)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			m.logger.Warn("container missing on startup", "session_id", sess.ID)
			if err := m.store.ClearContainer(sess.ID); err != nil {
				m.logger.Warn("clear container reference", "session_id", sess.ID, "error", err)
			}
			if err := m.store.SetError(sess.ID, sess.Status, "container missing on startup"); err != nil {
				m.logger.Warn("mark missing container", "session_id", sess.ID, "error", err)
			}
			return
		}
		m.logger.Warn("inspect on startup", "session_id", sess.ID, "error", err)
		return
	}

	var want string
	switch state {
	case engine.StateRunning:
		want = store.StatusRunning
	case engine.StatePaused:
		want = store.StatusPaused
	case engine.StateExited, engine.StateCreated, engine.StateDead:
		want = store.StatusStopped
	default:
		return
	}
	if want == sess.Status {
		return
	}

	m.logger.Info("adopting engine state", "session_id", sess.ID, "recorded", sess.Status, "observed", string(state))
	if err := m.store.CompareAndSetStatus(sess.ID, sess.Status, want); err != nil {
		m.logger.Warn("adopt engine state", "session_id", sess.ID, "error", err)
	}
}
