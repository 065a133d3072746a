package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
)

type CreateOpts struct {
	OwnerID  string
	Env      map[string]string // injected into the container, on top of the configured static env
	Metadata map[string]string
}

// Create provisions a session for the owner: admission slot, store record,
// container, and a ready agent, in that order. A provisioning failure moves
// the record to error with the diagnostic attached and returns the slot; a
// container that already came up is stopped and kept for inspection until
// Destroy removes it.
//
// An owner already holding an active session gets that session back instead
// of a new one; the second return reports the reuse.
func (m *Manager) Create(ctx context.Context, opts CreateOpts) (*Info, bool, error) {
	if opts.OwnerID == "" {
		return nil, false, fmt.Errorf("owner_id required")
	}

	existing, err := m.store.GetActiveByOwner(opts.OwnerID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return infoFromStore(existing), true, nil
	}

	if err := m.admission.TryAdmit(opts.OwnerID); err != nil {
		return nil, false, err
	}

	sessionID := uuid.New().String()[:12]
	now := time.Now().UTC()
	sess := &store.Session{
		ID:            sessionID,
		OwnerID:       opts.OwnerID,
		ContainerName: engine.ContainerName(sessionID),
		Status:        store.StatusCreating,
		CPULimit:      m.cfg.Sandbox.CPULimit,
		MemLimitMB:    m.cfg.Sandbox.MemLimitMB,
		PidsLimit:     m.cfg.Sandbox.PidsLimit,
		Metadata:      opts.Metadata,
		CreatedAt:     now,
		LastActivity:  now,
	}
	if err := m.store.CreateSession(sess); err != nil {
		m.admission.Release(opts.OwnerID)
		return nil, false, fmt.Errorf("store session: %w", err)
	}

	containerID, err := m.engine.Create(ctx, engine.CreateOpts{
		SessionID: sessionID,
		OwnerID:   opts.OwnerID,
		Env:       opts.Env,
	})
	if err != nil {
		m.failCreate(sessionID, opts.OwnerID, "", "create container: "+err.Error())
		return nil, false, fmt.Errorf("create container: %w", err)
	}

	if err := m.store.SetContainer(sessionID, containerID); err != nil {
		m.failCreate(sessionID, opts.OwnerID, containerID, "store container: "+err.Error())
		return nil, false, fmt.Errorf("store container: %w", err)
	}

	if err := m.bridge.WaitReady(ctx, sess.ContainerName, m.readyTimeout()); err != nil {
		m.failCreate(sessionID, opts.OwnerID, containerID, "agent startup: "+err.Error())
		return nil, false, fmt.Errorf("agent startup: %w", err)
	}

	if err := m.store.CompareAndSetStatus(sessionID, store.StatusCreating, store.StatusRunning); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStatusConflict) {
			// A destroy raced the create and won; it already cleaned up.
			m.removeSessionLock(sessionID)
			return nil, false, err
		}
		m.failCreate(sessionID, opts.OwnerID, containerID, "finalize create: "+err.Error())
		return nil, false, err
	}

	m.logger.Info("session created", "session_id", sessionID, "owner_id", opts.OwnerID, "container_id", containerID)

	sess.Status = store.StatusRunning
	sess.ContainerID = containerID
	return infoFromStore(sess), false, nil
}

// failCreate settles a provisioning failure: the record moves to error
// carrying the diagnostic, the slot returns, and a container that exists is
// stopped but not removed. Cleanup runs detached from the request context
// so a cancelled create still settles.
func (m *Manager) failCreate(sessionID, ownerID, containerID, detail string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if containerID != "" {
		if err := m.engine.Stop(ctx, containerID); err != nil && !errors.Is(err, engine.ErrNotFound) {
			m.logger.Warn("stop container after failed create", "session_id", sessionID, "error", err)
		}
	}
	if err := m.store.SetError(sessionID, store.StatusCreating, detail); err != nil {
		// The record moved under us; its current holder settles the slot.
		m.logger.Warn("record create failure", "session_id", sessionID, "error", err)
		return
	}
	m.admission.Release(ownerID)
	m.logger.Warn("session create failed", "session_id", sessionID, "owner_id", ownerID, "detail", detail)
}

// Restart bounces a session's container process, keeping its workspace
// volume. An active session restarts in place under the slot it already
// holds; a stopped or errored one takes a fresh admission slot first.
func (m *Manager) Restart(ctx context.Context, id string) (*Info, error) {
	mu := m.sessionLock(id)
	mu.Lock()
	defer mu.Unlock()

	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if sess.ContainerID == "" {
		return nil, fmt.Errorf("%w: %s has no container", ErrNotFound, id)
	}

	switch sess.Status {
	case store.StatusRunning, store.StatusPaused:
		return m.restartActive(ctx, sess)
	case store.StatusStopped, store.StatusError:
		return m.restartInactive(ctx, sess)
	default:
		return nil, fmt.Errorf("%w: %s (status=%s)", ErrNotActive, id, sess.Status)
	}
}

// restartActive bounces a running or paused container. A paused one is
// unpaused first; the engine cannot stop a frozen container. Failure marks
// the session errored and frees its slot.
func (m *Manager) restartActive(ctx context.Context, sess *store.Session) (*Info, error) {
	if sess.Status == store.StatusPaused {
		if err := m.engine.Unpause(ctx, sess.ContainerID); err != nil && !errors.Is(err, engine.ErrNotFound) {
			m.failActive(sess, "unpause before restart: "+err.Error())
			return nil, fmt.Errorf("unpause before restart: %w", err)
		}
	}

	if err := m.engine.Restart(ctx, sess.ContainerID); err != nil {
		m.failActive(sess, "restart container: "+err.Error())
		if errors.Is(err, engine.ErrNotFound) {
			return nil, fmt.Errorf("%w: container for %s is gone", ErrNotFound, sess.ID)
		}
		return nil, fmt.Errorf("restart container: %w", err)
	}

	if err := m.bridge.WaitReady(ctx, sess.ContainerName, m.readyTimeout()); err != nil {
		m.failActive(sess, "agent startup: "+err.Error())
		return nil, fmt.Errorf("agent startup: %w", err)
	}

	if sess.Status == store.StatusPaused {
		if err := m.store.CompareAndSetStatus(sess.ID, store.StatusPaused, store.StatusRunning); err != nil {
			return nil, err
		}
		sess.Status = store.StatusRunning
	}

	m.logger.Info("session restarted", "session_id", sess.ID, "owner_id", sess.OwnerID)
	m.touch(sess.ID)
	return infoFromStore(sess), nil
}

// restartInactive brings a stopped or errored session back up. Failure
// leaves the record as it was; the fresh slot is returned.
func (m *Manager) restartInactive(ctx context.Context, sess *store.Session) (*Info, error) {
	if err := m.admission.TryAdmit(sess.OwnerID); err != nil {
		return nil, err
	}

	if err := m.engine.Start(ctx, sess.ContainerID); err != nil {
		m.admission.Release(sess.OwnerID)
		if errors.Is(err, engine.ErrNotFound) {
			return nil, fmt.Errorf("%w: container for %s is gone", ErrNotFound, sess.ID)
		}
		return nil, fmt.Errorf("start container: %w", err)
	}

	if err := m.bridge.WaitReady(ctx, sess.ContainerName, m.readyTimeout()); err != nil {
		if stopErr := m.engine.Stop(context.WithoutCancel(ctx), sess.ContainerID); stopErr != nil {
			m.logger.Warn("stop after failed restart", "session_id", sess.ID, "error", stopErr)
		}
		m.admission.Release(sess.OwnerID)
		return nil, fmt.Errorf("agent startup: %w", err)
	}

	if err := m.store.CompareAndSetStatus(sess.ID, sess.Status, store.StatusRunning); err != nil {
		m.admission.Release(sess.OwnerID)
		return nil, err
	}

	m.logger.Info("session restarted", "session_id", sess.ID, "owner_id", sess.OwnerID)

	m.touch(sess.ID)
	sess.Status = store.StatusRunning
	sess.StoppedAt = nil
	sess.LastError = ""
	return infoFromStore(sess), nil
}

// failActive marks an active session errored while its lock is held.
// MarkError cannot be used here; it takes the same lock.
func (m *Manager) failActive(sess *store.Session, detail string) {
	if err := m.store.SetError(sess.ID, sess.Status, detail); err != nil {
		m.logger.Warn("record session failure", "session_id", sess.ID, "error", err)
		return
	}
	m.admission.Release(sess.OwnerID)
	m.logger.Warn("session marked errored", "session_id", sess.ID, "detail", detail)
}
