// Package session owns the sandbox lifecycle. The manager is the only
// writer of session status: every transition funnels through it, one
// operation at a time per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anggakawa/teledocker/internal/config"
	"github.com/anggakawa/teledocker/internal/store"
)

type Manager struct {
	cfg       *config.Config
	store     SessionStore
	engine    Engine
	bridge    Bridge
	admission Admission
	logger    *slog.Logger

	// Per-session mutexes to serialize lifecycle transitions.
	locks   map[string]*sync.Mutex
	locksMu sync.Mutex

	// Open stream counts per session; a session with open streams is
	// never paused for idleness.
	streams   map[string]int
	streamsMu sync.Mutex
}

func NewManager(cfg *config.Config, st SessionStore, eng Engine, br Bridge, adm Admission, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     st,
		engine:    eng,
		bridge:    br,
		admission: adm,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
		streams:   make(map[string]int),
	}
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[id] = mu
	}
	return mu
}

func (m *Manager) removeSessionLock(id string) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	delete(m.locks, id)
}

func (m *Manager) openStream(id string) {
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()
	m.streams[id]++
}

func (m *Manager) closeStream(id string) {
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()
	if m.streams[id] <= 1 {
		delete(m.streams, id)
		return
	}
	m.streams[id]--
}

// HasOpenStreams reports whether any prompt, shell or exec stream is
// currently attached to the session.
func (m *Manager) HasOpenStreams(id string) bool {
	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()
	return m.streams[id] > 0
}

// activate looks the session up and makes sure its container accepts work,
// unpausing it when it was idle-paused. It records the activity.
func (m *Manager) activate(ctx context.Context, id string) (*store.Session, error) {
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

	switch sess.Status {
	case store.StatusRunning:
	case store.StatusPaused:
		if err := m.engine.Unpause(ctx, sess.ContainerID); err != nil {
			return nil, fmt.Errorf("unpause: %w", err)
		}
		if err := m.store.CompareAndSetStatus(id, store.StatusPaused, store.StatusRunning); err != nil {
			return nil, err
		}
		sess.Status = store.StatusRunning
		m.logger.Info("session unpaused on activity", "session_id", id)
	default:
		return nil, fmt.Errorf("%w: %s (status=%s)", ErrNotActive, id, sess.Status)
	}

	m.touch(id)
	return sess, nil
}

// touch records activity. A session vanishing between the operation and the
// touch is not worth failing the operation over.
func (m *Manager) touch(id string) {
	if err := m.store.TouchActivity(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("activity for missing session", "session_id", id)
			return
		}
		m.logger.Warn("touch activity", "session_id", id, "error", err)
	}
}

func (m *Manager) readyTimeout() time.Duration {
	return time.Duration(m.cfg.Sandbox.ReadyTimeoutSeconds) * time.Second
}
