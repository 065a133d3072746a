package session

import (
	"context"
	"fmt"
	"time"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
	"github.com/anggakawa/teledocker/protocol"
)

// Info is the externally visible shape of a session.
type Info struct {
	ID            string            `json:"id"`
	OwnerID       string            `json:"owner_id"`
	Status        string            `json:"status"`
	ContainerName string            `json:"container_name,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastActivity  time.Time         `json:"last_activity"`
	StoppedAt     *time.Time        `json:"stopped_at,omitempty"`
}

func infoFromStore(s *store.Session) *Info {
	return &Info{
		ID:            s.ID,
		OwnerID:       s.OwnerID,
		Status:        s.Status,
		ContainerName: s.ContainerName,
		Metadata:      s.Metadata,
		LastError:     s.LastError,
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity,
		StoppedAt:     s.StoppedAt,
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*Info, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return infoFromStore(sess), nil
}

// List returns sessions, optionally narrowed to an owner and a status.
func (m *Manager) List(ctx context.Context, ownerID, status string) ([]*Info, error) {
	sessions, err := m.store.ListSessions(ownerID, status)
	if err != nil {
		return nil, err
	}
	result := make([]*Info, len(sessions))
	for i, s := range sessions {
		result[i] = infoFromStore(s)
	}
	return result, nil
}

// StatusReport combines the session record with live engine and agent
// readings. Engine and agent fields stay nil for sessions that are not
// running, or when the reading fails; the record is always present.
type StatusReport struct {
	Session *Info                  `json:"session"`
	Engine  *engine.ContainerStats `json:"engine,omitempty"`
	Agent   *protocol.Result       `json:"agent,omitempty"`
}

func (m *Manager) Status(ctx context.Context, id string) (*StatusReport, error) {
	sess, err := m.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	report := &StatusReport{Session: infoFromStore(sess)}
	if sess.Status != store.StatusRunning {
		return report, nil
	}

	if stats, err := m.engine.Stats(ctx, sess.ContainerID); err != nil {
		m.logger.Warn("container stats", "session_id", id, "error", err)
	} else {
		report.Engine = stats
	}

	req := &protocol.Request{Method: protocol.MethodHealthCheck}
	if result, err := m.bridge.Call(ctx, sess.ContainerName, req); err != nil {
		m.logger.Warn("agent health", "session_id", id, "error", err)
	} else {
		report.Agent = result
	}

	return report, nil
}
