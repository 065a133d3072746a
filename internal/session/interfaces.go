package session

import (
	"context"
	"time"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
	"github.com/anggakawa/teledocker/protocol"
)

// Engine is the slice of the container engine the manager drives.
type Engine interface {
	Create(ctx context.Context, opts engine.CreateOpts) (string, error)
	Start(ctx context.Context, containerID string) error
	Restart(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Pause(ctx context.Context, containerID string) error
	Unpause(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID, sessionID string) error
	Inspect(ctx context.Context, containerID string) (engine.State, error)
	ExecStream(ctx context.Context, containerID string, cmd []string, out chan<- []byte) (int, error)
	Stats(ctx context.Context, containerID string) (*engine.ContainerStats, error)
	ListManaged(ctx context.Context) ([]engine.ManagedContainer, error)
}

// Bridge is the control channel to the agent inside a session's container.
type Bridge interface {
	Call(ctx context.Context, containerName string, req *protocol.Request) (*protocol.Result, error)
	Stream(ctx context.Context, containerName string, req *protocol.Request, frames chan<- *protocol.Frame) error
	WaitReady(ctx context.Context, containerName string, timeout time.Duration) error
}

// SessionStore is the slice of the store the manager reads and writes.
type SessionStore interface {
	CreateSession(sess *store.Session) error
	GetSession(id string) (*store.Session, error)
	GetActiveByOwner(ownerID string) (*store.Session, error)
	ListSessions(ownerID, status string) ([]*store.Session, error)
	CompareAndSetStatus(id, expected, next string) error
	SetError(id, expected, detail string) error
	SetContainer(id, containerID string) error
	ClearContainer(id string) error
	TouchActivity(id string) error
	DeleteSession(id string) error
	CountActive() (int, map[string]int, error)
}

// Admission hands out session slots. Slots are reserved before any
// container work starts and released when a session stops being active.
type Admission interface {
	TryAdmit(ownerID string) error
	Release(ownerID string)
}
