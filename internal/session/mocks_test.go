package session

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
	"github.com/anggakawa/teledocker/protocol"
)

type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Create(ctx context.Context, opts engine.CreateOpts) (string, error) {
	args := m.Called(ctx, opts)
	return args.String(0), args.Error(1)
}

func (m *MockEngine) Start(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) Restart(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) Stop(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) Pause(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) Unpause(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockEngine) Remove(ctx context.Context, containerID, sessionID string) error {
	args := m.Called(ctx, containerID, sessionID)
	return args.Error(0)
}

func (m *MockEngine) Inspect(ctx context.Context, containerID string) (engine.State, error) {
	args := m.Called(ctx, containerID)
	return args.Get(0).(engine.State), args.Error(1)
}

func (m *MockEngine) ExecStream(ctx context.Context, containerID string, cmd []string, out chan<- []byte) (int, error) {
	args := m.Called(ctx, containerID, cmd, out)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) Stats(ctx context.Context, containerID string) (*engine.ContainerStats, error) {
	args := m.Called(ctx, containerID)
	if stats := args.Get(0); stats != nil {
		return stats.(*engine.ContainerStats), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockEngine) ListManaged(ctx context.Context) ([]engine.ManagedContainer, error) {
	args := m.Called(ctx)
	if list := args.Get(0); list != nil {
		return list.([]engine.ManagedContainer), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Call(ctx context.Context, containerName string, req *protocol.Request) (*protocol.Result, error) {
	args := m.Called(ctx, containerName, req)
	if result := args.Get(0); result != nil {
		return result.(*protocol.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBridge) Stream(ctx context.Context, containerName string, req *protocol.Request, frames chan<- *protocol.Frame) error {
	args := m.Called(ctx, containerName, req, frames)
	return args.Error(0)
}

func (m *MockBridge) WaitReady(ctx context.Context, containerName string, timeout time.Duration) error {
	args := m.Called(ctx, containerName, timeout)
	return args.Error(0)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSession(sess *store.Session) error {
	args := m.Called(sess)
	return args.Error(0)
}

func (m *MockStore) GetSession(id string) (*store.Session, error) {
	args := m.Called(id)
	if sess := args.Get(0); sess != nil {
		return sess.(*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) GetActiveByOwner(ownerID string) (*store.Session, error) {
	args := m.Called(ownerID)
	if sess := args.Get(0); sess != nil {
		return sess.(*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) ListSessions(ownerID, status string) ([]*store.Session, error) {
	args := m.Called(ownerID, status)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) CompareAndSetStatus(id, expected, next string) error {
	args := m.Called(id, expected, next)
	return args.Error(0)
}

func (m *MockStore) SetError(id, expected, detail string) error {
	args := m.Called(id, expected, detail)
	return args.Error(0)
}

func (m *MockStore) SetContainer(id, containerID string) error {
	args := m.Called(id, containerID)
	return args.Error(0)
}

func (m *MockStore) ClearContainer(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockStore) TouchActivity(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockStore) DeleteSession(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockStore) CountActive() (int, map[string]int, error) {
	args := m.Called()
	var perOwner map[string]int
	if v := args.Get(1); v != nil {
		perOwner = v.(map[string]int)
	}
	return args.Int(0), perOwner, args.Error(2)
}

type MockAdmission struct {
	mock.Mock
}

func (m *MockAdmission) TryAdmit(ownerID string) error {
	args := m.Called(ownerID)
	return args.Error(0)
}

func (m *MockAdmission) Release(ownerID string) {
	m.Called(ownerID)
}
