package scheduler

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/anggakawa/teledocker/internal/store"
)

// MockSweepStore mocks the SweepStore interface.
type MockSweepStore struct {
	mock.Mock
}

func (m *MockSweepStore) ListIdleRunning(cutoff time.Time) ([]*store.Session, error) {
	args := m.Called(cutoff)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSweepStore) ListStoppedBefore(cutoff time.Time) ([]*store.Session, error) {
	args := m.Called(cutoff)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSessionManager mocks the SessionManager interface.
type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) PauseIdle(ctx context.Context, id string, cutoff time.Time) error {
	args := m.Called(ctx, id, cutoff)
	return args.Error(0)
}

func (m *MockSessionManager) Destroy(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
