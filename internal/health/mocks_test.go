package health

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
)

// MockHealthStore mocks the HealthStore interface.
type MockHealthStore struct {
	mock.Mock
}

func (m *MockHealthStore) ListSessions(ownerID, status string) ([]*store.Session, error) {
	args := m.Called(ownerID, status)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*store.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockProber mocks the Prober interface.
type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, ref engine.ProbeRef) engine.ProbeResult {
	args := m.Called(ctx, ref)
	return args.Get(0).(engine.ProbeResult)
}

// MockSessionManager mocks the SessionManager interface.
type MockSessionManager struct {
	mock.Mock
}

func (m *MockSessionManager) MarkError(id, detail string) error {
	args := m.Called(id, detail)
	return args.Error(0)
}
