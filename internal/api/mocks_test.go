package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/anggakawa/teledocker/internal/session"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) Create(ctx context.Context, opts session.CreateOpts) (*session.Info, bool, error) {
	args := m.Called(ctx, opts)
	if info := args.Get(0); info != nil {
		return info.(*session.Info), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *MockSessionService) Get(ctx context.Context, id string) (*session.Info, error) {
	args := m.Called(ctx, id)
	if info := args.Get(0); info != nil {
		return info.(*session.Info), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) List(ctx context.Context, ownerID, status string) ([]*session.Info, error) {
	args := m.Called(ctx, ownerID, status)
	if sessions := args.Get(0); sessions != nil {
		return sessions.([]*session.Info), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Status(ctx context.Context, id string) (*session.StatusReport, error) {
	args := m.Called(ctx, id)
	if report := args.Get(0); report != nil {
		return report.(*session.StatusReport), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Stop(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionService) Restart(ctx context.Context, id string) (*session.Info, error) {
	args := m.Called(ctx, id)
	if info := args.Get(0); info != nil {
		return info.(*session.Info), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Destroy(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionService) Prompt(ctx context.Context, id, prompt string, env map[string]string, events chan<- session.Event) error {
	args := m.Called(ctx, id, prompt, env, events)
	return args.Error(0)
}

func (m *MockSessionService) Shell(ctx context.Context, id, command string, events chan<- session.Event) error {
	args := m.Called(ctx, id, command, events)
	return args.Error(0)
}

func (m *MockSessionService) Exec(ctx context.Context, id, command string, events chan<- session.Event) error {
	args := m.Called(ctx, id, command, events)
	return args.Error(0)
}

func (m *MockSessionService) Upload(ctx context.Context, id, filename string, content []byte) (string, error) {
	args := m.Called(ctx, id, filename, content)
	return args.String(0), args.Error(1)
}

func (m *MockSessionService) Download(ctx context.Context, id, path string) (string, []byte, error) {
	args := m.Called(ctx, id, path)
	if content := args.Get(1); content != nil {
		return args.String(0), content.([]byte), args.Error(2)
	}
	return args.String(0), nil, args.Error(2)
}

type MockQuotaReporter struct {
	mock.Mock
}

func (m *MockQuotaReporter) Usage() (int, int, map[string]int) {
	args := m.Called()
	var perOwner map[string]int
	if po := args.Get(2); po != nil {
		perOwner = po.(map[string]int)
	}
	return args.Int(0), args.Int(1), perOwner
}
