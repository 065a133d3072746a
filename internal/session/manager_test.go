package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anggakawa/teledocker/internal/store"
	"github.com/anggakawa/teledocker/internal/testutil"
)

var errBoom = errors.New("boom")

func newTestManager() (*Manager, *MockStore, *MockEngine, *MockBridge, *MockAdmission) {
	st := &MockStore{}
	eng := &MockEngine{}
	br := &MockBridge{}
	adm := &MockAdmission{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(testutil.TestConfig(), st, eng, br, adm, logger)
	return mgr, st, eng, br, adm
}

func TestSessionLock(t *testing.T) {
	mgr, _, _, _, _ := newTestManager()

	mu1 := mgr.sessionLock("sess-1")
	mu2 := mgr.sessionLock("sess-1")
	mu3 := mgr.sessionLock("sess-2")

	assert.Same(t, mu1, mu2)
	assert.NotSame(t, mu1, mu3)
}

func TestRemoveSessionLock(t *testing.T) {
	mgr, _, _, _, _ := newTestManager()

	_ = mgr.sessionLock("sess-1")
	assert.Len(t, mgr.locks, 1)

	mgr.removeSessionLock("sess-1")
	assert.Len(t, mgr.locks, 0)

	mgr.removeSessionLock("nonexistent")
}

func TestStreamRegistry(t *testing.T) {
	mgr, _, _, _, _ := newTestManager()

	assert.False(t, mgr.HasOpenStreams("sess-1"))

	mgr.openStream("sess-1")
	mgr.openStream("sess-1")
	assert.True(t, mgr.HasOpenStreams("sess-1"))
	assert.False(t, mgr.HasOpenStreams("sess-2"))

	mgr.closeStream("sess-1")
	assert.True(t, mgr.HasOpenStreams("sess-1"))

	mgr.closeStream("sess-1")
	assert.False(t, mgr.HasOpenStreams("sess-1"))
	assert.Empty(t, mgr.streams)
}

func TestActivateRunning(t *testing.T) {
	mgr, st, eng, _, _ := newTestManager()

	st.On("GetSession", "sess-1").Return(testutil.TestSession("sess-1", "owner-1"), nil)
	st.On("TouchActivity", "sess-1").Return(nil)

	sess, err := mgr.activate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, sess.Status)

	eng.AssertNotCalled(t, "Unpause")
}

func TestActivateUnpausesPausedSession(t *testing.T) {
	mgr, st, eng, _, _ := newTestManager()

	paused := testutil.TestSession("sess-1", "owner-1")
	paused.Status = store.StatusPaused

	st.On("GetSession", "sess-1").Return(paused, nil)
	eng.On("Unpause", mock.Anything, "container-sess-1").Return(nil)
	st.On("CompareAndSetStatus", "sess-1", store.StatusPaused, store.StatusRunning).Return(nil)
	st.On("TouchActivity", "sess-1").Return(nil)

	sess, err := mgr.activate(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusRunning, sess.Status)

	eng.AssertExpectations(t)
	st.AssertExpectations(t)
}

func TestActivateNotFound(t *testing.T) {
	mgr, st, _, _, _ := newTestManager()

	st.On("GetSession", "ghost").Return(nil, nil)

	_, err := mgr.activate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivateRejectsStopped(t *testing.T) {
	mgr, st, _, _, _ := newTestManager()

	stopped := testutil.TestSession("sess-1", "owner-1")
	stopped.Status = store.StatusStopped
	st.On("GetSession", "sess-1").Return(stopped, nil)

	_, err := mgr.activate(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Contains(t, err.Error(), "stopped")
}

func TestActivateUnpauseFailure(t *testing.T) {
	mgr, st, eng, _, _ := newTestManager()

	paused := testutil.TestSession("sess-1", "owner-1")
	paused.Status = store.StatusPaused

	st.On("GetSession", "sess-1").Return(paused, nil)
	eng.On("Unpause", mock.Anything, "container-sess-1").Return(errBoom)

	_, err := mgr.activate(context.Background(), "sess-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unpause")

	st.AssertNotCalled(t, "CompareAndSetStatus", "sess-1", store.StatusPaused, store.StatusRunning)
}
