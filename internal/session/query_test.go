package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/store"
	"github.com/anggakawa/teledocker/internal/testutil"
	"github.com/anggakawa/teledocker/protocol"
)

func TestGet(t *testing.T) {
	mgr, st, _, _, _ := newTestManager()

	sess := testutil.TestSession("sess-1", "owner-1")
	sess.Metadata = map[string]string{"channel": "telegram"}
	st.On("GetSession", "sess-1").Return(sess, nil)

	info, err := mgr.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", info.ID)
	assert.Equal(t, "owner-1", info.OwnerID)
	assert.Equal(t, "teledocker-sess-1", info.ContainerName)
	assert.Equal(t, "telegram", info.Metadata["channel"])
	assert.Nil(t, info.StoppedAt)
}

func TestGetNotFound(t *testing.T) {
	mgr, st, _, _, _ := newTestManager()

	st.On("GetSession", "ghost").Return(nil, nil)

	_, err := mgr.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetStoppedCarriesStoppedAt(t *testing.T) {
	mgr, st, _, _, _ := newTestManager()

	stoppedAt := time.Now().UTC().Add(-time.Hour)
	sess := testutil.TestSession("sess-1", "owner-1")
	sess.Status = store.StatusStopped
	sess.StoppedAt = &stoppedAt
	st.On("GetSession", "sess-1").Return(sess, nil)

	info, err := mgr.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, info.StoppedAt)
	assert.WithinDuration(t, stoppedAt, *info.StoppedAt, time.Second)
}

func TestList(t *testing.T) {
	mgr, st, _, _, _ := newTestManager()

	st.On("ListSessions", "owner-1", store.StatusRunning).Return([]*store.Session{
		testutil.TestSession("sess-1", "owner-1"),
		testutil.TestSession("sess-2", "owner-1"),
	}, nil)

	infos, err := mgr.List(context.Background(), "owner-1", store.StatusRunning)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "sess-1", infos[0].ID)
	assert.Equal(t, "sess-2", infos[1].ID)
}

func TestStatusRunningCombinesLiveReadings(t *testing.T) {
	mgr, st, eng, br, _ := newTestManager()

	st.On("GetSession", "sess-1").Return(testutil.TestSession("sess-1", "owner-1"), nil)
	eng.On("Stats", mock.Anything, "container-sess-1").Return(&engine.ContainerStats{
		CPUPercent:       12.5,
		MemoryUsageBytes: 64 << 20,
		MemoryLimitBytes: 512 << 20,
		Pids:             7,
	}, nil)
	br.On("Call", mock.Anything, "teledocker-sess-1", mock.MatchedBy(func(req *protocol.Request) bool {
		return req.Method == protocol.MethodHealthCheck
	})).Return(&protocol.Result{Status: protocol.HealthStatusOK, UptimeS: 120, DiskUsedMB: 42}, nil)

	report, err := mgr.Status(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, report.Engine)
	require.NotNil(t, report.Agent)
	assert.InDelta(t, 12.5, report.Engine.CPUPercent, 0.001)
	assert.Equal(t, int64(120), report.Agent.UptimeS)
}

func TestStatusNonRunningSkipsLiveReadings(t *testing.T) {
	mgr, st, eng, br, _ := newTestManager()

	paused := testutil.TestSession("sess-1", "owner-1")
	paused.Status = store.StatusPaused
	st.On("GetSession", "sess-1").Return(paused, nil)

	report, err := mgr.Status(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Nil(t, report.Engine)
	assert.Nil(t, report.Agent)

	eng.AssertNotCalled(t, "Stats", mock.Anything, mock.Anything)
	br.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestStatusPartialFailureStillReports(t *testing.T) {
	mgr, st, eng, br, _ := newTestManager()

	st.On("GetSession", "sess-1").Return(testutil.TestSession("sess-1", "owner-1"), nil)
	eng.On("Stats", mock.Anything, "container-sess-1").Return(nil, errBoom)
	br.On("Call", mock.Anything, mock.Anything, mock.Anything).
		Return(&protocol.Result{Status: protocol.HealthStatusOK}, nil)

	report, err := mgr.Status(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Nil(t, report.Engine)
	require.NotNil(t, report.Agent)
	assert.Equal(t, protocol.HealthStatusOK, report.Agent.Status)
}
