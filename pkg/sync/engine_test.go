package sync

import (
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/storage"
)

func TestEngine_InstancesAreIndependent(t *testing.T) {
	first, _ := newTestEngine()
	defer func() { _ = first.Close() }()
	second, _ := newTestEngine()
	defer func() { _ = second.Close() }()

	require.NoError(t, first.Connect(testConfig()))
	waitForState(t, first, domain.StateConnected)
	first.UpdateNodeStatus("n1", "wf1", domain.NodeStatusRunning)

	// The second engine shares nothing with the first.
	assert.Equal(t, domain.StateDisconnected, second.ConnectionState())
	_, ok := second.GetNodeState("n1")
	assert.False(t, ok)
	assert.Equal(t, int64(0), second.TotalUpdates())
}

func TestEngine_TransportEventsFlowIntoStore(t *testing.T) {
	engine, factory := newTestEngine()
	defer func() { _ = engine.Close() }()

	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)

	ft := factory.last()
	ft.send([]byte(`{"type":"node_started","workflowId":"wf1","nodeId":"n1"}`))
	ft.send([]byte(`{"type":"node_progress","workflowId":"wf1","nodeId":"n1","data":{"current":5,"total":10}}`))
	ft.send([]byte(`{"type":"node_completed","workflowId":"wf1","nodeId":"n1","data":{"rowCount":10}}`))

	require.Eventually(t, func() bool {
		state, ok := engine.GetNodeState("n1")
		return ok && state.Version == 3
	}, waitFor, tick)

	state, ok := engine.GetNodeState("n1")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusCompleted, state.Status)
	require.NotNil(t, state.Progress)
	assert.Equal(t, 5, state.Progress.Current)
	require.NotNil(t, state.Result)
	assert.Equal(t, 10, state.Result.RowCount)
}

func TestEngine_OfflineUpdatesReplayOnReconnect(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	// Received while disconnected: buffered, not applied.
	engine.HandleMessage([]byte(`{"type":"node_started","workflowId":"wf1","nodeId":"n1"}`))
	engine.HandleMessage([]byte(`{"type":"node_progress","workflowId":"wf1","nodeId":"n1","data":{"current":5}}`))
	require.Equal(t, 2, engine.OfflineQueueLen())
	_, ok := engine.GetNodeState("n1")
	require.False(t, ok)

	// Connecting drains the queue in order.
	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)

	require.Eventually(t, func() bool { return engine.OfflineQueueLen() == 0 }, waitFor, tick)

	state, ok := engine.GetNodeState("n1")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusRunning, state.Status)
	require.NotNil(t, state.Progress)
	assert.Equal(t, 5, state.Progress.Current)
	// Replayed updates count like live ones.
	assert.Equal(t, int64(2), state.Version)
}

func TestEngine_OfflineReplayMatchesLiveApplication(t *testing.T) {
	live, _ := newTestEngine()
	defer func() { _ = live.Close() }()
	buffered, _ := newTestEngine()
	defer func() { _ = buffered.Close() }()

	messages := [][]byte{
		[]byte(`{"type":"node_started","workflowId":"wf1","nodeId":"n1"}`),
		[]byte(`{"type":"node_progress","workflowId":"wf1","nodeId":"n1","data":{"current":3,"total":9}}`),
		[]byte(`{"type":"node_log","workflowId":"wf1","nodeId":"n1","data":{"level":"info","message":"halfway"}}`),
		[]byte(`{"type":"node_completed","workflowId":"wf1","nodeId":"n1","data":{"rowCount":9}}`),
	}

	// Live path: connected before any message arrives.
	require.NoError(t, live.Connect(testConfig()))
	waitForState(t, live, domain.StateConnected)
	for _, msg := range messages {
		live.HandleMessage(msg)
	}

	// Buffered path: same messages while disconnected, then connect.
	for _, msg := range messages {
		buffered.HandleMessage(msg)
	}
	require.NoError(t, buffered.Connect(testConfig()))
	waitForState(t, buffered, domain.StateConnected)
	require.Eventually(t, func() bool { return buffered.OfflineQueueLen() == 0 }, waitFor, tick)

	liveState, ok := live.GetNodeState("n1")
	require.True(t, ok)
	bufferedState, ok := buffered.GetNodeState("n1")
	require.True(t, ok)

	// Both paths converge on the same state.
	assert.Equal(t, liveState.Status, bufferedState.Status)
	assert.Equal(t, liveState.Version, bufferedState.Version)
	assert.Equal(t, liveState.Progress, bufferedState.Progress)
	assert.Equal(t, liveState.Result, bufferedState.Result)
	require.Len(t, bufferedState.Logs, 1)
	assert.Equal(t, "halfway", bufferedState.Logs[0].Message)
}

func TestEngine_MutatorsBufferWhileDisconnected(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	// The convenience mutators follow the same gating as UpdateNodeState:
	// while not connected they buffer instead of applying.
	engine.UpdateNodeStatus("n1", "wf1", domain.NodeStatusRunning)
	engine.UpdateNodeProgress("n1", "wf1", domain.ProgressData{Current: intPtr(4)})
	engine.AddNodeLog("n1", "wf1", domain.LogData{Level: domain.LogLevelInfo, Message: "queued"})

	assert.Equal(t, 3, engine.OfflineQueueLen())
	assert.Equal(t, 3, engine.PendingOfflineUpdates("wf1", "n1"))
	_, ok := engine.GetNodeState("n1")
	assert.False(t, ok)

	// Connecting replays them in order.
	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)
	require.Eventually(t, func() bool { return engine.OfflineQueueLen() == 0 }, waitFor, tick)

	state, ok := engine.GetNodeState("n1")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusRunning, state.Status)
	require.NotNil(t, state.Progress)
	assert.Equal(t, 4, state.Progress.Current)
	require.Len(t, state.Logs, 1)
	assert.Equal(t, int64(3), state.Version)
}

func TestEngine_SubscribersSeeAcceptedUpdates(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)

	var versions atomic.Int64
	engine.Subscribe("n1", func(state *domain.NodeExecutionState) {
		versions.Store(state.Version)
	}, nil)

	engine.UpdateNodeStatus("n1", "wf1", domain.NodeStatusRunning)
	engine.UpdateNodeProgress("n1", "wf1", domain.ProgressData{Current: intPtr(1)})

	require.Eventually(t, func() bool { return versions.Load() == 2 }, waitFor, tick)
}

func TestEngine_SubscribeExprFiltersThroughDispatch(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)

	var progressDeliveries atomic.Int32
	_, err := engine.SubscribeExpr("n1", func(*domain.NodeExecutionState) {
		progressDeliveries.Add(1)
	}, `type == "progress"`)
	require.NoError(t, err)

	var allDeliveries atomic.Int32
	engine.Subscribe("n1", func(*domain.NodeExecutionState) {
		allDeliveries.Add(1)
	}, nil)

	engine.UpdateNodeStatus("n1", "wf1", domain.NodeStatusRunning)
	engine.UpdateNodeProgress("n1", "wf1", domain.ProgressData{Current: intPtr(1)})
	engine.UpdateNodeStatus("n1", "wf1", domain.NodeStatusCompleted)

	require.Eventually(t, func() bool { return allDeliveries.Load() == 3 }, waitFor, tick)
	assert.Equal(t, int32(1), progressDeliveries.Load())
}

func TestEngine_UpdateSugarMethods(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)

	engine.UpdateNodeStatus("n1", "wf1", domain.NodeStatusRunning)
	assert.True(t, engine.IsNodeRunning("n1"))

	engine.UpdateNodeError("n1", "wf1", domain.ErrorData{Message: "boom"})
	state, ok := engine.GetNodeState("n1")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusError, state.Status)

	engine.UpdateNodeResult("n2", "wf1", domain.ResultData{RowCount: intPtr(3)})
	assert.Len(t, engine.GetNodesByStatus(domain.NodeStatusCompleted), 1)

	engine.AddNodeLog("n1", "wf1", domain.LogData{Level: domain.LogLevelInfo, Message: "retrying"})
	state, ok = engine.GetNodeState("n1")
	require.True(t, ok)
	require.Len(t, state.Logs, 1)
	// Logging never changes status.
	assert.Equal(t, domain.NodeStatusError, state.Status)

	assert.Len(t, engine.GetNodesByWorkflow("wf1"), 2)
	assert.Equal(t, int64(4), engine.TotalUpdates())

	engine.ClearWorkflowStates("wf1")
	assert.Empty(t, engine.GetNodesByWorkflow("wf1"))
}

func TestEngine_JournalRecordsAcceptedUpdates(t *testing.T) {
	journal, err := storage.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)

	factory := &fakeFactory{}
	engine := NewEngineWithOptions(Options{Journal: journal, TransportFactory: factory.new})
	defer func() { _ = engine.Close() }()

	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)

	engine.UpdateNodeStatus("n1", "wf1", domain.NodeStatusRunning)
	engine.UpdateNodeProgress("n1", "wf1", domain.ProgressData{Current: intPtr(2)})
	engine.UpdateNodeResult("n1", "wf1", domain.ResultData{RowCount: intPtr(2)})

	entries, err := journal.ListByWorkflow("wf1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.UpdateStatus, entries[0].UpdateType)
	assert.Equal(t, domain.UpdateProgress, entries[1].UpdateType)
	assert.Equal(t, domain.UpdateResult, entries[2].UpdateType)
	assert.Equal(t, int64(3), entries[2].Version)
	assert.Equal(t, domain.NodeStatusCompleted, entries[2].Status)
}

func TestEngine_CloseIsTerminal(t *testing.T) {
	engine, factory := newTestEngine()

	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)
	require.NoError(t, engine.Close())

	assert.Equal(t, domain.StateDisconnected, engine.ConnectionState())
	assert.Equal(t, 1, factory.count())
}
