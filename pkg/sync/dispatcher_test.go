package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
)

func TestDecodeWorkflowEvent(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantType   domain.UpdateType
		wantNodeID types.NodeID
		check      func(t *testing.T, data domain.UpdateData)
	}{
		{
			name:       "node started",
			raw:        `{"type":"node_started","workflowId":"wf1","nodeId":"n1"}`,
			wantType:   domain.UpdateStatus,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				assert.Equal(t, domain.StatusData{Status: domain.NodeStatusRunning}, data)
			},
		},
		{
			name:       "node started with explicit status",
			raw:        `{"type":"node_started","workflowId":"wf1","nodeId":"n1","data":{"status":"paused"}}`,
			wantType:   domain.UpdateStatus,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				assert.Equal(t, domain.StatusData{Status: domain.NodeStatusPaused}, data)
			},
		},
		{
			name:       "node started ignores bogus status",
			raw:        `{"type":"node_started","workflowId":"wf1","nodeId":"n1","data":{"status":"warp-speed"}}`,
			wantType:   domain.UpdateStatus,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				assert.Equal(t, domain.StatusData{Status: domain.NodeStatusRunning}, data)
			},
		},
		{
			name:       "node paused",
			raw:        `{"type":"node_paused","workflowId":"wf1","nodeId":"n1"}`,
			wantType:   domain.UpdateStatus,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				assert.Equal(t, domain.StatusData{Status: domain.NodeStatusPaused}, data)
			},
		},
		{
			name:       "node resumed",
			raw:        `{"type":"node_resumed","workflowId":"wf1","nodeId":"n1"}`,
			wantType:   domain.UpdateStatus,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				assert.Equal(t, domain.StatusData{Status: domain.NodeStatusRunning}, data)
			},
		},
		{
			name:       "node progress",
			raw:        `{"type":"node_progress","workflowId":"wf1","nodeId":"n2","data":{"current":7,"total":10,"message":"loading"}}`,
			wantType:   domain.UpdateProgress,
			wantNodeID: "n2",
			check: func(t *testing.T, data domain.UpdateData) {
				progress, ok := data.(domain.ProgressData)
				require.True(t, ok)
				require.NotNil(t, progress.Current)
				assert.Equal(t, 7, *progress.Current)
				require.NotNil(t, progress.Total)
				assert.Equal(t, 10, *progress.Total)
				require.NotNil(t, progress.Message)
				assert.Equal(t, "loading", *progress.Message)
				assert.Nil(t, progress.Percentage)
			},
		},
		{
			name:       "node log",
			raw:        `{"type":"node_log","workflowId":"wf1","nodeId":"n1","data":{"level":"warn","message":"slow source"}}`,
			wantType:   domain.UpdateLog,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				log, ok := data.(domain.LogData)
				require.True(t, ok)
				assert.Equal(t, domain.LogLevelWarn, log.Level)
				assert.Equal(t, "slow source", log.Message)
				assert.False(t, log.Timestamp.IsZero())
			},
		},
		{
			name:       "node error",
			raw:        `{"type":"node_error","workflowId":"wf1","nodeId":"n1","data":{"message":"boom","code":"E1","recoverable":true}}`,
			wantType:   domain.UpdateError,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				errData, ok := data.(domain.ErrorData)
				require.True(t, ok)
				assert.Equal(t, "boom", errData.Message)
				assert.Equal(t, "E1", errData.Code)
				assert.True(t, errData.Recoverable)
			},
		},
		{
			name:       "node completed",
			raw:        `{"type":"node_completed","workflowId":"wf1","nodeId":"n1","data":{"rowCount":42,"payload":{"preview":"a,b"}}}`,
			wantType:   domain.UpdateResult,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				result, ok := data.(domain.ResultData)
				require.True(t, ok)
				require.NotNil(t, result.RowCount)
				assert.Equal(t, 42, *result.RowCount)
				assert.Equal(t, "a,b", result.Payload["preview"])
			},
		},
		{
			name:       "node completed without data",
			raw:        `{"type":"node_completed","workflowId":"wf1","nodeId":"n1"}`,
			wantType:   domain.UpdateResult,
			wantNodeID: "n1",
			check: func(t *testing.T, data domain.UpdateData) {
				_, ok := data.(domain.ResultData)
				assert.True(t, ok)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := decodeWorkflowEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, payload.Type)
			assert.Equal(t, tt.wantNodeID, payload.NodeID)
			assert.Equal(t, types.WorkflowID("wf1"), payload.WorkflowID)
			tt.check(t, payload.Data)
		})
	}
}

func TestDecodeWorkflowEvent_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "unknown event type", raw: `{"type":"node_levitated","workflowId":"wf1","nodeId":"n1"}`},
		{name: "missing node id", raw: `{"type":"node_started","workflowId":"wf1"}`},
		{name: "missing workflow id", raw: `{"type":"node_started","nodeId":"n1"}`},
		{name: "empty node id", raw: `{"type":"node_started","workflowId":"wf1","nodeId":""}`},
		{name: "data not an object", raw: `{"type":"node_progress","workflowId":"wf1","nodeId":"n1","data":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeWorkflowEvent([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestHandleMessage_MalformedInputIsDiscarded(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	malformed := []string{
		"",
		"not json at all",
		`{"truncated":`,
		`{"workflowId":"wf1","nodeId":"n1"}`,                         // no type
		`{"type":"node_levitated","workflowId":"wf1","nodeId":"n1"}`, // unknown type
		`{"type":"node_started","workflowId":"wf1"}`,                 // missing node id
		`[1,2,3]`,
	}
	for _, raw := range malformed {
		engine.HandleMessage([]byte(raw))
	}

	// Nothing crashed and no state was created or buffered.
	assert.Equal(t, 0, engine.store.Len())
	assert.Equal(t, 0, engine.OfflineQueueLen())
	assert.Equal(t, int64(0), engine.TotalUpdates())
}

func TestHandleMessage_HeartbeatRefreshesLiveness(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	stamp := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	engine.HandleMessage([]byte(`{"type":"heartbeat","timestamp":"2026-08-24T12:00:00Z"}`))

	health := engine.GetConnectionHealth()
	assert.True(t, stamp.Equal(health.LastHeartbeat))
	// Heartbeats are liveness only, never state.
	assert.Equal(t, 0, engine.store.Len())
	assert.Equal(t, 0, engine.OfflineQueueLen())
}

func TestHandleMessage_BuffersWhileNotConnected(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	engine.HandleMessage([]byte(`{"type":"node_started","workflowId":"wf1","nodeId":"n1"}`))
	engine.HandleMessage([]byte(`{"type":"node_progress","workflowId":"wf1","nodeId":"n1","data":{"current":1}}`))

	// Valid events received while disconnected are buffered, not applied.
	assert.Equal(t, 2, engine.OfflineQueueLen())
	assert.Equal(t, 0, engine.store.Len())
	assert.Equal(t, 2, engine.PendingOfflineUpdates("wf1", "n1"))
}

func TestHandleMessage_AppliesWhileConnected(t *testing.T) {
	engine, _ := newTestEngine()
	defer func() { _ = engine.Close() }()

	require.NoError(t, engine.Connect(testConfig()))
	waitForState(t, engine, domain.StateConnected)

	engine.HandleMessage([]byte(`{"type":"node_started","workflowId":"wf1","nodeId":"n1"}`))

	state, ok := engine.GetNodeState("n1")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusRunning, state.Status)
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, 0, engine.OfflineQueueLen())
}

func TestParseWireTime(t *testing.T) {
	parsed := parseWireTime("2026-08-24T12:00:00Z")
	assert.Equal(t, time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC), parsed.UTC())

	// Missing or broken timestamps fall back to the receive time.
	for _, value := range []string{"", "yesterday-ish"} {
		fallback := parseWireTime(value)
		assert.WithinDuration(t, time.Now(), fallback, time.Second)
	}
}
