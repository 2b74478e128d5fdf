package sync

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
)

// Wire message and event type names as emitted by the execution backend.
const (
	msgHeartbeat = "heartbeat"

	evtNodeStarted   = "node_started"
	evtNodeProgress  = "node_progress"
	evtNodeLog       = "node_log"
	evtNodeError     = "node_error"
	evtNodeCompleted = "node_completed"
	evtNodePaused    = "node_paused"
	evtNodeResumed   = "node_resumed"
)

// eventSchema validates the envelope of workflow events before decoding.
// The data shape varies per event type and is checked by the typed decode.
const eventSchema = `{
  "type": "object",
  "required": ["type", "workflowId", "nodeId"],
  "properties": {
    "type": {"type": "string"},
    "workflowId": {"type": "string", "minLength": 1},
    "nodeId": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "data": {"type": "object"}
  }
}`

// wireEvent is the envelope of a workflow event message.
type wireEvent struct {
	Type       string          `json:"type"`
	WorkflowID string          `json:"workflowId"`
	NodeID     string          `json:"nodeId"`
	Timestamp  string          `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// HandleMessage parses one raw transport message and routes it. Malformed
// input is logged and discarded; no panic escapes and no state is mutated
// for a message that fails to parse. This is the sole place where the
// connection state decides between immediate application and offline
// buffering.
func (e *Engine) HandleMessage(raw []byte) {
	if !gjson.ValidBytes(raw) {
		e.logger.Warn("discarding malformed message", "bytes", len(raw))
		return
	}

	msgType := gjson.GetBytes(raw, "type").String()
	if msgType == "" {
		e.logger.Warn("discarding message without type field")
		return
	}

	if msgType == msgHeartbeat {
		e.recordHeartbeat(parseWireTime(gjson.GetBytes(raw, "timestamp").String()))
		return
	}

	payload, err := decodeWorkflowEvent(raw)
	if err != nil {
		e.logger.Warn("discarding undecodable workflow event", "type", msgType, "error", err)
		return
	}

	if e.ConnectionState() == domain.StateConnected {
		e.applyUpdate(payload)
		return
	}
	e.queue.Enqueue(payload)
}

// decodeWorkflowEvent validates a workflow event against the envelope
// schema and translates it into a typed update payload. Unknown event types
// are rejected here so the reducer only ever sees the sealed payload union.
func decodeWorkflowEvent(raw []byte) (domain.NodeUpdatePayload, error) {
	var zero domain.NodeUpdatePayload

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(eventSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return zero, fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msg string
		for i, desc := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += desc.String()
		}
		return zero, fmt.Errorf("invalid workflow event: %s", msg)
	}

	var event wireEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return zero, fmt.Errorf("failed to decode event envelope: %w", err)
	}

	data, updateType, err := decodeEventData(event.Type, event.Data)
	if err != nil {
		return zero, err
	}

	return domain.NodeUpdatePayload{
		NodeID:     types.NodeID(event.NodeID),
		WorkflowID: types.WorkflowID(event.WorkflowID),
		Type:       updateType,
		Data:       data,
		Timestamp:  parseWireTime(event.Timestamp),
	}, nil
}

// decodeEventData maps an event type to its concrete payload data. The
// switch is exhaustive over the protocol; anything else is an error.
func decodeEventData(eventType string, raw json.RawMessage) (domain.UpdateData, domain.UpdateType, error) {
	switch eventType {
	case evtNodeStarted:
		status := domain.NodeStatusRunning
		if len(raw) > 0 {
			var data domain.StatusData
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, "", fmt.Errorf("failed to decode status data: %w", err)
			}
			if data.Status.Valid() {
				status = data.Status
			}
		}
		return domain.StatusData{Status: status}, domain.UpdateStatus, nil

	case evtNodePaused:
		return domain.StatusData{Status: domain.NodeStatusPaused}, domain.UpdateStatus, nil

	case evtNodeResumed:
		return domain.StatusData{Status: domain.NodeStatusRunning}, domain.UpdateStatus, nil

	case evtNodeProgress:
		var data domain.ProgressData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, "", fmt.Errorf("failed to decode progress data: %w", err)
		}
		return data, domain.UpdateProgress, nil

	case evtNodeLog:
		var data domain.LogData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, "", fmt.Errorf("failed to decode log data: %w", err)
		}
		if data.Timestamp.IsZero() {
			data.Timestamp = time.Now()
		}
		return data, domain.UpdateLog, nil

	case evtNodeError:
		var data domain.ErrorData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, "", fmt.Errorf("failed to decode error data: %w", err)
		}
		return data, domain.UpdateError, nil

	case evtNodeCompleted:
		var data domain.ResultData
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				return nil, "", fmt.Errorf("failed to decode result data: %w", err)
			}
		}
		return data, domain.UpdateResult, nil

	default:
		return nil, "", fmt.Errorf("unknown event type %q", eventType)
	}
}

// parseWireTime parses an ISO-8601 timestamp, falling back to the local
// receive time when the backend sent none or an unparseable one.
func parseWireTime(value string) time.Time {
	if value == "" {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Now()
	}
	return t
}
