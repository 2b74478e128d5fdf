package sync

import (
	"dario.cat/mergo"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
)

// mergeMaps merges src over dst and returns the result. dst is not modified.
// Used for result payloads, schemas, and statistics where the backend sends
// partial fragments that accumulate across updates.
func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	if len(src) == 0 {
		return dst
	}
	if len(dst) == 0 {
		return src
	}

	merged := make(map[string]interface{}, len(dst))
	for k, v := range dst {
		merged[k] = v
	}
	if err := mergo.Merge(&merged, src, mergo.WithOverride); err != nil {
		// Merge failures only occur for exotic value types; prefer the newest
		// fragment over losing the update.
		return src
	}
	return merged
}

// applyProgress merges a partial progress report into the node state. Only
// fields present on the wire (non-nil pointers, non-empty slices) overwrite.
func applyProgress(state *domain.NodeExecutionState, data domain.ProgressData) {
	if state.Progress == nil {
		state.Progress = &domain.Progress{}
	}
	p := state.Progress

	if data.Current != nil {
		p.Current = *data.Current
	}
	if data.Total != nil {
		p.Total = *data.Total
	}
	if data.Percentage != nil {
		p.Percentage = *data.Percentage
	}
	if data.Message != nil {
		p.Message = *data.Message
	}
	if len(data.Stages) > 0 {
		p.Stages = append([]domain.Stage(nil), data.Stages...)
	}
	if data.Throughput != nil {
		p.Throughput = *data.Throughput
	}
	if data.ETA != nil {
		p.ETA = *data.ETA
	}
}

// applyResult merges a result report into the node state. Maps accumulate,
// counts overwrite when present.
func applyResult(state *domain.NodeExecutionState, data domain.ResultData) {
	if state.Result == nil {
		state.Result = &domain.Result{}
	}
	r := state.Result

	r.Payload = mergeMaps(r.Payload, data.Payload)
	r.Schema = mergeMaps(r.Schema, data.Schema)
	r.Statistics = mergeMaps(r.Statistics, data.Statistics)
	if data.RowCount != nil {
		r.RowCount = *data.RowCount
	}
	if data.ColumnCount != nil {
		r.ColumnCount = *data.ColumnCount
	}
}
