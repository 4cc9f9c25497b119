package flowstone

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func marshalEventKeys(t *testing.T, event Event) map[string]any {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEventJSONShapes(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	t.Run("executor_invoked", func(t *testing.T) {
		event := Event{Type: EventExecutorInvoked, ExecutorID: "agg", Timestamp: now}
		out := marshalEventKeys(t, event)
		require.Equal(t, map[string]any{
			"type":        "executor_invoked",
			"executor_id": "agg",
			"timestamp":   "2026-08-24T12:00:00Z",
		}, out)
	})

	t.Run("executor_failed carries error", func(t *testing.T) {
		event := Event{Type: EventExecutorFailed, ExecutorID: "s2", Error: "boom", Timestamp: now}
		out := marshalEventKeys(t, event)
		require.Equal(t, "executor_failed", out["type"])
		require.Equal(t, "boom", out["error"])
	})

	t.Run("workflow_status_changed", func(t *testing.T) {
		event := Event{Type: EventWorkflowStatusChanged, Status: StatusAwaitingDecision, Timestamp: now}
		out := marshalEventKeys(t, event)
		require.Equal(t, map[string]any{
			"type":      "workflow_status_changed",
			"status":    "awaiting_decision",
			"timestamp": "2026-08-24T12:00:00Z",
		}, out)
	})

	t.Run("decision_required", func(t *testing.T) {
		checkpointID := "chk_1"
		event := Event{
			Type:         EventDecisionRequired,
			RequestID:    "req_1",
			Data:         json.RawMessage(`{"overall_risk_score":0.8}`),
			CheckpointID: &checkpointID,
			Timestamp:    now,
		}
		out := marshalEventKeys(t, event)
		require.Equal(t, "req_1", out["request_id"])
		require.Equal(t, "chk_1", out["checkpoint_id"])
		require.Equal(t, map[string]any{"overall_risk_score": 0.8}, out["data"])
	})

	t.Run("workflow_output", func(t *testing.T) {
		event := Event{
			Type:      EventWorkflowOutput,
			Output:    json.RawMessage(`{"resolution":"cleared"}`),
			Timestamp: now,
		}
		out := marshalEventKeys(t, event)
		require.Equal(t, map[string]any{"resolution": "cleared"}, out["output"])
	})
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(1)
	sink.Emit(newEvent(EventExecutorInvoked))
	sink.Emit(newEvent(EventExecutorCompleted)) // dropped, consumer is slow
	sink.Close()

	var received []Event
	for event := range sink.Events() {
		received = append(received, event)
	}
	require.Len(t, received, 1)
	require.Equal(t, EventExecutorInvoked, received[0].Type)
}

func TestMultiSinkFansOut(t *testing.T) {
	a := NewCollectorSink()
	b := NewCollectorSink()
	sink := NewMultiSink(a, b)
	sink.Emit(newEvent(EventWorkflowOutput))
	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
}
