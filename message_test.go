package flowstone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("fraud.alert", map[string]any{"alert_id": "a1"})
	require.NoError(t, err)
	require.Equal(t, "fraud.alert", msg.Type)

	var payload map[string]any
	require.NoError(t, msg.Decode(&payload))
	require.Equal(t, "a1", payload["alert_id"])

	_, err = NewMessage("", nil)
	require.ErrorContains(t, err, "type required")
}

func TestDecodeBatchRejectsNonBatch(t *testing.T) {
	msg, err := NewMessage("fraud.alert", map[string]any{})
	require.NoError(t, err)
	_, err = msg.DecodeBatch()
	require.ErrorContains(t, err, "not a batch")
}

func TestBatchRoundTrip(t *testing.T) {
	first, err := NewMessage("part", map[string]any{"n": 1})
	require.NoError(t, err)
	first.Source = "s1"
	second, err := NewMessage("part", map[string]any{"n": 2})
	require.NoError(t, err)
	second.Source = "s2"

	batch, err := newBatchMessage(3, []Message{first, second})
	require.NoError(t, err)
	require.Equal(t, MessageTypeBatch, batch.Type)
	require.Equal(t, 3, batch.Iteration)

	inputs, err := batch.DecodeBatch()
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	require.Equal(t, "s1", inputs[0].Source)
	require.Equal(t, "s2", inputs[1].Source)
}

func TestPayloadMap(t *testing.T) {
	msg, err := NewMessage("assessment", map[string]any{"overall_risk_score": 0.8})
	require.NoError(t, err)
	payload, err := msg.PayloadMap()
	require.NoError(t, err)
	require.Equal(t, 0.8, payload["overall_risk_score"])

	empty := Message{Type: "empty"}
	payload, err = empty.PayloadMap()
	require.NoError(t, err)
	require.Empty(t, payload)
}
