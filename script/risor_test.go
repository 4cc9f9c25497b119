package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRisorEngineCompileAndEvaluate(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(DefaultGlobals())

	script, err := engine.Compile(ctx, `payload["risk_score"] >= 0.6`)
	require.NoError(t, err)

	t.Run("truthy above threshold", func(t *testing.T) {
		value, err := script.Evaluate(ctx, map[string]any{
			"payload": map[string]any{"risk_score": 0.85},
		})
		require.NoError(t, err)
		require.True(t, value.IsTruthy())
	})

	t.Run("falsy below threshold", func(t *testing.T) {
		value, err := script.Evaluate(ctx, map[string]any{
			"payload": map[string]any{"risk_score": 0.2},
		})
		require.NoError(t, err)
		require.False(t, value.IsTruthy())
	})
}

func TestRisorEngineMsgTypeGlobal(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(DefaultGlobals())

	script, err := engine.Compile(ctx, `msg_type == "fraud.alert"`)
	require.NoError(t, err)

	value, err := script.Evaluate(ctx, map[string]any{"msg_type": "fraud.alert"})
	require.NoError(t, err)
	require.True(t, value.IsTruthy())
}

func TestRisorEngineCompileError(t *testing.T) {
	engine := NewRisorEngine(DefaultGlobals())
	_, err := engine.Compile(context.Background(), `payload[`)
	require.Error(t, err)
}

func TestRisorValueConversion(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(DefaultGlobals())

	script, err := engine.Compile(ctx, `{"scores": [0.2, 0.8], "count": 2}`)
	require.NoError(t, err)

	value, err := script.Evaluate(ctx, nil)
	require.NoError(t, err)
	require.True(t, value.IsTruthy())

	out, ok := value.Value().(map[string]any)
	require.True(t, ok)
	require.Equal(t, []any{0.2, 0.8}, out["scores"])
	require.Equal(t, int64(2), out["count"])
}

func TestRisorValueString(t *testing.T) {
	ctx := context.Background()
	engine := NewRisorEngine(DefaultGlobals())

	script, err := engine.Compile(ctx, `"risk: " + string(payload["risk_score"])`)
	require.NoError(t, err)

	value, err := script.Evaluate(ctx, map[string]any{
		"payload": map[string]any{"risk_score": 0.9},
	})
	require.NoError(t, err)
	require.Equal(t, "risk: 0.9", value.String())
}
