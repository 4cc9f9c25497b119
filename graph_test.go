package flowstone

import (
	"context"
	"testing"

	"github.com/flowstone-ai/flowstone/script"
	"github.com/stretchr/testify/require"
)

func noop(id string) *ExecutorFunc {
	return NewExecutorFunc(id, func(ctx context.Context, msg Message, rc *RunContext) error {
		return nil
	})
}

func TestGraphBuilderValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a name", func(t *testing.T) {
		_, err := NewGraphBuilder("").AddExecutor(noop("a")).SetStart("a").Build(ctx)
		require.ErrorContains(t, err, "name required")
	})

	t.Run("requires a start executor", func(t *testing.T) {
		_, err := NewGraphBuilder("g").AddExecutor(noop("a")).Build(ctx)
		require.ErrorContains(t, err, "start executor required")
	})

	t.Run("rejects duplicate executor ids", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("a")).
			SetStart("a").
			Build(ctx)
		require.ErrorContains(t, err, "duplicate executor id")
	})

	t.Run("rejects edges to unknown executors", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutor(noop("a")).
			SetStart("a").
			AddEdge("a", "ghost").
			Build(ctx)
		require.ErrorContains(t, err, "unknown executor")
	})

	t.Run("rejects unreachable executors", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("island")).
			SetStart("a").
			Build(ctx)
		require.ErrorContains(t, err, "not reachable")
	})

	t.Run("rejects two fan-ins on one target", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("b"), noop("c"), noop("t")).
			SetStart("a").
			AddFanOutEdges("a", "b", "c").
			AddFanInEdges([]string{"b"}, "t").
			AddFanInEdges([]string{"c"}, "t").
			Build(ctx)
		require.ErrorContains(t, err, "two fan-ins")
	})

	t.Run("rejects duplicate fan-in source", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("b"), noop("t")).
			SetStart("a").
			AddEdge("a", "b").
			AddFanInEdges([]string{"b", "b"}, "t").
			Build(ctx)
		require.ErrorContains(t, err, "twice")
	})

	t.Run("rejects switch without default", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("b")).
			SetStart("a").
			AddSwitch("a", []*SwitchCase{{When: func(Message) bool { return true }, Target: "b"}}, "").
			Build(ctx)
		require.ErrorContains(t, err, "default target")
	})

	t.Run("rejects case without predicate or condition", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("b"), noop("c")).
			SetStart("a").
			AddSwitch("a", []*SwitchCase{{Target: "b"}}, "c").
			Build(ctx)
		require.ErrorContains(t, err, "neither predicate nor condition")
	})

	t.Run("rejects switch combined with unconditional edges", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("b"), noop("c")).
			SetStart("a").
			AddEdge("a", "b").
			AddSwitch("a", []*SwitchCase{{When: func(Message) bool { return true }, Target: "b"}}, "c").
			Build(ctx)
		require.ErrorContains(t, err, "both a switch and unconditional edges")
	})

	t.Run("rejects script condition without compiler", func(t *testing.T) {
		_, err := NewGraphBuilder("g").
			AddExecutors(noop("a"), noop("b"), noop("c")).
			SetStart("a").
			AddSwitch("a", []*SwitchCase{{Condition: `payload["x"]`, Target: "b"}}, "c").
			Build(ctx)
		require.ErrorContains(t, err, "no compiler")
	})
}

func TestBuildCopiesEdgeMaps(t *testing.T) {
	ctx := context.Background()
	builder := NewGraphBuilder("g").
		AddExecutors(noop("a"), noop("b")).
		SetStart("a").
		AddEdge("a", "b")
	graph, err := builder.Build(ctx)
	require.NoError(t, err)

	// Reusing the builder must not reach into the built graph
	builder.AddEdge("a", "b")
	require.Len(t, graph.direct["a"], 1)
	require.True(t, graph.isTerminal("b"))
}

func TestGraphTerminals(t *testing.T) {
	graph, err := NewGraphBuilder("g").
		AddExecutors(noop("a"), noop("b"), noop("c")).
		SetStart("a").
		AddEdge("a", "b").
		AddEdge("b", "c").
		Build(context.Background())
	require.NoError(t, err)

	require.False(t, graph.isTerminal("a"))
	require.False(t, graph.isTerminal("b"))
	require.True(t, graph.isTerminal("c"))
	require.True(t, graph.hasTarget("a", "b"))
	require.False(t, graph.hasTarget("a", "c"))
	require.Equal(t, []string{"a", "b", "c"}, graph.ExecutorIDs())
}

func TestSwitchScriptConditionEvaluation(t *testing.T) {
	ctx := context.Background()
	compiler := script.NewRisorEngine(script.DefaultGlobals())

	graph, err := NewGraphBuilder("g").
		WithCompiler(compiler).
		AddExecutors(noop("a"), noop("high"), noop("low")).
		SetStart("a").
		AddSwitch("a", []*SwitchCase{
			{Condition: `payload["risk"] >= 0.6`, Target: "high"},
		}, "low").
		Build(ctx)
	require.NoError(t, err)

	spec := graph.switches["a"]
	require.NotNil(t, spec)

	t.Run("condition true", func(t *testing.T) {
		msg, err := NewMessage("assessment", map[string]any{"risk": 0.9})
		require.NoError(t, err)
		target, err := spec.evaluate(ctx, msg)
		require.NoError(t, err)
		require.Equal(t, "high", target)
	})

	t.Run("condition false falls to default", func(t *testing.T) {
		msg, err := NewMessage("assessment", map[string]any{"risk": 0.1})
		require.NoError(t, err)
		target, err := spec.evaluate(ctx, msg)
		require.NoError(t, err)
		require.Equal(t, "low", target)
	})

	t.Run("first matching case wins", func(t *testing.T) {
		ordered, err := NewGraphBuilder("ordered").
			WithCompiler(compiler).
			AddExecutors(noop("a"), noop("first"), noop("second"), noop("fallback")).
			SetStart("a").
			AddSwitch("a", []*SwitchCase{
				{When: func(Message) bool { return true }, Target: "first"},
				{When: func(Message) bool { return true }, Target: "second"},
			}, "fallback").
			Build(ctx)
		require.NoError(t, err)

		msg, err := NewMessage("anything", map[string]any{})
		require.NoError(t, err)
		target, err := ordered.switches["a"].evaluate(ctx, msg)
		require.NoError(t, err)
		require.Equal(t, "first", target)
	})
}
