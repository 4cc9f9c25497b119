package flowstone

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const reviewGraphYAML = `
name: fraud-review
start: ingest
executors:
  - ingest
  - s1
  - s2
  - agg
  - review
  - auto
  - act
  - final
fan_outs:
  - from: ingest
    targets: [s1, s2]
fan_ins:
  - sources: [s1, s2]
    target: agg
switches:
  - from: agg
    cases:
      - condition: payload["score"] >= 0.6
        target: review
    default: auto
edges:
  - {from: review, to: act}
  - {from: act, to: final}
  - {from: auto, to: final}
`

func TestLoadGraphString(t *testing.T) {
	def, err := LoadGraphString(reviewGraphYAML)
	require.NoError(t, err)
	require.Equal(t, "fraud-review", def.Name)
	require.Equal(t, "ingest", def.Start)
	require.Len(t, def.Executors, 8)
	require.Len(t, def.FanOuts, 1)
	require.Len(t, def.FanIns, 1)
	require.Len(t, def.Switches, 1)
	require.Equal(t, "auto", def.Switches[0].Default)
}

func TestLoadGraphStringValidation(t *testing.T) {
	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadGraphString("{not yaml")
		require.Error(t, err)
	})
	t.Run("missing name", func(t *testing.T) {
		_, err := LoadGraphString("start: a\nexecutors: [a]")
		require.ErrorContains(t, err, "name required")
	})
	t.Run("missing start", func(t *testing.T) {
		_, err := LoadGraphString("name: g\nexecutors: [a]")
		require.ErrorContains(t, err, "start executor required")
	})
}

func TestGraphDefBuildAndRun(t *testing.T) {
	def, err := LoadGraphString(reviewGraphYAML)
	require.NoError(t, err)

	var batches [][]string
	executors := []Executor{
		passThrough("ingest", "case"),
		passThrough("s1", "part"),
		passThrough("s2", "part"),
		NewExecutorFunc("agg", func(ctx context.Context, msg Message, rc *RunContext) error {
			inputs, err := msg.DecodeBatch()
			if err != nil {
				return err
			}
			var order []string
			for _, input := range inputs {
				order = append(order, input.Source)
			}
			batches = append(batches, order)
			out := Message{Type: "assessment", Payload: inputs[0].Payload}
			rc.Send(out)
			return nil
		}),
		NewHumanReviewExecutor("review"),
		autoResolver(),
		decisionActor(),
		terminalOutput(),
	}

	ctx := context.Background()
	graph, err := def.BuildGraph(ctx, executors, nil)
	require.NoError(t, err)

	runner, err := NewRunner(graph, RunnerOptions{Store: NewMemoryStore(0)})
	require.NoError(t, err)

	t.Run("low score completes via auto path", func(t *testing.T) {
		result, err := runner.Run(ctx, startMessage(t, 0.2))
		require.NoError(t, err)
		require.Equal(t, StatusCompleted, result.Status)
		require.Equal(t, [][]string{{"s1", "s2"}}, batches)
	})

	t.Run("high score suspends for review", func(t *testing.T) {
		result, err := runner.Run(ctx, startMessage(t, 0.8))
		require.NoError(t, err)
		require.Equal(t, StatusAwaitingDecision, result.Status)
	})

	t.Run("unbound executor id", func(t *testing.T) {
		_, err := def.BuildGraph(ctx, executors[:3], nil)
		require.ErrorContains(t, err, "no executor bound")
	})
}
