package fraudreview

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/flowstone-ai/flowstone"
	"github.com/stretchr/testify/require"
)

// fixedAnalyzer returns the same risk score for every aspect, so the
// aggregated mean equals the score.
func fixedAnalyzer(score float64) Analyzer {
	return AnalyzerFunc(func(ctx context.Context, req AnalysisRequest) (*Finding, error) {
		return &Finding{
			RiskScore: score,
			Findings:  "fixed finding for " + req.Aspect,
		}, nil
	})
}

func testAlert() Alert {
	return Alert{
		AlertID:     "alert-001",
		CustomerID:  42,
		AlertType:   "multi_country_login",
		Description: "logins from three countries",
		Severity:    "high",
	}
}

func runPipeline(t *testing.T, score float64) (*flowstone.Runner, *flowstone.CollectorSink, *flowstone.RunResult) {
	t.Helper()
	ctx := context.Background()
	graph, err := NewPipeline(ctx, fixedAnalyzer(score))
	require.NoError(t, err)

	sink := flowstone.NewCollectorSink()
	runner, err := flowstone.NewRunner(graph, flowstone.RunnerOptions{
		Store: flowstone.NewMemoryStore(0),
		Sink:  sink,
	})
	require.NoError(t, err)

	start, err := flowstone.NewMessage(MsgTypeAlert, testAlert())
	require.NoError(t, err)
	result, err := runner.Run(ctx, start)
	require.NoError(t, err)
	return runner, sink, result
}

func TestHighRiskRoutesToReviewGateway(t *testing.T) {
	_, sink, result := runPipeline(t, 0.8)

	require.Equal(t, flowstone.StatusAwaitingDecision, result.Status)
	require.Len(t, result.PendingRequests, 1)
	require.Equal(t, ExecutorReviewGateway, result.PendingRequests[0].SourceExecutorID)

	var invoked []string
	for _, event := range sink.OfType(flowstone.EventExecutorInvoked) {
		invoked = append(invoked, event.ExecutorID)
	}
	require.Contains(t, invoked, ExecutorReviewGateway)
	require.NotContains(t, invoked, ExecutorAutoClear)
}

func TestLowRiskAutoClears(t *testing.T) {
	_, sink, result := runPipeline(t, 0.2)

	require.Equal(t, flowstone.StatusCompleted, result.Status)
	require.Empty(t, sink.OfType(flowstone.EventDecisionRequired))

	var notification Notification
	require.NoError(t, result.DecodeOutput(&notification))
	require.Equal(t, "alert-001", notification.AlertID)
	require.Equal(t, 42, notification.CustomerID)
	require.True(t, notification.CustomerNotified)
	require.True(t, notification.AuditLogged)
	require.Contains(t, notification.Resolution, "auto-cleared")
}

func TestAnalystDecisionCompletesRun(t *testing.T) {
	runner, sink, result := runPipeline(t, 0.8)
	ctx := context.Background()

	requestID := result.PendingRequests[0].RequestID
	resumed, err := runner.Resume(ctx, result.CheckpointID, map[string]flowstone.DecisionResponse{
		requestID: {
			ApprovedAction:  "lock_account",
			Notes:           "confirmed fraud pattern",
			DecisionMakerID: "analyst-7",
		},
	})
	require.NoError(t, err)
	require.Equal(t, flowstone.StatusCompleted, resumed.Status)

	var notification Notification
	require.NoError(t, resumed.DecodeOutput(&notification))
	require.Equal(t, "alert-001", notification.AlertID)
	// Customer id was merged from the original request payload
	require.Equal(t, 42, notification.CustomerID)
	require.Contains(t, notification.Resolution, "Account locked")
	require.Contains(t, notification.Resolution, "analyst-7")

	require.Len(t, sink.OfType(flowstone.EventDecisionRequired), 1)
	require.Len(t, sink.OfType(flowstone.EventWorkflowOutput), 1)
}

func TestRepeatedResumeIsRejected(t *testing.T) {
	runner, _, result := runPipeline(t, 0.8)
	ctx := context.Background()

	requestID := result.PendingRequests[0].RequestID
	responses := map[string]flowstone.DecisionResponse{
		requestID: {ApprovedAction: "clear", DecisionMakerID: "analyst-7"},
	}

	_, err := runner.Resume(ctx, result.CheckpointID, responses)
	require.NoError(t, err)

	_, err = runner.Resume(ctx, result.CheckpointID, responses)
	require.Error(t, err)
	require.True(t, flowstone.IsOrchestrationError(err, flowstone.ErrCodeCheckpointNotFound))
}

func TestPendingRequestCarriesReviewSummary(t *testing.T) {
	_, sink, result := runPipeline(t, 0.9)
	require.Equal(t, flowstone.StatusAwaitingDecision, result.Status)

	required := sink.OfType(flowstone.EventDecisionRequired)
	require.Len(t, required, 1)

	var data map[string]any
	require.NoError(t, json.Unmarshal(required[0].Data, &data))
	require.Equal(t, "alert-001", data["alert_id"])
	require.Equal(t, float64(42), data["customer_id"])
	require.InDelta(t, 0.9, data["overall_risk_score"], 1e-9)
	require.Equal(t, "critical", data["risk_level"])
	require.NotEmpty(t, data["prompt"])
}

func TestAbortDecisionCancelsPipeline(t *testing.T) {
	runner, _, result := runPipeline(t, 0.8)
	ctx := context.Background()

	requestID := result.PendingRequests[0].RequestID
	cancelled, err := runner.Resume(ctx, result.CheckpointID, map[string]flowstone.DecisionResponse{
		requestID: {Abort: true, DecisionMakerID: "analyst-7"},
	})
	require.NoError(t, err)
	require.Equal(t, flowstone.StatusCancelled, cancelled.Status)
}
