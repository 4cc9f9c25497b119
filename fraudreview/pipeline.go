package fraudreview

import (
	"context"
	"fmt"

	"github.com/flowstone-ai/flowstone"
	"github.com/flowstone-ai/flowstone/script"
)

// ReviewThreshold is the overall risk score at or above which an assessment
// requires a human analyst decision.
const ReviewThreshold = 0.6

// NewPipeline builds the fraud review graph:
//
//	alert_router ==> [usage_pattern, location, billing] ==> risk_aggregator
//	risk_aggregator --(score >= 0.6)--> review_gateway --> fraud_action
//	risk_aggregator --(otherwise)----> auto_clear
//	fraud_action, auto_clear --> final_notification
func NewPipeline(ctx context.Context, analyzer Analyzer) (*flowstone.Graph, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	compiler := script.NewRisorEngine(script.DefaultGlobals())
	sources := []string{ExecutorUsageAnalysis, ExecutorLocationAnalysis, ExecutorBillingAnalysis}

	return flowstone.NewGraphBuilder("fraud-review").
		WithCompiler(compiler).
		AddExecutors(
			NewAlertRouter(),
			NewAspectAnalysis(ExecutorUsageAnalysis, AspectUsagePattern, analyzer),
			NewAspectAnalysis(ExecutorLocationAnalysis, AspectLocation, analyzer),
			NewAspectAnalysis(ExecutorBillingAnalysis, AspectBilling, analyzer),
			NewRiskAggregator(),
			NewReviewGateway(),
			NewAutoClear(),
			NewFraudAction(),
			NewFinalNotification(),
		).
		SetStart(ExecutorAlertRouter).
		AddFanOutEdges(ExecutorAlertRouter, sources...).
		AddFanInEdges(sources, ExecutorRiskAggregator).
		AddSwitch(ExecutorRiskAggregator, []*flowstone.SwitchCase{
			{
				Condition: fmt.Sprintf(`payload["overall_risk_score"] >= %v`, ReviewThreshold),
				Target:    ExecutorReviewGateway,
			},
		}, ExecutorAutoClear).
		AddEdge(ExecutorReviewGateway, ExecutorFraudAction).
		AddEdge(ExecutorFraudAction, ExecutorFinalNotification).
		AddEdge(ExecutorAutoClear, ExecutorFinalNotification).
		Build(ctx)
}
