package fraudreview

import (
	"context"
	"fmt"
	"time"

	"github.com/flowstone-ai/flowstone"
)

// Executor ids within the pipeline graph.
const (
	ExecutorAlertRouter       = "alert_router"
	ExecutorUsageAnalysis     = "usage_pattern_analysis"
	ExecutorLocationAnalysis  = "location_analysis"
	ExecutorBillingAnalysis   = "billing_analysis"
	ExecutorRiskAggregator    = "risk_aggregator"
	ExecutorReviewGateway     = "review_gateway"
	ExecutorAutoClear         = "auto_clear"
	ExecutorFraudAction       = "fraud_action"
	ExecutorFinalNotification = "final_notification"
)

// NewAlertRouter validates the incoming alert and forwards it to the
// analysis executors along the fan-out edge.
func NewAlertRouter() *flowstone.ExecutorFunc {
	return flowstone.NewExecutorFunc(ExecutorAlertRouter,
		func(ctx context.Context, msg flowstone.Message, rc *flowstone.RunContext) error {
			var alert Alert
			if err := msg.Decode(&alert); err != nil {
				return err
			}
			if alert.AlertID == "" {
				return fmt.Errorf("alert id required")
			}
			rc.Logger().Info("routing alert",
				"alert_id", alert.AlertID, "customer_id", alert.CustomerID,
				"alert_type", alert.AlertType)
			rc.Send(msg)
			return nil
		})
}

// NewAspectAnalysis creates an analysis executor for one aspect of the
// alert. Each invocation makes exactly one call to the analyzer.
func NewAspectAnalysis(id, aspect string, analyzer Analyzer) *flowstone.ExecutorFunc {
	return flowstone.NewExecutorFunc(id,
		func(ctx context.Context, msg flowstone.Message, rc *flowstone.RunContext) error {
			var alert Alert
			if err := msg.Decode(&alert); err != nil {
				return err
			}
			finding, err := analyzer.Analyze(ctx, AnalysisRequest{Alert: alert, Aspect: aspect})
			if err != nil {
				return fmt.Errorf("%s analysis failed: %w", aspect, err)
			}
			result := AnalysisResult{
				AlertID:        alert.AlertID,
				CustomerID:     alert.CustomerID,
				AnalysisType:   aspect,
				Findings:       finding.Findings,
				RiskIndicators: finding.RiskIndicators,
				RiskScore:      finding.RiskScore,
			}
			rc.Logger().Info("analysis complete",
				"alert_id", alert.AlertID, "aspect", aspect, "risk_score", finding.RiskScore)
			out, err := flowstone.NewMessage(MsgTypeAnalysis, result)
			if err != nil {
				return err
			}
			rc.Send(out)
			return nil
		})
}

// NewRiskAggregator combines the fan-in batch of analysis results into one
// assessment. The overall score is the mean of the per-aspect scores.
func NewRiskAggregator() *flowstone.ExecutorFunc {
	return flowstone.NewExecutorFunc(ExecutorRiskAggregator,
		func(ctx context.Context, msg flowstone.Message, rc *flowstone.RunContext) error {
			inputs, err := msg.DecodeBatch()
			if err != nil {
				return err
			}
			results := make([]AnalysisResult, 0, len(inputs))
			var indicators []string
			var total float64
			for _, input := range inputs {
				var result AnalysisResult
				if err := input.Decode(&result); err != nil {
					return err
				}
				results = append(results, result)
				indicators = append(indicators, result.RiskIndicators...)
				total += result.RiskScore
			}
			if len(results) == 0 {
				return fmt.Errorf("aggregator received empty batch")
			}

			score := total / float64(len(results))
			assessment := Assessment{
				AlertID:           results[0].AlertID,
				CustomerID:        results[0].CustomerID,
				OverallRiskScore:  score,
				RiskLevel:         RiskLevel(score),
				RecommendedAction: recommendAction(score),
				Reasoning: fmt.Sprintf("mean of %d analysis scores; %d risk indicators",
					len(results), len(indicators)),
				AnalysisSummaries: summarize(results),
			}
			rc.Logger().Info("assessment ready",
				"alert_id", assessment.AlertID,
				"overall_risk_score", assessment.OverallRiskScore,
				"recommended_action", assessment.RecommendedAction)
			out, err := flowstone.NewMessage(MsgTypeAssessment, assessment)
			if err != nil {
				return err
			}
			rc.Send(out)
			return nil
		})
}

// NewReviewGateway suspends the run for an analyst decision on a high-risk
// assessment. The pending request carries the assessment fields plus a
// review prompt so an operator UI can render the case.
func NewReviewGateway() *flowstone.HumanReviewExecutor {
	return flowstone.NewHumanReviewExecutor(ExecutorReviewGateway,
		flowstone.WithSummary(func(msg flowstone.Message) (any, error) {
			var assessment Assessment
			if err := msg.Decode(&assessment); err != nil {
				return nil, err
			}
			return map[string]any{
				"alert_id":           assessment.AlertID,
				"customer_id":        assessment.CustomerID,
				"overall_risk_score": assessment.OverallRiskScore,
				"risk_level":         assessment.RiskLevel,
				"recommended_action": assessment.RecommendedAction,
				"prompt": fmt.Sprintf(
					"Review fraud case for alert %s. Risk score: %.2f. Recommended action: %s",
					assessment.AlertID, assessment.OverallRiskScore, assessment.RecommendedAction),
			}, nil
		}))
}

// NewAutoClear resolves low-risk assessments without human involvement.
func NewAutoClear() *flowstone.ExecutorFunc {
	return flowstone.NewExecutorFunc(ExecutorAutoClear,
		func(ctx context.Context, msg flowstone.Message, rc *flowstone.RunContext) error {
			var assessment Assessment
			if err := msg.Decode(&assessment); err != nil {
				return err
			}
			rc.Logger().Info("auto-clearing low-risk alert",
				"alert_id", assessment.AlertID,
				"overall_risk_score", assessment.OverallRiskScore)
			result := ActionResult{
				AlertID:     assessment.AlertID,
				CustomerID:  assessment.CustomerID,
				ActionTaken: "cleared",
				Success:     true,
				Details: fmt.Sprintf("Alert auto-cleared. Risk score: %.2f",
					assessment.OverallRiskScore),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			out, err := flowstone.NewMessage(MsgTypeActionResult, result)
			if err != nil {
				return err
			}
			rc.Send(out)
			return nil
		})
}

// NewFraudAction executes the mitigation action approved by the analyst.
// The customer and alert ids are merged from the original request payload
// when the decision omits them.
func NewFraudAction() *flowstone.ExecutorFunc {
	return flowstone.NewExecutorFunc(ExecutorFraudAction,
		func(ctx context.Context, msg flowstone.Message, rc *flowstone.RunContext) error {
			if msg.Type != flowstone.MessageTypeDecision {
				return fmt.Errorf("unexpected message type %q", msg.Type)
			}
			var envelope flowstone.DecisionEnvelope
			if err := msg.Decode(&envelope); err != nil {
				return err
			}

			alertID, _ := envelope.RequestField("alert_id")
			customerID := 0
			if v, ok := envelope.Decision.Fields["customer_id"]; ok {
				customerID = asInt(v)
			}
			if customerID == 0 {
				if v, ok := envelope.RequestField("customer_id"); ok {
					customerID = asInt(v)
				}
			}

			action := envelope.Decision.ApprovedAction
			details := actionDetails(action)
			rc.Logger().Info("executing fraud action",
				"alert_id", alertID, "action", action,
				"analyst_id", envelope.Decision.DecisionMakerID)

			result := ActionResult{
				AlertID:     fmt.Sprintf("%v", alertID),
				CustomerID:  customerID,
				ActionTaken: action,
				Success:     true,
				Details: fmt.Sprintf("%s. Analyst: %s. Notes: %s",
					details, envelope.Decision.DecisionMakerID, envelope.Decision.Notes),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			}
			out, err := flowstone.NewMessage(MsgTypeActionResult, result)
			if err != nil {
				return err
			}
			rc.Send(out)
			return nil
		})
}

func actionDetails(action string) string {
	switch action {
	case "lock_account":
		return "Account locked"
	case "refund_charges":
		return "Charges reversed"
	case "both":
		return "Account locked, charges reversed"
	case "clear":
		return "Alert cleared, no action taken"
	default:
		return "Action recorded: " + action
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// NewFinalNotification notifies the customer, records the audit trail and
// yields the terminal workflow output.
func NewFinalNotification() *flowstone.ExecutorFunc {
	return flowstone.NewExecutorFunc(ExecutorFinalNotification,
		func(ctx context.Context, msg flowstone.Message, rc *flowstone.RunContext) error {
			var result ActionResult
			if err := msg.Decode(&result); err != nil {
				return err
			}
			notification := Notification{
				AlertID:          result.AlertID,
				CustomerID:       result.CustomerID,
				Resolution:       result.Details,
				CustomerNotified: true,
				AuditLogged:      true,
			}
			rc.Logger().Info("alert resolved",
				"alert_id", result.AlertID, "action", result.ActionTaken)
			return rc.YieldOutput(notification)
		})
}
