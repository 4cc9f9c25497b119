// Package fraudreview implements a fraud alert review pipeline on the
// flowstone engine: an alert fans out to three analysis executors, their
// findings fan in to a risk aggregator, and high-risk assessments suspend
// the run for a human analyst decision before any action is taken.
package fraudreview

import "fmt"

// Message types flowing through the pipeline.
const (
	MsgTypeAlert        = "fraud.alert"
	MsgTypeAnalysis     = "fraud.analysis"
	MsgTypeAssessment   = "fraud.assessment"
	MsgTypeActionResult = "fraud.action_result"
)

// Alert is the initial suspicious activity alert from a monitoring system.
type Alert struct {
	AlertID     string `json:"alert_id"`
	CustomerID  int    `json:"customer_id"`
	AlertType   string `json:"alert_type"` // "multi_country_login", "data_spike", "unusual_charges"
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Severity    string `json:"severity,omitempty"` // "low", "medium", "high"
}

// AnalysisResult is one analysis executor's view of the alert.
type AnalysisResult struct {
	AlertID        string   `json:"alert_id"`
	CustomerID     int      `json:"customer_id"`
	AnalysisType   string   `json:"analysis_type"`
	Findings       string   `json:"findings,omitempty"`
	RiskIndicators []string `json:"risk_indicators,omitempty"`
	RiskScore      float64  `json:"risk_score"`
}

// Assessment is the aggregated fraud risk assessment.
type Assessment struct {
	AlertID           string   `json:"alert_id"`
	CustomerID        int      `json:"customer_id"`
	OverallRiskScore  float64  `json:"overall_risk_score"`
	RiskLevel         string   `json:"risk_level"`
	RecommendedAction string   `json:"recommended_action"` // "clear", "lock_account", "refund_charges", "both"
	Reasoning         string   `json:"reasoning,omitempty"`
	AnalysisSummaries []string `json:"analysis_summaries,omitempty"`
}

// ActionResult records the mitigation action taken for an alert.
type ActionResult struct {
	AlertID     string `json:"alert_id"`
	CustomerID  int    `json:"customer_id"`
	ActionTaken string `json:"action_taken"`
	Success     bool   `json:"success"`
	Details     string `json:"details,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// Notification is the terminal output: customer notification plus audit log
// confirmation.
type Notification struct {
	AlertID          string `json:"alert_id"`
	CustomerID       int    `json:"customer_id"`
	Resolution       string `json:"resolution"`
	CustomerNotified bool   `json:"customer_notified"`
	AuditLogged      bool   `json:"audit_logged"`
}

// RiskLevel classifies an overall risk score.
func RiskLevel(score float64) string {
	switch {
	case score < 0.3:
		return "low"
	case score < 0.6:
		return "medium"
	case score <= 0.8:
		return "high"
	default:
		return "critical"
	}
}

func recommendAction(score float64) string {
	switch {
	case score < ReviewThreshold:
		return "clear"
	case score <= 0.8:
		return "lock_account"
	default:
		return "both"
	}
}

func summarize(results []AnalysisResult) []string {
	summaries := make([]string, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, fmt.Sprintf("%s: %.2f", r.AnalysisType, r.RiskScore))
	}
	return summaries
}
