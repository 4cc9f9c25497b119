package fraudreview

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/flowstone-ai/flowstone/retry"
)

// Analysis aspects. Each aspect is examined by its own executor so the
// pipeline can fan the alert out and run them concurrently.
const (
	AspectUsagePattern = "usage_pattern"
	AspectLocation     = "location"
	AspectBilling      = "billing"
)

// AnalysisRequest asks the external analysis capability to examine one
// aspect of an alert.
type AnalysisRequest struct {
	Alert  Alert
	Aspect string
}

// Finding is the structured result of an analysis call.
type Finding struct {
	RiskScore      float64  `json:"risk_score"`
	Findings       string   `json:"findings"`
	RiskIndicators []string `json:"risk_indicators,omitempty"`
}

// Analyzer is the external analysis capability the pipeline calls once per
// executor invocation. Implementations wanting retries should wrap
// themselves with retry.Do; the pipeline adds no retry policy of its own.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (*Finding, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, req AnalysisRequest) (*Finding, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, req AnalysisRequest) (*Finding, error) {
	return f(ctx, req)
}

// NewRetryingAnalyzer wraps an analyzer with backoff retries for
// recoverable failures (timeouts, rate limits, transient network errors).
// The pipeline itself adds no retry policy; this wrapper is how a caller
// opts in.
func NewRetryingAnalyzer(inner Analyzer, opts ...retry.Option) Analyzer {
	return AnalyzerFunc(func(ctx context.Context, req AnalysisRequest) (*Finding, error) {
		var finding *Finding
		err := retry.Do(ctx, func() error {
			var err error
			finding, err = inner.Analyze(ctx, req)
			return err
		}, opts...)
		if err != nil {
			return nil, err
		}
		return finding, nil
	})
}

// ParseFinding extracts a Finding from a free-text analysis response using
// the FINDINGS / RISK_INDICATORS / RISK_SCORE line markers. Missing or
// unparseable scores default to 0.5.
func ParseFinding(text string) *Finding {
	finding := &Finding{RiskScore: 0.5}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.Contains(line, "RISK_SCORE:"):
			raw := strings.TrimSpace(after(line, "RISK_SCORE:"))
			if score, err := strconv.ParseFloat(raw, 64); err == nil {
				finding.RiskScore = score
			}
		case strings.Contains(line, "RISK_INDICATORS:"):
			raw := strings.TrimSpace(after(line, "RISK_INDICATORS:"))
			for _, indicator := range strings.Split(raw, ",") {
				if indicator = strings.TrimSpace(indicator); indicator != "" {
					finding.RiskIndicators = append(finding.RiskIndicators, indicator)
				}
			}
		case strings.Contains(line, "FINDINGS:"):
			finding.Findings = strings.TrimSpace(after(line, "FINDINGS:"))
		}
	}
	return finding
}

func after(line, marker string) string {
	if idx := strings.Index(line, marker); idx >= 0 {
		return line[idx+len(marker):]
	}
	return ""
}

// alertTypeAspects maps each alert type to the aspect that most directly
// implicates it.
var alertTypeAspects = map[string]string{
	"multi_country_login": AspectLocation,
	"data_spike":          AspectUsagePattern,
	"unusual_charges":     AspectBilling,
}

// RuleAnalyzer is a deterministic Analyzer based on alert severity and type.
// It stands in for a model-backed analyzer in tests and the demo.
type RuleAnalyzer struct{}

func NewRuleAnalyzer() *RuleAnalyzer {
	return &RuleAnalyzer{}
}

func (a *RuleAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (*Finding, error) {
	if req.Aspect == "" {
		return nil, fmt.Errorf("analysis aspect required")
	}
	score := 0.2
	switch req.Alert.Severity {
	case "medium":
		score = 0.5
	case "high":
		score = 0.75
	}

	finding := &Finding{
		Findings: fmt.Sprintf("%s review of alert %s (%s severity)",
			req.Aspect, req.Alert.AlertID, req.Alert.Severity),
	}
	if alertTypeAspects[req.Alert.AlertType] == req.Aspect {
		score += 0.15
		finding.RiskIndicators = append(finding.RiskIndicators,
			fmt.Sprintf("%s directly implicated by %s alert", req.Aspect, req.Alert.AlertType))
	}
	if score > 1 {
		score = 1
	}
	finding.RiskScore = score
	return finding, nil
}
