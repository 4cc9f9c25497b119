package fraudreview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowstone-ai/flowstone/retry"
	"github.com/stretchr/testify/require"
)

func TestParseFinding(t *testing.T) {
	t.Run("full response", func(t *testing.T) {
		text := `Analysis of customer activity follows.
FINDINGS: Logins from three countries within one hour
RISK_INDICATORS: impossible travel, new device, vpn exit node
RISK_SCORE: 0.85`
		finding := ParseFinding(text)
		require.Equal(t, 0.85, finding.RiskScore)
		require.Equal(t, "Logins from three countries within one hour", finding.Findings)
		require.Equal(t, []string{"impossible travel", "new device", "vpn exit node"}, finding.RiskIndicators)
	})

	t.Run("missing score defaults", func(t *testing.T) {
		finding := ParseFinding("FINDINGS: nothing notable")
		require.Equal(t, 0.5, finding.RiskScore)
		require.Empty(t, finding.RiskIndicators)
	})

	t.Run("unparseable score defaults", func(t *testing.T) {
		finding := ParseFinding("RISK_SCORE: high")
		require.Equal(t, 0.5, finding.RiskScore)
	})
}

func TestRuleAnalyzer(t *testing.T) {
	analyzer := NewRuleAnalyzer()
	ctx := context.Background()
	alert := Alert{
		AlertID:    "a1",
		CustomerID: 42,
		AlertType:  "multi_country_login",
		Severity:   "high",
	}

	t.Run("implicated aspect scores higher", func(t *testing.T) {
		location, err := analyzer.Analyze(ctx, AnalysisRequest{Alert: alert, Aspect: AspectLocation})
		require.NoError(t, err)
		billing, err := analyzer.Analyze(ctx, AnalysisRequest{Alert: alert, Aspect: AspectBilling})
		require.NoError(t, err)
		require.Greater(t, location.RiskScore, billing.RiskScore)
		require.NotEmpty(t, location.RiskIndicators)
	})

	t.Run("severity drives the base score", func(t *testing.T) {
		low := alert
		low.Severity = "low"
		finding, err := analyzer.Analyze(ctx, AnalysisRequest{Alert: low, Aspect: AspectBilling})
		require.NoError(t, err)
		require.Equal(t, 0.2, finding.RiskScore)
	})

	t.Run("requires an aspect", func(t *testing.T) {
		_, err := analyzer.Analyze(ctx, AnalysisRequest{Alert: alert})
		require.Error(t, err)
	})
}

func TestRetryingAnalyzer(t *testing.T) {
	ctx := context.Background()
	req := AnalysisRequest{Alert: Alert{AlertID: "a1"}, Aspect: AspectBilling}

	t.Run("retries recoverable failures", func(t *testing.T) {
		calls := 0
		analyzer := NewRetryingAnalyzer(AnalyzerFunc(func(ctx context.Context, req AnalysisRequest) (*Finding, error) {
			calls++
			if calls < 3 {
				return nil, retry.NewRecoverableError(errors.New("throttled"))
			}
			return &Finding{RiskScore: 0.4}, nil
		}), retry.WithBaseWait(time.Millisecond))

		finding, err := analyzer.Analyze(ctx, req)
		require.NoError(t, err)
		require.Equal(t, 0.4, finding.RiskScore)
		require.Equal(t, 3, calls)
	})

	t.Run("permanent failures pass through", func(t *testing.T) {
		calls := 0
		analyzer := NewRetryingAnalyzer(AnalyzerFunc(func(ctx context.Context, req AnalysisRequest) (*Finding, error) {
			calls++
			return nil, errors.New("bad request")
		}))

		_, err := analyzer.Analyze(ctx, req)
		require.Error(t, err)
		require.Equal(t, 1, calls)
	})
}

func TestRiskLevel(t *testing.T) {
	require.Equal(t, "low", RiskLevel(0.1))
	require.Equal(t, "medium", RiskLevel(0.45))
	require.Equal(t, "high", RiskLevel(0.7))
	require.Equal(t, "critical", RiskLevel(0.9))
}
