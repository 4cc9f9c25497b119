package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/flowstone-ai/flowstone"
	"github.com/flowstone-ai/flowstone/fraudreview"
)

// CLI configuration
type Config struct {
	AlertFile      string
	AlertType      string
	Severity       string
	CustomerID     int
	DataDir        string
	StorePath      string
	Timeout        time.Duration
	Verbose        bool
	NonInteractive bool
}

func main() {
	config := parseFlags()
	logger := setupLogger(config.Verbose)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	alert, err := loadAlert(config)
	if err != nil {
		log.Fatalf("Failed to prepare alert: %v", err)
	}
	color.Cyan("Fraud review pipeline")
	color.White("Alert: %s (%s, %s severity) customer=%d",
		alert.AlertID, alert.AlertType, alert.Severity, alert.CustomerID)

	graph, err := fraudreview.NewPipeline(ctx, fraudreview.NewRuleAnalyzer())
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	store, err := openStore(config)
	if err != nil {
		log.Fatalf("Failed to open checkpoint store: %v", err)
	}

	runner, err := flowstone.NewRunner(graph, flowstone.RunnerOptions{
		Store:  store,
		Sink:   flowstone.NewLogSink(logger),
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	start, err := flowstone.NewMessage(fraudreview.MsgTypeAlert, alert)
	if err != nil {
		log.Fatalf("Failed to build start message: %v", err)
	}

	result, err := runner.Run(ctx, start)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	for result.Status == flowstone.StatusAwaitingDecision {
		result, err = resolveDecisions(ctx, runner, result, config)
		if err != nil {
			log.Fatalf("Resume failed: %v", err)
		}
	}

	reportResult(result)
}

func resolveDecisions(ctx context.Context, runner *flowstone.Runner, result *flowstone.RunResult, config Config) (*flowstone.RunResult, error) {
	color.Yellow("Run %s suspended awaiting %d decision(s); checkpoint %s",
		result.WorkflowID, len(result.PendingRequests), result.CheckpointID)

	responses := map[string]flowstone.DecisionResponse{}
	for _, request := range result.PendingRequests {
		var payload map[string]any
		if err := json.Unmarshal(request.Payload, &payload); err == nil {
			if prompt, ok := payload["prompt"].(string); ok {
				color.White("%s", prompt)
			}
		}
		response, err := promptDecision(request, config)
		if err != nil {
			return nil, err
		}
		responses[request.RequestID] = response
	}
	return runner.Resume(ctx, result.CheckpointID, responses)
}

func promptDecision(request *flowstone.PendingRequest, config Config) (flowstone.DecisionResponse, error) {
	if config.NonInteractive {
		color.Blue("Non-interactive mode: approving recommended action for %s", request.RequestID)
		return flowstone.DecisionResponse{
			ApprovedAction:  "lock_account",
			Notes:           "approved automatically (non-interactive mode)",
			DecisionMakerID: "cli",
		}, nil
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("Approved action for %s [clear/lock_account/refund_charges/both/abort]: ", request.RequestID)
	action, err := reader.ReadString('\n')
	if err != nil {
		return flowstone.DecisionResponse{}, fmt.Errorf("failed to read decision: %w", err)
	}
	action = strings.TrimSpace(action)
	if action == "abort" {
		return flowstone.DecisionResponse{Abort: true, DecisionMakerID: "cli"}, nil
	}

	fmt.Print("Notes: ")
	notes, err := reader.ReadString('\n')
	if err != nil {
		return flowstone.DecisionResponse{}, fmt.Errorf("failed to read notes: %w", err)
	}
	return flowstone.DecisionResponse{
		ApprovedAction:  action,
		Notes:           strings.TrimSpace(notes),
		DecisionMakerID: "cli",
	}, nil
}

func reportResult(result *flowstone.RunResult) {
	switch result.Status {
	case flowstone.StatusCompleted:
		var notification fraudreview.Notification
		if err := result.DecodeOutput(&notification); err != nil {
			log.Fatalf("Failed to decode output: %v", err)
		}
		color.Green("Run %s completed", result.WorkflowID)
		color.White("Resolution: %s", notification.Resolution)
	case flowstone.StatusCancelled:
		color.Yellow("Run %s cancelled", result.WorkflowID)
	default:
		color.Red("Run %s stopped with status %s (checkpoint %s)",
			result.WorkflowID, result.Status, result.CheckpointID)
	}
}

func loadAlert(config Config) (fraudreview.Alert, error) {
	if config.AlertFile != "" {
		data, err := os.ReadFile(config.AlertFile)
		if err != nil {
			return fraudreview.Alert{}, fmt.Errorf("failed to read alert file: %w", err)
		}
		var alert fraudreview.Alert
		if err := json.Unmarshal(data, &alert); err != nil {
			return fraudreview.Alert{}, fmt.Errorf("failed to parse alert file: %w", err)
		}
		return alert, nil
	}
	return fraudreview.Alert{
		AlertID:     fmt.Sprintf("alert-%d", time.Now().Unix()),
		CustomerID:  config.CustomerID,
		AlertType:   config.AlertType,
		Description: "suspicious activity detected by monitoring",
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Severity:    config.Severity,
	}, nil
}

func openStore(config Config) (flowstone.CheckpointStore, error) {
	if config.StorePath != "" {
		return flowstone.NewSQLiteStore(config.StorePath, 0)
	}
	return flowstone.NewFileStore(config.DataDir, 0)
}

func parseFlags() Config {
	var config Config
	flag.StringVar(&config.AlertFile, "alert", "", "Path to a JSON alert file (optional)")
	flag.StringVar(&config.AlertType, "type", "multi_country_login", "Alert type for the generated alert")
	flag.StringVar(&config.Severity, "severity", "high", "Alert severity: low, medium or high")
	flag.IntVar(&config.CustomerID, "customer", 42, "Customer id for the generated alert")
	flag.StringVar(&config.DataDir, "data-dir", "", "Checkpoint directory (default ~/.flowstone/checkpoints)")
	flag.StringVar(&config.StorePath, "db", "", "SQLite database path (overrides -data-dir)")
	flag.DurationVar(&config.Timeout, "timeout", 10*time.Minute, "Overall timeout")
	flag.BoolVar(&config.Verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&config.NonInteractive, "yes", false, "Approve pending decisions without prompting")
	flag.Parse()
	return config
}

func setupLogger(verbose bool) *slog.Logger {
	if verbose {
		return flowstone.NewLoggerWithLevel(slog.LevelDebug)
	}
	return flowstone.NewLogger()
}
