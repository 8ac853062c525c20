package services

import (
	"context"
	"encoding/json"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// CallOptions restricts one resilient invocation.
type CallOptions struct {
	// RequiredTags is forwarded to the ranker.
	RequiredTags []string
	// MaxAttempts overrides the configured bound when positive.
	MaxAttempts int
}

// ResilientInvoker executes a tool call for a scenario with automatic
// fallback across ranked candidates. Within one invocation each failed
// tool is excluded from subsequent selections, and each failure feeds
// back into the ledger and quality tracker.
type ResilientInvoker struct {
	ranker      *ToolRanker
	quality     *QualityTracker
	store       repository.ArtifactStore
	executor    ToolExecutor
	logger      *logging.Logger
	maxAttempts int

	attemptCounter metric.Int64Counter
	failureCounter metric.Int64Counter
	successCounter metric.Int64Counter
}

// NewResilientInvoker creates a new ResilientInvoker. maxAttempts <= 0
// uses the default bound of 5.
func NewResilientInvoker(ranker *ToolRanker, quality *QualityTracker, store repository.ArtifactStore, executor ToolExecutor, maxAttempts int, logger *logging.Logger) *ResilientInvoker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	meter := otel.Meter("code-evolver/invoker")
	attempts, _ := meter.Int64Counter("invoker.attempts")
	failures, _ := meter.Int64Counter("invoker.failures")
	successes, _ := meter.Int64Counter("invoker.successes")
	return &ResilientInvoker{
		ranker:         ranker,
		quality:        quality,
		store:          store,
		executor:       executor,
		logger:         logger,
		maxAttempts:    maxAttempts,
		attemptCounter: attempts,
		failureCounter: failures,
		successCounter: successes,
	}
}

// Call runs the selection/invocation loop until a tool succeeds, no
// candidates remain, or the attempt bound is reached. The returned
// result always carries the full attempts audit trail.
func (inv *ResilientInvoker) Call(ctx context.Context, scenario string, input json.RawMessage, opts CallOptions) *models.InvocationResult {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = inv.maxAttempts
	}

	failedTools := make(map[string]bool)
	result := &models.InvocationResult{Attempts: []models.AttemptRecord{}}

	for attempt := 0; ; {
		candidates, err := inv.ranker.Rank(ctx, scenario, RankOptions{
			MaxCandidates: 1,
			Exclude:       failedTools,
			RequiredTags:  opts.RequiredTags,
		})
		if err != nil {
			inv.logger.Error("tool selection failed", "scenario", scenario, "error", err)
			result.Error = "No suitable tools found."
			result.FailedTools = sortedKeys(failedTools)
			return result
		}
		if len(candidates) == 0 {
			result.Error = "No suitable tools found."
			result.FailedTools = sortedKeys(failedTools)
			return result
		}

		candidate := candidates[0]
		attempt++
		inv.attemptCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_id", candidate.ToolID)))

		output, err := inv.executor.Invoke(ctx, candidate.ToolID, input)
		if err == nil {
			result.Attempts = append(result.Attempts, models.AttemptRecord{
				Attempt: attempt,
				ToolID:  candidate.ToolID,
				Score:   candidate.FinalScore,
				Success: true,
			})
			result.Success = true
			result.Result = output
			result.ToolID = candidate.ToolID
			inv.successCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_id", candidate.ToolID)))

			// Confirmed reuse; closes the ranking feedback loop.
			if _, usageErr := inv.store.IncrementUsage(ctx, candidate.ToolID); usageErr != nil {
				inv.logger.Warn("failed to increment usage count", "tool_id", candidate.ToolID, "error", usageErr)
			}
			return result
		}

		// Later attempts are increasingly unusual tool choices, so
		// their failures weigh less than the first one.
		severity := models.SeverityHigh
		if attempt > 1 {
			severity = models.SeverityMedium
		}

		result.Attempts = append(result.Attempts, models.AttemptRecord{
			Attempt: attempt,
			ToolID:  candidate.ToolID,
			Score:   candidate.FinalScore,
			Error:   err.Error(),
		})
		inv.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tool_id", candidate.ToolID)))
		inv.logger.Warn("tool invocation failed",
			"tool_id", candidate.ToolID, "attempt", attempt, "error", err)

		// Best-effort: a broken ledger must not abort the retry loop.
		if _, recordErr := inv.quality.RecordFailure(ctx, candidate.ToolID, scenario, err.Error(), severity); recordErr != nil {
			inv.logger.Warn("failed to record tool failure", "tool_id", candidate.ToolID, "error", recordErr)
		}

		failedTools[candidate.ToolID] = true

		if attempt >= maxAttempts {
			result.Error = "All tool attempts failed"
			result.FailedTools = sortedKeys(failedTools)
			return result
		}
	}
}

// sortedKeys keeps audit output deterministic.
func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
