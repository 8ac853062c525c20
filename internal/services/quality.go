package services

import (
	"context"
	"math"
	"strings"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// negativeTagStoplist holds filler words never turned into negative
// tags.
var negativeTagStoplist = map[string]bool{
	"with": true,
	"that": true,
	"this": true,
	"from": true,
	"have": true,
}

// FailureReport summarizes the bookkeeping done for one observed tool
// failure.
type FailureReport struct {
	FailureID    string   `json:"failure_id"`
	ToolID       string   `json:"tool_id"`
	FailureCount int      `json:"failure_count"`
	Demotion     float64  `json:"demotion"`
	NewScore     float64  `json:"new_score"`
	NegativeTags []string `json:"negative_tags,omitempty"`
}

// QualityTracker adjusts artifact quality scores from observed
// failures and applies defensive tag refinements. There is no success
// path here: once demoted, a tool climbs back only through the
// ranker's usage signal, never by score restoration.
type QualityTracker struct {
	store  repository.ArtifactStore
	ledger *FailureLedger
	logger *logging.Logger
}

// NewQualityTracker creates a new QualityTracker.
func NewQualityTracker(store repository.ArtifactStore, ledger *FailureLedger, logger *logging.Logger) *QualityTracker {
	return &QualityTracker{store: store, ledger: ledger, logger: logger}
}

// RecordFailure is the single entry point for marking a tool as having
// failed a scenario: it appends a ledger record, demotes the tool's
// quality score, and narrows its tags with negative scenario markers.
func (t *QualityTracker) RecordFailure(ctx context.Context, toolID, scenario, errorMessage string, severity models.Severity) (*FailureReport, error) {
	failureID, err := t.ledger.Record(ctx, toolID, scenario, errorMessage, severity)
	if err != nil {
		return nil, err
	}

	// The count includes the failure just recorded, so a tool's 6th
	// failure already crosses the >5 escalation.
	count, err := t.ledger.CountFor(ctx, toolID)
	if err != nil {
		return nil, err
	}

	report := &FailureReport{
		FailureID:    failureID,
		ToolID:       toolID,
		FailureCount: count,
		Demotion:     DemotionFor(severity, count),
	}

	artifact, err := t.store.Get(ctx, toolID)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		// Ledger entry stands on its own; nothing to demote.
		t.logger.Warn("failure recorded for unknown tool artifact", "tool_id", toolID)
		return report, nil
	}

	report.NewScore = math.Max(0.0, artifact.QualityScore-report.Demotion)
	if _, err := t.store.UpdateQualityScore(ctx, toolID, report.NewScore); err != nil {
		return nil, err
	}

	report.NegativeTags = DeriveNegativeTags(scenario)
	if len(report.NegativeTags) > 0 {
		if _, err := t.store.AddTags(ctx, toolID, report.NegativeTags); err != nil {
			return nil, err
		}
	}

	t.logger.Info("tool demoted after failure",
		"tool_id", toolID, "severity", severity,
		"failure_count", count, "new_score", report.NewScore)
	return report, nil
}

// DemotionFor returns the quality-score demotion for one failure of
// the given severity, where failureCount counts all failures of the
// tool including this one. Repeated failure escalates: past 5 failures
// each one costs an extra 0.05, past 10 an extra 0.10 on top.
func DemotionFor(severity models.Severity, failureCount int) float64 {
	demotion := severity.DemotionMultiplier()
	if failureCount > 5 {
		demotion += 0.05
	}
	if failureCount > 10 {
		demotion += 0.10
	}
	return demotion
}

// DeriveNegativeTags extracts up to 3 content words from the first 5
// words of the scenario and returns them as not-for-* tags. Words of 4
// characters or fewer and stoplist words are skipped. Appending these
// to a failing tool narrows its future matches without removing its
// positive capability tags.
func DeriveNegativeTags(scenario string) []string {
	words := strings.Fields(scenario)
	if len(words) > 5 {
		words = words[:5]
	}
	var tags []string
	for _, w := range words {
		w = strings.ToLower(strings.Trim(w, ".,;:!?\"'()[]{}"))
		if len(w) <= 4 || negativeTagStoplist[w] {
			continue
		}
		tags = append(tags, "not-for-"+w)
		if len(tags) == 3 {
			break
		}
	}
	return tags
}
