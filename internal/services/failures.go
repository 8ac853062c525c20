package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// failureLookback caps how many ledger entries a single per-tool query
// walks. Failures accumulate indefinitely; queries must stay bounded.
const failureLookback = 1000

// FailureLedger is the append-only record of tool failures. Each
// failure is stored as a FAILURE artifact so past failures participate
// in semantic search, which is what makes query-time demotion work.
type FailureLedger struct {
	store    repository.ArtifactStore
	embedder EmbeddingClient
	logger   *logging.Logger

	// similarityThreshold/demotionPerMatch drive SimilarityDemotion:
	// each prior failure above the threshold adds one demotion unit.
	similarityThreshold float64
	demotionPerMatch    float64
}

// NewFailureLedger creates a new FailureLedger with the given demotion
// parameters (0.7 / 0.3 in the default configuration).
func NewFailureLedger(store repository.ArtifactStore, embedder EmbeddingClient, similarityThreshold, demotionPerMatch float64, logger *logging.Logger) *FailureLedger {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.7
	}
	if demotionPerMatch <= 0 {
		demotionPerMatch = 0.3
	}
	return &FailureLedger{
		store:               store,
		embedder:            embedder,
		logger:              logger,
		similarityThreshold: similarityThreshold,
		demotionPerMatch:    demotionPerMatch,
	}
}

// Record appends a failure record for the given tool and scenario.
// Recording is best-effort auditing: an unreachable embedder degrades
// the record to tag-search-only rather than failing the call.
func (l *FailureLedger) Record(ctx context.Context, toolID, scenario, errorMessage string, severity models.Severity) (string, error) {
	id := "failure_" + uuid.New().String()
	artifact := &models.Artifact{
		ID:          id,
		Type:        models.ArtifactTypeFailure,
		Name:        fmt.Sprintf("%s failure", toolID),
		Description: scenario,
		Content:     errorMessage,
		Tags:        []string{"failure", "tool_failure", toolID, "severity_" + string(severity)},
		Metadata: map[string]interface{}{
			"tool_id":       toolID,
			"severity":      string(severity),
			"timestamp":     time.Now().UTC().Format(time.RFC3339),
			"error_message": errorMessage,
		},
		QualityScore: 1.0,
	}

	embedding, err := l.embedder.GetEmbedding(ctx, scenario)
	if err != nil {
		l.logger.Warn("embedding unavailable for failure record", "tool_id", toolID, "error", err)
	} else {
		artifact.Embedding = embedding
	}

	if err := l.store.Store(ctx, artifact); err != nil {
		return "", err
	}
	return id, nil
}

// FailuresFor returns every recorded failure of the given tool.
func (l *FailureLedger) FailuresFor(ctx context.Context, toolID string) ([]models.FailureRecord, error) {
	artifacts, err := l.store.FindByTags(ctx, []string{toolID}, failureLookback)
	if err != nil {
		return nil, err
	}
	var records []models.FailureRecord
	for _, a := range artifacts {
		if a.Type != models.ArtifactTypeFailure || !a.HasTag("tool_failure") {
			continue
		}
		records = append(records, failureRecordFromArtifact(a, toolID))
	}
	return records, nil
}

// CountFor returns the number of recorded failures of the given tool.
func (l *FailureLedger) CountFor(ctx context.Context, toolID string) (int, error) {
	records, err := l.FailuresFor(ctx, toolID)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// SimilarityDemotion computes the query-time demotion for a tool given
// the scenario embedding: each prior failure of the tool whose
// scenario is more similar than the threshold adds one demotion unit.
// The sum is deliberately uncapped; highly similar repeated failures
// compound.
func (l *FailureLedger) SimilarityDemotion(ctx context.Context, toolID string, scenarioEmbedding []float32) (float64, error) {
	matches, err := l.store.FindSimilar(ctx, scenarioEmbedding, repository.SimilarQuery{
		Type: models.ArtifactTypeFailure,
		Tags: []string{toolID},
		TopK: 25,
	})
	if err != nil {
		return 0, err
	}
	demotion := 0.0
	for _, m := range matches {
		if !m.Artifact.HasTag("tool_failure") {
			continue
		}
		if m.Similarity > l.similarityThreshold {
			demotion += l.demotionPerMatch
		}
	}
	return demotion, nil
}

func failureRecordFromArtifact(a *models.Artifact, toolID string) models.FailureRecord {
	record := models.FailureRecord{
		ID:           a.ID,
		ToolID:       toolID,
		Scenario:     a.Description,
		ErrorMessage: a.Content,
		Severity:     models.SeverityMedium,
		Timestamp:    a.CreatedAt,
	}
	if sev, ok := a.Metadata["severity"].(string); ok {
		record.Severity = models.Severity(sev)
	}
	if ts, ok := a.Metadata["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			record.Timestamp = parsed
		}
	}
	return record
}
