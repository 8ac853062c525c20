package services

import (
	"context"
	"fmt"
	"sort"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// RankOptions restricts one ranking query.
type RankOptions struct {
	// MaxCandidates caps the result; 0 uses the configured default.
	MaxCandidates int
	// Exclude removes tools that already failed in this invocation
	// session.
	Exclude map[string]bool
	// RequiredTags drops candidates missing any of the given tags.
	RequiredTags []string
}

// ToolRanker produces a ranked candidate list of tools for a scenario.
// The final score multiplies demotion-adjusted similarity by quality,
// so a tool demoted to quality 0 is hard-excluded regardless of how
// well it matches.
type ToolRanker struct {
	store              repository.ArtifactStore
	embedder           EmbeddingClient
	ledger             *FailureLedger
	logger             *logging.Logger
	maxCandidates      int
	duplicateThreshold float64
}

// NewToolRanker creates a new ToolRanker. maxCandidates <= 0 uses the
// default of 5; duplicateThreshold <= 0 uses the default of 0.85.
func NewToolRanker(store repository.ArtifactStore, embedder EmbeddingClient, ledger *FailureLedger, maxCandidates int, duplicateThreshold float64, logger *logging.Logger) *ToolRanker {
	if maxCandidates <= 0 {
		maxCandidates = 5
	}
	if duplicateThreshold <= 0 {
		duplicateThreshold = 0.85
	}
	return &ToolRanker{
		store:              store,
		embedder:           embedder,
		ledger:             ledger,
		logger:             logger,
		maxCandidates:      maxCandidates,
		duplicateThreshold: duplicateThreshold,
	}
}

// Rank returns tool candidates for the scenario, best first.
func (r *ToolRanker) Rank(ctx context.Context, scenario string, opts RankOptions) ([]models.RankedCandidate, error) {
	maxCandidates := opts.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = r.maxCandidates
	}

	embedding, err := r.embedder.GetEmbedding(ctx, scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to embed scenario: %w", err)
	}

	// Oversample so tag filters still leave enough candidates to fill
	// the result. The exclusion set widens the window further: every
	// excluded tool occupies one fetched slot without contributing a
	// candidate, so a fallback loop excluding its failed tools can
	// still reach the next viable one.
	matches, err := r.store.FindSimilar(ctx, embedding, repository.SimilarQuery{
		Type: models.ArtifactTypeTool,
		TopK: 3*maxCandidates + len(opts.Exclude),
	})
	if err != nil {
		return nil, err
	}

	var candidates []models.RankedCandidate
	for _, m := range matches {
		if opts.Exclude[m.Artifact.ID] {
			continue
		}
		if len(opts.RequiredTags) > 0 && !m.Artifact.HasAllTags(opts.RequiredTags) {
			continue
		}

		demotion, err := r.ledger.SimilarityDemotion(ctx, m.Artifact.ID, embedding)
		if err != nil {
			return nil, err
		}
		adjusted := m.Similarity - demotion
		if adjusted < 0 {
			adjusted = 0
		}

		candidates = append(candidates, models.RankedCandidate{
			ToolID:     m.Artifact.ID,
			Name:       m.Artifact.Name,
			Similarity: m.Similarity,
			Demotion:   demotion,
			Quality:    m.Artifact.QualityScore,
			FinalScore: adjusted * m.Artifact.QualityScore,
		})
	}

	// Stable: equal final scores keep the semantic-similarity order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].FinalScore > candidates[j].FinalScore
	})

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	return candidates, nil
}

// CheckDuplicate decides whether a proposed tool already has a close
// match in the registry. Tag matches count as similarity 1.0 and are
// merged with semantic matches, keeping the higher score per tool.
// threshold <= 0 falls back to the configured default.
func (r *ToolRanker) CheckDuplicate(ctx context.Context, description string, tags []string, threshold float64) (*models.DuplicateCheckResult, error) {
	if threshold <= 0 {
		threshold = r.duplicateThreshold
	}

	best := make(map[string]models.RankedCandidate)

	embedding, err := r.embedder.GetEmbedding(ctx, description)
	if err != nil {
		// Tag search still works without the embedder.
		r.logger.Warn("duplicate check degraded to tag-only search", "error", err)
	} else {
		matches, err := r.store.FindSimilar(ctx, embedding, repository.SimilarQuery{
			Type: models.ArtifactTypeTool,
			TopK: 10,
		})
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			best[m.Artifact.ID] = models.RankedCandidate{
				ToolID:     m.Artifact.ID,
				Name:       m.Artifact.Name,
				Similarity: m.Similarity,
				Quality:    m.Artifact.QualityScore,
				FinalScore: m.Similarity,
			}
		}
	}

	if len(tags) > 0 {
		tagMatches, err := r.store.FindByTags(ctx, tags, 20)
		if err != nil {
			return nil, err
		}
		for _, a := range tagMatches {
			if a.Type != models.ArtifactTypeTool {
				continue
			}
			if existing, ok := best[a.ID]; !ok || existing.Similarity < 1.0 {
				best[a.ID] = models.RankedCandidate{
					ToolID:     a.ID,
					Name:       a.Name,
					Similarity: 1.0,
					Quality:    a.QualityScore,
					FinalScore: 1.0,
				}
			}
		}
	}

	result := &models.DuplicateCheckResult{
		Matches:   make([]models.RankedCandidate, 0, len(best)),
		Threshold: threshold,
	}
	for _, c := range best {
		result.Matches = append(result.Matches, c)
	}
	sort.Slice(result.Matches, func(i, j int) bool {
		if result.Matches[i].Similarity != result.Matches[j].Similarity {
			return result.Matches[i].Similarity > result.Matches[j].Similarity
		}
		return result.Matches[i].ToolID < result.Matches[j].ToolID
	})

	if len(result.Matches) > 0 && result.Matches[0].Similarity >= threshold {
		result.HasDuplicates = true
		match := result.Matches[0]
		result.BestMatch = &match
	}
	return result, nil
}
