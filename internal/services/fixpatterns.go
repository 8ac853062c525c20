package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// FixPatternService stores and retrieves proven code fixes. Every fix
// is stored as its own artifact even when the error signature recurs,
// so competing fixes for the same error rank independently on usage.
type FixPatternService struct {
	artifacts *ArtifactService
	store     repository.ArtifactStore
	logger    *logging.Logger
}

// NewFixPatternService creates a new FixPatternService.
func NewFixPatternService(artifacts *ArtifactService, logger *logging.Logger) *FixPatternService {
	return &FixPatternService{artifacts: artifacts, store: artifacts.Store(), logger: logger}
}

// StoreFixPattern records a broken→fixed transformation as a PATTERN
// artifact. No write-time deduplication.
func (s *FixPatternService) StoreFixPattern(ctx context.Context, p models.FixPattern) (*models.Artifact, error) {
	if p.ErrorType == "" {
		return nil, fmt.Errorf("error_type is required")
	}
	if p.FixedCode == "" {
		return nil, fmt.Errorf("fixed_code is required")
	}

	id := "fix_" + uuid.New().String()
	description := fmt.Sprintf("%s fix for %s: %s", p.Language, p.ErrorType, p.FixDescription)
	content := fmt.Sprintf("broken:\n%s\n\nfixed:\n%s", p.BrokenCode, p.FixedCode)

	return s.artifacts.StoreArtifact(ctx, StoreArtifactParams{
		ID:          id,
		Type:        models.ArtifactTypePattern,
		Name:        fmt.Sprintf("fix %s (%s)", p.ErrorType, p.Language),
		Description: description,
		Content:     content,
		Tags:        []string{"fix_pattern", "error:" + p.ErrorType, "lang:" + p.Language},
		Metadata: map[string]interface{}{
			"error_type":      p.ErrorType,
			"language":        p.Language,
			"broken_code":     p.BrokenCode,
			"fixed_code":      p.FixedCode,
			"fix_description": p.FixDescription,
			"debug_info":      p.DebugInfo,
			"context":         p.Context,
		},
	}, true)
}

// FindFixPatterns searches stored fixes semantically for the given
// error text, optionally narrowed by error type and language, ranked
// by similarity × quality.
func (s *FixPatternService) FindFixPatterns(ctx context.Context, errorType, language, query string, topK int) ([]models.FixPatternMatch, error) {
	if topK <= 0 {
		topK = 3
	}

	hits, err := s.artifacts.FindSimilar(ctx, query, models.ArtifactTypePattern, []string{"fix_pattern"}, 3*topK)
	if err != nil {
		return nil, err
	}

	var matches []models.FixPatternMatch
	for _, h := range hits {
		if errorType != "" && !h.Artifact.HasTag("error:"+errorType) {
			continue
		}
		if language != "" && !h.Artifact.HasTag("lang:"+language) {
			continue
		}
		matches = append(matches, models.FixPatternMatch{
			ArtifactID: h.Artifact.ID,
			Pattern:    fixPatternFromArtifact(h.Artifact),
			Similarity: h.Similarity,
			Score:      h.Similarity * h.Artifact.QualityScore,
			UsageCount: h.Artifact.UsageCount,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// MarkFixApplied bumps the usage count of a fix pattern after a caller
// confirms it actually resolved the error.
func (s *FixPatternService) MarkFixApplied(ctx context.Context, artifactID string) (bool, error) {
	return s.store.IncrementUsage(ctx, artifactID)
}

func fixPatternFromArtifact(a *models.Artifact) models.FixPattern {
	str := func(key string) string {
		if v, ok := a.Metadata[key].(string); ok {
			return v
		}
		return ""
	}
	return models.FixPattern{
		ErrorType:      str("error_type"),
		Language:       str("language"),
		BrokenCode:     str("broken_code"),
		FixedCode:      str("fixed_code"),
		FixDescription: str("fix_description"),
		DebugInfo:      str("debug_info"),
		Context:        str("context"),
	}
}
