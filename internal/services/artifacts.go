package services

import (
	"context"
	"fmt"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

// StoreArtifactParams is the input for storing an artifact.
type StoreArtifactParams struct {
	ID          string                 `json:"id"`
	Type        models.ArtifactType    `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Content     string                 `json:"content"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ArtifactService composes the artifact store with the embedding
// sidecar. It owns the auto-embed behavior and the text-query side of
// similarity search.
type ArtifactService struct {
	store    repository.ArtifactStore
	embedder EmbeddingClient
	logger   *logging.Logger
}

// NewArtifactService creates a new ArtifactService.
func NewArtifactService(store repository.ArtifactStore, embedder EmbeddingClient, logger *logging.Logger) *ArtifactService {
	return &ArtifactService{store: store, embedder: embedder, logger: logger}
}

// Store returns the underlying artifact store.
func (s *ArtifactService) Store() repository.ArtifactStore {
	return s.store
}

// StoreArtifact upserts an artifact. When autoEmbed is true the
// embedding is computed from description+content; an embedding-sidecar
// error degrades the artifact to tag-search-only instead of failing
// the store operation.
func (s *ArtifactService) StoreArtifact(ctx context.Context, p StoreArtifactParams, autoEmbed bool) (*models.Artifact, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("artifact id is required")
	}
	if p.Type == "" {
		return nil, fmt.Errorf("artifact type is required")
	}

	artifact := &models.Artifact{
		ID:           p.ID,
		Type:         p.Type,
		Name:         p.Name,
		Description:  p.Description,
		Content:      p.Content,
		Tags:         p.Tags,
		Metadata:     p.Metadata,
		QualityScore: 1.0,
	}

	if autoEmbed {
		embedding, err := s.embedder.GetEmbedding(ctx, p.Description+"\n"+p.Content)
		if err != nil {
			s.logger.Warn("embedding unavailable, storing artifact without vector",
				"artifact_id", p.ID, "error", err)
		} else {
			artifact.Embedding = embedding
		}
	}

	if err := s.store.Store(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// FindSimilar embeds the query text and searches the store.
func (s *ArtifactService) FindSimilar(ctx context.Context, query string, artifactType models.ArtifactType, tags []string, topK int) ([]models.ScoredArtifact, error) {
	embedding, err := s.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return s.store.FindSimilar(ctx, embedding, repository.SimilarQuery{
		Type: artifactType,
		Tags: tags,
		TopK: topK,
	})
}

// GetTool resolves catalog metadata for a tool artifact. The current
// version comes from the artifact's metadata; (nil, nil) when the
// artifact is absent or not a tool.
func (s *ArtifactService) GetTool(ctx context.Context, id string) (*models.ToolMetadata, error) {
	artifact, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if artifact == nil || artifact.Type != models.ArtifactTypeTool {
		return nil, nil
	}
	version := ""
	if v, ok := artifact.Metadata["version"].(string); ok {
		version = v
	}
	return &models.ToolMetadata{
		ID:          artifact.ID,
		Name:        artifact.Name,
		Version:     version,
		Description: artifact.Description,
	}, nil
}
