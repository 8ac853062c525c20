package repository

import (
	"context"

	"code-evolver/pkg/models"
)

// SimilarQuery restricts a vector search. Type filters by artifact
// type when non-empty; Tags filters to artifacts carrying at least one
// of the given tags; TopK caps the result size.
type SimilarQuery struct {
	Type models.ArtifactType
	Tags []string
	TopK int
}

// ArtifactStore is the persistence layer for artifacts: durable keyed
// storage plus similarity search.
//
// Failure semantics: lookups for unknown ids return nil or an empty
// slice, never an error. Mutations on unknown ids report found=false
// and leave the store untouched.
type ArtifactStore interface {
	// Store performs an idempotent upsert keyed by artifact ID.
	Store(ctx context.Context, artifact *models.Artifact) error
	// Get retrieves an artifact by ID; (nil, nil) when absent.
	Get(ctx context.Context, id string) (*models.Artifact, error)
	// FindSimilar returns artifacts with embeddings ordered by
	// descending cosine similarity, ties broken by ID ascending.
	FindSimilar(ctx context.Context, embedding []float32, q SimilarQuery) ([]models.ScoredArtifact, error)
	// FindByTags returns artifacts carrying at least one of the tags,
	// in insertion order, capped at limit.
	FindByTags(ctx context.Context, tags []string, limit int) ([]*models.Artifact, error)
	// ListAll returns every stored artifact.
	ListAll(ctx context.Context) ([]*models.Artifact, error)
	// UpdateQualityScore sets the quality score of an artifact.
	UpdateQualityScore(ctx context.Context, id string, score float64) (found bool, err error)
	// IncrementUsage bumps the usage counter of an artifact.
	IncrementUsage(ctx context.Context, id string) (found bool, err error)
	// UpdateMetadata merges the patch into the artifact's metadata.
	UpdateMetadata(ctx context.Context, id string, patch map[string]interface{}) (found bool, err error)
	// AddTags appends the given tags, skipping ones already present.
	AddTags(ctx context.Context, id string, tags []string) (found bool, err error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
