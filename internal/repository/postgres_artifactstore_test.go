package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"code-evolver/internal/logging"
	"code-evolver/pkg/models"
)

func TestPostgresArtifactStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := NewPool(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresArtifactStore(pool, logging.NewLogger())
	require.NoError(t, store.EnsureSchema(ctx, false, 3))

	t.Run("Store and Get", func(t *testing.T) {
		artifact := &models.Artifact{
			ID:           "tool_1",
			Type:         models.ArtifactTypeTool,
			Name:         "Send Email",
			Description:  "sends an email",
			Content:      "def send(): ...",
			Tags:         []string{"email"},
			Metadata:     map[string]interface{}{"version": "1.0.0"},
			QualityScore: 1.0,
			Embedding:    []float32{1, 0, 0},
		}
		require.NoError(t, store.Store(ctx, artifact))

		got, err := store.Get(ctx, "tool_1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Send Email", got.Name)
		assert.Equal(t, []string{"email"}, got.Tags)
		assert.Equal(t, "1.0.0", got.Metadata["version"])
		assert.Equal(t, []float32{1, 0, 0}, got.Embedding)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("Get absent returns nil", func(t *testing.T) {
		got, err := store.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Upsert overwrites in place", func(t *testing.T) {
		require.NoError(t, store.Store(ctx, &models.Artifact{
			ID:           "tool_upsert",
			Type:         models.ArtifactTypeTool,
			Name:         "first",
			QualityScore: 1.0,
			Embedding:    []float32{0, 1, 0},
		}))
		require.NoError(t, store.Store(ctx, &models.Artifact{
			ID:           "tool_upsert",
			Type:         models.ArtifactTypeTool,
			Name:         "second",
			QualityScore: 0.8,
		}))

		got, err := store.Get(ctx, "tool_upsert")
		require.NoError(t, err)
		assert.Equal(t, "second", got.Name)
		assert.Equal(t, 0.8, got.QualityScore)
		assert.Empty(t, got.Embedding)
	})

	t.Run("FindSimilar orders by cosine similarity", func(t *testing.T) {
		require.NoError(t, store.Store(ctx, &models.Artifact{
			ID: "near", Type: models.ArtifactTypeTool, QualityScore: 1.0,
			Embedding: []float32{0.9, 0.43588989, 0},
		}))
		require.NoError(t, store.Store(ctx, &models.Artifact{
			ID: "far", Type: models.ArtifactTypeTool, QualityScore: 1.0,
			Embedding: []float32{0.6, 0.8, 0},
		}))
		require.NoError(t, store.Store(ctx, &models.Artifact{
			ID: "other_type", Type: models.ArtifactTypeFailure, QualityScore: 1.0,
			Embedding: []float32{1, 0, 0},
		}))

		hits, err := store.FindSimilar(ctx, []float32{1, 0, 0}, SimilarQuery{
			Type: models.ArtifactTypeTool,
			TopK: 10,
		})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "tool_1", hits[0].Artifact.ID)
		assert.InDelta(t, 1.0, hits[0].Similarity, 1e-4)
		assert.Equal(t, "near", hits[1].Artifact.ID)
		assert.InDelta(t, 0.9, hits[1].Similarity, 1e-4)
		assert.Equal(t, "far", hits[2].Artifact.ID)
		assert.InDelta(t, 0.6, hits[2].Similarity, 1e-4)
	})

	t.Run("FindSimilar filters by tags", func(t *testing.T) {
		hits, err := store.FindSimilar(ctx, []float32{1, 0, 0}, SimilarQuery{
			Type: models.ArtifactTypeTool,
			Tags: []string{"email"},
			TopK: 10,
		})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "tool_1", hits[0].Artifact.ID)
	})

	t.Run("FindByTags matches any tag", func(t *testing.T) {
		results, err := store.FindByTags(ctx, []string{"email", "unused"}, 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "tool_1", results[0].ID)
	})

	t.Run("AddTags deduplicates", func(t *testing.T) {
		found, err := store.AddTags(ctx, "tool_1", []string{"email", "not-for-bulk"})
		require.NoError(t, err)
		assert.True(t, found)

		got, err := store.Get(ctx, "tool_1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"email", "not-for-bulk"}, got.Tags)
	})

	t.Run("UpdateMetadata merges", func(t *testing.T) {
		found, err := store.UpdateMetadata(ctx, "tool_1", map[string]interface{}{"version": "1.1.0"})
		require.NoError(t, err)
		assert.True(t, found)

		got, err := store.Get(ctx, "tool_1")
		require.NoError(t, err)
		assert.Equal(t, "1.1.0", got.Metadata["version"])
	})

	t.Run("Quality and usage updates", func(t *testing.T) {
		found, err := store.UpdateQualityScore(ctx, "tool_1", 0.45)
		require.NoError(t, err)
		assert.True(t, found)

		found, err = store.IncrementUsage(ctx, "tool_1")
		require.NoError(t, err)
		assert.True(t, found)

		got, err := store.Get(ctx, "tool_1")
		require.NoError(t, err)
		assert.Equal(t, 0.45, got.QualityScore)
		assert.Equal(t, 1, got.UsageCount)

		found, err = store.UpdateQualityScore(ctx, "missing", 0.5)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}
