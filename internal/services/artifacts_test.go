package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"code-evolver/internal/logging"
	"code-evolver/internal/repository"
	"code-evolver/pkg/models"
)

func TestStoreArtifact_AutoEmbeds(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	svc := NewArtifactService(store, &stubEmbedder{def: vec90}, logging.NewLogger())

	artifact, err := svc.StoreArtifact(ctx, StoreArtifactParams{
		ID:          "func_1",
		Type:        models.ArtifactTypeFunction,
		Name:        "slugify",
		Description: "turns a title into a url slug",
		Content:     "def slugify(s): ...",
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1.0, artifact.QualityScore)

	// The stored copy carries the embedding and is findable.
	hits, err := store.FindSimilar(ctx, queryVec, repository.SimilarQuery{TopK: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "func_1", hits[0].Artifact.ID)
}

func TestStoreArtifact_EmbedderDownDegrades(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	svc := NewArtifactService(store, &stubEmbedder{err: assert.AnError}, logging.NewLogger())

	artifact, err := svc.StoreArtifact(ctx, StoreArtifactParams{
		ID:   "func_2",
		Type: models.ArtifactTypeFunction,
		Tags: []string{"slug"},
	}, true)
	require.NoError(t, err)
	assert.Empty(t, artifact.Embedding)

	// Tag search still reaches it.
	byTags, err := store.FindByTags(ctx, []string{"slug"}, 10)
	require.NoError(t, err)
	require.Len(t, byTags, 1)

	// Vector search does not.
	hits, err := store.FindSimilar(ctx, queryVec, repository.SimilarQuery{TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStoreArtifact_Validation(t *testing.T) {
	svc := NewArtifactService(repository.NewMemoryArtifactStore(), &stubEmbedder{def: queryVec}, logging.NewLogger())

	_, err := svc.StoreArtifact(context.Background(), StoreArtifactParams{Type: models.ArtifactTypeTool}, false)
	assert.Error(t, err)

	_, err = svc.StoreArtifact(context.Background(), StoreArtifactParams{ID: "x"}, false)
	assert.Error(t, err)
}

func TestGetTool(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	svc := NewArtifactService(store, &stubEmbedder{def: queryVec}, logging.NewLogger())

	storeTool(t, store, "mailer_v1", 1.0, vec90)

	meta, err := svc.GetTool(ctx, "mailer_v1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "1.0.0", meta.Version)

	// Absent and non-tool artifacts resolve to nil without error.
	meta, err = svc.GetTool(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, meta)

	require.NoError(t, store.Store(ctx, &models.Artifact{ID: "plan_1", Type: models.ArtifactTypePlan}))
	meta, err = svc.GetTool(ctx, "plan_1")
	require.NoError(t, err)
	assert.Nil(t, meta)
}
