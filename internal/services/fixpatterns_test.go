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

func newTestFixService(store repository.ArtifactStore, embedder EmbeddingClient) *FixPatternService {
	logger := logging.NewLogger()
	return NewFixPatternService(NewArtifactService(store, embedder, logger), logger)
}

func storeFixArtifact(t *testing.T, store repository.ArtifactStore, id, errorType, language string, embedding []float32) {
	t.Helper()
	err := store.Store(context.Background(), &models.Artifact{
		ID:          id,
		Type:        models.ArtifactTypePattern,
		Name:        "fix " + errorType,
		Description: errorType + " fix",
		Tags:        []string{"fix_pattern", "error:" + errorType, "lang:" + language},
		Metadata: map[string]interface{}{
			"error_type": errorType,
			"language":   language,
			"fixed_code": "fixed",
		},
		QualityScore: 1.0,
		Embedding:    embedding,
	})
	require.NoError(t, err)
}

func TestStoreFixPattern(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	svc := newTestFixService(store, &stubEmbedder{def: queryVec})

	artifact, err := svc.StoreFixPattern(ctx, models.FixPattern{
		ErrorType:      "TypeError",
		Language:       "python",
		BrokenCode:     "x = '1' + 1",
		FixedCode:      "x = int('1') + 1",
		FixDescription: "coerce the string operand",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ArtifactTypePattern, artifact.Type)
	assert.True(t, artifact.HasTag("fix_pattern"))
	assert.True(t, artifact.HasTag("error:TypeError"))
	assert.True(t, artifact.HasTag("lang:python"))
	assert.Equal(t, "TypeError", artifact.Metadata["error_type"])

	// No write-time dedup: the same signature stores a second artifact.
	again, err := svc.StoreFixPattern(ctx, models.FixPattern{
		ErrorType: "TypeError",
		Language:  "python",
		FixedCode: "x = str(1) + '1'",
	})
	require.NoError(t, err)
	assert.NotEqual(t, artifact.ID, again.ID)
}

func TestStoreFixPattern_Validation(t *testing.T) {
	svc := newTestFixService(repository.NewMemoryArtifactStore(), &stubEmbedder{def: queryVec})

	_, err := svc.StoreFixPattern(context.Background(), models.FixPattern{FixedCode: "x"})
	assert.Error(t, err)

	_, err = svc.StoreFixPattern(context.Background(), models.FixPattern{ErrorType: "E"})
	assert.Error(t, err)
}

func TestFindFixPatterns_FiltersAndRanks(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	svc := newTestFixService(store, &stubEmbedder{def: queryVec})

	storeFixArtifact(t, store, "fix_a", "TypeError", "python", vec80)
	storeFixArtifact(t, store, "fix_b", "TypeError", "python", vec90)
	storeFixArtifact(t, store, "fix_c", "TypeError", "go", vec90)
	storeFixArtifact(t, store, "fix_d", "KeyError", "python", vec90)

	matches, err := svc.FindFixPatterns(ctx, "TypeError", "python", "unsupported operand type", 3)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "fix_b", matches[0].ArtifactID)
	assert.Equal(t, "fix_a", matches[1].ArtifactID)
	assert.Equal(t, "python", matches[0].Pattern.Language)
}

func TestFindFixPatterns_QualityWeighsScore(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	svc := newTestFixService(store, &stubEmbedder{def: queryVec})

	storeFixArtifact(t, store, "fix_good", "OOM", "go", vec80)
	storeFixArtifact(t, store, "fix_demoted", "OOM", "go", vec90)
	_, err := store.UpdateQualityScore(ctx, "fix_demoted", 0.5)
	require.NoError(t, err)

	matches, err := svc.FindFixPatterns(ctx, "OOM", "go", "out of memory during build", 3)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "fix_good", matches[0].ArtifactID)
	assert.InDelta(t, 0.8, matches[0].Score, 1e-6)
	assert.InDelta(t, 0.45, matches[1].Score, 1e-6)
}

func TestMarkFixApplied(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	svc := newTestFixService(store, &stubEmbedder{def: queryVec})

	storeFixArtifact(t, store, "fix_a", "TypeError", "python", vec90)

	found, err := svc.MarkFixApplied(ctx, "fix_a")
	require.NoError(t, err)
	assert.True(t, found)

	artifact, err := store.Get(ctx, "fix_a")
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.UsageCount)

	found, err = svc.MarkFixApplied(ctx, "no_such_fix")
	require.NoError(t, err)
	assert.False(t, found)
}
