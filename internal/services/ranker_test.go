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

// Vectors are chosen so cosine similarity against the unit query
// [1,0,0] is exactly the first component.
var (
	queryVec = []float32{1, 0, 0}
	vec90    = []float32{0.9, 0.43588989, 0}
	vec80    = []float32{0.8, 0.6, 0}
	vec60    = []float32{0.6, 0.8, 0}
	vec50    = []float32{0.5, 0.8660254, 0}
)

func newTestRanker(store repository.ArtifactStore, embedder EmbeddingClient) *ToolRanker {
	return NewToolRanker(store, embedder, newTestLedger(store, embedder), 5, 0, logging.NewLogger())
}

func TestRank_OrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "tool_a", 1.0, vec80)
	storeTool(t, store, "tool_b", 1.0, vec90)
	storeTool(t, store, "tool_c", 1.0, vec60)

	candidates, err := ranker.Rank(ctx, "send a weekly report", RankOptions{})
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	assert.Equal(t, "tool_b", candidates[0].ToolID)
	assert.Equal(t, "tool_a", candidates[1].ToolID)
	assert.Equal(t, "tool_c", candidates[2].ToolID)
	assert.InDelta(t, 0.9, candidates[0].Similarity, 1e-6)
	assert.InDelta(t, 0.9, candidates[0].FinalScore, 1e-6)
}

func TestRank_QualityMultiplies(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	// Better semantic match but demoted quality loses to a slightly
	// worse match with intact quality.
	storeTool(t, store, "demoted_tool", 0.5, vec90)
	storeTool(t, store, "healthy_tool", 1.0, vec80)

	candidates, err := ranker.Rank(ctx, "compress a directory", RankOptions{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "healthy_tool", candidates[0].ToolID)
	assert.InDelta(t, 0.8, candidates[0].FinalScore, 1e-6)
	assert.Equal(t, "demoted_tool", candidates[1].ToolID)
	assert.InDelta(t, 0.45, candidates[1].FinalScore, 1e-6)
}

func TestRank_QualityZeroScoresZero(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "dead_tool", 0.0, vec90)
	storeTool(t, store, "weak_tool", 1.0, vec60)

	candidates, err := ranker.Rank(ctx, "translate text to French", RankOptions{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	// A perfect match at quality 0 falls behind any live tool.
	assert.Equal(t, "weak_tool", candidates[0].ToolID)
	assert.Equal(t, "dead_tool", candidates[1].ToolID)
	assert.Equal(t, 0.0, candidates[1].FinalScore)
}

func TestRank_FailureHistoryDemotes(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ledger := newTestLedger(store, embedder)
	ranker := NewToolRanker(store, embedder, ledger, 5, 0, logging.NewLogger())

	storeTool(t, store, "risky_tool", 1.0, vec90)
	storeTool(t, store, "steady_tool", 1.0, vec80)

	// One prior failure in the same scenario: similarity 1.0 > 0.7,
	// so ranking subtracts 0.3 from risky_tool's similarity.
	_, err := ledger.Record(ctx, "risky_tool", "archive old log files", "disk full", models.SeverityHigh)
	require.NoError(t, err)

	candidates, err := ranker.Rank(ctx, "archive old log files", RankOptions{})
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, "steady_tool", candidates[0].ToolID)
	risky := candidates[1]
	assert.Equal(t, "risky_tool", risky.ToolID)
	assert.InDelta(t, 0.3, risky.Demotion, 1e-6)
	assert.InDelta(t, 0.6, risky.FinalScore, 1e-6)
}

func TestRank_ExcludeAndRequiredTags(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "tagged_tool", 1.0, vec80, "email")
	storeTool(t, store, "untagged_tool", 1.0, vec90)

	candidates, err := ranker.Rank(ctx, "notify a customer", RankOptions{
		RequiredTags: []string{"email"},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "tagged_tool", candidates[0].ToolID)

	candidates, err = ranker.Rank(ctx, "notify a customer", RankOptions{
		Exclude: map[string]bool{"untagged_tool": true},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "tagged_tool", candidates[0].ToolID)
}

func TestRank_ExclusionsDoNotStarveTheWindow(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "t1", 1.0, vec90)
	storeTool(t, store, "t2", 1.0, vec80)
	storeTool(t, store, "t3", 1.0, vec60)
	storeTool(t, store, "t4", 1.0, vec50)

	// With MaxCandidates 1 the base fetch window is only 3 wide, so
	// excluding the top three must widen it or t4 becomes unreachable.
	candidates, err := ranker.Rank(ctx, "anything", RankOptions{
		MaxCandidates: 1,
		Exclude:       map[string]bool{"t1": true, "t2": true, "t3": true},
	})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "t4", candidates[0].ToolID)
}

func TestRank_CapsCandidates(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "t1", 1.0, vec90)
	storeTool(t, store, "t2", 1.0, vec80)
	storeTool(t, store, "t3", 1.0, vec60)

	candidates, err := ranker.Rank(ctx, "anything", RankOptions{MaxCandidates: 2})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestCheckDuplicate_SemanticMatch(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "existing_tool", 1.0, vec90)

	result, err := ranker.CheckDuplicate(ctx, "a tool that does the same thing", nil, 0.85)
	require.NoError(t, err)

	assert.True(t, result.HasDuplicates)
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, "existing_tool", result.BestMatch.ToolID)
	assert.InDelta(t, 0.9, result.BestMatch.Similarity, 1e-6)
}

func TestCheckDuplicate_BelowThreshold(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "distant_tool", 1.0, vec60)

	result, err := ranker.CheckDuplicate(ctx, "something quite different", nil, 0.85)
	require.NoError(t, err)

	assert.False(t, result.HasDuplicates)
	assert.Nil(t, result.BestMatch)
	require.Len(t, result.Matches, 1)
}

func TestCheckDuplicate_TagMatchCountsAsExact(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ranker := newTestRanker(store, embedder)

	storeTool(t, store, "tag_twin", 1.0, vec60, "pdf", "export")

	result, err := ranker.CheckDuplicate(ctx, "export documents as PDF", []string{"pdf"}, 0.85)
	require.NoError(t, err)

	assert.True(t, result.HasDuplicates)
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, "tag_twin", result.BestMatch.ToolID)
	assert.Equal(t, 1.0, result.BestMatch.Similarity)
}

func TestCheckDuplicate_ConfiguredThresholdIsTheDefault(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{def: queryVec}
	ledger := NewFailureLedger(store, embedder, 0.7, 0.3, logging.NewLogger())
	ranker := NewToolRanker(store, embedder, ledger, 5, 0.95, logging.NewLogger())

	storeTool(t, store, "near_twin", 1.0, vec90)

	// No caller threshold: the configured 0.95 applies and 0.9 is not
	// close enough.
	result, err := ranker.CheckDuplicate(ctx, "a very similar tool", nil, 0)
	require.NoError(t, err)
	assert.False(t, result.HasDuplicates)
	assert.InDelta(t, 0.95, result.Threshold, 1e-9)

	// An explicit caller threshold still wins.
	result, err = ranker.CheckDuplicate(ctx, "a very similar tool", nil, 0.85)
	require.NoError(t, err)
	assert.True(t, result.HasDuplicates)
}

func TestCheckDuplicate_EmbedderDownDegradesToTags(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryArtifactStore()
	embedder := &stubEmbedder{err: assert.AnError}
	ledger := NewFailureLedger(store, embedder, 0.7, 0.3, logging.NewLogger())
	ranker := NewToolRanker(store, embedder, ledger, 5, 0, logging.NewLogger())

	storeTool(t, store, "tag_only", 1.0, nil, "csv")

	result, err := ranker.CheckDuplicate(ctx, "parse csv files", []string{"csv"}, 0.85)
	require.NoError(t, err)
	assert.True(t, result.HasDuplicates)
	assert.Equal(t, "tag_only", result.BestMatch.ToolID)
}
