package repository

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"code-evolver/pkg/models"
)

// MemoryArtifactStore is an in-memory ArtifactStore for tests and
// small local runs. Cosine similarity is computed in process.
type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]*models.Artifact
	order     []string // insertion order of ids
}

// NewMemoryArtifactStore creates an empty in-memory store.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{
		artifacts: make(map[string]*models.Artifact),
	}
}

// Store performs an idempotent upsert keyed by artifact ID.
func (s *MemoryArtifactStore) Store(ctx context.Context, a *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cp := cloneArtifact(a)
	if existing, ok := s.artifacts[a.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
		s.order = append(s.order, a.ID)
	}
	cp.UpdatedAt = now
	s.artifacts[a.ID] = cp
	return nil
}

// Get retrieves an artifact by ID; (nil, nil) when absent.
func (s *MemoryArtifactStore) Get(ctx context.Context, id string) (*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return nil, nil
	}
	return cloneArtifact(a), nil
}

// FindSimilar scores every embedded artifact against the query vector
// and returns the top K, ties broken by ID ascending.
func (s *MemoryArtifactStore) FindSimilar(ctx context.Context, embedding []float32, q SimilarQuery) ([]models.ScoredArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}

	var results []models.ScoredArtifact
	for _, id := range s.order {
		a := s.artifacts[id]
		if len(a.Embedding) == 0 {
			continue
		}
		if q.Type != "" && a.Type != q.Type {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(a, q.Tags) {
			continue
		}
		sim := cosineSimilarity(embedding, a.Embedding)
		if sim < 0 {
			sim = 0
		}
		results = append(results, models.ScoredArtifact{Artifact: cloneArtifact(a), Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Artifact.ID < results[j].Artifact.ID
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// FindByTags returns artifacts carrying at least one of the given
// tags, in insertion order, capped at limit.
func (s *MemoryArtifactStore) FindByTags(ctx context.Context, tags []string, limit int) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	var results []*models.Artifact
	for _, id := range s.order {
		a := s.artifacts[id]
		if hasAnyTag(a, tags) {
			results = append(results, cloneArtifact(a))
			if len(results) >= limit {
				break
			}
		}
	}
	return results, nil
}

// ListAll returns every stored artifact in insertion order.
func (s *MemoryArtifactStore) ListAll(ctx context.Context) ([]*models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*models.Artifact, 0, len(s.order))
	for _, id := range s.order {
		results = append(results, cloneArtifact(s.artifacts[id]))
	}
	return results, nil
}

// UpdateQualityScore sets the quality score of an artifact.
func (s *MemoryArtifactStore) UpdateQualityScore(ctx context.Context, id string, score float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return false, nil
	}
	a.QualityScore = score
	a.UpdatedAt = time.Now()
	return true, nil
}

// IncrementUsage bumps the usage counter of an artifact.
func (s *MemoryArtifactStore) IncrementUsage(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return false, nil
	}
	a.UsageCount++
	a.UpdatedAt = time.Now()
	return true, nil
}

// UpdateMetadata merges the patch into the artifact's metadata.
func (s *MemoryArtifactStore) UpdateMetadata(ctx context.Context, id string, patch map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return false, nil
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]interface{}, len(patch))
	}
	for k, v := range patch {
		a.Metadata[k] = v
	}
	a.UpdatedAt = time.Now()
	return true, nil
}

// AddTags appends the given tags, skipping ones already present.
func (s *MemoryArtifactStore) AddTags(ctx context.Context, id string, tags []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.artifacts[id]
	if !ok {
		return false, nil
	}
	for _, t := range tags {
		if !a.HasTag(t) {
			a.Tags = append(a.Tags, t)
		}
	}
	a.UpdatedAt = time.Now()
	return true, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryArtifactStore) Ping(ctx context.Context) error {
	return nil
}

func hasAnyTag(a *models.Artifact, tags []string) bool {
	for _, t := range tags {
		if a.HasTag(t) {
			return true
		}
	}
	return false
}

func cloneArtifact(a *models.Artifact) *models.Artifact {
	cp := *a
	cp.Tags = append([]string(nil), a.Tags...)
	cp.Embedding = append([]float32(nil), a.Embedding...)
	if a.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}
	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
