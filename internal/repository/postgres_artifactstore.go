package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"code-evolver/internal/logging"
	"code-evolver/pkg/models"
)

// PostgresArtifactStore is a PostgreSQL implementation of the
// ArtifactStore interface backed by pgvector for similarity search.
type PostgresArtifactStore struct {
	db     *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresArtifactStore creates a new PostgresArtifactStore.
func NewPostgresArtifactStore(db *pgxpool.Pool, logger *logging.Logger) *PostgresArtifactStore {
	return &PostgresArtifactStore{db: db, logger: logger}
}

// NewPool creates a pgx pool with pgvector types registered on every
// connection.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the artifacts table and supporting indexes.
// When reset is true the table is dropped first. embeddingDim fixes the
// width of the vector column and must match the embedding sidecar.
func (s *PostgresArtifactStore) EnsureSchema(ctx context.Context, reset bool, embeddingDim int) error {
	if _, err := s.db.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if reset {
		if _, err := s.db.Exec(ctx, "DROP TABLE IF EXISTS artifacts"); err != nil {
			return err
		}
		s.logger.Warn("artifacts table dropped", "reset", true)
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		tags TEXT[] NOT NULL DEFAULT '{}',
		metadata JSONB NOT NULL DEFAULT '{}',
		quality_score DOUBLE PRECISION NOT NULL DEFAULT 1.0,
		usage_count INT NOT NULL DEFAULT 0,
		embedding vector(%d),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts (type);
	CREATE INDEX IF NOT EXISTS idx_artifacts_tags ON artifacts USING GIN (tags);`, embeddingDim)
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create artifacts schema: %w", err)
	}
	return nil
}

const artifactColumns = "id, type, name, description, content, tags, metadata, quality_score, usage_count, embedding, created_at, updated_at"

// Store performs an idempotent upsert keyed by artifact ID.
func (s *PostgresArtifactStore) Store(ctx context.Context, a *models.Artifact) error {
	meta, err := json.Marshal(metadataOrEmpty(a.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	var embedding *pgvector.Vector
	if len(a.Embedding) > 0 {
		v := pgvector.NewVector(a.Embedding)
		embedding = &v
	}
	_, err = s.db.Exec(ctx, `INSERT INTO artifacts
		(id, type, name, description, content, tags, metadata, quality_score, usage_count, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			tags = EXCLUDED.tags,
			metadata = EXCLUDED.metadata,
			quality_score = EXCLUDED.quality_score,
			usage_count = EXCLUDED.usage_count,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		a.ID, a.Type, a.Name, a.Description, a.Content, tagsOrEmpty(a.Tags), meta,
		a.QualityScore, a.UsageCount, embedding)
	return err
}

// Get retrieves an artifact by its ID. A missing artifact is not an
// error; it is reported as (nil, nil).
func (s *PostgresArtifactStore) Get(ctx context.Context, id string) (*models.Artifact, error) {
	row := s.db.QueryRow(ctx, "SELECT "+artifactColumns+" FROM artifacts WHERE id = $1", id)
	a, err := scanArtifact(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// FindSimilar returns artifacts ordered by descending cosine
// similarity, ties broken by ID ascending. Artifacts without an
// embedding are never returned here.
func (s *PostgresArtifactStore) FindSimilar(ctx context.Context, embedding []float32, q SimilarQuery) ([]models.ScoredArtifact, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(embedding)
	rows, err := s.db.Query(ctx, `SELECT `+artifactColumns+`, 1 - (embedding <=> $1) AS similarity
		FROM artifacts
		WHERE embedding IS NOT NULL
		  AND ($2 = '' OR type = $2)
		  AND (cardinality($3::text[]) = 0 OR tags && $3::text[])
		ORDER BY embedding <=> $1 ASC, id ASC
		LIMIT $4`,
		vec, string(q.Type), tagsOrEmpty(q.Tags), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ScoredArtifact
	for rows.Next() {
		a, sim, err := scanScoredArtifact(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, models.ScoredArtifact{Artifact: a, Similarity: clamp01(sim)})
	}
	return results, rows.Err()
}

// FindByTags returns artifacts carrying at least one of the given
// tags, in insertion order, capped at limit.
func (s *PostgresArtifactStore) FindByTags(ctx context.Context, tags []string, limit int) ([]*models.Artifact, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, "SELECT "+artifactColumns+" FROM artifacts WHERE tags && $1::text[] ORDER BY created_at ASC, id ASC LIMIT $2",
		tagsOrEmpty(tags), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

// ListAll returns every stored artifact.
func (s *PostgresArtifactStore) ListAll(ctx context.Context) ([]*models.Artifact, error) {
	rows, err := s.db.Query(ctx, "SELECT "+artifactColumns+" FROM artifacts ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

// UpdateQualityScore sets the quality score of an artifact.
func (s *PostgresArtifactStore) UpdateQualityScore(ctx context.Context, id string, score float64) (bool, error) {
	tag, err := s.db.Exec(ctx, "UPDATE artifacts SET quality_score = $2, updated_at = now() WHERE id = $1", id, score)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// IncrementUsage bumps the usage counter of an artifact.
func (s *PostgresArtifactStore) IncrementUsage(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, "UPDATE artifacts SET usage_count = usage_count + 1, updated_at = now() WHERE id = $1", id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateMetadata merges the patch into the artifact's metadata.
func (s *PostgresArtifactStore) UpdateMetadata(ctx context.Context, id string, patch map[string]interface{}) (bool, error) {
	data, err := json.Marshal(metadataOrEmpty(patch))
	if err != nil {
		return false, fmt.Errorf("failed to marshal metadata patch: %w", err)
	}
	tag, err := s.db.Exec(ctx, "UPDATE artifacts SET metadata = metadata || $2::jsonb, updated_at = now() WHERE id = $1", id, data)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AddTags appends the given tags, keeping tag membership set-like.
func (s *PostgresArtifactStore) AddTags(ctx context.Context, id string, tags []string) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE artifacts
		SET tags = (SELECT array_agg(DISTINCT t) FROM unnest(tags || $2::text[]) AS t),
		    updated_at = now()
		WHERE id = $1`, id, tagsOrEmpty(tags))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Ping verifies the database is reachable.
func (s *PostgresArtifactStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var a models.Artifact
	var embedding *pgvector.Vector
	err := row.Scan(&a.ID, &a.Type, &a.Name, &a.Description, &a.Content, &a.Tags,
		&a.Metadata, &a.QualityScore, &a.UsageCount, &embedding, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		a.Embedding = embedding.Slice()
	}
	return &a, nil
}

func scanScoredArtifact(row rowScanner) (*models.Artifact, float64, error) {
	var a models.Artifact
	var embedding *pgvector.Vector
	var sim float64
	err := row.Scan(&a.ID, &a.Type, &a.Name, &a.Description, &a.Content, &a.Tags,
		&a.Metadata, &a.QualityScore, &a.UsageCount, &embedding, &a.CreatedAt, &a.UpdatedAt, &sim)
	if err != nil {
		return nil, 0, err
	}
	if embedding != nil {
		a.Embedding = embedding.Slice()
	}
	return &a, sim, nil
}

func collectArtifacts(rows pgx.Rows) ([]*models.Artifact, error) {
	var artifacts []*models.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func metadataOrEmpty(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return map[string]interface{}{}
	}
	return meta
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
