package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/earshot-audio/earshot/internal/profile"
)

var _ profile.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [profile.Store]. All operations are safe for
// concurrent use; Update replaces a profile and its embeddings in one
// transaction, so readers never observe a half-replaced profile.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and runs [Migrate].
//
// dimensions must match the output dimension of the voice embedding model
// used to produce the reference embeddings.
func NewStore(ctx context.Context, dsn string, dimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("profile store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("profile store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("profile store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Add implements [profile.Store].
func (s *Store) Add(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	metadata, err := json.Marshal(orEmpty(p.Metadata))
	if err != nil {
		return profile.Profile{}, fmt.Errorf("profile store: marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("profile store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO speaker_profiles
		    (id, name, embedding_model, total_duration_ns, quality, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	tag, err := tx.Exec(ctx, q,
		p.ID,
		p.Name,
		p.EmbeddingModel,
		p.TotalDuration.Nanoseconds(),
		string(p.Quality),
		metadata,
		p.CreatedAt,
		nullableTime(p.UpdatedAt),
	)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("profile store: add: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return profile.Profile{}, fmt.Errorf("profile store: add %q: %w", p.ID, profile.ErrDuplicateID)
	}

	if err := insertEmbeddings(ctx, tx, p.ID, p.Embeddings); err != nil {
		return profile.Profile{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return profile.Profile{}, fmt.Errorf("profile store: commit: %w", err)
	}
	return p, nil
}

// Get implements [profile.Store]. The profile row and its embeddings are
// fetched in a single joined query so a concurrent Update can never be
// observed half-applied.
func (s *Store) Get(ctx context.Context, id string) (profile.Profile, error) {
	const q = `
		SELECT p.id, p.name, p.embedding_model, p.total_duration_ns, p.quality,
		       p.metadata, p.created_at, p.updated_at, pe.embedding
		FROM   speaker_profiles p
		LEFT   JOIN profile_embeddings pe ON pe.profile_id = p.id
		WHERE  p.id = $1
		ORDER  BY pe.position`

	rows, err := s.pool.Query(ctx, q, id)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("profile store: get: %w", err)
	}

	profiles, err := stitchProfiles(rows)
	if err != nil {
		return profile.Profile{}, fmt.Errorf("profile store: get: %w", err)
	}
	if len(profiles) == 0 {
		return profile.Profile{}, fmt.Errorf("profile store: get %q: %w", id, profile.ErrNotFound)
	}
	return profiles[0], nil
}

// Update implements [profile.Store]. The profile row and every embedding are
// replaced in one transaction.
func (s *Store) Update(ctx context.Context, p profile.Profile) error {
	metadata, err := json.Marshal(orEmpty(p.Metadata))
	if err != nil {
		return fmt.Errorf("profile store: marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("profile store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
		UPDATE speaker_profiles
		SET    name = $2, embedding_model = $3, total_duration_ns = $4,
		       quality = $5, metadata = $6, updated_at = $7
		WHERE  id = $1`

	tag, err := tx.Exec(ctx, q,
		p.ID,
		p.Name,
		p.EmbeddingModel,
		p.TotalDuration.Nanoseconds(),
		string(p.Quality),
		metadata,
		nullableTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("profile store: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile store: update %q: %w", p.ID, profile.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM profile_embeddings WHERE profile_id = $1`, p.ID); err != nil {
		return fmt.Errorf("profile store: clear embeddings: %w", err)
	}
	if err := insertEmbeddings(ctx, tx, p.ID, p.Embeddings); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("profile store: commit: %w", err)
	}
	return nil
}

// Remove implements [profile.Store]. Embeddings go with the profile via
// ON DELETE CASCADE.
func (s *Store) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM speaker_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("profile store: remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("profile store: remove %q: %w", id, profile.ErrNotFound)
	}
	return nil
}

// List implements [profile.Store].
func (s *Store) List(ctx context.Context) ([]profile.Summary, error) {
	const q = `
		SELECT p.id, p.name, count(pe.id), p.total_duration_ns, p.quality, p.created_at
		FROM   speaker_profiles p
		LEFT   JOIN profile_embeddings pe ON pe.profile_id = p.id
		GROUP  BY p.id
		ORDER  BY lower(p.name), p.id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("profile store: list: %w", err)
	}

	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (profile.Summary, error) {
		var (
			sum     profile.Summary
			durNS   int64
			quality string
		)
		if err := row.Scan(&sum.ID, &sum.Name, &sum.EmbeddingCount, &durNS, &quality, &sum.CreatedAt); err != nil {
			return profile.Summary{}, err
		}
		sum.TotalDuration = time.Duration(durNS)
		sum.Quality = profile.Grade(quality)
		return sum, nil
	})
	if err != nil {
		return nil, fmt.Errorf("profile store: scan summaries: %w", err)
	}
	if summaries == nil {
		summaries = []profile.Summary{}
	}
	return summaries, nil
}

// Snapshot implements [profile.Store].
func (s *Store) Snapshot(ctx context.Context) ([]profile.Profile, error) {
	const q = `
		SELECT p.id, p.name, p.embedding_model, p.total_duration_ns, p.quality,
		       p.metadata, p.created_at, p.updated_at, pe.embedding
		FROM   speaker_profiles p
		LEFT   JOIN profile_embeddings pe ON pe.profile_id = p.id
		ORDER  BY p.id, pe.position`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("profile store: snapshot: %w", err)
	}

	profiles, err := stitchProfiles(rows)
	if err != nil {
		return nil, fmt.Errorf("profile store: snapshot: %w", err)
	}
	return profiles, nil
}

// Neighbor is one result of a nearest-profile query.
type Neighbor struct {
	// ID is the profile's identity ID.
	ID string

	// Name is the profile's display name.
	Name string

	// Similarity is the best cosine similarity between the query embedding
	// and any of the profile's reference embeddings.
	Similarity float64
}

// Nearest returns the topK profiles closest to the query embedding, best
// match first. Each profile scores by its closest reference embedding, the
// same max-over-references rule the in-process matcher applies.
//
// Reference embeddings are unit-norm, so cosine distance is 1 - cosine
// similarity and the HNSW index answers this without a full scan.
func (s *Store) Nearest(ctx context.Context, embedding []float32, topK int) ([]Neighbor, error) {
	const q = `
		SELECT p.id, p.name, d.distance
		FROM (
		    SELECT profile_id, MIN(embedding <=> $1) AS distance
		    FROM   profile_embeddings
		    GROUP  BY profile_id
		) d
		JOIN   speaker_profiles p ON p.id = d.profile_id
		ORDER  BY d.distance, p.id
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("profile store: nearest: %w", err)
	}

	neighbors, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbor, error) {
		var (
			n        Neighbor
			distance float64
		)
		if err := row.Scan(&n.ID, &n.Name, &distance); err != nil {
			return Neighbor{}, err
		}
		n.Similarity = 1 - distance
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("profile store: scan neighbors: %w", err)
	}
	if neighbors == nil {
		neighbors = []Neighbor{}
	}
	return neighbors, nil
}

// insertEmbeddings writes one profile_embeddings row per reference embedding,
// preserving order via the position column.
func insertEmbeddings(ctx context.Context, tx pgx.Tx, profileID string, embeddings [][]float32) error {
	const q = `
		INSERT INTO profile_embeddings (profile_id, position, embedding)
		VALUES ($1, $2, $3)`

	for i, emb := range embeddings {
		if _, err := tx.Exec(ctx, q, profileID, i, pgvector.NewVector(emb)); err != nil {
			return fmt.Errorf("profile store: insert embedding %d: %w", i, err)
		}
	}
	return nil
}

// stitchProfiles folds joined profile+embedding rows into profiles. Rows must
// be grouped by profile ID; a profile without embeddings yields one row with
// a NULL embedding.
func stitchProfiles(rows pgx.Rows) ([]profile.Profile, error) {
	defer rows.Close()

	var profiles []profile.Profile
	for rows.Next() {
		var (
			p        profile.Profile
			durNS    int64
			quality  string
			metadata []byte
			updated  *time.Time
			vec      *pgvector.Vector
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.EmbeddingModel, &durNS, &quality,
			&metadata, &p.CreatedAt, &updated, &vec); err != nil {
			return nil, err
		}

		if n := len(profiles); n == 0 || profiles[n-1].ID != p.ID {
			p.TotalDuration = time.Duration(durNS)
			p.Quality = profile.Grade(quality)
			if updated != nil {
				p.UpdatedAt = *updated
			}
			if len(metadata) > 0 {
				if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
					return nil, fmt.Errorf("unmarshal metadata for %q: %w", p.ID, err)
				}
			}
			if len(p.Metadata) == 0 {
				p.Metadata = nil
			}
			profiles = append(profiles, p)
		}
		if vec != nil {
			last := &profiles[len(profiles)-1]
			last.Embeddings = append(last.Embeddings, vec.Slice())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

// orEmpty substitutes an empty map for nil so metadata always serializes to
// a JSON object.
func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
