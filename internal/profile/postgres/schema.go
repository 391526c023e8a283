// Package postgres provides a PostgreSQL-backed [profile.Store] with
// pgvector-indexed reference embeddings.
//
// Profiles live in a speaker_profiles table; each reference embedding is a
// row in profile_embeddings with a vector column and an HNSW cosine index,
// so the store can also answer approximate nearest-profile queries directly
// in SQL via [Store.Nearest].
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 256)
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlProfiles = `
CREATE TABLE IF NOT EXISTS speaker_profiles (
    id                TEXT         PRIMARY KEY,
    name              TEXT         NOT NULL,
    embedding_model   TEXT         NOT NULL DEFAULT '',
    total_duration_ns BIGINT       NOT NULL DEFAULT 0,
    quality           TEXT         NOT NULL DEFAULT '',
    metadata          JSONB        NOT NULL DEFAULT '{}',
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_speaker_profiles_name
    ON speaker_profiles (lower(name));
`

// ddlEmbeddings returns the embeddings DDL with the vector dimension
// substituted. The dimension is baked into the column type at schema
// creation time.
func ddlEmbeddings(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS profile_embeddings (
    id          BIGSERIAL  PRIMARY KEY,
    profile_id  TEXT       NOT NULL REFERENCES speaker_profiles (id) ON DELETE CASCADE,
    position    INT        NOT NULL,
    embedding   vector(%d) NOT NULL,
    UNIQUE (profile_id, position)
);

CREATE INDEX IF NOT EXISTS idx_profile_embeddings_profile
    ON profile_embeddings (profile_id);

CREATE INDEX IF NOT EXISTS idx_profile_embeddings_vec
    ON profile_embeddings USING hnsw (embedding vector_cosine_ops);
`, dimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// dimensions must match the output dimension of the voice embedding model
// (e.g. 256 for WeSpeaker ResNet, 192 for ECAPA-TDNN). Changing it after the
// first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	statements := []string{
		ddlProfiles,
		ddlEmbeddings(dimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
