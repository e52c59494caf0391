// Package postgres provides the PostgreSQL-backed implementation of the
// Murmur persistence layer (users, notes, folders, tags).
//
// All tables share a single [pgxpool.Pool] connection pool. [Migrate] is
// idempotent and runs automatically on [NewStore].
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	_ = st.Notes().CreateNote(ctx, note)
//	u, _ := st.Users().GetUserByEmail(ctx, "a@b.c")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id            UUID         PRIMARY KEY,
    email         TEXT         NOT NULL UNIQUE,
    password_hash TEXT         NOT NULL,
    display_name  TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlFolders = `
CREATE TABLE IF NOT EXISTS folders (
    id          UUID         PRIMARY KEY,
    owner_id    UUID         NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    name        TEXT         NOT NULL,
    color       TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (owner_id, name)
);

CREATE INDEX IF NOT EXISTS idx_folders_owner ON folders (owner_id);
`

const ddlNotes = `
CREATE TABLE IF NOT EXISTS notes (
    id                  UUID         PRIMARY KEY,
    owner_id            UUID         NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    title               TEXT         NOT NULL DEFAULT '',
    original_transcript TEXT         NOT NULL,
    enhanced_text       TEXT         NOT NULL,
    style               TEXT         NOT NULL DEFAULT '',
    word_count          INTEGER      NOT NULL DEFAULT 0,
    processing_ns       BIGINT       NOT NULL DEFAULT 0,
    audio_url           TEXT         NOT NULL DEFAULT '',
    folder_id           UUID         REFERENCES folders (id) ON DELETE SET NULL,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notes_owner
    ON notes (owner_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_notes_folder
    ON notes (folder_id);

CREATE INDEX IF NOT EXISTS idx_notes_fts
    ON notes USING GIN (to_tsvector('english', original_transcript || ' ' || enhanced_text));
`

const ddlTags = `
CREATE TABLE IF NOT EXISTS tags (
    id        UUID  PRIMARY KEY,
    owner_id  UUID  NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    name      TEXT  NOT NULL,
    color     TEXT  NOT NULL DEFAULT '',
    UNIQUE (owner_id, name)
);

CREATE INDEX IF NOT EXISTS idx_tags_owner ON tags (owner_id);

CREATE TABLE IF NOT EXISTS note_tags (
    note_id  UUID  NOT NULL REFERENCES notes (id) ON DELETE CASCADE,
    tag_id   UUID  NOT NULL REFERENCES tags (id) ON DELETE CASCADE,
    PRIMARY KEY (note_id, tag_id)
);

CREATE INDEX IF NOT EXISTS idx_note_tags_tag ON note_tags (tag_id);
`

// Migrate creates or ensures all required database tables and indexes exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlUsers,
		ddlFolders,
		ddlNotes,
		ddlTags,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
