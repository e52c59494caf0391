package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murmurhq/murmur/internal/store"
)

// NoteStoreImpl is the PostgreSQL implementation of [store.NoteStore].
type NoteStoreImpl struct {
	pool *pgxpool.Pool
}

const noteColumns = `id, owner_id, title, original_transcript, enhanced_text,
       style, word_count, processing_ns, audio_url, folder_id,
       created_at, updated_at`

// CreateNote inserts note and its tag references in one transaction, filling
// in server-side fields (ID, CreatedAt, UpdatedAt) on the passed struct.
func (s *NoteStoreImpl) CreateNote(ctx context.Context, note *store.Note) error {
	if note.ID == uuid.Nil {
		note.ID = uuid.New()
	}
	now := time.Now().UTC()
	note.CreatedAt = now
	note.UpdatedAt = now

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("note store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const q = `
INSERT INTO notes (id, owner_id, title, original_transcript, enhanced_text,
                   style, word_count, processing_ns, audio_url, folder_id,
                   created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = tx.Exec(ctx, q,
		note.ID, note.OwnerID, note.Title, note.OriginalTranscript, note.EnhancedText,
		note.Style, note.WordCount, note.ProcessingTime.Nanoseconds(), note.AudioURL,
		note.FolderID, note.CreatedAt, note.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("note store: create note: %w", err)
	}

	for _, tag := range note.Tags {
		if err := linkTag(ctx, tx, note.ID, tag.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("note store: commit: %w", err)
	}
	return nil
}

func linkTag(ctx context.Context, tx pgx.Tx, noteID, tagID uuid.UUID) error {
	const q = `INSERT INTO note_tags (note_id, tag_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := tx.Exec(ctx, q, noteID, tagID); err != nil {
		return fmt.Errorf("note store: link tag: %w", err)
	}
	return nil
}

// ListNotes returns the owner's notes matching filter, newest first, with tag
// references resolved.
func (s *NoteStoreImpl) ListNotes(ctx context.Context, ownerID uuid.UUID, filter store.NoteFilter) ([]store.Note, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"owner_id = " + next(ownerID)}
	if filter.FolderID != nil {
		conditions = append(conditions, "folder_id = "+next(*filter.FolderID))
	}
	if filter.Query != "" {
		conditions = append(conditions,
			"to_tsvector('english', original_transcript || ' ' || enhanced_text) @@ plainto_tsquery('english', "+next(filter.Query)+")")
	}

	q := "SELECT " + noteColumns + "\n" +
		"FROM   notes\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY created_at DESC"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		q += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("note store: list notes: %w", err)
	}
	notes, err := collectNotes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetNote returns one note by ID with its tags resolved. Returns
// [store.ErrNotFound] when the note does not exist or belongs to a different
// owner.
func (s *NoteStoreImpl) GetNote(ctx context.Context, ownerID, noteID uuid.UUID) (*store.Note, error) {
	q := "SELECT " + noteColumns + " FROM notes WHERE id = $1 AND owner_id = $2"

	rows, err := s.pool.Query(ctx, q, noteID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("note store: get note: %w", err)
	}
	notes, err := collectNotes(rows)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, store.ErrNotFound
	}
	if err := s.attachTags(ctx, notes); err != nil {
		return nil, err
	}
	return &notes[0], nil
}

// UpdateNote applies upd to the note and returns the updated record. Returns
// [store.ErrNotFound] when the note does not exist or belongs to a different
// owner.
func (s *NoteStoreImpl) UpdateNote(ctx context.Context, ownerID, noteID uuid.UUID, upd store.NoteUpdate) (*store.Note, error) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	assignments := []string{"updated_at = " + next(time.Now().UTC())}
	if upd.Title != nil {
		assignments = append(assignments, "title = "+next(*upd.Title))
	}
	if upd.EnhancedText != nil {
		assignments = append(assignments, "enhanced_text = "+next(*upd.EnhancedText))
	}
	if upd.ClearFolder {
		assignments = append(assignments, "folder_id = NULL")
	} else if upd.FolderID != nil {
		assignments = append(assignments, "folder_id = "+next(*upd.FolderID))
	}

	q := "UPDATE notes SET " + strings.Join(assignments, ", ") +
		" WHERE id = " + next(noteID) + " AND owner_id = " + next(ownerID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("note store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("note store: update note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrNotFound
	}

	if upd.Tags != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM note_tags WHERE note_id = $1`, noteID); err != nil {
			return nil, fmt.Errorf("note store: clear tags: %w", err)
		}
		for _, tagID := range upd.Tags {
			if err := linkTag(ctx, tx, noteID, tagID); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("note store: commit: %w", err)
	}

	return s.GetNote(ctx, ownerID, noteID)
}

// DeleteNote removes the note. Returns [store.ErrNotFound] when the note does
// not exist or belongs to a different owner.
func (s *NoteStoreImpl) DeleteNote(ctx context.Context, ownerID, noteID uuid.UUID) error {
	const q = `DELETE FROM notes WHERE id = $1 AND owner_id = $2`

	tag, err := s.pool.Exec(ctx, q, noteID, ownerID)
	if err != nil {
		return fmt.Errorf("note store: delete note: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListFolders returns the owner's folders ordered by name.
func (s *NoteStoreImpl) ListFolders(ctx context.Context, ownerID uuid.UUID) ([]store.Folder, error) {
	const q = `
SELECT id, owner_id, name, color, created_at
FROM   folders
WHERE  owner_id = $1
ORDER  BY name`

	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("note store: list folders: %w", err)
	}
	folders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Folder, error) {
		var f store.Folder
		err := row.Scan(&f.ID, &f.OwnerID, &f.Name, &f.Color, &f.CreatedAt)
		return f, err
	})
	if err != nil {
		return nil, fmt.Errorf("note store: scan folders: %w", err)
	}
	if folders == nil {
		folders = []store.Folder{}
	}
	return folders, nil
}

// CreateFolder inserts folder and fills in server-side fields.
func (s *NoteStoreImpl) CreateFolder(ctx context.Context, folder *store.Folder) error {
	if folder.ID == uuid.Nil {
		folder.ID = uuid.New()
	}
	if folder.CreatedAt.IsZero() {
		folder.CreatedAt = time.Now().UTC()
	}

	const q = `
INSERT INTO folders (id, owner_id, name, color, created_at)
VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, q, folder.ID, folder.OwnerID, folder.Name, folder.Color, folder.CreatedAt); err != nil {
		return fmt.Errorf("note store: create folder: %w", err)
	}
	return nil
}

// ListTags returns the owner's tags ordered by name.
func (s *NoteStoreImpl) ListTags(ctx context.Context, ownerID uuid.UUID) ([]store.Tag, error) {
	const q = `
SELECT id, owner_id, name, color
FROM   tags
WHERE  owner_id = $1
ORDER  BY name`

	rows, err := s.pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("note store: list tags: %w", err)
	}
	return collectTags(rows)
}

// CreateTag inserts tag and fills in server-side fields.
func (s *NoteStoreImpl) CreateTag(ctx context.Context, tag *store.Tag) error {
	if tag.ID == uuid.Nil {
		tag.ID = uuid.New()
	}

	const q = `INSERT INTO tags (id, owner_id, name, color) VALUES ($1, $2, $3, $4)`

	if _, err := s.pool.Exec(ctx, q, tag.ID, tag.OwnerID, tag.Name, tag.Color); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("note store: create tag: name %q already exists", tag.Name)
		}
		return fmt.Errorf("note store: create tag: %w", err)
	}
	return nil
}

// attachTags resolves the tag sets for every note in notes with one query.
func (s *NoteStoreImpl) attachTags(ctx context.Context, notes []store.Note) error {
	if len(notes) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(notes))
	index := make(map[uuid.UUID]*store.Note, len(notes))
	for i := range notes {
		ids[i] = notes[i].ID
		index[notes[i].ID] = &notes[i]
	}

	const q = `
SELECT nt.note_id, t.id, t.owner_id, t.name, t.color
FROM   note_tags nt
JOIN   tags t ON t.id = nt.tag_id
WHERE  nt.note_id = ANY($1)
ORDER  BY t.name`

	rows, err := s.pool.Query(ctx, q, ids)
	if err != nil {
		return fmt.Errorf("note store: load tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			noteID uuid.UUID
			t      store.Tag
		)
		if err := rows.Scan(&noteID, &t.ID, &t.OwnerID, &t.Name, &t.Color); err != nil {
			return fmt.Errorf("note store: scan tag: %w", err)
		}
		if n, ok := index[noteID]; ok {
			n.Tags = append(n.Tags, t)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("note store: load tags: %w", err)
	}
	return nil
}

// collectNotes scans pgx rows into a slice of Note values.
func collectNotes(rows pgx.Rows) ([]store.Note, error) {
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Note, error) {
		var (
			n            store.Note
			processingNS int64
		)
		if err := row.Scan(
			&n.ID,
			&n.OwnerID,
			&n.Title,
			&n.OriginalTranscript,
			&n.EnhancedText,
			&n.Style,
			&n.WordCount,
			&processingNS,
			&n.AudioURL,
			&n.FolderID,
			&n.CreatedAt,
			&n.UpdatedAt,
		); err != nil {
			return store.Note{}, err
		}
		n.ProcessingTime = time.Duration(processingNS)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("note store: scan rows: %w", err)
	}
	if notes == nil {
		notes = []store.Note{}
	}
	return notes, nil
}

// collectTags scans pgx rows into a slice of Tag values.
func collectTags(rows pgx.Rows) ([]store.Tag, error) {
	tags, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Tag, error) {
		var t store.Tag
		err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Color)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("note store: scan tags: %w", err)
	}
	if tags == nil {
		tags = []store.Tag{}
	}
	return tags, nil
}
