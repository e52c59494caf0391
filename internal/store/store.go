// Package store defines the persistence interfaces and record types for
// Murmur: users, notes, folders, and tags.
//
// Every record is owned by exactly one user and every operation is scoped by
// the owner's ID — a caller can never read or mutate another user's rows. The
// PostgreSQL implementation lives in the postgres subpackage; the interfaces
// here exist so handlers and tests can swap in in-memory fakes.
//
// Implementations must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a record does not exist or is not owned by the
// requesting user. The two cases are deliberately indistinguishable so that
// record identifiers do not leak across accounts.
var ErrNotFound = errors.New("store: not found")

// ErrEmailTaken is returned by CreateUser when the email is already registered.
var ErrEmailTaken = errors.New("store: email already registered")

// User is a registered account.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    time.Time
}

// Note is the persisted unit combining a transcript, its enhanced rewrite,
// and metadata.
type Note struct {
	ID                 uuid.UUID
	OwnerID            uuid.UUID
	Title              string
	OriginalTranscript string
	EnhancedText       string
	Style              string
	WordCount          int
	ProcessingTime     time.Duration
	AudioURL           string
	FolderID           *uuid.UUID
	Tags               []Tag
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Folder is a named note grouping owned by one user.
type Folder struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Name      string
	Color     string
	CreatedAt time.Time
}

// Tag is a named label owned by one user. Notes reference tags many-to-many.
type Tag struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Name    string
	Color   string
}

// NoteFilter narrows ListNotes results. The zero value returns every note
// owned by the user, newest first.
type NoteFilter struct {
	// FolderID limits results to one folder when non-nil.
	FolderID *uuid.UUID

	// Query is a full-text search over transcript and enhanced text.
	// Empty means no text filter.
	Query string

	// Limit caps the number of results. Zero means no cap.
	Limit int
}

// NoteUpdate carries the mutable fields of a note. Nil fields are left
// unchanged; a non-nil Tags replaces the note's tag set wholesale.
type NoteUpdate struct {
	Title        *string
	EnhancedText *string
	FolderID     *uuid.UUID
	ClearFolder  bool
	Tags         []uuid.UUID
}

// UserStore persists accounts.
type UserStore interface {
	// CreateUser inserts a new account. Returns [ErrEmailTaken] when the
	// email is already registered.
	CreateUser(ctx context.Context, u *User) error

	// GetUserByEmail returns the account registered under email, or
	// [ErrNotFound].
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByID returns the account with the given ID, or [ErrNotFound].
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
}

// NoteStore persists notes, folders, and tags, all scoped by owner.
type NoteStore interface {
	// CreateNote inserts note (including its tag references) and fills in
	// server-side fields (ID, CreatedAt, UpdatedAt) on the passed struct.
	CreateNote(ctx context.Context, note *Note) error

	// ListNotes returns the owner's notes matching filter, newest first,
	// with folder and tag references resolved.
	ListNotes(ctx context.Context, ownerID uuid.UUID, filter NoteFilter) ([]Note, error)

	// GetNote returns one note by ID. Returns [ErrNotFound] when the note
	// does not exist or belongs to a different owner.
	GetNote(ctx context.Context, ownerID, noteID uuid.UUID) (*Note, error)

	// UpdateNote applies upd to the note and returns the updated record.
	// Returns [ErrNotFound] when the note does not exist or belongs to a
	// different owner.
	UpdateNote(ctx context.Context, ownerID, noteID uuid.UUID, upd NoteUpdate) (*Note, error)

	// DeleteNote removes the note. Returns [ErrNotFound] when the note does
	// not exist or belongs to a different owner.
	DeleteNote(ctx context.Context, ownerID, noteID uuid.UUID) error

	// ListFolders returns the owner's folders ordered by name.
	ListFolders(ctx context.Context, ownerID uuid.UUID) ([]Folder, error)

	// CreateFolder inserts folder and fills in server-side fields.
	CreateFolder(ctx context.Context, folder *Folder) error

	// ListTags returns the owner's tags ordered by name.
	ListTags(ctx context.Context, ownerID uuid.UUID) ([]Tag, error)

	// CreateTag inserts tag and fills in server-side fields.
	CreateTag(ctx context.Context, tag *Tag) error
}
