package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murmurhq/murmur/internal/store"
)

// Compile-time interface checks.
var (
	_ store.UserStore = (*UserStoreImpl)(nil)
	_ store.NoteStore = (*NoteStoreImpl)(nil)
)

// Store is the central PostgreSQL-backed store for Murmur. It holds a single
// [pgxpool.Pool] and exposes the two persistence surfaces:
//
//   - [Store.Users] returns a [UserStoreImpl] implementing [store.UserStore]
//   - [Store.Notes] returns a [NoteStoreImpl] implementing [store.NoteStore]
//
// All operations are safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	users *UserStoreImpl
	notes *NoteStoreImpl
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, verifies connectivity, and runs [Migrate] to
// ensure all required tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:  pool,
		users: &UserStoreImpl{pool: pool},
		notes: &NoteStoreImpl{pool: pool},
	}, nil
}

// Users returns the account store implementation which satisfies [store.UserStore].
func (s *Store) Users() *UserStoreImpl { return s.users }

// Notes returns the note store implementation which satisfies [store.NoteStore].
func (s *Store) Notes() *NoteStoreImpl { return s.notes }

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
