package sqlite

import "github.com/glebk/draw-bot/internal/domain"

// Store bundles the SQLite repositories into a domain.Store
type Store struct {
	*SessionRepository
	*LedgerRepository
	*DrawRepository

	db *Database
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a Store over an open database
func NewStore(db *Database) *Store {
	return &Store{
		SessionRepository: NewSessionRepository(db),
		LedgerRepository:  NewLedgerRepository(db),
		DrawRepository:    NewDrawRepository(db),
		db:                db,
	}
}

// Open opens the database at path and returns a ready Store
func Open(path string) (*Store, error) {
	db, err := New(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
