package store

import (
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// Store is the run ledger: an audit trail of adapter fetches and experiment
// day outcomes. The forecast cache on disk remains the source of truth for
// data; the ledger only records what happened.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

func New(db *sql.DB, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{db: db, clock: clock}
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(path string, clock clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	s := New(db, clock)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
