package storage

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store bundles the PostgreSQL-backed persistence for battles, votes, usage
// logs, and contact messages.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}
