package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLite stores slots in the migrated slots table.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time
}

// NewSQLite wraps an open, migrated connection. The store takes ownership of db.
func NewSQLite(db *sql.DB) *SQLite { return &SQLite{DB: db, Now: time.Now} }

func (s *SQLite) Driver() Driver { return DriverSQLite }

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := s.DB.QueryRowContext(ctx, `SELECT payload FROM slots WHERE slot=?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return payload, err
}

func (s *SQLite) Put(ctx context.Context, key string, payload []byte) error {
	now := s.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.DB.ExecContext(ctx, `INSERT INTO slots(slot,payload,updated_at) VALUES (?,?,?)
ON CONFLICT(slot) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`, key, payload, now)
	return err
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM slots WHERE slot=?`, key)
	return err
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	return queryKeys(ctx, s.DB, `SELECT slot FROM slots ORDER BY slot`)
}

func (s *SQLite) Close() error { return s.DB.Close() }

func queryKeys(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
