package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const defaultPostgresDSN = "postgres://localhost/shipline?sslmode=disable"

// Postgres stores slots as JSONB rows.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres opens dsn through the pgx stdlib driver and ensures the slots table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		dsn = defaultPostgresDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := &Postgres{DB: db}
	if err := p.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureTable(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS slots (
		slot TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`
	if _, err := p.DB.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure slots table: %w", err)
	}
	return nil
}

func (p *Postgres) Driver() Driver { return DriverPostgres }

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.DB.QueryRowContext(ctx, `SELECT payload FROM slots WHERE slot=$1`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return payload, err
}

func (p *Postgres) Put(ctx context.Context, key string, payload []byte) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO slots(slot,payload,updated_at) VALUES ($1,$2,now())
ON CONFLICT(slot) DO UPDATE SET payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`, key, payload)
	return err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	_, err := p.DB.ExecContext(ctx, `DELETE FROM slots WHERE slot=$1`, key)
	return err
}

func (p *Postgres) Keys(ctx context.Context) ([]string, error) {
	return queryKeys(ctx, p.DB, `SELECT slot FROM slots ORDER BY slot`)
}

func (p *Postgres) Close() error { return p.DB.Close() }
