package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"masar/queue-service/internal/store"
)

// Persister stores the whole directory snapshot as one JSONB row, keeping the
// wholesale load/save contract while running on Postgres instead of a file.
type Persister struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Persister {
	return &Persister{pool: pool}
}

// Init creates the snapshot table if it does not exist.
func (p *Persister) Init(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			id INT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	return nil
}

func (p *Persister) Load(ctx context.Context) (*store.Data, bool, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM snapshots WHERE id = 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load snapshot: %w", err)
	}
	var data store.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return &data, true, nil
}

func (p *Persister) Save(ctx context.Context, data *store.Data) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO snapshots (id, data, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, raw)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
