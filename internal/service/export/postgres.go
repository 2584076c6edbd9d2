package export

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"realtime-stt-gateway/internal/models"
)

// PostgresStore keeps exports in the stream_exports table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect export db: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the exports table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stream_exports (
	id          TEXT PRIMARY KEY,
	audio       BYTEA NOT NULL,
	finals      JSONB NOT NULL,
	final_count INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	if err != nil {
		return fmt.Errorf("migrate stream_exports: %w", err)
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, artifact models.ExportArtifact) error {
	if artifact.ID == "" {
		return ErrEmptyID
	}
	finals := artifact.Finals
	if finals == nil {
		finals = []models.FinalMessage{}
	}
	payload, err := json.Marshal(finals)
	if err != nil {
		return fmt.Errorf("marshal export finals: %w", err)
	}
	audio := artifact.Audio
	if audio == nil {
		audio = []byte{}
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO stream_exports (id, audio, finals, final_count)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`, artifact.ID, audio, string(payload), len(finals))
	if err != nil {
		return fmt.Errorf("insert export %s: %w", artifact.ID, err)
	}
	return nil
}
