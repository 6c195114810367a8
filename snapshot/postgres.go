package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/roboleague/collab/files"
)

// PostgresStore keeps one JSONB row per team.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresStore connects to databaseURL and creates the snapshot table if needed.
// tablePrefix is prepended to the table name so environments can share a database.
func NewPostgresStore(ctx context.Context, databaseURL, tablePrefix string, log *slog.Logger) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL cannot be empty")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{tablePrefix + "workspace_snapshots"}.Sanitize(),
		log:   log,
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info("postgres snapshot store ready", "table", s.table)
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			team_id    TEXT PRIMARY KEY,
			records    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, teamID string) ([]files.Record, bool, error) {
	query := fmt.Sprintf(`SELECT records FROM %s WHERE team_id = $1`, s.table)

	var raw []byte
	err := s.pool.QueryRow(ctx, query, teamID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", teamID, err)
	}

	records := []files.Record{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, false, fmt.Errorf("decode snapshot %s: %w", teamID, err)
	}
	return records, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, teamID string, records []files.Record) error {
	if records == nil {
		records = []files.Record{}
	}
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (team_id, records, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (team_id) DO UPDATE SET records = EXCLUDED.records, updated_at = now()`, s.table)
	if _, err := s.pool.Exec(ctx, query, teamID, raw); err != nil {
		return fmt.Errorf("save snapshot %s: %w", teamID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ Store = (*PostgresStore)(nil)
