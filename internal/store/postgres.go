package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/examprep/examprep-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements CheckpointStore using pgxpool.
type PostgresStore struct {
	pool Pool
	now  func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return NewPostgresWithPool(pool), nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id          TEXT PRIMARY KEY,
	subject     TEXT NOT NULL,
	total_units INTEGER NOT NULL,
	completed   INTEGER NOT NULL DEFAULT 0,
	state       JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Initialize(ctx context.Context, subject string, totalUnits int) (string, error) {
	if err := validateTotal(totalUnits); err != nil {
		return "", err
	}
	now := s.now().UTC()
	id := NewCheckpointID(subject, now)
	data, err := encodeState(model.NewCheckpointState(id, subject, totalUnits, now))
	if err != nil {
		return "", err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, subject, total_units, completed, state, created_at, updated_at) VALUES ($1, $2, $3, 0, $4, $5, $5)`,
		id, subject, totalUnits, data, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "postgres: insert checkpoint")
	}
	return id, nil
}

func (s *PostgresStore) RecordUnit(ctx context.Context, id string, unit int, analysis model.UnitAnalysis) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT state FROM checkpoints WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: record unit %d in %s", unit, id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: load checkpoint %s", id)
	}

	st, err := decodeState(raw)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := st.Record(unit, analysis, now); err != nil {
		return err
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE checkpoints SET state = $1, completed = $2, updated_at = $3 WHERE id = $4`,
		data, len(st.CompletedUnits), now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update checkpoint %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) Load(ctx context.Context, id string) (*model.CheckpointState, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM checkpoints WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoint %s", id)
	}
	return decodeState(raw)
}

func (s *PostgresStore) Discard(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: discard checkpoint %s", id)
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]model.CheckpointSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, subject, total_units, completed, updated_at FROM checkpoints ORDER BY updated_at DESC, id DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()

	var out []model.CheckpointSummary
	for rows.Next() {
		var sum model.CheckpointSummary
		if err := rows.Scan(&sum.ID, &sum.Subject, &sum.TotalUnits, &sum.Completed, &sum.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate checkpoints")
}
