package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/examprep/examprep-cli/internal/model"
)

// SQLiteStore implements CheckpointStore using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id          TEXT PRIMARY KEY,
	subject     TEXT NOT NULL,
	total_units INTEGER NOT NULL,
	completed   INTEGER NOT NULL DEFAULT 0,
	state       TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_updated_at ON checkpoints(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Initialize(ctx context.Context, subject string, totalUnits int) (string, error) {
	if err := validateTotal(totalUnits); err != nil {
		return "", err
	}
	now := s.now().UTC()
	id := NewCheckpointID(subject, now)
	data, err := encodeState(model.NewCheckpointState(id, subject, totalUnits, now))
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, subject, total_units, completed, state, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?, ?)`,
		id, subject, totalUnits, string(data), now, now,
	)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: insert checkpoint")
	}
	return id, nil
}

func (s *SQLiteStore) RecordUnit(ctx context.Context, id string, unit int, analysis model.UnitAnalysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT state FROM checkpoints WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: record unit %d in %s", unit, id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: load checkpoint %s", id)
	}

	st, err := decodeState([]byte(raw))
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

	_, err = tx.ExecContext(ctx,
		`UPDATE checkpoints SET state = ?, completed = ?, updated_at = ? WHERE id = ?`,
		string(data), len(st.CompletedUnits), now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update checkpoint %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*model.CheckpointState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM checkpoints WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load checkpoint %s", id)
	}
	return decodeState([]byte(raw))
}

func (s *SQLiteStore) Discard(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: discard checkpoint %s", id)
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]model.CheckpointSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, total_units, completed, updated_at FROM checkpoints ORDER BY updated_at DESC, id DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.CheckpointSummary
	for rows.Next() {
		var sum model.CheckpointSummary
		if err := rows.Scan(&sum.ID, &sum.Subject, &sum.TotalUnits, &sum.Completed, &sum.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		out = append(out, sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate checkpoints")
}
