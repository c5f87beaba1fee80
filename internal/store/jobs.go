// Package store persists batch jobs and master knowledge-base files.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/prepstack/enrich-cli/internal/model"
)

// BatchFilter narrows ListBatches results.
type BatchFilter struct {
	Status model.BatchStatus
	Topic  string
	Limit  int
	Offset int
}

// JobStore persists batch lifecycle state in SQLite via modernc.org/sqlite.
type JobStore struct {
	db *sql.DB
}

// NewJobStore opens a SQLite database at the given path and configures WAL
// mode.
func NewJobStore(dsn string) (*JobStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &JobStore{db: db}, nil
}

const jobsMigration = `
CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	topic      TEXT NOT NULL,
	backend    TEXT NOT NULL,
	model      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'starting',
	total      INTEGER NOT NULL DEFAULT 0,
	processed  INTEGER NOT NULL DEFAULT 0,
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);
CREATE INDEX IF NOT EXISTS idx_batches_topic ON batches(topic);
`

func (s *JobStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, jobsMigration)
	return eris.Wrap(err, "store: migrate")
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

func (s *JobStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, topic, backend, model, status, total, processed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Topic, string(b.Backend), b.Model, string(b.Status), b.Total, b.Processed, b.CreatedAt, b.UpdatedAt,
	)
	return eris.Wrapf(err, "store: insert batch %s", b.ID)
}

func (s *JobStore) UpdateBatch(ctx context.Context, b *model.Batch) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, processed = ?, updated_at = ? WHERE id = ?`,
		string(b.Status), b.Processed, time.Now().UTC(), b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: update batch %s", b.ID)
	}
	return checkRowsAffected(res, "batch", b.ID)
}

func (s *JobStore) SaveResult(ctx context.Context, batchID string, result *model.BatchResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "store: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET result = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "store: save result %s", batchID)
	}
	return checkRowsAffected(res, "batch", batchID)
}

// StoredBatch is a batch row plus its persisted result, when present.
type StoredBatch struct {
	model.Batch
	Result *model.BatchResult `json:"result,omitempty"`
}

func (s *JobStore) GetBatch(ctx context.Context, batchID string) (*StoredBatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, backend, model, status, total, processed, result, created_at, updated_at
		 FROM batches WHERE id = ?`,
		batchID,
	)
	return scanBatch(row)
}

func (s *JobStore) ListBatches(ctx context.Context, filter BatchFilter) ([]StoredBatch, error) {
	query := `SELECT id, topic, backend, model, status, total, processed, result, created_at, updated_at
	          FROM batches WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, filter.Topic)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list batches")
	}
	defer rows.Close()

	var batches []StoredBatch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, eris.Wrap(rows.Err(), "store: list batches iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBatch(row scannable) (*StoredBatch, error) {
	var b StoredBatch
	var backend string
	var resultJSON sql.NullString

	err := row.Scan(&b.ID, &b.Topic, &backend, &b.Model, &b.Status, &b.Total, &b.Processed, &resultJSON, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("batch not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan batch")
	}
	b.Backend = model.Backend(backend)

	if resultJSON.Valid {
		b.Result = &model.BatchResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), b.Result); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal result")
		}
	}
	return &b, nil
}
