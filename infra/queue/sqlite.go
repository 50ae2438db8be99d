package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/fluxplan/core/job"
)

// SQLiteQueue persists job records in a SQLite database so the queue
// survives process restarts and is shared between the service and the CLI.
type SQLiteQueue struct {
	db *sql.DB
	// mu serializes dequeue so concurrent workers cannot race the
	// select-then-claim step on the same row.
	mu sync.Mutex
}

// NewSQLiteQueue opens or creates the database at path and ensures schema.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS jobs (
        id TEXT PRIMARY KEY,
        natural_key TEXT,
        status INTEGER,
        depends_on TEXT,
        created_at INTEGER,
        record TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_jobs_key ON jobs(natural_key, created_at);
    CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteQueue{db: db}, nil
}

// Enqueue implements job.Queue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, rec *job.Record) error {
	c := clone(rec)
	if c.DependsOn != "" {
		dep, err := q.Fetch(ctx, c.DependsOn)
		switch {
		case err == nil && !dep.Status.Terminal():
			c.Status = job.StatusDeferred
		case err == nil && dep.Status == job.StatusFailed:
			c.Status = job.StatusFailed
			c.Meta.Failure = dependencyFailure(dep)
		case err == nil:
			c.Status = job.StatusQueued
		case errors.Is(err, job.ErrNotFound):
			c.Status = job.StatusQueued
		default:
			return err
		}
	} else {
		c.Status = job.StatusQueued
	}
	return q.insert(ctx, c)
}

func (q *SQLiteQueue) insert(ctx context.Context, rec *job.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, natural_key, status, depends_on, created_at, record)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.NaturalKey, int(rec.Status), rec.DependsOn,
		rec.CreatedAt.UnixNano(), string(b))
	return err
}

// Dequeue implements job.Queue. The claim is a guarded UPDATE, so even with
// several processes on the same file each record is delivered at most once.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*job.Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		row := q.db.QueryRowContext(ctx,
			`SELECT record FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
			int(job.StatusQueued))
		var data string
		if err := row.Scan(&data); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, nil
			}
			return nil, false, err
		}
		var rec job.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, false, fmt.Errorf("unmarshal record: %w", err)
		}
		rec.Status = job.StatusStarted
		rec.UpdatedAt = time.Now().UTC()
		b, err := json.Marshal(&rec)
		if err != nil {
			return nil, false, err
		}
		res, err := q.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, record = ? WHERE id = ? AND status = ?`,
			int(job.StatusStarted), string(b), rec.ID, int(job.StatusQueued))
		if err != nil {
			return nil, false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, false, err
		}
		if n == 1 {
			return &rec, true, nil
		}
		// Another worker claimed the row first; try the next one.
	}
}

// Update implements job.Queue and releases deferred dependents on terminal
// transitions.
func (q *SQLiteQueue) Update(ctx context.Context, rec *job.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	res, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, record = ? WHERE id = ?`,
		int(rec.Status), string(b), rec.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return job.ErrNotFound
	}
	if rec.Status.Terminal() {
		return q.release(ctx, rec)
	}
	return nil
}

func (q *SQLiteQueue) release(ctx context.Context, dep *job.Record) error {
	rows, err := q.db.QueryContext(ctx,
		`SELECT record FROM jobs WHERE depends_on = ? AND status = ?`,
		dep.ID, int(job.StatusDeferred))
	if err != nil {
		return err
	}
	var blocked []*job.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			_ = rows.Close()
			return err
		}
		var rec job.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			_ = rows.Close()
			return fmt.Errorf("unmarshal record: %w", err)
		}
		blocked = append(blocked, &rec)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, rec := range blocked {
		rec.UpdatedAt = time.Now().UTC()
		if dep.Status == job.StatusFinished {
			rec.Status = job.StatusQueued
		} else {
			rec.Status = job.StatusFailed
			rec.Meta.Failure = dependencyFailure(dep)
		}
		if err := q.Update(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Fetch implements job.Queue.
func (q *SQLiteQueue) Fetch(ctx context.Context, id string) (*job.Record, error) {
	row := q.db.QueryRowContext(ctx, `SELECT record FROM jobs WHERE id = ?`, id)
	return scanRecord(row)
}

// LatestByKey implements job.Queue.
func (q *SQLiteQueue) LatestByKey(ctx context.Context, key string) (*job.Record, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT record FROM jobs WHERE natural_key = ? ORDER BY created_at DESC LIMIT 1`, key)
	return scanRecord(row)
}

// Close implements job.Queue.
func (q *SQLiteQueue) Close() error { return q.db.Close() }

func scanRecord(row *sql.Row) (*job.Record, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, err
	}
	var rec job.Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}
