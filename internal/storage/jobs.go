package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Job states. A job leaves the table only on ack; dead jobs stay for operators.
const (
	JobPending = "pending"
	JobLeased  = "leased"
	JobDead    = "dead"
)

// JobRecord is one durable delayed execution, identified by a stable key.
type JobRecord struct {
	Key       string `db:"key"`
	Kind      string `db:"kind"`
	Payload   string `db:"payload"`
	RunAt     int64  `db:"run_at"` // unix millis
	State     string `db:"state"`
	Attempts  int    `db:"attempts"`
	LeaseMS   sql.NullInt64  `db:"lease_until"`
	CreatedAt int64          `db:"created_at"`
	LastError sql.NullString `db:"last_error"`
}

// RunTime returns RunAt as a time.Time.
func (j JobRecord) RunTime() time.Time { return time.UnixMilli(j.RunAt) }

// JobStore is the durable backlog behind the delayed execution queue.
type JobStore struct {
	db *DB
}

func NewJobStore(db *DB) *JobStore { return &JobStore{db: db} }

// Upsert inserts a pending job, or refreshes payload and run time if a job
// with the same key is still pending. A leased job is left untouched so an
// in-flight execution is never duplicated.
func (s *JobStore) Upsert(ctx context.Context, key, kind, payload string, runAt time.Time) error {
	now := time.Now().UnixMilli()
	_, err := s.db.sq.ExecContext(ctx,
		`INSERT INTO jobs(key, kind, payload, run_at, state, attempts, created_at)
		 VALUES(?,?,?,?,?,0,?)
		 ON CONFLICT(key) DO UPDATE
		 SET kind = excluded.kind, payload = excluded.payload, run_at = excluded.run_at
		 WHERE jobs.state = ?`,
		key, kind, payload, runAt.UnixMilli(), JobPending, now, JobPending,
	)
	return err
}

// DeletePending removes a job that has not been dispatched yet and reports
// whether anything was removed. A leased (in-flight) job is not touched.
func (s *JobStore) DeletePending(ctx context.Context, key string) (bool, error) {
	res, err := s.db.sq.ExecContext(ctx,
		`DELETE FROM jobs WHERE key = ? AND state = ?`, key, JobPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimDue leases up to limit due pending jobs and returns them. The lease
// makes redelivery possible: if the process dies mid-execution, the rows flip
// back to pending once leaseUntil passes (see ReclaimExpired).
func (s *JobStore) ClaimDue(ctx context.Context, now, leaseUntil time.Time, limit int) ([]JobRecord, error) {
	tx, err := s.db.sq.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var rows []JobRecord
	err = tx.SelectContext(ctx, &rows,
		`SELECT * FROM jobs WHERE state = ? AND run_at <= ? ORDER BY run_at ASC LIMIT ?`,
		JobPending, now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	keys := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)+2)
	args = append(args, JobLeased, leaseUntil.UnixMilli())
	for _, r := range rows {
		keys = append(keys, "?")
		args = append(args, r.Key)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_until = ? WHERE key IN (`+strings.Join(keys, ",")+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].State = JobLeased
	}
	return rows, nil
}

// Ack removes a completed job.
func (s *JobStore) Ack(ctx context.Context, key string) error {
	_, err := s.db.sq.ExecContext(ctx, `DELETE FROM jobs WHERE key = ?`, key)
	return err
}

// Retry puts a failed job back in the backlog with a new run time.
func (s *JobStore) Retry(ctx context.Context, key string, runAt time.Time, lastErr string) error {
	_, err := s.db.sq.ExecContext(ctx,
		`UPDATE jobs SET state = ?, run_at = ?, attempts = attempts + 1, lease_until = NULL, last_error = ?
		 WHERE key = ?`,
		JobPending, runAt.UnixMilli(), lastErr, key)
	return err
}

// MarkDead parks a job that exhausted its attempts. Dead rows are kept for
// inspection and swept out by Prune.
func (s *JobStore) MarkDead(ctx context.Context, key string, lastErr string) error {
	_, err := s.db.sq.ExecContext(ctx,
		`UPDATE jobs SET state = ?, attempts = attempts + 1, lease_until = NULL, last_error = ?
		 WHERE key = ?`,
		JobDead, lastErr, key)
	return err
}

// ReclaimExpired returns leased jobs whose lease ran out to the pending state.
// This is the crash-recovery half of the at-least-once guarantee.
func (s *JobStore) ReclaimExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.sq.ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_until = NULL
		 WHERE state = ? AND lease_until IS NOT NULL AND lease_until <= ?`,
		JobPending, JobLeased, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReclaimAllLeased is called once on startup: any lease left over from a
// previous process is stale by definition.
func (s *JobStore) ReclaimAllLeased(ctx context.Context) (int64, error) {
	res, err := s.db.sq.ExecContext(ctx,
		`UPDATE jobs SET state = ?, lease_until = NULL WHERE state = ?`,
		JobPending, JobLeased)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PruneDead deletes dead jobs older than the cutoff and returns the count.
func (s *JobStore) PruneDead(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.sq.ExecContext(ctx,
		`DELETE FROM jobs WHERE state = ? AND created_at < ?`,
		JobDead, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingCount is a diagnostics helper.
func (s *JobStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.sq.GetContext(ctx, &n, `SELECT COUNT(*) FROM jobs WHERE state = ?`, JobPending)
	return n, err
}

// Get returns the job row for a key, mainly for tests and diagnostics.
func (s *JobStore) Get(ctx context.Context, key string) (JobRecord, error) {
	var row JobRecord
	err := s.db.sq.GetContext(ctx, &row, `SELECT * FROM jobs WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return JobRecord{}, ErrNotFound
	}
	return row, err
}
