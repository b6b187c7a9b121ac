package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bainianlaoyao/stream-note/internal/model"
)

const jobColumns = `id, owner_id, document_id, content_hash, status, attempts,
	next_retry_at, last_error, created_at, updated_at`

// dueCondition matches pending jobs whose wait has elapsed and failed jobs
// with a scheduled retry that has come due. Failed jobs without a retry time
// have exhausted their attempts.
const dueCondition = `((status = 'pending' AND (next_retry_at IS NULL OR next_retry_at <= ?))
	OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= ?))`

// JobUpdate is the terminal state written when a run finishes.
type JobUpdate struct {
	Status      string
	Attempts    int
	NextRetryAt *time.Time
	LastError   string
}

func scanJob(row scanner) (*model.Job, error) {
	var j model.Job
	var nextRetry, lastErr sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.OwnerID, &j.DocumentID, &j.ContentHash, &j.Status, &j.Attempts,
		&nextRetry, &lastErr, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	j.NextRetryAt = scanNullTime(nextRetry)
	j.LastError = lastErr.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

// UpsertJob resets the document's single job to pending for contentHash,
// due at nextRetryAt.
func (tx *Tx) UpsertJob(ctx context.Context, ownerID, documentID, contentHash string, nextRetryAt time.Time) error {
	now := formatTime(tx.now)
	_, err := tx.q.ExecContext(ctx,
		`INSERT INTO silent_analysis_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, 'pending', 0, ?, NULL, ?, ?)
		 ON CONFLICT (owner_id, document_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			status = 'pending',
			attempts = 0,
			next_retry_at = excluded.next_retry_at,
			last_error = NULL,
			updated_at = excluded.updated_at`,
		tx.s.newID(), ownerID, documentID, contentHash, formatTime(nextRetryAt), now, now)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// Job returns a job by id.
func (tx *Tx) Job(ctx context.Context, jobID string) (*model.Job, error) {
	j, err := scanJob(tx.q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM silent_analysis_jobs WHERE id = ?`, jobID))
	if err != nil {
		return nil, notFound(err, "job "+jobID)
	}
	return j, nil
}

// NextDueJob returns the oldest job due at the transaction's time.
func (tx *Tx) NextDueJob(ctx context.Context) (*model.Job, error) {
	now := formatTime(tx.now)
	j, err := scanJob(tx.q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM silent_analysis_jobs
		 WHERE `+dueCondition+`
		 ORDER BY updated_at, id LIMIT 1`, now, now))
	if err != nil {
		return nil, notFound(err, "due job")
	}
	return j, nil
}

// ClaimJob moves a due job to running, incrementing its attempts. It
// returns the claimed row, or nil when another claimer got there first or
// the job is no longer due.
func (tx *Tx) ClaimJob(ctx context.Context, jobID string) (*model.Job, error) {
	now := formatTime(tx.now)
	res, err := tx.q.ExecContext(ctx,
		`UPDATE silent_analysis_jobs
		 SET status = 'running', attempts = attempts + 1, next_retry_at = NULL,
		     last_error = NULL, updated_at = ?
		 WHERE id = ? AND `+dueCondition, now, jobID, now, now)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, nil
	}
	return tx.Job(ctx, jobID)
}

// FinishJob writes the outcome of a run.
func (tx *Tx) FinishJob(ctx context.Context, jobID string, u JobUpdate) error {
	res, err := tx.q.ExecContext(ctx,
		`UPDATE silent_analysis_jobs
		 SET status = ?, attempts = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		u.Status, u.Attempts, nullTime(u.NextRetryAt), nullString(u.LastError),
		formatTime(tx.now), jobID)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// ResetRunningJobs returns running jobs last touched before staleBefore to
// pending, due now. Jobs claimed more recently may still be held by a live
// worker and are left alone.
func (tx *Tx) ResetRunningJobs(ctx context.Context, staleBefore time.Time) (int64, error) {
	now := formatTime(tx.now)
	res, err := tx.q.ExecContext(ctx,
		`UPDATE silent_analysis_jobs SET status = 'pending', next_retry_at = ?, updated_at = ?
		 WHERE status = 'running' AND updated_at < ?`, now, now, formatTime(staleBefore))
	if err != nil {
		return 0, fmt.Errorf("reset running jobs: %w", err)
	}
	return res.RowsAffected()
}

// ListJobs returns jobs, optionally for one owner, most recently updated
// first.
func (tx *Tx) ListJobs(ctx context.Context, ownerID string) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM silent_analysis_jobs`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY updated_at DESC, id`

	rows, err := tx.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
