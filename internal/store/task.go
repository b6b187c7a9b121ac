package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bainianlaoyao/stream-note/internal/model"
)

// CompletedTaskVisibility is how long a completed task stays in default
// listings.
const CompletedTaskVisibility = 24 * time.Hour

const taskColumns = `id, owner_id, block_id, text, status, due_date, raw_time_expr, created_at, updated_at`

// TaskParams holds parameters for storing an extracted task.
type TaskParams struct {
	Text        string
	DueDate     *time.Time
	RawTimeExpr string
}

// TaskFilter selects tasks for listing and summaries.
type TaskFilter struct {
	OwnerID       string
	Status        string
	IncludeHidden bool
}

// TaskSummary counts tasks by status.
type TaskSummary struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ResetCounts reports what ResetAnalysis cleared.
type ResetCounts struct {
	DeletedTasks int64 `json:"deleted_tasks"`
	ResetBlocks  int64 `json:"reset_blocks"`
}

func scanTask(row scanner) (*model.Task, error) {
	var t model.Task
	var dueDate, rawExpr sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&t.ID, &t.OwnerID, &t.BlockID, &t.Text, &t.Status,
		&dueDate, &rawExpr, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.DueDate = scanNullTime(dueDate)
	t.RawTimeExpr = rawExpr.String
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func (tx *Tx) insertTask(ctx context.Context, ownerID, blockID string, p TaskParams) (*model.Task, error) {
	t := &model.Task{
		ID:          tx.s.newID(),
		OwnerID:     ownerID,
		BlockID:     blockID,
		Text:        p.Text,
		Status:      model.TaskPending,
		DueDate:     p.DueDate,
		RawTimeExpr: p.RawTimeExpr,
		CreatedAt:   tx.now,
		UpdatedAt:   tx.now,
	}
	_, err := tx.q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.BlockID, t.Text, t.Status, nullTime(t.DueDate),
		nullString(t.RawTimeExpr), formatTime(tx.now), formatTime(tx.now))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

func (f TaskFilter) where(now time.Time) (string, []any) {
	where := []string{"owner_id = ?"}
	args := []any{f.OwnerID}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.IncludeHidden {
		where = append(where, "NOT (status = ? AND updated_at < ?)")
		args = append(args, model.TaskCompleted, formatTime(now.Add(-CompletedTaskVisibility)))
	}
	return strings.Join(where, " AND "), args
}

// ListTasks returns matching tasks, newest first. Completed tasks untouched
// for CompletedTaskVisibility are hidden unless f.IncludeHidden is set.
func (tx *Tx) ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, error) {
	where, args := f.where(tx.now)
	rows, err := tx.q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// SummarizeTasks counts matching tasks by status.
func (tx *Tx) SummarizeTasks(ctx context.Context, f TaskFilter) (TaskSummary, error) {
	where, args := f.where(tx.now)
	rows, err := tx.q.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE `+where+` GROUP BY status`, args...)
	if err != nil {
		return TaskSummary{}, err
	}
	defer rows.Close()

	var sum TaskSummary
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return TaskSummary{}, err
		}
		switch status {
		case model.TaskPending:
			sum.Pending += n
		case model.TaskCompleted:
			sum.Completed += n
		}
		sum.Total += n
	}
	return sum, rows.Err()
}

// Task returns one task, scoped to its owner.
func (tx *Tx) Task(ctx context.Context, ownerID, taskID string) (*model.Task, error) {
	t, err := scanTask(tx.q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND owner_id = ?`, taskID, ownerID))
	if err != nil {
		return nil, notFound(err, "task "+taskID)
	}
	return t, nil
}

// SetTaskStatus changes a task's status.
func (tx *Tx) SetTaskStatus(ctx context.Context, ownerID, taskID, status string) (*model.Task, error) {
	if !model.ValidTaskStatuses[status] {
		return nil, fmt.Errorf("invalid task status %q", status)
	}
	res, err := tx.q.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		status, formatTime(tx.now), taskID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return tx.Task(ctx, ownerID, taskID)
}

// DeleteTask removes a task. When it was its block's last task the block's
// task and completion flags are cleared.
func (tx *Tx) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	t, err := tx.Task(ctx, ownerID, taskID)
	if err != nil {
		return err
	}
	if _, err := tx.q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	var remaining int
	err = tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE block_id = ?`, t.BlockID).Scan(&remaining)
	if err != nil {
		return err
	}
	if remaining == 0 {
		_, err = tx.q.ExecContext(ctx,
			`UPDATE blocks SET is_task = 0, is_completed = 0, updated_at = ? WHERE id = ?`,
			formatTime(tx.now), t.BlockID)
		if err != nil {
			return fmt.Errorf("clear block flags: %w", err)
		}
	}
	return nil
}

// ResetAnalysis deletes an owner's tasks and marks all of their blocks as
// unanalyzed.
func (tx *Tx) ResetAnalysis(ctx context.Context, ownerID string) (ResetCounts, error) {
	var c ResetCounts
	res, err := tx.q.ExecContext(ctx, `DELETE FROM tasks WHERE owner_id = ?`, ownerID)
	if err != nil {
		return c, fmt.Errorf("delete tasks: %w", err)
	}
	c.DeletedTasks, _ = res.RowsAffected()

	res, err = tx.q.ExecContext(ctx,
		`UPDATE blocks SET is_analyzed = 0, is_task = 0, is_completed = 0, updated_at = ? WHERE owner_id = ?`,
		formatTime(tx.now), ownerID)
	if err != nil {
		return c, fmt.Errorf("reset blocks: %w", err)
	}
	c.ResetBlocks, _ = res.RowsAffected()
	return c, nil
}
