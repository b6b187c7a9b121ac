package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bainianlaoyao/stream-note/internal/extractor"
	"github.com/bainianlaoyao/stream-note/internal/metrics"
	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/richtext"
	"github.com/bainianlaoyao/stream-note/internal/store"
	"github.com/bainianlaoyao/stream-note/internal/timeparse"
)

// Config tunes the analysis queue and worker.
type Config struct {
	Enabled   bool
	Idle      time.Duration
	Poll      time.Duration
	BatchSize int
	MaxRetry  int
	RetryBase time.Duration
	// Lease is how long a claimed job may stay running before it is treated
	// as orphaned. It must cover one batch of extraction calls.
	Lease time.Duration
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Idle:      6 * time.Second,
		Poll:      800 * time.Millisecond,
		BatchSize: 20,
		MaxRetry:  3,
		RetryBase: 4 * time.Second,
		Lease:     15 * time.Minute,
	}
}

// LeaseFor bounds one batch: every block may use every attempt up to the
// call timeout. A minute of slack covers backoff between attempts.
func LeaseFor(timeout time.Duration, attempts, batchSize int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return timeout*time.Duration(attempts*batchSize) + time.Minute
}

// RetryDelay is the backoff before retrying a run that failed on its
// attempt-th try.
func (c Config) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.RetryBase * time.Duration(1<<(attempt-1))
}

// TaskExtractor finds tasks in one block of text.
type TaskExtractor interface {
	Extract(ctx context.Context, text string) ([]extractor.Task, error)
}

// ExtractorSource returns the extractor to use for an owner.
type ExtractorSource func(ctx context.Context, ownerID string) (TaskExtractor, error)

// Queue holds the per-document analysis jobs.
type Queue struct {
	store      store.Store
	cfg        Config
	extractors ExtractorSource
	log        zerolog.Logger
}

// NewQueue creates a Queue.
func NewQueue(s store.Store, cfg Config, extractors ExtractorSource, log zerolog.Logger) *Queue {
	return &Queue{
		store:      s,
		cfg:        cfg,
		extractors: extractors,
		log:        log.With().Str("component", "analysis").Logger(),
	}
}

// Config returns the queue settings.
func (q *Queue) Config() Config { return q.cfg }

// Enqueue schedules analysis of content for the document, replacing any
// earlier request. The job becomes due after the idle delay so a burst of
// saves is analyzed once.
func (q *Queue) Enqueue(ctx context.Context, documentID, ownerID string, content richtext.Doc) error {
	if !q.cfg.Enabled {
		return nil
	}
	hash := richtext.Hash(content)
	return q.store.Update(ctx, func(tx *store.Tx) error {
		return tx.UpsertJob(ctx, ownerID, documentID, hash, tx.Now().Add(q.cfg.Idle))
	})
}

// ResetOrphans returns jobs whose lease has expired to pending. A job
// claimed within the lease may still be held by a live worker.
func (q *Queue) ResetOrphans(ctx context.Context) (int64, error) {
	lease := q.cfg.Lease
	if lease <= 0 {
		lease = DefaultConfig().Lease
	}
	var n int64
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.ResetRunningJobs(ctx, tx.Now().Add(-lease))
		return err
	})
	return n, err
}

// ProcessOne claims the oldest due job and runs one batch of analysis for
// it. It reports whether a job was claimed.
func (q *Queue) ProcessOne(ctx context.Context) (bool, error) {
	var due *model.Job
	err := q.store.View(ctx, func(tx *store.Tx) error {
		var err error
		due, err = tx.NextDueJob(ctx)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select due job: %w", err)
	}

	var job *model.Job
	err = q.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		job, err = tx.ClaimJob(ctx, due.ID)
		return err
	})
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	start := time.Now()
	log := q.log.With().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Int("attempt", job.Attempts).Logger()
	log.Debug().Msg("analysis job claimed")

	runErr := q.run(ctx, job, log)
	outcome, err := q.finalize(ctx, job, runErr, log)
	metrics.RecordJob(outcome, time.Since(start).Seconds())
	return true, err
}

// run analyzes one batch of the job's document. A missing document ends the
// run without error.
func (q *Queue) run(ctx context.Context, job *model.Job, log zerolog.Logger) error {
	var blocks []model.Block
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		doc, err := tx.Document(ctx, job.OwnerID, job.DocumentID)
		if err != nil {
			return err
		}
		blocks, err = Reconcile(ctx, tx, doc, q.cfg.BatchSize)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Str("document_id", job.DocumentID).Msg("document missing, abandoning analysis")
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if len(blocks) == 0 {
		return nil
	}

	ext, err := q.extractors(ctx, job.OwnerID)
	if err != nil {
		return fmt.Errorf("load extractor: %w", err)
	}
	_, err = q.analyzeBlocks(ctx, ext, blocks, log)
	return err
}

// analyzeBlocks extracts and stores tasks block by block. Each block commits
// on its own, so blocks finished before a failure keep their tasks.
func (q *Queue) analyzeBlocks(ctx context.Context, ext TaskExtractor, blocks []model.Block, log zerolog.Logger) ([]FoundTask, error) {
	var found []FoundTask
	for _, b := range blocks {
		tasks, err := ext.Extract(ctx, b.Content)
		if err != nil {
			return found, err
		}

		params := q.taskParams(tasks)
		var applied bool
		err = q.store.Update(ctx, func(tx *store.Tx) error {
			var err error
			applied, err = tx.ApplyBlockAnalysis(ctx, b.ID, b.Content, params)
			return err
		})
		if err != nil {
			return found, fmt.Errorf("store block %s: %w", b.ID, err)
		}
		if !applied {
			log.Debug().Str("block_id", b.ID).Msg("block changed during analysis, skipped")
			continue
		}
		metrics.RecordBlock(len(params))
		for _, p := range params {
			found = append(found, FoundTask{Text: p.Text, DueDate: p.DueDate, TimeExpr: p.RawTimeExpr, BlockContent: b.Content})
		}
	}
	return found, nil
}

func (q *Queue) taskParams(tasks []extractor.Task) []store.TaskParams {
	now := q.store.Now().In(time.Local)
	params := make([]store.TaskParams, 0, len(tasks))
	for _, t := range tasks {
		p := store.TaskParams{Text: t.Text}
		if t.TimeExpr != nil {
			due := timeparse.Parse(*t.TimeExpr, now)
			p.DueDate = &due
			p.RawTimeExpr = *t.TimeExpr
		}
		params = append(params, p)
	}
	return params
}

// finalize records the run's outcome on the job row in one transaction.
func (q *Queue) finalize(ctx context.Context, claimed *model.Job, runErr error, log zerolog.Logger) (string, error) {
	outcome := "abandoned"
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		current, err := tx.Job(ctx, claimed.ID)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("job vanished before finalize")
			return nil
		}
		if err != nil {
			return err
		}
		remaining, err := tx.CountUnanalyzedBlocks(ctx, claimed.DocumentID)
		if err != nil {
			return err
		}

		now := tx.Now()
		superseded := current.ContentHash != claimed.ContentHash
		var u store.JobUpdate

		switch {
		case runErr != nil && superseded:
			next := now.Add(q.cfg.Idle)
			u = store.JobUpdate{Status: model.JobPending, Attempts: current.Attempts, NextRetryAt: &next}
			outcome = "pending"
		case runErr != nil && claimed.Attempts < q.cfg.MaxRetry:
			next := now.Add(q.cfg.RetryDelay(claimed.Attempts))
			u = store.JobUpdate{Status: model.JobFailed, Attempts: claimed.Attempts, NextRetryAt: &next, LastError: runErr.Error()}
			outcome = "retry"
		case runErr != nil:
			u = store.JobUpdate{Status: model.JobFailed, Attempts: claimed.Attempts, LastError: runErr.Error()}
			outcome = "failed"
		case superseded:
			next := now.Add(q.cfg.Idle)
			if remaining > 0 {
				next = now
			}
			u = store.JobUpdate{Status: model.JobPending, Attempts: current.Attempts, NextRetryAt: &next}
			outcome = "pending"
		case remaining > 0:
			u = store.JobUpdate{Status: model.JobPending, Attempts: claimed.Attempts, NextRetryAt: &now}
			outcome = "pending"
		default:
			u = store.JobUpdate{Status: model.JobDone}
			outcome = "done"
		}

		if runErr != nil {
			log.Warn().Err(runErr).Str("outcome", outcome).Msg("analysis run failed")
		}
		return tx.FinishJob(ctx, claimed.ID, u)
	})
	if err != nil {
		return outcome, fmt.Errorf("finalize job %s: %w", claimed.ID, err)
	}
	log.Debug().Str("outcome", outcome).Msg("analysis job finalized")
	return outcome, nil
}

// FoundTask is a task written by an analysis pass.
type FoundTask struct {
	Text         string     `json:"text"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	TimeExpr     string     `json:"time_expr,omitempty"`
	BlockContent string     `json:"block_content"`
}

// AnalyzeResult summarizes an on-demand analysis pass.
type AnalyzeResult struct {
	Analyzed   int         `json:"analyzed_count"`
	TasksFound int         `json:"tasks_found"`
	Tasks      []FoundTask `json:"tasks"`
}

// AnalyzeNow runs one reconcile and extraction pass over the owner's
// document immediately, without touching the job row.
func (q *Queue) AnalyzeNow(ctx context.Context, ownerID string) (AnalyzeResult, error) {
	var blocks []model.Block
	err := q.store.Update(ctx, func(tx *store.Tx) error {
		doc, err := tx.DocumentByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		blocks, err = Reconcile(ctx, tx, doc, q.cfg.BatchSize)
		return err
	})
	if err != nil {
		return AnalyzeResult{}, err
	}
	if len(blocks) == 0 {
		return AnalyzeResult{Tasks: []FoundTask{}}, nil
	}

	ext, err := q.extractors(ctx, ownerID)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("load extractor: %w", err)
	}
	found, err := q.analyzeBlocks(ctx, ext, blocks, q.log.With().Str("owner_id", ownerID).Logger())
	if err != nil {
		return AnalyzeResult{}, err
	}
	if found == nil {
		found = []FoundTask{}
	}
	return AnalyzeResult{Analyzed: len(blocks), TasksFound: len(found), Tasks: found}, nil
}
