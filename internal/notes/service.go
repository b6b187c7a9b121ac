// Package notes is the application surface over the store: document saves
// with snapshotting and analysis scheduling, recovery, tasks, blocks and
// provider settings for a single owner at a time.
package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bainianlaoyao/stream-note/internal/analysis"
	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/revision"
	"github.com/bainianlaoyao/stream-note/internal/richtext"
	"github.com/bainianlaoyao/stream-note/internal/store"
)

// busyAttempts bounds retries of user-facing writes on a locked database.
const busyAttempts = 3

// Service wires the store, revision engine and analysis queue together.
type Service struct {
	store     *store.SQLiteStore
	revisions *revision.Engine
	queue     *analysis.Queue
	log       zerolog.Logger
}

// New creates a Service.
func New(s *store.SQLiteStore, q *analysis.Queue, log zerolog.Logger) *Service {
	return &Service{
		store:     s,
		revisions: revision.New(s, log),
		queue:     q,
		log:       log.With().Str("component", "notes").Logger(),
	}
}

// Queue returns the analysis queue.
func (s *Service) Queue() *analysis.Queue { return s.queue }

// update runs fn in a write transaction, retrying on lock contention.
func (s *Service) update(ctx context.Context, fn func(*store.Tx) error) error {
	return store.RetryOnBusy(ctx, busyAttempts, func() error {
		return s.store.Update(ctx, fn)
	})
}

// Document returns the owner's document, creating an empty one on first use.
func (s *Service) Document(ctx context.Context, ownerID string) (*model.Document, error) {
	var doc *model.Document
	err := s.update(ctx, func(tx *store.Tx) error {
		var err error
		doc, err = tx.EnsureDocument(ctx, ownerID)
		return err
	})
	return doc, err
}

// SaveResult is the outcome of SaveDocument.
type SaveResult struct {
	Document  *model.Document  `json:"document"`
	Revisions []model.Revision `json:"revisions_created"`
}

// SaveDocument replaces the owner's document content. Snapshots and the
// write commit together; analysis is then scheduled, and a scheduling
// failure is logged rather than failing the save.
func (s *Service) SaveDocument(ctx context.Context, ownerID string, content richtext.Doc) (SaveResult, error) {
	if content == nil {
		content = richtext.Empty()
	}
	var res SaveResult
	err := s.update(ctx, func(tx *store.Tx) error {
		doc, err := tx.EnsureDocument(ctx, ownerID)
		if err != nil {
			return err
		}
		created, err := revision.SnapshotOnSave(ctx, tx, ownerID, doc.ID, doc.Content, content)
		if err != nil {
			return err
		}
		if err := tx.SetDocumentContent(ctx, doc.ID, content); err != nil {
			return err
		}
		doc.Content = content
		doc.UpdatedAt = tx.Now()
		res = SaveResult{Document: doc, Revisions: created}
		return nil
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("save document: %w", err)
	}
	if res.Revisions == nil {
		res.Revisions = []model.Revision{}
	}

	s.log.Debug().Str("owner_id", ownerID).Int("revisions", len(res.Revisions)).
		Int("chars", richtext.CharCount(content)).Msg("document saved")
	s.enqueue(ctx, res.Document.ID, ownerID, content)
	return res, nil
}

func (s *Service) enqueue(ctx context.Context, documentID, ownerID string, content richtext.Doc) {
	if err := s.queue.Enqueue(ctx, documentID, ownerID, content); err != nil {
		s.log.Warn().Err(err).Str("owner_id", ownerID).Str("document_id", documentID).
			Msg("failed to schedule analysis")
	}
}

// EnqueueAnalysis schedules analysis of content for the document.
func (s *Service) EnqueueAnalysis(ctx context.Context, documentID, ownerID string, content richtext.Doc) error {
	return s.queue.Enqueue(ctx, documentID, ownerID, content)
}

// CreateOrRefreshSnapshotOnSave records the revisions a save from old to
// content warrants, without writing the document.
func (s *Service) CreateOrRefreshSnapshotOnSave(ctx context.Context, ownerID, documentID string, old, content richtext.Doc) ([]model.Revision, error) {
	return s.revisions.CreateOrRefreshSnapshotOnSave(ctx, ownerID, documentID, old, content)
}

// ListRecoveryCandidates returns the revisions worth offering for recovery.
func (s *Service) ListRecoveryCandidates(ctx context.Context, ownerID, documentID string) ([]revision.Candidate, error) {
	return s.revisions.ListRecoveryCandidates(ctx, ownerID, documentID)
}

// Restore replaces the document content with a revision's and schedules
// analysis of the restored content.
func (s *Service) Restore(ctx context.Context, ownerID, documentID, revisionID string) (revision.RestoreResult, error) {
	res, err := s.revisions.Restore(ctx, ownerID, documentID, revisionID)
	if err != nil {
		return revision.RestoreResult{}, err
	}
	if res.UndoRevisionID != "" {
		s.enqueue(ctx, documentID, ownerID, res.Content)
	}
	return res, nil
}

// ListRevisions returns up to limit of the owner's revisions, newest first.
// A limit of zero or less returns all of them.
func (s *Service) ListRevisions(ctx context.Context, ownerID string, limit int) ([]model.Revision, error) {
	var revs []model.Revision
	err := s.store.View(ctx, func(tx *store.Tx) error {
		doc, err := tx.DocumentByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		revs, err = tx.ListRevisions(ctx, ownerID, doc.ID, limit)
		return err
	})
	return revs, err
}

// ExportRevisions returns the owner's document with its full history.
func (s *Service) ExportRevisions(ctx context.Context, ownerID string) (*store.Export, error) {
	return s.store.ExportOwner(ctx, ownerID)
}

// ListTasks returns tasks matching f, newest first.
func (s *Service) ListTasks(ctx context.Context, f store.TaskFilter) ([]model.Task, error) {
	var tasks []model.Task
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		tasks, err = tx.ListTasks(ctx, f)
		return err
	})
	if tasks == nil {
		tasks = []model.Task{}
	}
	return tasks, err
}

// SummarizeTasks counts tasks matching f by status.
func (s *Service) SummarizeTasks(ctx context.Context, f store.TaskFilter) (store.TaskSummary, error) {
	var sum store.TaskSummary
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		sum, err = tx.SummarizeTasks(ctx, f)
		return err
	})
	return sum, err
}

// SetTaskStatus marks a task pending or completed.
func (s *Service) SetTaskStatus(ctx context.Context, ownerID, taskID, status string) (*model.Task, error) {
	var t *model.Task
	err := s.update(ctx, func(tx *store.Tx) error {
		var err error
		t, err = tx.SetTaskStatus(ctx, ownerID, taskID, status)
		return err
	})
	return t, err
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	return s.update(ctx, func(tx *store.Tx) error {
		return tx.DeleteTask(ctx, ownerID, taskID)
	})
}

// ListBlocks returns the owner's blocks in position order.
func (s *Service) ListBlocks(ctx context.Context, ownerID string) ([]model.Block, error) {
	var blocks []model.Block
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		blocks, err = tx.ListOwnerBlocks(ctx, ownerID)
		return err
	})
	if blocks == nil {
		blocks = []model.Block{}
	}
	return blocks, err
}

// SetBlockCompleted sets a block's completion flag.
func (s *Service) SetBlockCompleted(ctx context.Context, ownerID, blockID string, completed bool) (*model.Block, error) {
	var b *model.Block
	err := s.update(ctx, func(tx *store.Tx) error {
		var err error
		b, err = tx.SetBlockCompleted(ctx, ownerID, blockID, completed)
		return err
	})
	return b, err
}

// ListJobs returns analysis jobs, optionally for one owner.
func (s *Service) ListJobs(ctx context.Context, ownerID string) ([]model.Job, error) {
	var jobs []model.Job
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		jobs, err = tx.ListJobs(ctx, ownerID)
		return err
	})
	if jobs == nil {
		jobs = []model.Job{}
	}
	return jobs, err
}

// ResetAnalysis deletes the owner's tasks and marks every block unanalyzed.
func (s *Service) ResetAnalysis(ctx context.Context, ownerID string) (store.ResetCounts, error) {
	var counts store.ResetCounts
	err := s.update(ctx, func(tx *store.Tx) error {
		var err error
		counts, err = tx.ResetAnalysis(ctx, ownerID)
		return err
	})
	if err != nil {
		return store.ResetCounts{}, err
	}
	s.log.Info().Str("owner_id", ownerID).Int64("deleted_tasks", counts.DeletedTasks).
		Int64("reset_blocks", counts.ResetBlocks).Msg("analysis state reset")
	return counts, nil
}

// AnalyzeNow runs one analysis pass over the owner's document immediately.
func (s *Service) AnalyzeNow(ctx context.Context, ownerID string) (analysis.AnalyzeResult, error) {
	return s.queue.AnalyzeNow(ctx, ownerID)
}

// ProviderView is a provider setting safe to display.
type ProviderView struct {
	model.ProviderSetting
	APIKeySet    bool   `json:"api_key_set"`
	APIKeyMasked string `json:"api_key_masked,omitempty"`
}

// MaskKey hides all but the edges of an API key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	r := []rune(key)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:3]) + "****" + string(r[len(r)-4:])
}

func viewOf(p *model.ProviderSetting) *ProviderView {
	return &ProviderView{ProviderSetting: *p, APIKeySet: p.APIKey != "", APIKeyMasked: MaskKey(p.APIKey)}
}

// Provider returns the owner's provider override, or store.ErrNotFound.
func (s *Service) Provider(ctx context.Context, ownerID string) (*ProviderView, error) {
	var p *model.ProviderSetting
	err := s.store.View(ctx, func(tx *store.Tx) error {
		var err error
		p, err = tx.ProviderSetting(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return viewOf(p), nil
}

// SetProvider stores the owner's provider override. An empty API key keeps
// the stored one.
func (s *Service) SetProvider(ctx context.Context, p model.ProviderSetting) (*ProviderView, error) {
	if p.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	var saved *model.ProviderSetting
	err := s.update(ctx, func(tx *store.Tx) error {
		if p.APIKey == "" {
			prev, err := tx.ProviderSetting(ctx, p.OwnerID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			if prev != nil {
				p.APIKey = prev.APIKey
			}
		}
		var err error
		saved, err = tx.PutProviderSetting(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("owner_id", p.OwnerID).Str("provider", p.Provider).Str("model", p.Model).
		Bool("api_key_set", p.APIKey != "").Msg("provider setting saved")
	return viewOf(saved), nil
}

// Stats returns database statistics.
func (s *Service) Stats(ctx context.Context) (*store.Stats, error) {
	return s.store.Stats(ctx)
}

// Health pings the database and returns its schema version.
func (s *Service) Health(ctx context.Context) (int, error) {
	if err := s.store.Ping(ctx); err != nil {
		return 0, err
	}
	return s.store.UserVersion(ctx)
}
