package revision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bainianlaoyao/stream-note/internal/metrics"
	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/richtext"
	"github.com/bainianlaoyao/stream-note/internal/store"
)

// RestoreResult describes the document after a restore.
type RestoreResult struct {
	Content            richtext.Doc `json:"content"`
	RestoredRevisionID string       `json:"restored_revision_id"`
	UndoRevisionID     string       `json:"undo_revision_id,omitempty"`
}

// Engine creates and restores document revisions.
type Engine struct {
	store store.Store
	log   zerolog.Logger
}

// New creates an Engine over s.
func New(s store.Store, log zerolog.Logger) *Engine {
	return &Engine{store: s, log: log.With().Str("component", "revision").Logger()}
}

// CreateOrRefreshSnapshotOnSave records the revisions a save from old to
// content warrants and returns the ones created.
func (e *Engine) CreateOrRefreshSnapshotOnSave(ctx context.Context, ownerID, documentID string, old, content richtext.Doc) ([]model.Revision, error) {
	var created []model.Revision
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		created, err = SnapshotOnSave(ctx, tx, ownerID, documentID, old, content)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SnapshotOnSave is CreateOrRefreshSnapshotOnSave inside an existing
// transaction. A nil old means there is no previous content.
func SnapshotOnSave(ctx context.Context, tx *store.Tx, ownerID, documentID string, old, content richtext.Doc) ([]model.Revision, error) {
	var created []model.Revision

	latest, err := latestRevision(ctx, tx, ownerID, documentID)
	if err != nil {
		return nil, err
	}

	newChars := richtext.CharCount(content)
	if old != nil && IsDestructive(richtext.CharCount(old), newChars) &&
		(latest == nil || latest.ContentHash != richtext.Hash(old)) {
		r, err := appendRevision(ctx, tx, latest, store.RevisionParams{
			OwnerID:    ownerID,
			DocumentID: documentID,
			Content:    old,
			Reason:     model.ReasonPreDestructive,
		}, true)
		if err != nil {
			return nil, err
		}
		created = append(created, *r)
		latest = r
	}

	if !ShouldAutoSave(latest, richtext.Hash(content), newChars, tx.Now()) {
		return created, nil
	}
	r, err := appendRevision(ctx, tx, latest, store.RevisionParams{
		OwnerID:    ownerID,
		DocumentID: documentID,
		Content:    content,
		Reason:     model.ReasonAutoSave,
	}, latest == nil)
	if err != nil {
		return nil, err
	}
	if r != nil {
		created = append(created, *r)
	}
	return created, nil
}

// ListRecoveryCandidates returns up to MaxCandidates revisions worth
// offering for recovery, newest first.
func (e *Engine) ListRecoveryCandidates(ctx context.Context, ownerID, documentID string) ([]Candidate, error) {
	var out []Candidate
	err := e.store.View(ctx, func(tx *store.Tx) error {
		revs, err := tx.ListRevisions(ctx, ownerID, documentID, CandidateWindow)
		if err != nil {
			return err
		}
		out = PickCandidates(revs, tx.Now())
		return nil
	})
	return out, err
}

// Restore replaces the document content with a revision's. Unless the
// document already holds that content, the current content is kept as an
// undo point first, reusing the latest revision when it matches.
func (e *Engine) Restore(ctx context.Context, ownerID, documentID, revisionID string) (RestoreResult, error) {
	var res RestoreResult
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		target, err := tx.Revision(ctx, ownerID, documentID, revisionID)
		if err != nil {
			return err
		}
		doc, err := tx.Document(ctx, ownerID, documentID)
		if err != nil {
			return err
		}

		res = RestoreResult{Content: doc.Content, RestoredRevisionID: target.ID}
		currentHash := richtext.Hash(doc.Content)
		if currentHash == target.ContentHash {
			return nil
		}

		latest, err := latestRevision(ctx, tx, ownerID, documentID)
		if err != nil {
			return err
		}
		undo := latest
		if latest == nil || latest.ContentHash != currentHash {
			undo, err = appendRevision(ctx, tx, latest, store.RevisionParams{
				OwnerID:    ownerID,
				DocumentID: documentID,
				Content:    doc.Content,
				Reason:     model.ReasonPreRestore,
			}, true)
			if err != nil {
				return err
			}
		}

		if err := tx.SetDocumentContent(ctx, documentID, target.Content); err != nil {
			return err
		}
		if _, err := appendRevision(ctx, tx, undo, store.RevisionParams{
			OwnerID:                ownerID,
			DocumentID:             documentID,
			Content:                target.Content,
			Reason:                 model.ReasonRestore,
			RestoredFromRevisionID: target.ID,
		}, false); err != nil {
			return err
		}

		res.Content = target.Content
		res.UndoRevisionID = undo.ID
		return nil
	})
	if err != nil {
		return RestoreResult{}, err
	}
	e.log.Info().Str("owner_id", ownerID).Str("revision_id", revisionID).
		Str("undo_revision_id", res.UndoRevisionID).Msg("document restored")
	return res, nil
}

func latestRevision(ctx context.Context, tx *store.Tx, ownerID, documentID string) (*model.Revision, error) {
	latest, err := tx.LatestRevision(ctx, ownerID, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return latest, err
}

// appendRevision writes p unless it is unforced and matches latest. It
// returns nil when nothing was written.
func appendRevision(ctx context.Context, tx *store.Tx, latest *model.Revision, p store.RevisionParams, force bool) (*model.Revision, error) {
	if !force && latest != nil && latest.ContentHash == richtext.Hash(p.Content) {
		return nil, nil
	}
	r, err := tx.InsertRevision(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("%s revision: %w", p.Reason, err)
	}
	metrics.RecordRevision(p.Reason)
	return r, nil
}
