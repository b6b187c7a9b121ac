package store

import (
	"context"
	"slices"

	"github.com/bainianlaoyao/stream-note/internal/model"
)

// Export is an owner's document with its full revision history.
type Export struct {
	Document  *model.Document  `json:"document"`
	Revisions []model.Revision `json:"revisions"`
}

// ExportOwner returns the owner's document and every revision, oldest first.
func (s *SQLiteStore) ExportOwner(ctx context.Context, ownerID string) (*Export, error) {
	var out Export
	err := s.View(ctx, func(tx *Tx) error {
		doc, err := tx.DocumentByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		revs, err := tx.ListRevisions(ctx, ownerID, doc.ID, 0)
		if err != nil {
			return err
		}
		slices.Reverse(revs)
		out.Document = doc
		out.Revisions = revs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
