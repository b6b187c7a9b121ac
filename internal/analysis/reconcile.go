// Package analysis runs silent task extraction over owners' documents: it
// keeps persisted blocks aligned with the document's paragraphs, queues one
// coalesced job per document and drains the queue from a background worker.
package analysis

import (
	"context"

	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/richtext"
	"github.com/bainianlaoyao/stream-note/internal/store"
)

// Reconcile aligns doc's blocks with its paragraphs by position and returns
// up to batchSize blocks that still need analysis, in position order.
//
// Blocks past the last paragraph are deleted with their tasks. A block whose
// text changed gets the new text and loses its task and analysis flags; its
// old tasks are replaced when it is analyzed again.
func Reconcile(ctx context.Context, tx *store.Tx, doc *model.Document, batchSize int) ([]model.Block, error) {
	paragraphs := richtext.Paragraphs(doc.Content)

	if _, err := tx.DeleteBlocksFrom(ctx, doc.ID, len(paragraphs)); err != nil {
		return nil, err
	}

	existing, err := tx.ListBlocks(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	byPosition := make(map[int]model.Block, len(existing))
	for _, b := range existing {
		if _, seen := byPosition[b.Position]; !seen {
			byPosition[b.Position] = b
		}
	}

	for i, text := range paragraphs {
		b, ok := byPosition[i]
		switch {
		case !ok:
			if _, err := tx.InsertBlock(ctx, doc.OwnerID, doc.ID, i, text); err != nil {
				return nil, err
			}
		case b.Content != text:
			if err := tx.ReplaceBlockContent(ctx, b.ID, text); err != nil {
				return nil, err
			}
		}
	}

	if batchSize < 1 {
		batchSize = 1
	}
	return tx.UnanalyzedBlocks(ctx, doc.ID, batchSize)
}
