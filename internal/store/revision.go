package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/richtext"
)

const revisionColumns = `id, owner_id, document_id, revision_no, content, content_hash,
	char_count, reason, restored_from_revision_id, created_at`

// RevisionParams holds parameters for appending a revision.
type RevisionParams struct {
	OwnerID                string
	DocumentID             string
	Content                richtext.Doc
	Reason                 string
	RestoredFromRevisionID string
}

func scanRevision(row scanner) (*model.Revision, error) {
	var r model.Revision
	var content, createdAt string
	var restoredFrom sql.NullString
	err := row.Scan(&r.ID, &r.OwnerID, &r.DocumentID, &r.RevisionNo, &content,
		&r.ContentHash, &r.CharCount, &r.Reason, &restoredFrom, &createdAt)
	if err != nil {
		return nil, err
	}
	doc, err := richtext.Decode([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("revision %s: %w", r.ID, err)
	}
	r.Content = doc
	r.RestoredFromRevisionID = restoredFrom.String
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func scanRevisions(rows *sql.Rows) ([]model.Revision, error) {
	defer rows.Close()
	var revs []model.Revision
	for rows.Next() {
		r, err := scanRevision(rows)
		if err != nil {
			return nil, err
		}
		revs = append(revs, *r)
	}
	return revs, rows.Err()
}

// LatestRevision returns the highest-numbered revision of a document.
func (tx *Tx) LatestRevision(ctx context.Context, ownerID, documentID string) (*model.Revision, error) {
	r, err := scanRevision(tx.q.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM document_revisions
		 WHERE owner_id = ? AND document_id = ?
		 ORDER BY revision_no DESC LIMIT 1`, ownerID, documentID))
	if err != nil {
		return nil, notFound(err, "latest revision")
	}
	return r, nil
}

// Revision returns one revision of a document.
func (tx *Tx) Revision(ctx context.Context, ownerID, documentID, revisionID string) (*model.Revision, error) {
	r, err := scanRevision(tx.q.QueryRowContext(ctx,
		`SELECT `+revisionColumns+` FROM document_revisions
		 WHERE id = ? AND owner_id = ? AND document_id = ?`, revisionID, ownerID, documentID))
	if err != nil {
		return nil, notFound(err, "revision "+revisionID)
	}
	return r, nil
}

// ListRevisions returns up to limit revisions, newest first. A limit of zero
// or less returns all of them.
func (tx *Tx) ListRevisions(ctx context.Context, ownerID, documentID string, limit int) ([]model.Revision, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := tx.q.QueryContext(ctx,
		`SELECT `+revisionColumns+` FROM document_revisions
		 WHERE owner_id = ? AND document_id = ?
		 ORDER BY revision_no DESC LIMIT ?`, ownerID, documentID, limit)
	if err != nil {
		return nil, err
	}
	return scanRevisions(rows)
}

// InsertRevision appends a revision numbered one past the current latest.
func (tx *Tx) InsertRevision(ctx context.Context, p RevisionParams) (*model.Revision, error) {
	content, err := richtext.Encode(p.Content)
	if err != nil {
		return nil, err
	}

	var maxNo sql.NullInt64
	err = tx.q.QueryRowContext(ctx,
		`SELECT MAX(revision_no) FROM document_revisions WHERE owner_id = ? AND document_id = ?`,
		p.OwnerID, p.DocumentID).Scan(&maxNo)
	if err != nil {
		return nil, fmt.Errorf("next revision number: %w", err)
	}

	r := &model.Revision{
		ID:                     tx.s.newID(),
		OwnerID:                p.OwnerID,
		DocumentID:             p.DocumentID,
		RevisionNo:             int(maxNo.Int64) + 1,
		Content:                p.Content,
		ContentHash:            richtext.Hash(p.Content),
		CharCount:              richtext.CharCount(p.Content),
		Reason:                 p.Reason,
		RestoredFromRevisionID: p.RestoredFromRevisionID,
		CreatedAt:              tx.now,
	}
	if r.Content == nil {
		r.Content = richtext.Empty()
	}
	_, err = tx.q.ExecContext(ctx,
		`INSERT INTO document_revisions (`+revisionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OwnerID, r.DocumentID, r.RevisionNo, string(content), r.ContentHash,
		r.CharCount, r.Reason, nullString(r.RestoredFromRevisionID), formatTime(r.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert revision: %w", err)
	}
	return r, nil
}
