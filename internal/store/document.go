package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bainianlaoyao/stream-note/internal/model"
	"github.com/bainianlaoyao/stream-note/internal/richtext"
)

const documentColumns = `id, owner_id, content, created_at, updated_at`

func scanDocument(row scanner) (*model.Document, error) {
	var d model.Document
	var content, createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.OwnerID, &content, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc, err := richtext.Decode([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", d.ID, err)
	}
	d.Content = doc
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

// DocumentByOwner returns the owner's document.
func (tx *Tx) DocumentByOwner(ctx context.Context, ownerID string) (*model.Document, error) {
	d, err := scanDocument(tx.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = ?`, ownerID))
	if err != nil {
		return nil, notFound(err, "document for owner "+ownerID)
	}
	return d, nil
}

// Document returns a document by id, scoped to its owner.
func (tx *Tx) Document(ctx context.Context, ownerID, documentID string) (*model.Document, error) {
	d, err := scanDocument(tx.q.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ? AND owner_id = ?`, documentID, ownerID))
	if err != nil {
		return nil, notFound(err, "document "+documentID)
	}
	return d, nil
}

// EnsureDocument returns the owner's document, creating an empty one when
// the owner has none.
func (tx *Tx) EnsureDocument(ctx context.Context, ownerID string) (*model.Document, error) {
	d, err := tx.DocumentByOwner(ctx, ownerID)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	content, err := richtext.Encode(richtext.Empty())
	if err != nil {
		return nil, err
	}
	d = &model.Document{
		ID:        tx.s.newID(),
		OwnerID:   ownerID,
		Content:   richtext.Empty(),
		CreatedAt: tx.now,
		UpdatedAt: tx.now,
	}
	_, err = tx.q.ExecContext(ctx,
		`INSERT INTO documents (id, owner_id, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, string(content), formatTime(tx.now), formatTime(tx.now))
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return d, nil
}

// SetDocumentContent replaces a document's content.
func (tx *Tx) SetDocumentContent(ctx context.Context, documentID string, content richtext.Doc) error {
	b, err := richtext.Encode(content)
	if err != nil {
		return err
	}
	res, err := tx.q.ExecContext(ctx,
		`UPDATE documents SET content = ?, updated_at = ? WHERE id = ?`,
		string(b), formatTime(tx.now), documentID)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", documentID, ErrNotFound)
	}
	return nil
}

