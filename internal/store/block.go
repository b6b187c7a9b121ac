package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bainianlaoyao/stream-note/internal/model"
)

const blockColumns = `id, owner_id, document_id, position, content,
	is_task, is_completed, is_analyzed, created_at, updated_at`

func scanBlock(row scanner) (*model.Block, error) {
	var b model.Block
	var createdAt, updatedAt string
	err := row.Scan(&b.ID, &b.OwnerID, &b.DocumentID, &b.Position, &b.Content,
		&b.IsTask, &b.IsCompleted, &b.IsAnalyzed, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

func scanBlocks(rows *sql.Rows) ([]model.Block, error) {
	defer rows.Close()
	var blocks []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *b)
	}
	return blocks, rows.Err()
}

// Block returns one block, scoped to its owner.
func (tx *Tx) Block(ctx context.Context, ownerID, blockID string) (*model.Block, error) {
	b, err := scanBlock(tx.q.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE id = ? AND owner_id = ?`, blockID, ownerID))
	if err != nil {
		return nil, notFound(err, "block "+blockID)
	}
	return b, nil
}

// ListBlocks returns a document's blocks ordered by position.
func (tx *Tx) ListBlocks(ctx context.Context, documentID string) ([]model.Block, error) {
	rows, err := tx.q.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE document_id = ? ORDER BY position, id`, documentID)
	if err != nil {
		return nil, err
	}
	return scanBlocks(rows)
}

// ListOwnerBlocks returns all of an owner's blocks ordered by position.
func (tx *Tx) ListOwnerBlocks(ctx context.Context, ownerID string) ([]model.Block, error) {
	rows, err := tx.q.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE owner_id = ? ORDER BY position, id`, ownerID)
	if err != nil {
		return nil, err
	}
	return scanBlocks(rows)
}

// UnanalyzedBlocks returns up to limit blocks still waiting for analysis,
// ordered by position.
func (tx *Tx) UnanalyzedBlocks(ctx context.Context, documentID string, limit int) ([]model.Block, error) {
	rows, err := tx.q.QueryContext(ctx,
		`SELECT `+blockColumns+` FROM blocks
		 WHERE document_id = ? AND is_analyzed = 0
		 ORDER BY position, id LIMIT ?`, documentID, limit)
	if err != nil {
		return nil, err
	}
	return scanBlocks(rows)
}

// CountUnanalyzedBlocks returns how many of a document's blocks still need
// analysis.
func (tx *Tx) CountUnanalyzedBlocks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := tx.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocks WHERE document_id = ? AND is_analyzed = 0`, documentID).Scan(&n)
	return n, err
}

// InsertBlock adds an unanalyzed block at position.
func (tx *Tx) InsertBlock(ctx context.Context, ownerID, documentID string, position int, content string) (*model.Block, error) {
	b := &model.Block{
		ID:         tx.s.newID(),
		OwnerID:    ownerID,
		DocumentID: documentID,
		Position:   position,
		Content:    content,
		CreatedAt:  tx.now,
		UpdatedAt:  tx.now,
	}
	_, err := tx.q.ExecContext(ctx,
		`INSERT INTO blocks (`+blockColumns+`) VALUES (?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		b.ID, b.OwnerID, b.DocumentID, b.Position, b.Content, formatTime(tx.now), formatTime(tx.now))
	if err != nil {
		return nil, fmt.Errorf("insert block: %w", err)
	}
	return b, nil
}

// ReplaceBlockContent sets new text on a block and clears its task and
// analysis flags. Its old tasks stay until the block is analyzed again.
func (tx *Tx) ReplaceBlockContent(ctx context.Context, blockID, content string) error {
	_, err := tx.q.ExecContext(ctx,
		`UPDATE blocks SET content = ?, is_task = 0, is_completed = 0, is_analyzed = 0, updated_at = ?
		 WHERE id = ?`, content, formatTime(tx.now), blockID)
	if err != nil {
		return fmt.Errorf("update block: %w", err)
	}
	return nil
}

// DeleteBlocksFrom deletes a document's blocks at position or later, along
// with their tasks.
func (tx *Tx) DeleteBlocksFrom(ctx context.Context, documentID string, position int) (int64, error) {
	_, err := tx.q.ExecContext(ctx,
		`DELETE FROM tasks WHERE block_id IN (
			SELECT id FROM blocks WHERE document_id = ? AND position >= ?)`, documentID, position)
	if err != nil {
		return 0, fmt.Errorf("delete block tasks: %w", err)
	}
	res, err := tx.q.ExecContext(ctx,
		`DELETE FROM blocks WHERE document_id = ? AND position >= ?`, documentID, position)
	if err != nil {
		return 0, fmt.Errorf("delete blocks: %w", err)
	}
	return res.RowsAffected()
}

// ApplyBlockAnalysis replaces a block's tasks with tasks and marks it
// analyzed, but only while the block still holds analyzedText. It reports
// whether the block was updated.
func (tx *Tx) ApplyBlockAnalysis(ctx context.Context, blockID, analyzedText string, tasks []TaskParams) (bool, error) {
	var ownerID, content string
	err := tx.q.QueryRowContext(ctx,
		`SELECT owner_id, content FROM blocks WHERE id = ?`, blockID).Scan(&ownerID, &content)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if content != analyzedText {
		return false, nil
	}

	if _, err := tx.q.ExecContext(ctx, `DELETE FROM tasks WHERE block_id = ?`, blockID); err != nil {
		return false, fmt.Errorf("clear block tasks: %w", err)
	}
	for _, p := range tasks {
		if _, err := tx.insertTask(ctx, ownerID, blockID, p); err != nil {
			return false, err
		}
	}
	_, err = tx.q.ExecContext(ctx,
		`UPDATE blocks SET is_task = ?, is_completed = 0, is_analyzed = 1, updated_at = ? WHERE id = ?`,
		len(tasks) > 0, formatTime(tx.now), blockID)
	if err != nil {
		return false, fmt.Errorf("mark block analyzed: %w", err)
	}
	return true, nil
}

// SetBlockCompleted sets a block's manual completion flag.
func (tx *Tx) SetBlockCompleted(ctx context.Context, ownerID, blockID string, completed bool) (*model.Block, error) {
	res, err := tx.q.ExecContext(ctx,
		`UPDATE blocks SET is_completed = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		completed, formatTime(tx.now), blockID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update block: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("block %s: %w", blockID, ErrNotFound)
	}
	return tx.Block(ctx, ownerID, blockID)
}
