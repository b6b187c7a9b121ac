// Package model defines the core note, revision, task and job data types.
package model

import (
	"time"

	"github.com/bainianlaoyao/stream-note/internal/richtext"
)

// Document is an owner's single live note.
type Document struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Content   richtext.Doc `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Revision reasons.
const (
	ReasonAutoSave       = "auto_save"
	ReasonPreDestructive = "pre_destructive"
	ReasonRestore        = "restore"
	ReasonPreRestore     = "pre_restore"
)

// Revision is an immutable snapshot of a document's full content.
type Revision struct {
	ID                     string       `json:"id"`
	OwnerID                string       `json:"owner_id"`
	DocumentID             string       `json:"document_id"`
	RevisionNo             int          `json:"revision_no"`
	Content                richtext.Doc `json:"content"`
	ContentHash            string       `json:"content_hash"`
	CharCount              int          `json:"char_count"`
	Reason                 string       `json:"reason"`
	RestoredFromRevisionID string       `json:"restored_from_revision_id,omitempty"`
	CreatedAt              time.Time    `json:"created_at"`
}

// Block is the persisted identity of one paragraph of a document.
type Block struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	DocumentID  string    `json:"document_id"`
	Position    int       `json:"position"`
	Content     string    `json:"content"`
	IsTask      bool      `json:"is_task"`
	IsCompleted bool      `json:"is_completed"`
	IsAnalyzed  bool      `json:"is_analyzed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task statuses.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

// Task is an actionable item extracted from a block.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	BlockID     string     `json:"block_id"`
	Text        string     `json:"text"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	RawTimeExpr string     `json:"raw_time_expr,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ValidTaskStatuses are the allowed task statuses.
var ValidTaskStatuses = map[string]bool{
	TaskPending:   true,
	TaskCompleted: true,
}

// Job statuses.
const (
	JobPending = "pending"
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is the single silent-analysis work item for an owner's document.
type Job struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	DocumentID  string     `json:"document_id"`
	ContentHash string     `json:"content_hash"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProviderSetting overrides the environment LLM configuration for one owner.
type ProviderSetting struct {
	OwnerID         string    `json:"owner_id"`
	Provider        string    `json:"provider"`
	BaseURL         string    `json:"base_url"`
	APIKey          string    `json:"-"`
	Model           string    `json:"model"`
	TimeoutSeconds  float64   `json:"timeout_seconds"`
	MaxAttempts     int       `json:"max_attempts"`
	DisableThinking bool      `json:"disable_thinking"`
	UpdatedAt       time.Time `json:"updated_at"`
}
