// Package metadata is the relational store behind knowledge bases,
// documents, ingestion tasks and the metadata-field registry.
package metadata

import (
	"database/sql"
	"time"
)

// Status is the shared lifecycle enum for tasks and documents.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// BuiltInFieldKeys are metadata keys stamped on every segment. They are
// never recorded in the metadata-field registry.
var BuiltInFieldKeys = []string{"document_id", "created_at", "user_id", "filename"}

// KnowledgeBase identifies a logical corpus. Dimension is fixed at
// creation and must match the embedder's declared output dimension.
type KnowledgeBase struct {
	ID             string    `db:"id"`
	EmbeddingModel string    `db:"embedding_model"`
	Dimension      int       `db:"dimension"`
	DisplayName    string    `db:"display_name"`
	IconURL        string    `db:"icon_url"`
	Description    string    `db:"description"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Document is one source artifact ingested into a knowledge base.
type Document struct {
	ID              string         `db:"id"`
	KnowledgeBaseID string         `db:"knowledge_base_id"`
	Filename        string         `db:"filename"`
	SourceURL       string         `db:"source_url"`
	IndexStatus     Status         `db:"index_status"`
	FailedMessage   sql.NullString `db:"failed_message"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

// Task is an ingestion job. One task may fan out into N documents.
type Task struct {
	ID              string    `db:"id"`
	KnowledgeBaseID string    `db:"knowledge_base_id"`
	Status          Status    `db:"status"`
	Progress        float64   `db:"progress"`
	LatestMessage   string    `db:"latest_message"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// MetadataField registers one user-defined metadata key per knowledge
// base so clients can offer it as a filter option. Append-only.
type MetadataField struct {
	ID              string    `db:"id"`
	KnowledgeBaseID string    `db:"knowledge_base_id"`
	Key             string    `db:"key"`
	CreatedAt       time.Time `db:"created_at"`
}
