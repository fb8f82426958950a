package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("metadata: not found")

const schema = `
CREATE TABLE IF NOT EXISTS knowledge_bases (
	id              varchar(64) PRIMARY KEY,
	embedding_model varchar(128) NOT NULL,
	dimension       integer NOT NULL,
	display_name    text NOT NULL DEFAULT '',
	icon_url        text NOT NULL DEFAULT '',
	description     text NOT NULL DEFAULT '',
	created_at      timestamptz NOT NULL,
	updated_at      timestamptz NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id                varchar(64) PRIMARY KEY,
	knowledge_base_id varchar(64) NOT NULL,
	filename          text NOT NULL,
	source_url        text NOT NULL DEFAULT '',
	index_status      varchar(16) NOT NULL,
	failed_message    text,
	created_at        timestamptz NOT NULL,
	updated_at        timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents (knowledge_base_id, created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
	id                varchar(64) PRIMARY KEY,
	knowledge_base_id varchar(64) NOT NULL,
	status            varchar(16) NOT NULL,
	progress          double precision NOT NULL DEFAULT 0,
	latest_message    text NOT NULL DEFAULT '',
	created_at        timestamptz NOT NULL,
	updated_at        timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_kb ON tasks (knowledge_base_id, created_at DESC);

CREATE TABLE IF NOT EXISTS metadata_fields (
	id                varchar(64) PRIMARY KEY,
	knowledge_base_id varchar(64) NOT NULL,
	key               varchar(256) NOT NULL,
	created_at        timestamptz NOT NULL,
	UNIQUE (knowledge_base_id, key)
);
`

// Store is the relational metadata store shared by the API server and
// workers.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// New opens a connection pool against the configured database.
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("metadata: database.url is required")
	}

	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("metadata: opening database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Pool.PoolSize)
	db.SetMaxIdleConns(cfg.Pool.PoolSize)
	db.SetConnMaxLifetime(time.Duration(cfg.Pool.PoolRecycle) * time.Second)

	return &Store{db: db, logger: logger.Named("metadata")}, nil
}

// NewWithDB wraps an existing database handle. Used by tests.
func NewWithDB(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger.Named("metadata")}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("metadata: ensuring schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateKnowledgeBaseParams are the caller-supplied attributes of a new
// knowledge base.
type CreateKnowledgeBaseParams struct {
	ID             string // optional; generated when empty
	EmbeddingModel string
	Dimension      int
	DisplayName    string
	IconURL        string
	Description    string
}

// CreateKnowledgeBase inserts a new knowledge base row.
func (s *Store) CreateKnowledgeBase(ctx context.Context, p CreateKnowledgeBaseParams) (*KnowledgeBase, error) {
	if p.Dimension <= 0 {
		return nil, fmt.Errorf("metadata: dimension must be positive, got %d", p.Dimension)
	}
	kb := &KnowledgeBase{
		ID:             p.ID,
		EmbeddingModel: p.EmbeddingModel,
		Dimension:      p.Dimension,
		DisplayName:    p.DisplayName,
		IconURL:        p.IconURL,
		Description:    p.Description,
		CreatedAt:      time.Now().UTC(),
	}
	if kb.ID == "" {
		kb.ID = uuid.NewString()
	}
	kb.UpdatedAt = kb.CreatedAt

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO knowledge_bases (id, embedding_model, dimension, display_name, icon_url, description, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			kb.ID, kb.EmbeddingModel, kb.Dimension, kb.DisplayName, kb.IconURL, kb.Description, kb.CreatedAt, kb.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: creating knowledge base: %w", err)
	}
	return kb, nil
}

// GetKnowledgeBase returns the knowledge base or ErrNotFound.
func (s *Store) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	err := s.db.GetContext(ctx, &kb,
		`SELECT id, embedding_model, dimension, display_name, icon_url, description, created_at, updated_at
		 FROM knowledge_bases WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: knowledge base %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: getting knowledge base: %w", err)
	}
	return &kb, nil
}

// DeleteKnowledgeBase removes the knowledge base and its dependent
// rows. Idempotent.
func (s *Store) DeleteKnowledgeBase(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, q := range []string{
			`DELETE FROM metadata_fields WHERE knowledge_base_id = $1`,
			`DELETE FROM tasks WHERE knowledge_base_id = $1`,
			`DELETE FROM documents WHERE knowledge_base_id = $1`,
			`DELETE FROM knowledge_bases WHERE id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("metadata: deleting knowledge base: %w", err)
	}
	return nil
}

// CreateDocumentParams are the attributes of a new document row.
type CreateDocumentParams struct {
	KnowledgeBaseID string
	Filename        string
	SourceURL       string
}

// CreateDocument inserts a PENDING document row.
func (s *Store) CreateDocument(ctx context.Context, p CreateDocumentParams) (*Document, error) {
	doc := &Document{
		ID:              uuid.NewString(),
		KnowledgeBaseID: p.KnowledgeBaseID,
		Filename:        p.Filename,
		SourceURL:       p.SourceURL,
		IndexStatus:     StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	doc.UpdatedAt = doc.CreatedAt

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, knowledge_base_id, filename, source_url, index_status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			doc.ID, doc.KnowledgeBaseID, doc.Filename, doc.SourceURL, doc.IndexStatus, doc.CreatedAt, doc.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: creating document: %w", err)
	}
	return doc, nil
}

// UpdateDocumentStatus advances a document's lifecycle. failedMessage
// is recorded only when non-empty.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status Status, failedMessage string) error {
	var msg sql.NullString
	if failedMessage != "" {
		msg = sql.NullString{String: failedMessage, Valid: true}
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE documents SET index_status = $2, failed_message = $3, updated_at = $4 WHERE id = $1`,
			id, status, msg, time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("metadata: updating document status: %w", err)
	}
	return nil
}

// ListDocumentsByKB returns the knowledge base's documents, newest
// first.
func (s *Store) ListDocumentsByKB(ctx context.Context, kbID string) ([]Document, error) {
	docs := []Document{}
	err := s.db.SelectContext(ctx, &docs,
		`SELECT id, knowledge_base_id, filename, source_url, index_status, failed_message, created_at, updated_at
		 FROM documents WHERE knowledge_base_id = $1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("metadata: listing documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes the document row. Idempotent.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("metadata: deleting document: %w", err)
	}
	return nil
}

// CreateTask inserts a PENDING task row for the knowledge base.
func (s *Store) CreateTask(ctx context.Context, kbID string) (*Task, error) {
	task := &Task{
		ID:              uuid.NewString(),
		KnowledgeBaseID: kbID,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	task.UpdatedAt = task.CreatedAt

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, knowledge_base_id, status, progress, latest_message, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			task.ID, task.KnowledgeBaseID, task.Status, task.Progress, task.LatestMessage, task.CreatedAt, task.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: creating task: %w", err)
	}
	return task, nil
}

// UpdateTaskProgress records a status transition. Progress never goes
// backwards; terminal transitions force progress to 1.0. A nil
// progress leaves the stored value unchanged.
func (s *Store) UpdateTaskProgress(ctx context.Context, id string, status Status, progress *float64, message string) error {
	p := -1.0
	if progress != nil {
		p = *progress
	}
	if status.Terminal() {
		p = 1.0
	}
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = $2, progress = GREATEST(progress, $3), latest_message = $4, updated_at = $5 WHERE id = $1`,
			id, status, p, message, time.Now().UTC())
		return err
	})
	if err != nil {
		return fmt.Errorf("metadata: updating task progress: %w", err)
	}
	return nil
}

// GetTask returns the task or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := s.db.GetContext(ctx, &task,
		`SELECT id, knowledge_base_id, status, progress, latest_message, created_at, updated_at
		 FROM tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("metadata: getting task: %w", err)
	}
	return &task, nil
}

// ListTasksByKB returns the knowledge base's tasks, newest first.
func (s *Store) ListTasksByKB(ctx context.Context, kbID string) ([]Task, error) {
	tasks := []Task{}
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT id, knowledge_base_id, status, progress, latest_message, created_at, updated_at
		 FROM tasks WHERE knowledge_base_id = $1 ORDER BY created_at DESC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("metadata: listing tasks: %w", err)
	}
	return tasks, nil
}

// AddMetadataKeys registers keys missing from both the existing rows
// and the built-in key set. Returns the newly added keys.
func (s *Store) AddMetadataKeys(ctx context.Context, kbID string, keys []string) ([]string, error) {
	builtIn := make(map[string]bool, len(BuiltInFieldKeys))
	for _, k := range BuiltInFieldKeys {
		builtIn[k] = true
	}

	var added []string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		existing := []string{}
		if err := tx.SelectContext(ctx, &existing,
			`SELECT key FROM metadata_fields WHERE knowledge_base_id = $1`, kbID); err != nil {
			return err
		}
		known := make(map[string]bool, len(existing))
		for _, k := range existing {
			known[k] = true
		}

		now := time.Now().UTC()
		for _, key := range keys {
			if key == "" || builtIn[key] || known[key] {
				continue
			}
			known[key] = true
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO metadata_fields (id, knowledge_base_id, key, created_at) VALUES ($1, $2, $3, $4)`,
				uuid.NewString(), kbID, key, now); err != nil {
				return err
			}
			added = append(added, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: adding metadata keys: %w", err)
	}
	return added, nil
}

// ListMetadataFields returns the registered user-defined keys for the
// knowledge base, oldest first.
func (s *Store) ListMetadataFields(ctx context.Context, kbID string) ([]MetadataField, error) {
	fields := []MetadataField{}
	err := s.db.SelectContext(ctx, &fields,
		`SELECT id, knowledge_base_id, key, created_at
		 FROM metadata_fields WHERE knowledge_base_id = $1 ORDER BY created_at ASC`, kbID)
	if err != nil {
		return nil, fmt.Errorf("metadata: listing metadata fields: %w", err)
	}
	return fields, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}
