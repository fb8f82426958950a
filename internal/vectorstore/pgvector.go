package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgvectorpgx "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

var pgTracer = otel.Tracer("knowledged.vectorstore.pgvector")

const undefinedTableCode = "42P01"

// PGStore keeps one table per knowledge base: deterministic varchar id,
// jsonb metadata, text content and a pgvector column. Full-text search
// runs over a GIN tsvector index on page_content.
type PGStore struct {
	pool      *pgxpool.Pool
	batchSize int
	logger    *zap.Logger
}

// NewPGStore opens a pool against the configured Postgres and ensures
// the vector extension is installed.
func NewPGStore(ctx context.Context, cfg config.PGVectorConfig, logger *zap.Logger) (*PGStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing pgvector url: %v", ErrInvalidConfig, err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgvectorpgx.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: opening pgvector pool: %w", err)
	}
	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("vectorstore: installing vector extension: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &PGStore{
		pool:      pool,
		batchSize: batchSize,
		logger:    logger.Named("vectorstore.pgvector"),
	}, nil
}

func (s *PGStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	ctx, span := pgTracer.Start(ctx, "pgvector.create_collection")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension %d", ErrInvalidConfig, dimension)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id varchar(64) PRIMARY KEY,
		meta_data jsonb,
		page_content text,
		embeddings vector(%d)
	)`, collection, dimension)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorstore: creating table %s: %w", collection, err)
	}

	ftsIndex := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s_page_content_fts ON %s USING gin (to_tsvector('english', page_content))`,
		collection, collection)
	if _, err := s.pool.Exec(ctx, ftsIndex); err != nil {
		return fmt.Errorf("vectorstore: creating fts index on %s: %w", collection, err)
	}
	return nil
}

func (s *PGStore) AddTexts(ctx context.Context, collection string, docs []Document, embeddings [][]float32) ([]string, error) {
	ctx, span := pgTracer.Start(ctx, "pgvector.add_texts")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	if len(docs) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d documents with %d embeddings", ErrDimensionMismatch, len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(docs))
	for start := 0; start < len(docs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.upsertBatch(ctx, collection, docs[start:end], embeddings[start:end], ids[start:end]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *PGStore) upsertBatch(ctx context.Context, collection string, docs []Document, embeddings [][]float32, ids []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(err))
		}
	}()

	for i, doc := range docs {
		id := doc.PK
		if id == "" {
			id = SegmentID(doc.PageContent)
		}
		ids[i] = id

		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("vectorstore: encoding metadata: %w", err)
		}
		vec := pgvector.NewVector(embeddings[i])

		var existing string
		err = tx.QueryRow(ctx,
			fmt.Sprintf("SELECT id FROM %s WHERE id = $1", collection), id).Scan(&existing)
		switch {
		case err == nil:
			_, err = tx.Exec(ctx,
				fmt.Sprintf("UPDATE %s SET meta_data = $2, page_content = $3, embeddings = $4 WHERE id = $1", collection),
				id, meta, doc.PageContent, vec)
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (id, meta_data, page_content, embeddings) VALUES ($1, $2, $3, $4)", collection),
				id, meta, doc.PageContent, vec)
		}
		if err != nil {
			return s.wrapTableError(collection, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("vectorstore: committing upsert: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	ctx, span := pgTracer.Start(ctx, "pgvector.delete_by_ids")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", collection), ids)
	if err != nil {
		return s.wrapTableError(collection, err)
	}
	return nil
}

func (s *PGStore) DeleteByMetadataField(ctx context.Context, collection, key string, value any) error {
	ctx, span := pgTracer.Start(ctx, "pgvector.delete_by_metadata_field")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return err
	}
	match, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return fmt.Errorf("vectorstore: encoding match: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE meta_data @> $1", collection), match)
	if err != nil {
		return s.wrapTableError(collection, err)
	}
	return nil
}

func (s *PGStore) UpdateByID(ctx context.Context, collection, id string, doc Document, embedding []float32) error {
	ctx, span := pgTracer.Start(ctx, "pgvector.update_by_id")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return err
	}
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("vectorstore: encoding metadata: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET meta_data = $2, page_content = $3, embeddings = $4 WHERE id = $1", collection),
		id, meta, doc.PageContent, pgvector.NewVector(embedding))
	if err != nil {
		return s.wrapTableError(collection, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	return nil
}

func (s *PGStore) SearchByVector(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Document, error) {
	ctx, span := pgTracer.Start(ctx, "pgvector.search_by_vector")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Document{}, nil
	}

	args := []any{pgvector.NewVector(vector)}
	where, args := filterClauses(filter, args)

	query := fmt.Sprintf(
		"SELECT id, meta_data, page_content, embeddings <-> $1 AS distance FROM %s%s ORDER BY distance LIMIT %d",
		collection, where, topK)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.wrapTableError(collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			doc      Document
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&doc.PK, &meta, &doc.PageContent, &distance); err != nil {
			return nil, fmt.Errorf("vectorstore: scanning result: %w", err)
		}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("vectorstore: decoding metadata: %w", err)
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]any{}
		}
		doc.Metadata["score"] = distance
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: reading results: %w", err)
	}
	return docs, nil
}

func (s *PGStore) SearchByFullText(ctx context.Context, collection, query string, opts FullTextOptions) ([]Document, error) {
	ctx, span := pgTracer.Start(ctx, "pgvector.search_by_full_text")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []any
	)
	if query != "" {
		args = append(args, query)
		clauses = append(clauses,
			fmt.Sprintf("to_tsvector('english', page_content) @@ plainto_tsquery('english', $%d)", len(args)))
	}
	for _, cond := range filterConditions(NormalizeFilter(opts.Filter), &args) {
		clauses = append(clauses, cond)
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	order := ""
	if opts.SortByCreatedAt {
		order = " ORDER BY (meta_data->>'created_at')::bigint DESC NULLS LAST"
	}

	stmt := fmt.Sprintf("SELECT id, meta_data, page_content FROM %s%s%s OFFSET %d LIMIT %d",
		collection, where, order, opts.From, opts.Size)
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, s.wrapTableError(collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			doc  Document
			meta []byte
		)
		if err := rows.Scan(&doc.PK, &meta, &doc.PageContent); err != nil {
			return nil, fmt.Errorf("vectorstore: scanning result: %w", err)
		}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("vectorstore: decoding metadata: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: reading results: %w", err)
	}
	return docs, nil
}

func (s *PGStore) MetadataKeyUniqueValues(ctx context.Context, collection, key string) ([]string, error) {
	ctx, span := pgTracer.Start(ctx, "pgvector.metadata_key_unique_values")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT DISTINCT meta_data->>$1 FROM %s WHERE meta_data ? $1 ORDER BY 1", collection), key)
	if err != nil {
		return nil, s.wrapTableError(collection, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("vectorstore: scanning value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: reading values: %w", err)
	}
	return values, nil
}

func (s *PGStore) Drop(ctx context.Context, collection string) error {
	ctx, span := pgTracer.Start(ctx, "pgvector.drop")
	defer span.End()

	if err := validateCollectionName(collection); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", collection)); err != nil {
		return fmt.Errorf("vectorstore: dropping table %s: %w", collection, err)
	}
	return nil
}

func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) wrapTableError(collection string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return fmt.Errorf("vectorstore: querying %s: %w", collection, err)
}

// filterClauses appends metadata conditions to args and returns the
// assembled WHERE prefix (empty when there is no filter).
func filterClauses(filter map[string]any, args []any) (string, []any) {
	conds := filterConditions(NormalizeFilter(filter), &args)
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// filterConditions matches against the text projection of each key, so
// numeric filter values compare by their canonical string form.
func filterConditions(filter map[string]any, args *[]any) []string {
	if filter == nil {
		return nil
	}
	conds := make([]string, 0, len(filter))
	for k, v := range filter {
		*args = append(*args, k)
		keyIdx := len(*args)
		if list, ok := v.([]any); ok {
			values := make([]string, len(list))
			for i, item := range list {
				values[i] = textValue(item)
			}
			*args = append(*args, values)
			conds = append(conds, fmt.Sprintf("meta_data->>$%d::text = ANY($%d)", keyIdx, len(*args)))
			continue
		}
		*args = append(*args, textValue(v))
		conds = append(conds, fmt.Sprintf("meta_data->>$%d::text = $%d", keyIdx, len(*args)))
	}
	return conds
}

func textValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
