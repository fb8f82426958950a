package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/redisclient"
)

var milvusTracer = otel.Tracer("knowledged.vectorstore.milvus")

const (
	// existsCacheTTL marks a collection as provisioned so hot insert
	// paths skip the existence check.
	existsCacheTTL = time.Hour
	createLockTTL  = 30 * time.Second
)

// MilvusStore stores segments in one Milvus collection per knowledge
// base. The primary key is an auto-id INT64; the deterministic segment
// id lives in metadata under "pk". Milvus has no BM25, so full-text
// search returns empty.
type MilvusStore struct {
	client client.Client
	redis  redis.UniversalClient
	logger *zap.Logger
}

// NewMilvusStore connects to the configured Milvus instance. The redis
// client backs the create-collection lock and the exists cache.
func NewMilvusStore(ctx context.Context, cfg config.MilvusConfig, rdb redis.UniversalClient, logger *zap.Logger) (*MilvusStore, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:  cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to milvus at %s: %v", ErrInvalidConfig, cfg.Address, err)
	}
	return &MilvusStore{
		client: c,
		redis:  rdb,
		logger: logger.Named("vectorstore.milvus"),
	}, nil
}

func (s *MilvusStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	ctx, span := milvusTracer.Start(ctx, "milvus.create_collection")
	defer span.End()

	cacheKey := "knowledged:collection_exists:" + collection
	if exists, err := s.redis.Get(ctx, cacheKey).Result(); err == nil && exists == "1" {
		return nil
	}

	// Single-writer creation across workers.
	lock, err := redisclient.AcquireLock(ctx, s.redis, "create_collection:"+collection, createLockTTL)
	if err != nil {
		return fmt.Errorf("vectorstore: locking collection create: %w", err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("releasing create lock failed", zap.Error(err))
		}
	}()

	has, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: checking collection %s: %w", collection, err)
	}
	if !has {
		schema := entity.NewSchema().WithName(collection).WithAutoID(true).
			WithField(entity.NewField().WithName("pk").
				WithDataType(entity.FieldTypeInt64).WithIsPrimaryKey(true).WithIsAutoID(true)).
			WithField(entity.NewField().WithName("metadata").
				WithDataType(entity.FieldTypeJSON)).
			WithField(entity.NewField().WithName("page_content").
				WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
			WithField(entity.NewField().WithName("embeddings").
				WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dimension)))

		if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("vectorstore: creating collection %s: %w", collection, err)
		}

		index, err := entity.NewIndexHNSW(entity.IP, 8, 64)
		if err != nil {
			return fmt.Errorf("vectorstore: building hnsw index: %w", err)
		}
		if err := s.client.CreateIndex(ctx, collection, "embeddings", index, false); err != nil {
			return fmt.Errorf("vectorstore: creating index on %s: %w", collection, err)
		}
		if err := s.client.LoadCollection(ctx, collection, false); err != nil {
			return fmt.Errorf("vectorstore: loading collection %s: %w", collection, err)
		}
		s.logger.Info("collection created", zap.String("collection", collection), zap.Int("dimension", dimension))
	}

	if err := s.redis.Set(ctx, cacheKey, "1", existsCacheTTL).Err(); err != nil {
		s.logger.Warn("caching collection existence failed", zap.Error(err))
	}
	return nil
}

func (s *MilvusStore) AddTexts(ctx context.Context, collection string, docs []Document, embeddings [][]float32) ([]string, error) {
	ctx, span := milvusTracer.Start(ctx, "milvus.add_texts")
	defer span.End()

	if len(docs) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d documents with %d embeddings", ErrDimensionMismatch, len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	ids := make([]string, len(docs))
	metaRows := make([][]byte, len(docs))
	contents := make([]string, len(docs))
	for i, doc := range docs {
		id := doc.PK
		if id == "" {
			id = SegmentID(doc.PageContent)
		}
		ids[i] = id

		meta := make(map[string]any, len(doc.Metadata)+1)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta["pk"] = id
		row, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: encoding metadata: %w", err)
		}
		metaRows[i] = row
		contents[i] = doc.PageContent
	}

	// Upsert semantics: drop prior rows carrying the same segment ids.
	if err := s.deleteBySegmentIDs(ctx, collection, ids); err != nil {
		return nil, err
	}

	dim := len(embeddings[0])
	_, err := s.client.Insert(ctx, collection, "",
		entity.NewColumnJSONBytes("metadata", metaRows),
		entity.NewColumnVarChar("page_content", contents),
		entity.NewColumnFloatVector("embeddings", dim, embeddings))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: inserting into %s: %w", collection, err)
	}
	if err := s.client.Flush(ctx, collection, false); err != nil {
		return nil, fmt.Errorf("vectorstore: flushing %s: %w", collection, err)
	}
	return ids, nil
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	ctx, span := milvusTracer.Start(ctx, "milvus.delete_by_ids")
	defer span.End()
	return s.deleteBySegmentIDs(ctx, collection, ids)
}

func (s *MilvusStore) deleteBySegmentIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	expr := fmt.Sprintf(`metadata["pk"] in [%s]`, strings.Join(quoted, ", "))
	if err := s.client.Delete(ctx, collection, "", expr); err != nil {
		return fmt.Errorf("vectorstore: deleting from %s: %w", collection, err)
	}
	return nil
}

func (s *MilvusStore) DeleteByMetadataField(ctx context.Context, collection, key string, value any) error {
	ctx, span := milvusTracer.Start(ctx, "milvus.delete_by_metadata_field")
	defer span.End()

	expr := fmt.Sprintf(`metadata[%s] == %s`, strconv.Quote(key), exprValue(value))
	if err := s.client.Delete(ctx, collection, "", expr); err != nil {
		return fmt.Errorf("vectorstore: deleting from %s: %w", collection, err)
	}
	return nil
}

func (s *MilvusStore) UpdateByID(ctx context.Context, collection, id string, doc Document, embedding []float32) error {
	ctx, span := milvusTracer.Start(ctx, "milvus.update_by_id")
	defer span.End()

	// Delete-then-insert would create a missing segment; updates only
	// replace existing rows.
	expr := fmt.Sprintf(`metadata["pk"] == %s`, strconv.Quote(id))
	rs, err := s.client.Query(ctx, collection, nil, expr, []string{"pk"})
	if err != nil {
		return fmt.Errorf("vectorstore: querying %s in %s: %w", id, collection, err)
	}
	if !resultSetHasRows(rs) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := s.deleteBySegmentIDs(ctx, collection, []string{id}); err != nil {
		return err
	}
	doc.PK = id
	_, err = s.AddTexts(ctx, collection, []Document{doc}, [][]float32{embedding})
	return err
}

func (s *MilvusStore) SearchByVector(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Document, error) {
	ctx, span := milvusTracer.Start(ctx, "milvus.search_by_vector")
	defer span.End()

	if topK <= 0 {
		return []Document{}, nil
	}

	sp, err := entity.NewIndexHNSWSearchParam(64)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: building search params: %w", err)
	}

	results, err := s.client.Search(ctx, collection, nil, filterExpr(filter),
		[]string{"metadata", "page_content"},
		[]entity.Vector{entity.FloatVector(vector)},
		"embeddings", entity.IP, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: searching %s: %w", collection, err)
	}

	var docs []Document
	for _, result := range results {
		metaCol, _ := result.Fields.GetColumn("metadata").(*entity.ColumnJSONBytes)
		contentCol, _ := result.Fields.GetColumn("page_content").(*entity.ColumnVarChar)
		if metaCol == nil || contentCol == nil {
			continue
		}
		for i := 0; i < result.ResultCount; i++ {
			var meta map[string]any
			if err := json.Unmarshal(metaCol.Data()[i], &meta); err != nil {
				return nil, fmt.Errorf("vectorstore: decoding metadata: %w", err)
			}
			pk, _ := meta["pk"].(string)
			delete(meta, "pk")
			if i < len(result.Scores) {
				meta["score"] = float64(result.Scores[i])
			}
			docs = append(docs, Document{
				PK:          pk,
				PageContent: contentCol.Data()[i],
				Metadata:    meta,
			})
		}
	}
	return docs, nil
}

// SearchByFullText returns empty: Milvus has no native BM25.
func (s *MilvusStore) SearchByFullText(ctx context.Context, collection, query string, opts FullTextOptions) ([]Document, error) {
	return []Document{}, nil
}

// MetadataKeyUniqueValues returns empty: Milvus has no aggregation.
func (s *MilvusStore) MetadataKeyUniqueValues(ctx context.Context, collection, key string) ([]string, error) {
	return []string{}, nil
}

func (s *MilvusStore) Drop(ctx context.Context, collection string) error {
	ctx, span := milvusTracer.Start(ctx, "milvus.drop")
	defer span.End()

	has, err := s.client.HasCollection(ctx, collection)
	if err != nil {
		return fmt.Errorf("vectorstore: checking collection %s: %w", collection, err)
	}
	if !has {
		return nil
	}
	if err := s.client.DropCollection(ctx, collection); err != nil {
		return fmt.Errorf("vectorstore: dropping collection %s: %w", collection, err)
	}
	if err := s.redis.Del(ctx, "knowledged:collection_exists:"+collection).Err(); err != nil {
		s.logger.Warn("clearing collection existence cache failed", zap.Error(err))
	}
	return nil
}

func (s *MilvusStore) Close() error {
	return s.client.Close()
}

// filterExpr renders a normalized metadata filter as a Milvus boolean
// expression.
func filterExpr(filter map[string]any) string {
	filter = NormalizeFilter(filter)
	if filter == nil {
		return ""
	}
	clauses := make([]string, 0, len(filter))
	for k, v := range filter {
		key := fmt.Sprintf("metadata[%s]", strconv.Quote(k))
		if list, ok := v.([]any); ok {
			values := make([]string, len(list))
			for i, item := range list {
				values[i] = exprValue(item)
			}
			clauses = append(clauses, fmt.Sprintf("%s in [%s]", key, strings.Join(values, ", ")))
			continue
		}
		clauses = append(clauses, fmt.Sprintf("%s == %s", key, exprValue(v)))
	}
	return strings.Join(clauses, " and ")
}

// resultSetHasRows reports whether a query returned at least one row.
func resultSetHasRows(rs client.ResultSet) bool {
	for _, col := range rs {
		if col.Len() > 0 {
			return true
		}
	}
	return false
}

func exprValue(v any) string {
	switch vv := v.(type) {
	case string:
		return strconv.Quote(vv)
	case bool:
		return strconv.FormatBool(vv)
	default:
		return fmt.Sprintf("%v", vv)
	}
}
