package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

var esTracer = otel.Tracer("knowledged.vectorstore.elasticsearch")

// ESStore stores segments in one Elasticsearch index per knowledge
// base. Vectors use dense_vector with l2_norm similarity; full text
// goes through a match query on page_content.
type ESStore struct {
	client        *elasticsearch.Client
	batchSize     int
	numCandidates int
	logger        *zap.Logger
}

// NewESStore connects to the configured cluster.
func NewESStore(cfg config.ElasticsearchConfig, logger *zap.Logger) (*ESStore, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating elasticsearch client: %v", ErrInvalidConfig, err)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ESStore{
		client:        client,
		batchSize:     batchSize,
		numCandidates: cfg.NumCandidates,
		logger:        logger.Named("vectorstore.elasticsearch"),
	}, nil
}

func (s *ESStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	ctx, span := esTracer.Start(ctx, "es.create_collection")
	defer span.End()

	res, err := s.client.Indices.Exists([]string{collection},
		s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("vectorstore: checking index %s: %w", collection, err)
	}
	drainResponse(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"page_content": map[string]any{"type": "text"},
				"embeddings": map[string]any{
					"type":       "dense_vector",
					"dims":       dimension,
					"index":      true,
					"similarity": "l2_norm",
				},
				// Built-in fields get explicit types so term filters and
				// the created_at sort hit real mappings; user-defined keys
				// stay dynamic and get .keyword sub-fields.
				"metadata": map[string]any{
					"type":    "object",
					"dynamic": true,
					"properties": map[string]any{
						"document_id": map[string]any{"type": "keyword"},
						"filename":    map[string]any{"type": "keyword"},
						"user_id":     map[string]any{"type": "keyword"},
						"created_at":  map[string]any{"type": "long"},
					},
				},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("vectorstore: encoding mapping: %w", err)
	}

	res, err = s.client.Indices.Create(collection,
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
		s.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("vectorstore: creating index %s: %w", collection, err)
	}
	defer drainResponse(res)
	if res.IsError() {
		return fmt.Errorf("vectorstore: creating index %s: %s", collection, responseError(res))
	}
	s.logger.Info("index created", zap.String("collection", collection), zap.Int("dimension", dimension))
	return nil
}

func (s *ESStore) AddTexts(ctx context.Context, collection string, docs []Document, embeddings [][]float32) ([]string, error) {
	ctx, span := esTracer.Start(ctx, "es.add_texts")
	defer span.End()

	if len(docs) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d documents with %d embeddings", ErrDimensionMismatch, len(docs), len(embeddings))
	}

	ids := make([]string, len(docs))
	for i := 0; i < len(docs); i += s.batchSize {
		end := i + s.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.bulkIndex(ctx, collection, docs[i:end], embeddings[i:end], ids[i:end]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *ESStore) bulkIndex(ctx context.Context, collection string, docs []Document, embeddings [][]float32, ids []string) error {
	var buf bytes.Buffer
	for i, doc := range docs {
		id := doc.PK
		if id == "" {
			id = SegmentID(doc.PageContent)
		}
		ids[i] = id

		action, err := json.Marshal(map[string]any{"index": map[string]any{"_index": collection, "_id": id}})
		if err != nil {
			return fmt.Errorf("vectorstore: encoding bulk action: %w", err)
		}
		source, err := json.Marshal(map[string]any{
			"page_content": doc.PageContent,
			"metadata":     doc.Metadata,
			"embeddings":   embeddings[i],
		})
		if err != nil {
			return fmt.Errorf("vectorstore: encoding document: %w", err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
	}

	res, err := s.client.Bulk(bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithRefresh("true"))
	if err != nil {
		return fmt.Errorf("vectorstore: bulk indexing into %s: %w", collection, err)
	}
	defer drainResponse(res)
	if res.IsError() {
		return fmt.Errorf("vectorstore: bulk indexing into %s: %s", collection, responseError(res))
	}

	var bulkRes struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("vectorstore: decoding bulk response: %w", err)
	}
	if bulkRes.Errors {
		for _, item := range bulkRes.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("vectorstore: bulk indexing into %s failed: %s", collection, string(*op.Error))
				}
			}
		}
		return fmt.Errorf("vectorstore: bulk indexing into %s reported errors", collection)
	}
	return nil
}

func (s *ESStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	ctx, span := esTracer.Start(ctx, "es.delete_by_ids")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"ids": map[string]any{"values": ids}},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: encoding delete query: %w", err)
	}
	return s.deleteByQuery(ctx, collection, body)
}

func (s *ESStore) DeleteByMetadataField(ctx context.Context, collection, key string, value any) error {
	ctx, span := esTracer.Start(ctx, "es.delete_by_metadata_field")
	defer span.End()

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{
			"term": map[string]any{metadataField(key): value},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: encoding delete query: %w", err)
	}
	return s.deleteByQuery(ctx, collection, body)
}

func (s *ESStore) deleteByQuery(ctx context.Context, collection string, body []byte) error {
	res, err := s.client.DeleteByQuery([]string{collection}, bytes.NewReader(body),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true))
	if err != nil {
		return fmt.Errorf("vectorstore: delete by query in %s: %w", collection, err)
	}
	defer drainResponse(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return fmt.Errorf("vectorstore: delete by query in %s: %s", collection, responseError(res))
	}
	return nil
}

func (s *ESStore) UpdateByID(ctx context.Context, collection, id string, doc Document, embedding []float32) error {
	ctx, span := esTracer.Start(ctx, "es.update_by_id")
	defer span.End()

	// The update API 404s on a missing document; the index API would
	// silently create one.
	body, err := json.Marshal(map[string]any{
		"doc": map[string]any{
			"page_content": doc.PageContent,
			"metadata":     doc.Metadata,
			"embeddings":   embedding,
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: encoding document: %w", err)
	}

	res, err := s.client.Update(collection, id, bytes.NewReader(body),
		s.client.Update.WithRefresh("true"),
		s.client.Update.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("vectorstore: updating %s in %s: %w", id, collection, err)
	}
	defer drainResponse(res)
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if res.IsError() {
		return fmt.Errorf("vectorstore: updating %s in %s: %s", id, collection, responseError(res))
	}
	return nil
}

func (s *ESStore) SearchByVector(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Document, error) {
	ctx, span := esTracer.Start(ctx, "es.search_by_vector")
	defer span.End()

	if topK <= 0 {
		return []Document{}, nil
	}

	knn := map[string]any{
		"field":          "embeddings",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": s.numCandidates,
	}
	if clauses := termClauses(filter); len(clauses) > 0 {
		knn["filter"] = clauses
	}
	body, err := json.Marshal(map[string]any{"knn": knn, "size": topK})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: encoding knn query: %w", err)
	}
	return s.search(ctx, collection, body)
}

func (s *ESStore) SearchByFullText(ctx context.Context, collection, query string, opts FullTextOptions) ([]Document, error) {
	ctx, span := esTracer.Start(ctx, "es.search_by_full_text")
	defer span.End()

	boolQuery := map[string]any{}
	if query != "" {
		boolQuery["must"] = []any{
			map[string]any{"match": map[string]any{"page_content": query}},
		}
	}
	if clauses := termClauses(opts.Filter); len(clauses) > 0 {
		boolQuery["filter"] = clauses
	}

	payload := map[string]any{
		"query": map[string]any{"bool": boolQuery},
		"from":  opts.From,
		"size":  opts.Size,
	}
	if opts.SortByCreatedAt {
		// created_at is Unix seconds, mapped as long.
		payload["sort"] = []any{
			map[string]any{"metadata.created_at": map[string]any{"order": "desc", "unmapped_type": "long"}},
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: encoding full-text query: %w", err)
	}
	return s.search(ctx, collection, body)
}

func (s *ESStore) search(ctx context.Context, collection string, body []byte) ([]Document, error) {
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(collection),
		s.client.Search.WithBody(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: searching %s: %w", collection, err)
	}
	defer drainResponse(res)
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if res.IsError() {
		return nil, fmt.Errorf("vectorstore: searching %s: %s", collection, responseError(res))
	}

	var searchRes struct {
		Hits struct {
			Hits []struct {
				ID     string   `json:"_id"`
				Score  *float64 `json:"_score"`
				Source struct {
					PageContent string         `json:"page_content"`
					Metadata    map[string]any `json:"metadata"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchRes); err != nil {
		return nil, fmt.Errorf("vectorstore: decoding search response: %w", err)
	}

	docs := make([]Document, 0, len(searchRes.Hits.Hits))
	for _, hit := range searchRes.Hits.Hits {
		meta := hit.Source.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		if hit.Score != nil {
			meta["score"] = *hit.Score
		}
		docs = append(docs, Document{
			PK:          hit.ID,
			PageContent: hit.Source.PageContent,
			Metadata:    meta,
		})
	}
	return docs, nil
}

func (s *ESStore) MetadataKeyUniqueValues(ctx context.Context, collection, key string) ([]string, error) {
	ctx, span := esTracer.Start(ctx, "es.metadata_key_unique_values")
	defer span.End()

	body, err := json.Marshal(map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"values": map[string]any{
				"terms": map[string]any{"field": metadataField(key), "size": 1000},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: encoding aggregation: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(collection),
		s.client.Search.WithBody(bytes.NewReader(body)))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: aggregating %s: %w", collection, err)
	}
	defer drainResponse(res)
	if res.IsError() {
		return nil, fmt.Errorf("vectorstore: aggregating %s: %s", collection, responseError(res))
	}

	var aggRes struct {
		Aggregations struct {
			Values struct {
				Buckets []struct {
					Key any `json:"key"`
				} `json:"buckets"`
			} `json:"values"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&aggRes); err != nil {
		return nil, fmt.Errorf("vectorstore: decoding aggregation response: %w", err)
	}

	values := make([]string, 0, len(aggRes.Aggregations.Values.Buckets))
	for _, b := range aggRes.Aggregations.Values.Buckets {
		values = append(values, fmt.Sprintf("%v", b.Key))
	}
	return values, nil
}

func (s *ESStore) Drop(ctx context.Context, collection string) error {
	ctx, span := esTracer.Start(ctx, "es.drop")
	defer span.End()

	res, err := s.client.Indices.Delete([]string{collection},
		s.client.Indices.Delete.WithIgnoreUnavailable(true),
		s.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("vectorstore: dropping index %s: %w", collection, err)
	}
	defer drainResponse(res)
	if res.IsError() {
		return fmt.Errorf("vectorstore: dropping index %s: %s", collection, responseError(res))
	}
	return nil
}

func (s *ESStore) Close() error { return nil }

// termClauses turns a normalized filter into term/terms queries on the
// keyword sub-fields of metadata.
func termClauses(filter map[string]any) []any {
	filter = NormalizeFilter(filter)
	if filter == nil {
		return nil
	}
	clauses := make([]any, 0, len(filter))
	for k, v := range filter {
		if list, ok := v.([]any); ok {
			clauses = append(clauses, map[string]any{"terms": map[string]any{metadataField(k): list}})
			continue
		}
		clauses = append(clauses, map[string]any{"term": map[string]any{metadataField(k): v}})
	}
	return clauses
}

// metadataField resolves the filterable field for a metadata key.
// Built-in fields are mapped explicitly (keyword or long) and are
// queried directly; dynamic string keys get a .keyword sub-field.
func metadataField(key string) string {
	switch key {
	case "document_id", "filename", "user_id", "created_at":
		return "metadata." + key
	}
	return "metadata." + key + ".keyword"
}

func drainResponse(res *esapi.Response) {
	if res != nil && res.Body != nil {
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}

func responseError(res *esapi.Response) string {
	return res.Status()
}
