// Package knowledge is the service layer tying the metadata store,
// embedding registry and vector store together for the API surface.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// Search defaults applied when the caller leaves them zero.
const (
	DefaultTopK         = 3
	DefaultFullTextSize = 30
)

// ErrEmptyContent rejects segment writes without content.
var ErrEmptyContent = errors.New("knowledge: segment content is empty")

// Service exposes knowledge-base management, segment CRUD and search.
type Service struct {
	meta     *metadata.Store
	store    vectorstore.Store
	embedder *embeddings.Registry
	logger   *zap.Logger
}

// NewService wires the service's collaborators.
func NewService(meta *metadata.Store, store vectorstore.Store, embedder *embeddings.Registry, logger *zap.Logger) *Service {
	return &Service{meta: meta, store: store, embedder: embedder, logger: logger.Named("knowledge")}
}

// CreateKnowledgeBaseParams describes a new knowledge base. Dimension
// is resolved from the embedding model when zero.
type CreateKnowledgeBaseParams struct {
	ID             string
	EmbeddingModel string
	Dimension      int
	DisplayName    string
	IconURL        string
	Description    string
}

// CreateKnowledgeBase registers the knowledge base and provisions its
// collection.
func (s *Service) CreateKnowledgeBase(ctx context.Context, p CreateKnowledgeBaseParams) (*metadata.KnowledgeBase, error) {
	if p.Dimension <= 0 {
		dim, err := s.embedder.DimensionOf(p.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		p.Dimension = dim
	}

	kb, err := s.meta.CreateKnowledgeBase(ctx, metadata.CreateKnowledgeBaseParams{
		ID:             p.ID,
		EmbeddingModel: p.EmbeddingModel,
		Dimension:      p.Dimension,
		DisplayName:    p.DisplayName,
		IconURL:        p.IconURL,
		Description:    p.Description,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateCollection(ctx, vectorstore.CollectionName(kb.ID), kb.Dimension); err != nil {
		return nil, fmt.Errorf("knowledge: provisioning collection: %w", err)
	}
	s.logger.Info("knowledge base created",
		zap.String("knowledge_base_id", kb.ID),
		zap.String("embedding_model", kb.EmbeddingModel))
	return kb, nil
}

// GetKnowledgeBase returns the knowledge base or metadata.ErrNotFound.
func (s *Service) GetKnowledgeBase(ctx context.Context, id string) (*metadata.KnowledgeBase, error) {
	return s.meta.GetKnowledgeBase(ctx, id)
}

// DeleteKnowledgeBase drops the collection and every metadata row.
// Idempotent. A failed drop does not keep the metadata rows alive:
// the collection may already be gone or the backend unreachable.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, id string) error {
	if err := s.store.Drop(ctx, vectorstore.CollectionName(id)); err != nil {
		s.logger.Warn("dropping collection failed, deleting metadata anyway",
			zap.String("knowledge_base_id", id), zap.Error(err))
	}
	return s.meta.DeleteKnowledgeBase(ctx, id)
}

// VectorSearch embeds the query with the knowledge base's model and
// runs kNN. topK <= 0 falls back to DefaultTopK.
func (s *Service) VectorSearch(ctx context.Context, kbID, query string, topK int, filter map[string]any) ([]vectorstore.Document, error) {
	kb, err := s.meta.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := s.embedder.EncodeQuery(ctx, kb.EmbeddingModel, query)
	if err != nil {
		return nil, err
	}
	return s.store.SearchByVector(ctx, vectorstore.CollectionName(kb.ID), vector, topK, filter)
}

// FullTextSearchParams page a full-text query. Size <= 0 falls back to
// DefaultFullTextSize.
type FullTextSearchParams struct {
	Query           string
	Filter          map[string]any
	From            int
	Size            int
	SortByCreatedAt bool
}

// FullTextSearch runs a text match with metadata filters against the
// knowledge base's collection.
func (s *Service) FullTextSearch(ctx context.Context, kbID string, p FullTextSearchParams) ([]vectorstore.Document, error) {
	kb, err := s.meta.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if p.Size <= 0 {
		p.Size = DefaultFullTextSize
	}
	if p.From < 0 {
		p.From = 0
	}
	return s.store.SearchByFullText(ctx, vectorstore.CollectionName(kb.ID), p.Query, vectorstore.FullTextOptions{
		Filter:          p.Filter,
		From:            p.From,
		Size:            p.Size,
		SortByCreatedAt: p.SortByCreatedAt,
	})
}

// CreateSegmentsParams describe a manual segment write. A non-empty
// Delimiter splits Text into multiple segments first.
type CreateSegmentsParams struct {
	Text      string
	Delimiter string
	UserID    string
	Metadata  map[string]any
}

// CreateSegments embeds and stores caller-supplied text, registering
// any new metadata keys. Returns the stored segment ids.
func (s *Service) CreateSegments(ctx context.Context, kbID string, p CreateSegmentsParams) ([]string, error) {
	kb, err := s.meta.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return nil, err
	}

	texts := []string{p.Text}
	if p.Delimiter != "" {
		// Clients send the delimiter as a literal escape sequence.
		delim := strings.ReplaceAll(p.Delimiter, `\n`, "\n")
		texts = texts[:0]
		for _, part := range strings.Split(p.Text, delim) {
			if strings.TrimSpace(part) != "" {
				texts = append(texts, part)
			}
		}
	}
	if len(texts) == 0 || strings.TrimSpace(p.Text) == "" {
		return nil, ErrEmptyContent
	}

	now := time.Now().Unix()
	docs := make([]vectorstore.Document, len(texts))
	keySet := map[string]bool{}
	for i, text := range texts {
		meta := make(map[string]any, len(p.Metadata)+2)
		for k, v := range p.Metadata {
			meta[k] = v
		}
		delete(meta, "source")
		meta["created_at"] = now
		if p.UserID != "" {
			meta["user_id"] = p.UserID
		}
		for k := range meta {
			keySet[k] = true
		}
		docs[i] = vectorstore.Document{
			PK:          vectorstore.SegmentID(text),
			PageContent: text,
			Metadata:    meta,
		}
	}

	vectors, err := s.embedder.Encode(ctx, kb.EmbeddingModel, texts)
	if err != nil {
		return nil, err
	}

	collection := vectorstore.CollectionName(kb.ID)
	if err := s.store.CreateCollection(ctx, collection, kb.Dimension); err != nil {
		return nil, fmt.Errorf("knowledge: provisioning collection: %w", err)
	}
	ids, err := s.store.AddTexts(ctx, collection, docs, vectors)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	if _, err := s.meta.AddMetadataKeys(ctx, kb.ID, keys); err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateSegment replaces a segment's content and metadata in place.
// The caller's id is kept even when the content hash changes.
func (s *Service) UpdateSegment(ctx context.Context, kbID, id, text string, meta map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}
	kb, err := s.meta.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return err
	}

	vector, err := s.embedder.EncodeQuery(ctx, kb.EmbeddingModel, text)
	if err != nil {
		return err
	}

	stored := make(map[string]any, len(meta))
	for k, v := range meta {
		stored[k] = v
	}
	delete(stored, "source")

	keys := make([]string, 0, len(stored))
	for k := range stored {
		keys = append(keys, k)
	}
	if _, err := s.meta.AddMetadataKeys(ctx, kb.ID, keys); err != nil {
		return err
	}

	return s.store.UpdateByID(ctx, vectorstore.CollectionName(kb.ID), id, vectorstore.Document{
		PK:          id,
		PageContent: text,
		Metadata:    stored,
	}, vector)
}

// DeleteSegments removes segments by id. Missing ids are ignored.
func (s *Service) DeleteSegments(ctx context.Context, kbID string, ids []string) error {
	return s.store.DeleteByIDs(ctx, vectorstore.CollectionName(kbID), ids)
}

// DeleteDocument removes a document's segments and its metadata row.
func (s *Service) DeleteDocument(ctx context.Context, kbID, documentID string) error {
	if err := s.store.DeleteByMetadataField(ctx, vectorstore.CollectionName(kbID), "document_id", documentID); err != nil {
		return err
	}
	return s.meta.DeleteDocument(ctx, documentID)
}

// MetadataFields returns the registered user-defined keys plus the
// built-in set.
func (s *Service) MetadataFields(ctx context.Context, kbID string) ([]string, error) {
	fields, err := s.meta.ListMetadataFields(ctx, kbID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fields)+len(metadata.BuiltInFieldKeys))
	keys = append(keys, metadata.BuiltInFieldKeys...)
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	return keys, nil
}

// MetadataFieldValues returns the distinct stored values of one key.
func (s *Service) MetadataFieldValues(ctx context.Context, kbID, key string) ([]string, error) {
	return s.store.MetadataKeyUniqueValues(ctx, vectorstore.CollectionName(kbID), key)
}
