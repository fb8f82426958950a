// Package vectorstore provides segment storage implementations over
// Elasticsearch, Milvus and PGVector.
package vectorstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrCollectionNotFound indicates the collection does not exist.
	ErrCollectionNotFound = errors.New("vectorstore: collection not found")
	// ErrNotFound indicates the segment does not exist.
	ErrNotFound = errors.New("vectorstore: segment not found")
	// ErrInvalidConfig indicates the backend configuration is invalid.
	ErrInvalidConfig = errors.New("vectorstore: invalid config")
	// ErrDimensionMismatch indicates an embedding whose length differs
	// from the collection dimension.
	ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")
	// ErrUnsupported indicates the backend does not implement the
	// operation.
	ErrUnsupported = errors.New("vectorstore: unsupported operation")
)

// Document is one stored segment. PK is the hex MD5 of PageContent,
// making re-ingestion of identical content an upsert.
type Document struct {
	PK          string
	PageContent string
	Metadata    map[string]any
}

// FullTextOptions page and filter a full-text search.
type FullTextOptions struct {
	Filter          map[string]any
	From            int
	Size            int
	SortByCreatedAt bool
}

// Store is the capability set every backend implements. Collection
// provisioning is idempotent; deletes tolerate absent rows.
type Store interface {
	// CreateCollection provisions the typed schema for one knowledge
	// base. Idempotent.
	CreateCollection(ctx context.Context, collection string, dimension int) error
	// AddTexts upserts documents by deterministic id, paired 1:1 with
	// embeddings. Returns the stored ids.
	AddTexts(ctx context.Context, collection string, docs []Document, embeddings [][]float32) ([]string, error)
	// DeleteByIDs removes matching rows. Missing ids are ignored.
	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	// DeleteByMetadataField removes every row where metadata[key] == value.
	DeleteByMetadataField(ctx context.Context, collection, key string, value any) error
	// UpdateByID replaces content and metadata of an existing row. The
	// caller recomputes the embedding when the content changed.
	UpdateByID(ctx context.Context, collection, id string, doc Document, embedding []float32) error
	// SearchByVector runs kNN with an optional exact-match AND-filter,
	// ordered by descending similarity. A score is tagged into result
	// metadata when the backend provides one.
	SearchByVector(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Document, error)
	// SearchByFullText combines a text match (omitted when query is
	// empty) with metadata term filters. Backends without full-text
	// support return an empty slice.
	SearchByFullText(ctx context.Context, collection, query string, opts FullTextOptions) ([]Document, error)
	// MetadataKeyUniqueValues returns the distinct values of one
	// metadata key; backends may return empty if unsupported.
	MetadataKeyUniqueValues(ctx context.Context, collection, key string) ([]string, error)
	// Drop removes the backing collection. Tolerates non-existence.
	Drop(ctx context.Context, collection string) error
	// Close releases backend connections.
	Close() error
}

// SegmentID derives the deterministic segment id from content.
func SegmentID(pageContent string) string {
	sum := md5.Sum([]byte(pageContent))
	return hex.EncodeToString(sum[:])
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// CollectionName maps a knowledge-base id to its collection name.
func CollectionName(kbID string) string {
	return strings.ToLower("vector_index_" + strings.ReplaceAll(kbID, "-", "_"))
}

// validateCollectionName rejects names that could escape quoting in
// backends that splice the name into statements.
func validateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid collection name %q", ErrInvalidConfig, name)
	}
	return nil
}
