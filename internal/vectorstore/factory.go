package vectorstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// NewStore builds the backend selected by cfg.Type. The redis client is
// only consulted by the Milvus backend for collection-create locking.
func NewStore(ctx context.Context, cfg config.VectorConfig, rdb redis.UniversalClient, logger *zap.Logger) (Store, error) {
	switch cfg.Type {
	case "elasticsearch":
		return NewESStore(cfg.Elasticsearch, logger)
	case "milvus":
		return NewMilvusStore(ctx, cfg.Milvus, rdb, logger)
	case "pgvector":
		return NewPGStore(ctx, cfg.PGVector, logger)
	default:
		return nil, fmt.Errorf("%w: unknown vector store type %q", ErrInvalidConfig, cfg.Type)
	}
}
