package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/httpclient"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/queue"
	"github.com/fyrsmithlabs/knowledged/internal/redisclient"
	"github.com/fyrsmithlabs/knowledged/internal/source"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// app holds the shared process wiring of serve and worker.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	httpClient *http.Client
	rdb        redis.UniversalClient
	meta       *metadata.Store
	store      vectorstore.Store
	embedder   *embeddings.Registry
	queue      *queue.Queue
	downloader *source.Downloader
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	rdb, err := redisclient.New(cfg.Redis)
	if err != nil {
		return nil, err
	}

	meta, err := metadata.New(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if err := meta.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	store, err := vectorstore.NewStore(ctx, cfg.Vector, rdb, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		httpClient: client,
		rdb:        rdb,
		meta:       meta,
		store:      store,
		embedder:   embeddings.NewRegistry(cfg.Embeddings, client, logger),
		queue:      queue.New(rdb, queue.DefaultName, logger),
		downloader: source.NewDownloader(client, cfg.InternalEndpoint),
	}, nil
}

func (a *app) Close() {
	if err := a.embedder.Close(); err != nil {
		a.logger.Warn("closing embedder", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", zap.Error(err))
	}
	if err := a.meta.Close(); err != nil {
		a.logger.Warn("closing metadata store", zap.Error(err))
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Warn("closing redis client", zap.Error(err))
	}
	if err := logging.Sync(a.logger); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "flushing logs:", err)
	}
}
