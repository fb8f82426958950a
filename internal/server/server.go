// Package server exposes the HTTP API: knowledge-base management,
// ingestion submission, search, segments and SQL knowledge bases.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/queue"
	"github.com/fyrsmithlabs/knowledged/internal/source"
	"github.com/fyrsmithlabs/knowledged/internal/sqlkb"
)

// Server is the HTTP front end over the service layer.
type Server struct {
	echo       *echo.Echo
	cfg        config.ServerConfig
	logger     *zap.Logger
	svc        *knowledge.Service
	meta       *metadata.Store
	queue      *queue.Queue
	embedder   *embeddings.Registry
	sql        *sqlkb.Store
	downloader *source.Downloader
}

// requestValidator adapts go-playground/validator to echo.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// New builds the server and registers every route.
func New(cfg config.ServerConfig, svc *knowledge.Service, meta *metadata.Store, q *queue.Queue, embedder *embeddings.Registry, sql *sqlkb.Store, downloader *source.Downloader, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &requestValidator{validate: validator.New()}

	s := &Server{
		echo:       e,
		cfg:        cfg,
		logger:     logger.Named("server"),
		svc:        svc,
		meta:       meta,
		queue:      q,
		embedder:   embedder,
		sql:        sql,
		downloader: downloader,
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())
	e.Use(identityMiddleware)

	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/healthz", s.handleHealth)
	e.GET("/manifest.json", s.handleManifest)
	e.GET("/embedding-models", s.handleEmbeddingModels)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	kb := e.Group("/knowledge-bases")
	kb.POST("/", s.handleCreateKB)
	kb.POST("", s.handleCreateKB)
	kb.GET("/:id", s.handleGetKB)
	kb.DELETE("/:id", s.handleDeleteKB)

	kb.POST("/:id/documents", s.handleSubmitTask)
	kb.GET("/:id/documents", s.handleListDocuments)
	kb.DELETE("/:id/documents/:doc_id", s.handleDeleteDocument)

	kb.GET("/:id/tasks", s.handleListTasks)
	kb.GET("/:id/tasks/:task_id", s.handleGetTask)

	kb.POST("/:id/segments", s.handleCreateSegments)
	kb.PUT("/:id/segments/:pk", s.handleUpdateSegment)
	kb.DELETE("/:id/segments/:pk", s.handleDeleteSegment)

	kb.POST("/:id/vector-search", s.handleVectorSearch)
	kb.POST("/:id/fulltext-search", s.handleFullTextSearch)

	kb.GET("/:id/metadata-fields", s.handleMetadataFields)
	kb.GET("/:id/metadata-fields/:key/values", s.handleMetadataFieldValues)

	sql := e.Group("/sql-knowledge-bases")
	sql.GET("/:id/tables", s.handleSQLTables)
	sql.POST("/:id/import", s.handleSQLImport)
	sql.POST("/:id/query", s.handleSQLQuery)
	sql.DELETE("/:id/tables/:table", s.handleSQLDropTable)
	sql.DELETE("/:id", s.handleSQLDeleteCollection)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
