package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/queue"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleManifest(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"schema_version": "v1",
		"namespace":      "knowledged",
		"api":            map[string]string{"type": "openapi", "url": "/openapi.json"},
	})
}

func (s *Server) handleEmbeddingModels(c echo.Context) error {
	type model struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		Dimension   int    `json:"dimension"`
		Enabled     bool   `json:"enabled"`
		Type        string `json:"type"`
	}
	models := []model{}
	for _, m := range s.embedder.Models() {
		models = append(models, model{
			Name:        m.Name,
			DisplayName: m.DisplayName,
			Dimension:   m.Dimension,
			Enabled:     m.Enabled,
			Type:        m.Type,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}

type kbResponse struct {
	ID             string    `json:"id"`
	EmbeddingModel string    `json:"embeddingModel"`
	Dimension      int       `json:"dimension"`
	DisplayName    string    `json:"displayName"`
	IconURL        string    `json:"iconUrl"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func kbToResponse(kb *metadata.KnowledgeBase) kbResponse {
	return kbResponse{
		ID:             kb.ID,
		EmbeddingModel: kb.EmbeddingModel,
		Dimension:      kb.Dimension,
		DisplayName:    kb.DisplayName,
		IconURL:        kb.IconURL,
		Description:    kb.Description,
		CreatedAt:      kb.CreatedAt,
		UpdatedAt:      kb.UpdatedAt,
	}
}

func (s *Server) handleCreateKB(c echo.Context) error {
	var req struct {
		EmbeddingModel string `json:"embeddingModel" validate:"required"`
		DisplayName    string `json:"displayName"`
		IconURL        string `json:"iconUrl"`
		Description    string `json:"description"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	kb, err := s.svc.CreateKnowledgeBase(c.Request().Context(), knowledge.CreateKnowledgeBaseParams{
		EmbeddingModel: req.EmbeddingModel,
		DisplayName:    req.DisplayName,
		IconURL:        req.IconURL,
		Description:    req.Description,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, kbToResponse(kb))
}

func (s *Server) handleGetKB(c echo.Context) error {
	kb, err := s.svc.GetKnowledgeBase(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, kbToResponse(kb))
}

func (s *Server) handleDeleteKB(c echo.Context) error {
	if err := s.svc.DeleteKnowledgeBase(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type submitTaskRequest struct {
	FileURL         string            `json:"fileURL"`
	FileName        string            `json:"fileName"`
	OSSType         string            `json:"ossType"`
	OSSConfig       map[string]string `json:"ossConfig"`
	SplitterType    string            `json:"splitterType"`
	SplitterConfig  splitterConfig    `json:"splitterConfig"`
	PreProcessRules []string          `json:"preProcessRules"`
	JQSchema        string            `json:"jqSchema"`
}

type splitterConfig struct {
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Separator    string `json:"separator"`
}

func (s *Server) handleSubmitTask(c echo.Context) error {
	var req submitTaskRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	hasFile := req.FileURL != "" && req.FileName != ""
	hasOSS := req.OSSType != "" && len(req.OSSConfig) > 0
	if !hasFile && !hasOSS {
		return echo.NewHTTPError(http.StatusBadRequest,
			"either fileURL with fileName or ossType with ossConfig is required")
	}

	ctx := c.Request().Context()
	kbID := c.Param("id")
	if _, err := s.svc.GetKnowledgeBase(ctx, kbID); err != nil {
		return err
	}

	task, err := s.meta.CreateTask(ctx, kbID)
	if err != nil {
		return err
	}

	err = s.queue.Enqueue(ctx, &queue.Payload{
		TaskID:          task.ID,
		KnowledgeBaseID: kbID,
		UserID:          identityFrom(c).UserID,
		FileURL:         req.FileURL,
		Filename:        req.FileName,
		OSSType:         req.OSSType,
		OSSConfig:       req.OSSConfig,
		ChunkSize:       req.SplitterConfig.ChunkSize,
		ChunkOverlap:    req.SplitterConfig.ChunkOverlap,
		Separator:       req.SplitterConfig.Separator,
		PreProcessRules: req.PreProcessRules,
		JQSchema:        req.JQSchema,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]string{"task_id": task.ID})
}

type documentResponse struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledgeBaseId"`
	Filename        string    `json:"filename"`
	SourceURL       string    `json:"sourceUrl"`
	IndexStatus     string    `json:"indexStatus"`
	FailedMessage   string    `json:"failedMessage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (s *Server) handleListDocuments(c echo.Context) error {
	docs, err := s.meta.ListDocumentsByKB(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = documentResponse{
			ID:              d.ID,
			KnowledgeBaseID: d.KnowledgeBaseID,
			Filename:        d.Filename,
			SourceURL:       d.SourceURL,
			IndexStatus:     string(d.IndexStatus),
			FailedMessage:   d.FailedMessage.String,
			CreatedAt:       d.CreatedAt,
			UpdatedAt:       d.UpdatedAt,
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": out})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	err := s.svc.DeleteDocument(c.Request().Context(), c.Param("id"), c.Param("doc_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type taskResponse struct {
	ID              string    `json:"id"`
	KnowledgeBaseID string    `json:"knowledgeBaseId"`
	Status          string    `json:"status"`
	Progress        float64   `json:"progress"`
	LatestMessage   string    `json:"latestMessage"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func taskToResponse(t *metadata.Task) taskResponse {
	return taskResponse{
		ID:              t.ID,
		KnowledgeBaseID: t.KnowledgeBaseID,
		Status:          string(t.Status),
		Progress:        t.Progress,
		LatestMessage:   t.LatestMessage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func (s *Server) handleListTasks(c echo.Context) error {
	tasks, err := s.meta.ListTasksByKB(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	out := make([]taskResponse, len(tasks))
	for i := range tasks {
		out[i] = taskToResponse(&tasks[i])
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": out})
}

func (s *Server) handleGetTask(c echo.Context) error {
	task, err := s.meta.GetTask(c.Request().Context(), c.Param("task_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, taskToResponse(task))
}

func (s *Server) handleCreateSegments(c echo.Context) error {
	var req struct {
		Text      string         `json:"text" validate:"required"`
		Delimiter string         `json:"delimiter"`
		Metadata  map[string]any `json:"metadata"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	ids, err := s.svc.CreateSegments(c.Request().Context(), c.Param("id"), knowledge.CreateSegmentsParams{
		Text:      req.Text,
		Delimiter: req.Delimiter,
		UserID:    identityFrom(c).UserID,
		Metadata:  req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"pk": ids})
}

func (s *Server) handleUpdateSegment(c echo.Context) error {
	var req struct {
		Text     string         `json:"text" validate:"required"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	err := s.svc.UpdateSegment(c.Request().Context(), c.Param("id"), c.Param("pk"), req.Text, req.Metadata)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeleteSegment(c echo.Context) error {
	err := s.svc.DeleteSegments(c.Request().Context(), c.Param("id"), []string{c.Param("pk")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type hit struct {
	PK          string         `json:"pk"`
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}

// searchResponse returns hits plus a concatenation of their contents,
// ready to drop into a prompt.
func searchResponse(docs []vectorstore.Document) map[string]any {
	hits := make([]hit, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		hits[i] = hit{PK: d.PK, PageContent: d.PageContent, Metadata: d.Metadata}
		texts[i] = d.PageContent
	}
	return map[string]any{"hits": hits, "text": strings.Join(texts, "\n")}
}

func (s *Server) handleVectorSearch(c echo.Context) error {
	var req struct {
		Query          string         `json:"query" validate:"required"`
		TopK           int            `json:"topK"`
		MetadataFilter map[string]any `json:"metadata_filter"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	docs, err := s.svc.VectorSearch(c.Request().Context(), c.Param("id"), req.Query, req.TopK, req.MetadataFilter)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, searchResponse(docs))
}

func (s *Server) handleFullTextSearch(c echo.Context) error {
	var req struct {
		Query           string         `json:"query"`
		From            int            `json:"from"`
		Size            int            `json:"size"`
		MetadataFilter  map[string]any `json:"metadata_filter"`
		SortByCreatedAt bool           `json:"sortByCreatedAt"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	docs, err := s.svc.FullTextSearch(c.Request().Context(), c.Param("id"), knowledge.FullTextSearchParams{
		Query:           req.Query,
		Filter:          req.MetadataFilter,
		From:            req.From,
		Size:            req.Size,
		SortByCreatedAt: req.SortByCreatedAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, searchResponse(docs))
}

func (s *Server) handleMetadataFields(c echo.Context) error {
	keys, err := s.svc.MetadataFields(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"fields": keys})
}

func (s *Server) handleMetadataFieldValues(c echo.Context) error {
	values, err := s.svc.MetadataFieldValues(c.Request().Context(), c.Param("id"), c.Param("key"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"values": values})
}

// bind decodes and validates a JSON request body.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}
