package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/embeddings"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/metadata"
	"github.com/fyrsmithlabs/knowledged/internal/sqlkb"
	"github.com/fyrsmithlabs/knowledged/internal/vectorstore"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// errorHandler maps sentinel errors onto status codes and renders the
// {message, code} envelope.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := err.Error()

	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		code = httpErr.Code
		if m, ok := httpErr.Message.(string); ok {
			message = m
		}
	case errors.Is(err, metadata.ErrNotFound),
		errors.Is(err, vectorstore.ErrNotFound),
		errors.Is(err, vectorstore.ErrCollectionNotFound):
		code = http.StatusNotFound
	case errors.Is(err, embeddings.ErrUnknownModel),
		errors.Is(err, embeddings.ErrModelDisabled),
		errors.Is(err, embeddings.ErrEmptyInput),
		errors.Is(err, knowledge.ErrEmptyContent),
		errors.Is(err, sqlkb.ErrNotSelect),
		errors.Is(err, sqlkb.ErrNoRows),
		errors.Is(err, vectorstore.ErrInvalidConfig):
		code = http.StatusBadRequest
	}

	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err))
	}

	if jsonErr := c.JSON(code, errorBody{Message: message, Code: code}); jsonErr != nil {
		s.logger.Error("writing error response", zap.Error(jsonErr))
	}
}
