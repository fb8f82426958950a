package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Identity carries the caller identity headers every request may bear.
type Identity struct {
	AppID              string
	UserID             string
	TeamID             string
	WorkflowID         string
	WorkflowInstanceID string
}

const identityKey = "knowledged.identity"

// identityMiddleware parses the x-monkeys-* headers into the request
// context. Missing headers yield empty fields; nothing is enforced.
func identityMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		c.Set(identityKey, Identity{
			AppID:              h.Get("x-monkeys-appid"),
			UserID:             h.Get("x-monkeys-userid"),
			TeamID:             h.Get("x-monkeys-teamid"),
			WorkflowID:         h.Get("x-monkeys-workflowid"),
			WorkflowInstanceID: h.Get("x-monkeys-workflow-instanceid"),
		})
		return next(c)
	}
}

func identityFrom(c echo.Context) Identity {
	if id, ok := c.Get(identityKey).(Identity); ok {
		return id
	}
	return Identity{}
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			s.logger.Info("request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_ip", c.RealIP()))
			return nil
		}
	}
}
