package server

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleSQLTables(c echo.Context) error {
	tables, err := s.sql.Tables(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"tables": tables})
}

func (s *Server) handleSQLImport(c echo.Context) error {
	var req struct {
		FileURL  string `json:"fileURL" validate:"required"`
		FileName string `json:"fileName" validate:"required"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	localPath, err := s.downloader.Download(ctx, req.FileURL, req.FileName)
	if err != nil {
		return err
	}
	defer os.RemoveAll(filepath.Dir(localPath))

	table, rows, err := s.sql.ImportFile(ctx, c.Param("id"), localPath)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"table": table, "rows": rows})
}

func (s *Server) handleSQLQuery(c echo.Context) error {
	var req struct {
		SQL    string `json:"sql" validate:"required"`
		Limit  int    `json:"limit"`
		Offset int    `json:"offset"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}

	rows, err := s.sql.Query(c.Request().Context(), c.Param("id"), req.SQL, req.Limit, req.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleSQLDropTable(c echo.Context) error {
	if err := s.sql.DropTable(c.Request().Context(), c.Param("id"), c.Param("table")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSQLDeleteCollection(c echo.Context) error {
	if err := s.sql.DeleteCollection(c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
