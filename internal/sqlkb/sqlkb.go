// Package sqlkb manages SQL knowledge bases: tabular files imported
// into per-collection sqlite databases and queried with plain SELECTs.
package sqlkb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

var (
	// ErrNotSelect rejects statements other than read-only SELECTs.
	ErrNotSelect = errors.New("sqlkb: only SELECT statements are allowed")
	// ErrNoRows indicates the imported file carried no data rows.
	ErrNoRows = errors.New("sqlkb: file has no data rows")
)

var collectionPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Store keeps one sqlite database file per collection under a base
// directory. Handles are opened lazily and cached.
type Store struct {
	baseDir string
	logger  *zap.Logger

	mu  sync.Mutex
	dbs map[string]*sqlx.DB
}

// New prepares the base directory for collection databases.
func New(cfg config.SQLStoreConfig, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("sqlkb: creating base dir %s: %w", cfg.Path, err)
	}
	return &Store{
		baseDir: cfg.Path,
		logger:  logger.Named("sqlkb"),
		dbs:     map[string]*sqlx.DB{},
	}, nil
}

func (s *Store) open(collection string) (*sqlx.DB, error) {
	if !collectionPattern.MatchString(collection) {
		return nil, fmt.Errorf("sqlkb: invalid collection name %q", collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[collection]; ok {
		return db, nil
	}

	db, err := sqlx.Open("sqlite", filepath.Join(s.baseDir, collection+".db"))
	if err != nil {
		return nil, fmt.Errorf("sqlkb: opening collection %s: %w", collection, err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent imports.
	db.SetMaxOpenConns(1)
	s.dbs[collection] = db
	return db, nil
}

// ImportFile loads a CSV or XLSX file into a table named after the
// file. Every column is TEXT; an existing table of the same name is
// replaced.
func (s *Store) ImportFile(ctx context.Context, collection, path string) (string, int, error) {
	headers, records, err := readTable(path)
	if err != nil {
		return "", 0, err
	}
	if len(records) == 0 {
		return "", 0, ErrNoRows
	}

	db, err := s.open(collection)
	if err != nil {
		return "", 0, err
	}

	table := TableName(path)
	columns := columnNames(headers)

	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
		placeholders[i] = "?"
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("sqlkb: beginning import: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Debug("rollback after import", zap.Error(err))
		}
	}()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return "", 0, fmt.Errorf("sqlkb: replacing table %s: %w", table, err)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s TEXT)",
		quoteIdent(table), strings.Join(quotedCols, " TEXT, "))
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return "", 0, fmt.Errorf("sqlkb: creating table %s: %w", table, err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	for _, record := range records {
		args := make([]any, len(columns))
		for i := range columns {
			if i < len(record) {
				args[i] = record[i]
			} else {
				args[i] = ""
			}
		}
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return "", 0, fmt.Errorf("sqlkb: inserting into %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("sqlkb: committing import: %w", err)
	}
	s.logger.Info("file imported",
		zap.String("collection", collection),
		zap.String("table", table),
		zap.Int("rows", len(records)))
	return table, len(records), nil
}

// Tables lists the collection's imported tables.
func (s *Store) Tables(ctx context.Context, collection string) ([]string, error) {
	db, err := s.open(collection)
	if err != nil {
		return nil, err
	}
	tables := []string{}
	err = db.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("sqlkb: listing tables: %w", err)
	}
	return tables, nil
}

// DropTable removes one imported table. Idempotent.
func (s *Store) DropTable(ctx context.Context, collection, table string) error {
	db, err := s.open(collection)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("sqlkb: dropping table %s: %w", table, err)
	}
	return nil
}

// Query runs a read-only SELECT with pagination and returns rows as
// column-keyed maps.
func (s *Store) Query(ctx context.Context, collection, query string, limit, offset int) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(query)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "SELECT") {
		return nil, ErrNotSelect
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	db, err := s.open(collection)
	if err != nil {
		return nil, err
	}

	paged := fmt.Sprintf("SELECT * FROM (%s) LIMIT ? OFFSET ?", strings.TrimSuffix(trimmed, ";"))
	rows, err := db.QueryxContext(ctx, paged, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlkb: querying: %w", err)
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("sqlkb: scanning row: %w", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlkb: reading rows: %w", err)
	}
	return results, nil
}

// DeleteCollection closes and removes the collection's database file.
// Idempotent.
func (s *Store) DeleteCollection(collection string) error {
	if !collectionPattern.MatchString(collection) {
		return fmt.Errorf("sqlkb: invalid collection name %q", collection)
	}

	s.mu.Lock()
	if db, ok := s.dbs[collection]; ok {
		db.Close()
		delete(s.dbs, collection)
	}
	s.mu.Unlock()

	path := filepath.Join(s.baseDir, collection+".db")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("sqlkb: removing %s: %w", path, err)
	}
	return nil
}

// Close releases every cached handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("sqlkb: closing %s: %w", name, err)
		}
		delete(s.dbs, name)
	}
	return firstErr
}

// TableName derives a SQL-safe table name from a file path.
func TableName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := sanitizeIdent(base)
	if name == "" {
		name = "imported"
	}
	return name
}

// columnNames sanitizes headers into unique, non-empty identifiers.
func columnNames(headers []string) []string {
	seen := map[string]int{}
	out := make([]string, len(headers))
	for i, h := range headers {
		name := sanitizeIdent(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = fmt.Sprintf("%s_%d", name, n)
		}
		out[i] = name
	}
	return out
}

func sanitizeIdent(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '_' || r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name != "" && unicode.IsDigit(rune(name[0])) {
		name = "t_" + name
	}
	return name
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, "") + `"`
}
