// Package extract turns local files into ordered text segments,
// dispatching on file extension.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Segment is one extracted unit of text with its metadata. The
// "source" provenance key is stamped here and stripped again by the
// ingestion pipeline before indexing.
type Segment struct {
	PageContent string
	Metadata    map[string]any
}

// Options tune extraction for one document.
type Options struct {
	// JQSchema projects each JSON/JSONL record to one text segment.
	// When set, downstream splitting is bypassed.
	JQSchema string
	// PreProcessRules are applied to each segment in listed order.
	// Known rules: replace-space-n-tab, delete-url-and-email.
	PreProcessRules []string
}

// Extractor dispatches files to format-specific loaders.
type Extractor struct {
	logger *zap.Logger
}

// New creates an Extractor.
func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("extract")}
}

// Extract loads the file at path into segments. Unknown extensions get
// best-effort plain-text treatment.
func (e *Extractor) Extract(ctx context.Context, path string, opts Options) ([]Segment, error) {
	var (
		segments []Segment
		err      error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		segments, err = e.extractPDF(ctx, path)
	case ".csv":
		segments, err = extractCSV(path)
	case ".xlsx":
		segments, err = extractXLSX(path)
	case ".json", ".jsonl":
		segments, err = extractJSON(path, opts.JQSchema)
	case ".docx":
		segments, err = extractDOCX(path)
	case ".pptx":
		segments, err = extractPPTX(path)
	case ".eml":
		segments, err = extractEML(path)
	case ".txt", ".md":
		segments, err = extractPlainText(path)
	default:
		e.logger.Debug("no loader for extension, treating as plain text",
			zap.String("path", filepath.Base(path)))
		segments, err = extractPlainText(path)
	}
	if err != nil {
		return nil, err
	}

	rules, err := compileRules(opts.PreProcessRules)
	if err != nil {
		return nil, err
	}

	out := segments[:0]
	for _, seg := range segments {
		seg.PageContent = applyRules(seg.PageContent, rules)
		if strings.TrimSpace(seg.PageContent) == "" {
			continue
		}
		if seg.Metadata == nil {
			seg.Metadata = map[string]any{}
		}
		seg.Metadata["source"] = path
		out = append(out, seg)
	}
	return out, nil
}

func extractPlainText(path string) ([]Segment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: reading %s: %w", filepath.Base(path), err)
	}
	return []Segment{{PageContent: string(content)}}, nil
}
