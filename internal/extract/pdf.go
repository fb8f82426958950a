package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"
)

// extractPDF extracts page content into one segment per page, in page
// order. pdfcpu has no direct text API, so content streams are
// extracted to a scratch dir and read back.
func (e *Extractor) extractPDF(ctx context.Context, path string) ([]Segment, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: reading pdf %s: %w", filepath.Base(path), err)
	}
	pageCount := pdfCtx.PageCount

	outDir, err := os.MkdirTemp("", "knowledged-pdf")
	if err != nil {
		return nil, fmt.Errorf("extract: creating pdf scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return nil, fmt.Errorf("extract: extracting pdf content from %s: %w", filepath.Base(path), err)
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("extract: listing pdf scratch dir: %w", err)
	}
	pageTexts := make(map[int]string, pageCount)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		var pageNum int
		if _, err := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); err != nil {
			if _, err := fmt.Sscanf(file.Name(), "page_%d", &pageNum); err != nil {
				continue
			}
		}
		content, err := os.ReadFile(filepath.Join(outDir, file.Name()))
		if err != nil {
			e.logger.Warn("skipping unreadable pdf page content",
				zap.String("file", file.Name()), zap.Error(err))
			continue
		}
		pageTexts[pageNum] = string(content)
	}

	segments := make([]Segment, 0, pageCount)
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text := strings.TrimSpace(pageTexts[pageNum])
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			PageContent: text,
			Metadata:    map[string]any{"page": pageNum},
		})
	}
	return segments, nil
}
