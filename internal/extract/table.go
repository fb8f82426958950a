package extract

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractCSV emits one segment per data row, rendered as
// "header: value" lines.
func extractCSV(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("extract: parsing csv %s: %w", filepath.Base(path), err)
	}
	return rowsToSegments(records), nil
}

// extractXLSX reads the first sheet and emits one segment per data
// row, same rendering as CSV.
func extractXLSX(path string) ([]Segment, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("extract: opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("extract: reading sheet %s: %w", sheets[0], err)
	}
	return rowsToSegments(rows), nil
}

func rowsToSegments(rows [][]string) []Segment {
	if len(rows) < 2 {
		return nil
	}
	header := rows[0]

	segments := make([]Segment, 0, len(rows)-1)
	for i, row := range rows[1:] {
		var b strings.Builder
		for col, cell := range row {
			if col >= len(header) {
				break
			}
			if col > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(header[col])
			b.WriteString(": ")
			b.WriteString(cell)
		}
		segments = append(segments, Segment{
			PageContent: b.String(),
			Metadata:    map[string]any{"row": i + 1},
		})
	}
	return segments
}
