package extract

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/itchyny/gojq"
)

// extractJSON projects JSON/JSONL records through a jq selector, one
// segment per result. String results are kept verbatim; other values
// are re-encoded compactly.
func extractJSON(path, selector string) ([]Segment, error) {
	if selector == "" {
		selector = "."
	}
	query, err := gojq.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("extract: invalid jq selector %q: %w", selector, err)
	}

	records, err := readJSONRecords(path)
	if err != nil {
		return nil, err
	}

	var segments []Segment
	for _, record := range records {
		iter := query.Run(record)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if qerr, isErr := v.(error); isErr {
				return nil, fmt.Errorf("extract: jq selector failed on %s: %w", filepath.Base(path), qerr)
			}
			text, err := renderJQValue(v)
			if err != nil {
				return nil, err
			}
			segments = append(segments, Segment{PageContent: text})
		}
	}
	return segments, nil
}

func readJSONRecords(path string) ([]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if strings.ToLower(filepath.Ext(path)) == ".jsonl" {
		var records []any
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(line), &v); err != nil {
				return nil, fmt.Errorf("extract: parsing jsonl line in %s: %w", filepath.Base(path), err)
			}
			records = append(records, v)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("extract: reading %s: %w", filepath.Base(path), err)
		}
		return records, nil
	}

	var v any
	if err := json.NewDecoder(f).Decode(&v); err != nil {
		return nil, fmt.Errorf("extract: parsing json %s: %w", filepath.Base(path), err)
	}
	return []any{v}, nil
}

func renderJQValue(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("extract: encoding jq result: %w", err)
	}
	return string(data), nil
}
