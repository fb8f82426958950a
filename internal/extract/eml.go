package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message/mail"
)

// extractEML emits one segment per inline text part of the message.
// The subject is carried in metadata.
func extractEML(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("extract: opening %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	mr, err := mail.CreateReader(f)
	if err != nil {
		return nil, fmt.Errorf("extract: parsing eml %s: %w", filepath.Base(path), err)
	}
	defer mr.Close()

	subject, _ := mr.Header.Subject()

	var segments []Segment
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("extract: reading eml part in %s: %w", filepath.Base(path), err)
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := header.ContentType()
		if !strings.HasPrefix(contentType, "text/") {
			continue
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("extract: reading eml body in %s: %w", filepath.Base(path), err)
		}
		text := strings.TrimSpace(string(body))
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			PageContent: text,
			Metadata:    map[string]any{"subject": subject},
		})
	}
	return segments, nil
}
