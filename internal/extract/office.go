package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// extractDOCX emits one segment per non-empty paragraph of the main
// document part.
func extractDOCX(path string) ([]Segment, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("extract: opening docx %s: %w", filepath.Base(path), err)
	}
	defer r.Close()

	part, err := openZipEntry(&r.Reader, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("extract: docx %s: %w", filepath.Base(path), err)
	}
	defer part.Close()

	paragraphs, err := wordParagraphs(part)
	if err != nil {
		return nil, fmt.Errorf("extract: parsing docx %s: %w", filepath.Base(path), err)
	}

	segments := make([]Segment, 0, len(paragraphs))
	for i, p := range paragraphs {
		segments = append(segments, Segment{
			PageContent: p,
			Metadata:    map[string]any{"paragraph": i + 1},
		})
	}
	return segments, nil
}

// extractPPTX emits one segment per slide, text runs joined by
// newlines, in slide order.
func extractPPTX(path string) ([]Segment, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("extract: opening pptx %s: %w", filepath.Base(path), err)
	}
	defer r.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, f := range r.File {
		var num int
		if _, err := fmt.Sscanf(f.Name, "ppt/slides/slide%d.xml", &num); err != nil {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract: opening slide %s: %w", f.Name, err)
		}
		runs, err := textRuns(rc, "t")
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extract: parsing slide %s: %w", f.Name, err)
		}
		text := strings.TrimSpace(strings.Join(runs, "\n"))
		if text != "" {
			slides = append(slides, slide{num: num, text: text})
		}
	}

	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	segments := make([]Segment, 0, len(slides))
	for _, s := range slides {
		segments = append(segments, Segment{
			PageContent: s.text,
			Metadata:    map[string]any{"slide": s.num},
		})
	}
	return segments, nil
}

func openZipEntry(r *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range r.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("missing part %s", name)
}

// wordParagraphs walks the WordprocessingML token stream, flushing a
// paragraph at each closing w:p.
func wordParagraphs(r io.Reader) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(current.String()); p != "" {
					paragraphs = append(paragraphs, p)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return paragraphs, nil
}

// textRuns collects the character data of every element with the given
// local name.
func textRuns(r io.Reader, local string) ([]string, error) {
	dec := xml.NewDecoder(r)
	var (
		runs   []string
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == local {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == local {
				inText = false
			}
		case xml.CharData:
			if inText {
				runs = append(runs, string(t))
			}
		}
	}
	return runs, nil
}
