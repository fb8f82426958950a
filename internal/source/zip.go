package source

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ExtractZip unpacks the archive into a fresh temp directory and
// returns the interior document paths, filtered to known extensions
// and excluding macOS resource-fork entries. The caller owns cleanup
// of the returned directory.
func ExtractZip(archivePath string) (dir string, docs []string, err error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("source: opening zip %s: %w", archivePath, err)
	}
	defer r.Close()

	dir, err = os.MkdirTemp("", "knowledged-zip-"+uuid.NewString())
	if err != nil {
		return "", nil, fmt.Errorf("source: creating extraction dir: %w", err)
	}

	for _, f := range r.File {
		if err := extractEntry(f, dir); err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if KnownExtension(path) {
			docs = append(docs, path)
		}
		return nil
	})
	if err != nil {
		os.RemoveAll(dir)
		return "", nil, fmt.Errorf("source: listing extracted files: %w", err)
	}

	sort.Strings(docs)
	return dir, docs, nil
}

func extractEntry(f *zip.File, dir string) error {
	// Reject entries escaping the extraction dir.
	dest := filepath.Join(dir, filepath.Clean(f.Name))
	if !strings.HasPrefix(dest, filepath.Clean(dir)+string(os.PathSeparator)) {
		return fmt.Errorf("source: zip entry %q escapes extraction dir", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("source: creating dir for %s: %w", f.Name, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("source: opening zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("source: creating %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("source: extracting %s: %w", f.Name, err)
	}
	return nil
}
