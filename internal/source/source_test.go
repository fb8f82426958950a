package source

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownExtension(t *testing.T) {
	assert.True(t, KnownExtension("a.txt"))
	assert.True(t, KnownExtension("dir/B.PDF"))
	assert.True(t, KnownExtension("notes.jsonl"))
	assert.False(t, KnownExtension("archive.zip"))
	assert.False(t, KnownExtension("binary.exe"))
	assert.False(t, KnownExtension("noext"))
}

func TestKeyFilter(t *testing.T) {
	f, err := newKeyFilter(ListOptions{
		Extensions:   []string{"pdf", ".TXT"},
		ExcludeRegex: `^drafts/`,
	})
	require.NoError(t, err)

	assert.True(t, f.match("docs/a.pdf"))
	assert.True(t, f.match("docs/b.txt"))
	assert.False(t, f.match("docs/c.csv"))
	assert.False(t, f.match("drafts/a.pdf"))
	assert.False(t, f.match("docs/"))

	_, err = newKeyFilter(ListOptions{ExcludeRegex: "["})
	assert.Error(t, err)
}

func TestKeyFilterDefaultsToKnownExtensions(t *testing.T) {
	f, err := newKeyFilter(ListOptions{})
	require.NoError(t, err)
	assert.True(t, f.match("a.md"))
	assert.False(t, f.match("a.bin"))
}

func TestDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/a.txt":
			w.Write([]byte("hello"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	d := NewDownloader(srv.Client(), srv.URL)

	path, err := d.Download(context.Background(), srv.URL+"/files/a.txt", "a.txt")
	require.NoError(t, err)
	defer os.RemoveAll(filepath.Dir(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
	assert.Equal(t, "a.txt", filepath.Base(path))

	// Relative URLs resolve against the internal endpoint.
	path, err = d.Download(context.Background(), "/files/a.txt", "a.txt")
	require.NoError(t, err)
	defer os.RemoveAll(filepath.Dir(path))

	_, err = d.Download(context.Background(), srv.URL+"/missing", "missing.txt")
	assert.Error(t, err)
}

func TestDownloaderRelativeWithoutEndpoint(t *testing.T) {
	d := NewDownloader(http.DefaultClient, "")
	_, err := d.Download(context.Background(), "/bucket/key.txt", "key.txt")
	assert.Error(t, err)
}

func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func TestExtractZip(t *testing.T) {
	archive := writeZip(t, map[string]string{
		"a.txt":                "one",
		"nested/b.md":          "two",
		"nested/deep/c.pdf":    "three",
		"skip.bin":             "binary",
		"__MACOSX/._a.txt":     "resource fork",
		"__MACOSX/nested/.b":   "resource fork",
	})

	dir, docs, err := ExtractZip(archive)
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	var names []string
	for _, d := range docs {
		rel, err := filepath.Rel(dir, d)
		require.NoError(t, err)
		names = append(names, filepath.ToSlash(rel))
	}
	assert.Equal(t, []string{"a.txt", "nested/b.md", "nested/deep/c.pdf"}, names)
}

func TestExtractZipRejectsTraversal(t *testing.T) {
	archive := writeZip(t, map[string]string{"../escape.txt": "x"})
	_, _, err := ExtractZip(archive)
	assert.Error(t, err)
}

func TestListOptionsFromConfig(t *testing.T) {
	opts := ListOptionsFromConfig(map[string]string{
		"baseFolder":       "docs/",
		"fileExtensions":   "pdf, txt",
		"excludeFileRegex": `\.tmp$`,
	})
	assert.Equal(t, "docs/", opts.Prefix)
	assert.Equal(t, []string{"pdf", "txt"}, opts.Extensions)
	assert.Equal(t, `\.tmp$`, opts.ExcludeRegex)
}
