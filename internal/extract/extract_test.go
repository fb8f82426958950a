package extract

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestExtractPlainText(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "a.txt", "hello\nworld")

	segments, err := e.Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "hello\nworld", segments[0].PageContent)
	assert.Equal(t, path, segments[0].Metadata["source"])
}

func TestExtractUnknownExtensionFallsBack(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "readme.rst", "restructured")

	segments, err := e.Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "restructured", segments[0].PageContent)
}

func TestExtractCSVRowPerSegment(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "people.csv", "name,city\nada,london\ngrace,washington\n")

	segments, err := e.Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "name: ada\ncity: london", segments[0].PageContent)
	assert.Equal(t, 1, segments[0].Metadata["row"])
	assert.Equal(t, "name: grace\ncity: washington", segments[1].PageContent)
}

func TestExtractCSVHeaderOnly(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "empty.csv", "name,city\n")

	segments, err := e.Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Empty(t, segments)
}

func TestExtractJSONLWithSelector(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "records.jsonl",
		`{"text":"first","id":1}`+"\n"+`{"text":"second","id":2}`+"\n")

	segments, err := e.Extract(context.Background(), path, Options{JQSchema: ".text"})
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "first", segments[0].PageContent)
	assert.Equal(t, "second", segments[1].PageContent)
}

func TestExtractJSONArraySelector(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "items.json", `[{"q":"a"},{"q":"b"}]`)

	segments, err := e.Extract(context.Background(), path, Options{JQSchema: ".[].q"})
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "a", segments[0].PageContent)
}

func TestExtractJSONNonStringResultIsEncoded(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "obj.json", `{"a":{"b":1}}`)

	segments, err := e.Extract(context.Background(), path, Options{JQSchema: ".a"})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.JSONEq(t, `{"b":1}`, segments[0].PageContent)
}

func TestExtractJSONBadSelector(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "obj.json", `{}`)

	_, err := e.Extract(context.Background(), path, Options{JQSchema: ".["})
	assert.Error(t, err)
}

func TestPreProcessRules(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "a.txt", "visit https://example.com or mail a.b+c@test.org now")

	segments, err := e.Extract(context.Background(), path, Options{
		PreProcessRules: []string{RuleDeleteURLAndEmail},
	})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.NotContains(t, segments[0].PageContent, "example.com")
	assert.NotContains(t, segments[0].PageContent, "@test.org")
}

func TestPreProcessWhitespaceRule(t *testing.T) {
	assert.Equal(t, "abc", applyRules("a b\tc", mustRules(t, RuleReplaceSpaceNTab)))
	assert.Equal(t, "ab", applyRules("a\n\n  b", mustRules(t, RuleReplaceSpaceNTab)))
}

func mustRules(t *testing.T, names ...string) []rule {
	t.Helper()
	rules, err := compileRules(names)
	require.NoError(t, err)
	return rules
}

func TestUnknownPreProcessRule(t *testing.T) {
	e := New(zap.NewNop())
	path := writeFile(t, "a.txt", "x")
	_, err := e.Extract(context.Background(), path, Options{PreProcessRules: []string{"rot13"}})
	assert.Error(t, err)
}

func writeOfficeFile(t *testing.T, name string, parts map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for entry, content := range parts {
		ew, err := w.Create(entry)
		require.NoError(t, err)
		_, err = ew.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func TestExtractDOCX(t *testing.T) {
	e := New(zap.NewNop())
	path := writeOfficeFile(t, "doc.docx", map[string]string{
		"word/document.xml": `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph</w:t></w:r></w:p>
    <w:p></w:p>
  </w:body>
</w:document>`,
	})

	segments, err := e.Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "First paragraph", segments[0].PageContent)
	assert.Equal(t, "Second paragraph", segments[1].PageContent)
}

func TestExtractPPTX(t *testing.T) {
	e := New(zap.NewNop())
	path := writeOfficeFile(t, "deck.pptx", map[string]string{
		"ppt/slides/slide2.xml": "<p:sld xmlns:a=\"a\" xmlns:p=\"p\"><a:t>Slide two</a:t></p:sld>",
		"ppt/slides/slide1.xml": "<p:sld xmlns:a=\"a\" xmlns:p=\"p\"><a:t>Slide one</a:t></p:sld>",
	})

	segments, err := e.Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "Slide one", segments[0].PageContent)
	assert.Equal(t, 1, segments[0].Metadata["slide"])
	assert.Equal(t, "Slide two", segments[1].PageContent)
}

func TestExtractEML(t *testing.T) {
	e := New(zap.NewNop())
	raw := "Subject: Weekly notes\r\n" +
		"From: sender@example.com\r\n" +
		"To: rcpt@example.com\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Body line one.\r\nBody line two.\r\n"
	path := writeFile(t, "mail.eml", raw)

	segments, err := e.Extract(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Contains(t, segments[0].PageContent, "Body line one.")
	assert.Equal(t, "Weekly notes", segments[0].Metadata["subject"])
}
