package ingest

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTextKeepsParagraphs(t *testing.T) {
	raw := "\uFEFF  Title\u00A0\t\nLine\u200B one\r\n\r\nSecond\u2060 line\u00AD"
	got := normalizeText(raw)
	require.Equal(t, "Title\nLine one\n\nSecond line", got)
}

func TestNormalizeTextCollapsesBlankRuns(t *testing.T) {
	got := normalizeText("a\n\n\n\n\nb")
	require.Equal(t, "a\n\nb", got)
}

func TestReadCorpusFiltersAndOrders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("second doc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first doc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.csv"), []byte("x,y"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	docs, err := ReadCorpus(dir, []string{".txt"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "a.txt", docs[0].Source)
	require.Equal(t, "first doc", docs[0].Text)
	require.Equal(t, "b.txt", docs[1].Source)
}

func TestReadCorpusMissingDirectory(t *testing.T) {
	_, err := ReadCorpus(filepath.Join(t.TempDir(), "nope"), []string{".pdf"})
	require.Error(t, err)
}

func TestExtractEPUB(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")

	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	page, err := zw.Create("OEBPS/ch1.xhtml")
	require.NoError(t, err)
	_, err = page.Write([]byte("<html><body><p>Hello epub.</p><p>Second paragraph.</p><script>skip()</script></body></html>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	text, err := extractEPUB(path)
	require.NoError(t, err)
	require.Contains(t, text, "Hello epub.")
	require.Contains(t, text, "Second paragraph.")
	require.NotContains(t, text, "skip")
}
