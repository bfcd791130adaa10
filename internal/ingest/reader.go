package ingest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Document is one corpus file's extracted text with a back-reference to
// where it came from.
type Document struct {
	Source string
	Text   string
}

// ReadCorpus extracts text from every eligible file directly under dir,
// in filename order. Files that yield no text are skipped with a zero
// entry rather than failing the whole corpus.
func ReadCorpus(dir string, exts []string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus directory: %w", err)
	}
	eligible := make(map[string]bool, len(exts))
	for _, ext := range exts {
		eligible[strings.ToLower(strings.TrimSpace(ext))] = true
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if eligible[strings.ToLower(filepath.Ext(entry.Name()))] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		text, err := extractText(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", name, err)
		}
		docs = append(docs, Document{Source: name, Text: text})
	}
	return docs, nil
}

func extractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".epub":
		return extractEPUB(path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return normalizeText(string(data)), nil
	}
}

// extractPDF joins page texts with paragraph breaks so the splitter can
// prefer page boundaries. Unreadable pages are skipped instead of failing
// the document.
func extractPDF(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = normalizeText(text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func extractEPUB(path string) (string, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	defer reader.Close()

	var sections []string
	for _, file := range reader.File {
		name := strings.ToLower(file.Name)
		if !strings.HasSuffix(name, ".xhtml") && !strings.HasSuffix(name, ".html") && !strings.HasSuffix(name, ".htm") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("read epub file: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("parse epub html: %w", err)
		}
		if text := normalizeText(htmlText(doc)); text != "" {
			sections = append(sections, text)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

// htmlText flattens a parsed HTML tree to plain text, breaking paragraphs
// at block elements.
func htmlText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "div", "li", "h1", "h2", "h3", "h4":
				buf.WriteString("\n\n")
			case "br":
				buf.WriteString("\n")
			}
		}
	}
	walk(n)
	return buf.String()
}

// normalizeText strips control and zero-width characters and collapses
// horizontal whitespace while keeping newlines, so paragraph structure
// survives for the splitter.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ToValidUTF8(text, "")

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n':
			sb.WriteRune('\n')
		case r == '\uFEFF' || r == '\u200B' || r == '\u2060' || r == '\u00AD':
			// BOM, zero-width, soft hyphen: drop entirely.
		case r == '\u00A0' || r == '\t':
			sb.WriteRune(' ')
		case unicode.IsControl(r):
			// Stray control characters become spaces.
			sb.WriteRune(' ')
		default:
			sb.WriteRune(r)
		}
	}

	lines := strings.Split(sb.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
