package knowledge

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"

	"github.com/h1v3-io/triage/pkg/protocol"
)

// ErrNoCorpus is returned when none of the category resources yields text.
var ErrNoCorpus = errors.New("knowledge: no usable corpus resources")

// corpusExtensions are tried in order for each category; the first file
// that exists is used.
var corpusExtensions = []string{".txt", ".md", ".html"}

// LoadCorpus reads one resource per category from dir, named
// <category>_docs.txt (or .md, or .html). Missing and blank resources are
// skipped. HTML is reduced to its readable text.
func LoadCorpus(dir string, categories []string) ([]protocol.Document, error) {
	if len(categories) == 0 {
		categories = protocol.DefaultCategories
	}

	var docs []protocol.Document
	for _, cat := range categories {
		path, ok := findResource(dir, cat)
		if !ok {
			continue
		}
		text, err := readResource(path)
		if err != nil {
			return nil, fmt.Errorf("knowledge: read %s: %w", path, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, protocol.Document{
			ID:       protocol.DocumentID(cat, 0),
			Category: cat,
			Content:  strings.TrimSpace(text),
			Source:   path,
		})
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w in %s (expected <category>_docs.txt for one of %s)",
			ErrNoCorpus, dir, strings.Join(categories, ", "))
	}
	return docs, nil
}

func findResource(dir, category string) (string, bool) {
	for _, ext := range corpusExtensions {
		path := filepath.Join(dir, category+"_docs"+ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

func readResource(path string) (string, error) {
	if filepath.Ext(path) != ".html" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(f, &url.URL{Scheme: "file", Path: abs})
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	text := buf.String()
	if title := article.Title(); title != "" && !strings.Contains(text, title) {
		text = title + "\n\n" + text
	}
	return text, nil
}
