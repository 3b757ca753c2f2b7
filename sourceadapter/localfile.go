package sourceadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/parser"
)

// LocalFileAdapter recovers Documents from a directory of local files,
// matching filenames against the query's words. It is the SourceAdapter
// used for the "local" Kind in config.SourceConfig and for the
// single configured survey source (§4.6: get_survey_docs).
type LocalFileAdapter struct {
	dir     string
	parsers map[string]parser.Parser
}

// NewLocalFileAdapter returns a LocalFileAdapter rooted at dir, using
// the same per-extension parser registry the document ingestion path
// uses (pdf, docx, xlsx/xls, txt).
func NewLocalFileAdapter(dir string) *LocalFileAdapter {
	return &LocalFileAdapter{
		dir: dir,
		parsers: map[string]parser.Parser{
			"pdf":  &parser.PDFParser{},
			"docx": &parser.DOCXParser{},
			"xlsx": &parser.XLSXParser{},
			"xls":  &parser.XLSXParser{},
			"txt":  &parser.TextParser{},
		},
	}
}

func (l *LocalFileAdapter) Name() string { return "Local File Recoverer" }

func (l *LocalFileAdapter) Description() string {
	return "Retrieves documents from a local directory, matching filenames against the query."
}

func (l *LocalFileAdapter) Recover(ctx context.Context, query string, k int, dateRange *DateRange) ([]kg.Document, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("sourceadapter: reading local dir: %w", err)
	}

	words := strings.Fields(strings.ToLower(query))
	var docs []kg.Document
	for _, entry := range entries {
		if entry.IsDir() || len(docs) >= k {
			continue
		}
		name := entry.Name()
		if !matchesAnyWord(strings.ToLower(name), words) {
			continue
		}

		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
		p, ok := l.parsers[ext]
		if !ok {
			continue
		}

		path := filepath.Join(l.dir, name)
		result, err := p.Parse(ctx, path)
		if err != nil {
			continue
		}
		content := parser.FlattenText(result.Sections)
		if content == "" {
			continue
		}
		docs = append(docs, kg.Document{
			ID:      path,
			Title:   strings.TrimSuffix(name, filepath.Ext(name)),
			Content: content,
		})
	}
	return filterEmptyContent(docs), nil
}

func matchesAnyWord(haystack string, words []string) bool {
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if len(w) > 2 && strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}
