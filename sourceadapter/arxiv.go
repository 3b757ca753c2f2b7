package sourceadapter

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/parser"
	"github.com/sotatable/sota/resilience"
)

// ArxivAdapter recovers papers from the arXiv public search API,
// downloading and parsing the PDF of each hit with parser.PDFParser.
// Grounded on original_source/doc_recoverers/arXiv_recoverer.
type ArxivAdapter struct {
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	backoff    resilience.BackoffConfig
	pdfParser  parser.Parser
}

// NewArxivAdapter returns an ArxivAdapter with default resilience
// settings.
func NewArxivAdapter() *ArxivAdapter {
	return &ArxivAdapter{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "arxiv"}),
		backoff:    resilience.DefaultBackoffConfig(),
		pdfParser:  &parser.PDFParser{},
	}
}

func (a *ArxivAdapter) Name() string { return "arXiv Recoverer" }

func (a *ArxivAdapter) Description() string {
	return "Retrieves papers from arXiv using text queries, with inline PDF download and extraction."
}

const arxivSearchURL = "http://export.arxiv.org/api/query"

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID      string       `xml:"id"`
	Title   string       `xml:"title"`
	Summary string       `xml:"summary"`
	Authors []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

var arxivIDRe = regexp.MustCompile(`abs/([^v]+)`)

func (a *ArxivAdapter) Recover(ctx context.Context, query string, k int, dateRange *DateRange) ([]kg.Document, error) {
	entries, err := a.search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("sourceadapter: arxiv search: %w", err)
	}

	docs := make([]kg.Document, 0, len(entries))
	for _, e := range entries {
		content, err := a.downloadAndExtract(ctx, e.pdfURL)
		if err != nil {
			content = ""
		}
		docs = append(docs, kg.Document{
			ID:       e.id,
			Title:    e.title,
			Abstract: e.summary,
			Authors:  e.authors,
			Content:  content,
		})
	}
	return filterEmptyContent(docs), nil
}

type arxivEntry struct {
	id, title, summary, pdfURL string
	authors                    []string
}

func (a *ArxivAdapter) search(ctx context.Context, query string, k int) ([]arxivEntry, error) {
	params := url.Values{
		"search_query": {query},
		"start":        {"0"},
		"max_results":  {fmt.Sprintf("%d", k)},
		"sortBy":       {"relevance"},
		"sortOrder":    {"descending"},
	}
	reqURL := arxivSearchURL + "?" + params.Encode()

	var body []byte
	err := resilience.DoWithBackoff(ctx, a.backoff, func() (int, string, error) {
		var status int
		breakerErr := a.breaker.Execute(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return err
			}
			resp, err := a.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			status = resp.StatusCode
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("arxiv: unexpected status %d", resp.StatusCode)
			}
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
		return status, "", breakerErr
	})
	if err != nil {
		return nil, err
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing atom feed: %w", err)
	}

	entries := make([]arxivEntry, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		id := extractArxivID(e.ID)
		authors := make([]string, len(e.Authors))
		for i, au := range e.Authors {
			authors[i] = au.Name
		}
		entries = append(entries, arxivEntry{
			id:      id,
			title:   strings.TrimSpace(e.Title),
			summary: strings.TrimSpace(e.Summary),
			authors: authors,
			pdfURL:  fmt.Sprintf("https://arxiv.org/pdf/%s.pdf", id),
		})
	}
	return entries, nil
}

func extractArxivID(rawID string) string {
	if m := arxivIDRe.FindStringSubmatch(rawID); len(m) > 1 {
		return m[1]
	}
	parts := strings.Split(strings.TrimRight(rawID, "/"), "/")
	return parts[len(parts)-1]
}

// downloadAndExtract fetches a PDF over HTTP, writes it to a temp file
// (parser.Parser operates on file paths) and extracts its flattened
// text.
func (a *ArxivAdapter) downloadAndExtract(ctx context.Context, pdfURL string) (string, error) {
	var tmpPath string
	err := resilience.DoWithBackoff(ctx, a.backoff, func() (int, string, error) {
		var status int
		breakerErr := a.breaker.Execute(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
			if err != nil {
				return err
			}
			resp, err := a.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			status = resp.StatusCode
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("arxiv pdf: unexpected status %d", resp.StatusCode)
			}
			f, err := os.CreateTemp("", "arxiv-*.pdf")
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(f, resp.Body); err != nil {
				return err
			}
			tmpPath = f.Name()
			return nil
		})
		return status, "", breakerErr
	})
	if err != nil {
		return "", err
	}
	defer os.Remove(tmpPath)

	result, err := a.pdfParser.Parse(ctx, tmpPath)
	if err != nil {
		return "", err
	}
	return parser.FlattenText(result.Sections), nil
}
