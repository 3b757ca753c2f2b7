package sourceadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sotatable/sota/kg"
	"github.com/sotatable/sota/parser"
	"github.com/sotatable/sota/resilience"
)

// SemanticScholarAdapter recovers papers from the Semantic Scholar
// Graph API, preferring the open-access PDF when present and falling
// back to the abstract as content otherwise. Grounded on
// original_source/doc_recoverers/semantic_scholar_recoverer.
type SemanticScholarAdapter struct {
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	backoff    resilience.BackoffConfig
	pdfParser  parser.Parser
}

// NewSemanticScholarAdapter returns a SemanticScholarAdapter with
// default resilience settings.
func NewSemanticScholarAdapter() *SemanticScholarAdapter {
	return &SemanticScholarAdapter{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		breaker:    resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "semantic-scholar"}),
		backoff:    resilience.DefaultBackoffConfig(),
		pdfParser:  &parser.PDFParser{},
	}
}

func (s *SemanticScholarAdapter) Name() string { return "Semantic Scholar Recoverer" }

func (s *SemanticScholarAdapter) Description() string {
	return "Retrieves papers from Semantic Scholar using a text query, preferring open-access PDFs."
}

const semanticScholarSearchURL = "https://api.semanticscholar.org/graph/v1/paper/search"

type ssSearchResponse struct {
	Data []ssPaper `json:"data"`
}

type ssPaper struct {
	PaperID       string     `json:"paperId"`
	Title         string     `json:"title"`
	Abstract      string     `json:"abstract"`
	Authors       []ssAuthor `json:"authors"`
	OpenAccessPDF *ssPDF     `json:"openAccessPdf"`
}

type ssAuthor struct {
	Name string `json:"name"`
}

type ssPDF struct {
	URL string `json:"url"`
}

func (s *SemanticScholarAdapter) Recover(ctx context.Context, query string, k int, dateRange *DateRange) ([]kg.Document, error) {
	papers, err := s.search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("sourceadapter: semantic scholar search: %w", err)
	}

	docs := make([]kg.Document, 0, len(papers))
	for _, p := range papers {
		authors := make([]string, len(p.Authors))
		for i, a := range p.Authors {
			authors[i] = a.Name
		}

		content := p.Abstract
		if p.OpenAccessPDF != nil && p.OpenAccessPDF.URL != "" {
			if text, err := s.downloadAndExtract(ctx, p.OpenAccessPDF.URL); err == nil && text != "" {
				content = text
			}
		}

		docs = append(docs, kg.Document{
			ID:       p.PaperID,
			Title:    p.Title,
			Abstract: p.Abstract,
			Authors:  authors,
			Content:  content,
		})
	}
	return filterEmptyContent(docs), nil
}

func (s *SemanticScholarAdapter) search(ctx context.Context, query string, k int) ([]ssPaper, error) {
	params := url.Values{
		"query":  {query},
		"fields": {"title,abstract,authors,openAccessPdf"},
		"limit":  {fmt.Sprintf("%d", k)},
	}
	reqURL := semanticScholarSearchURL + "?" + params.Encode()

	var body []byte
	err := resilience.DoWithBackoff(ctx, s.backoff, func() (int, string, error) {
		var status int
		breakerErr := s.breaker.Execute(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return err
			}
			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			status = resp.StatusCode
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("semantic scholar: unexpected status %d", resp.StatusCode)
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

	var parsed ssSearchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding semantic scholar response: %w", err)
	}
	return parsed.Data, nil
}

func (s *SemanticScholarAdapter) downloadAndExtract(ctx context.Context, pdfURL string) (string, error) {
	var tmpPath string
	err := resilience.DoWithBackoff(ctx, s.backoff, func() (int, string, error) {
		var status int
		breakerErr := s.breaker.Execute(func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
			if err != nil {
				return err
			}
			resp, err := s.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			status = resp.StatusCode
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("semantic scholar pdf: unexpected status %d", resp.StatusCode)
			}
			f, err := os.CreateTemp("", "ss-*.pdf")
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

	result, err := s.pdfParser.Parse(ctx, tmpPath)
	if err != nil {
		return "", err
	}
	return parser.FlattenText(result.Sections), nil
}
