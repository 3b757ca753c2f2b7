// Package sourceadapter implements the SourceAdapter port (§4.6, §6):
// pluggable external document sources the Recoverer can query when the
// knowledge graph is insufficient to answer a query. Concrete adapters
// are grounded on original_source/doc_recoverers' arXiv and Semantic
// Scholar scrapers, reworked onto net/http plus the existing parser
// package's PDF extraction, and wrapped with resilience.CircuitBreaker
// and resilience.DoWithBackoff per the teacher's transport retry style
// (llm/openai_compat.go's doPost loop).
package sourceadapter

import (
	"context"

	"github.com/sotatable/sota/kg"
)

// DateRange optionally bounds a Recover call to a publication window
// (§4.6 step 5: "each adapter is given a k and an optional date range").
type DateRange struct {
	Start string // YYYY-MM-DD
	End   string // YYYY-MM-DD
}

// Adapter is one external document source.
type Adapter interface {
	Name() string
	Description() string
	// Recover runs a single sub-query against the source, returning up
	// to k Documents. Implementations never return documents with empty
	// content (§4.6 step 5): each concrete adapter passes its results
	// through filterEmptyContent; the caller does not filter again.
	Recover(ctx context.Context, query string, k int, dateRange *DateRange) ([]kg.Document, error)
}

// filterEmptyContent drops Documents with no extractable content, the
// shared backstop every concrete adapter's Recover applies before
// returning (§4.6 step 5).
func filterEmptyContent(docs []kg.Document) []kg.Document {
	out := docs[:0]
	for _, d := range docs {
		if d.Content != "" {
			out = append(out, d)
		}
	}
	return out
}
