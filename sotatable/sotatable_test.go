package sotatable

import (
	"strings"
	"testing"

	"github.com/sotatable/sota/kg"
)

// TestRemoveByDocumentID_GarbageCollectsOrphanColumns is scenario E5:
// columns [m, d], r1 populates m only, r2 populates d only; removing r2
// must drop d and keep m.
func TestRemoveByDocumentID_GarbageCollectsOrphanColumns(t *testing.T) {
	tbl := New()
	tbl.AddRow(kg.Document{ID: "r1"}, PaperFeatures{Features: map[string]string{"m": "v1", "d": NotAvailable}})
	tbl.AddRow(kg.Document{ID: "r2"}, PaperFeatures{Features: map[string]string{"m": NotAvailable, "d": "v2"}})

	removed := tbl.RemoveByDocumentID(map[string]bool{"r2": true})
	if len(removed) != 1 || removed[0] != "r2" {
		t.Fatalf("expected r2 removed, got %v", removed)
	}
	if len(tbl.Rows) != 1 {
		t.Fatalf("expected 1 row remaining, got %d", len(tbl.Rows))
	}
	if len(tbl.Features) != 1 || tbl.Features[0] != "m" {
		t.Fatalf("expected only column m to survive, got %v", tbl.Features)
	}
	if _, ok := tbl.Rows[0].Features.Features["d"]; ok {
		t.Fatalf("expected orphan column d removed from surviving row")
	}
}

func TestAddRow_Rectangularity(t *testing.T) {
	tbl := New()
	tbl.AddRow(kg.Document{ID: "a"}, PaperFeatures{Features: map[string]string{"method": "x"}})
	tbl.AddRow(kg.Document{ID: "b"}, PaperFeatures{Features: map[string]string{"dataset": "y"}})

	for _, r := range tbl.Rows {
		for _, col := range tbl.Features {
			if _, ok := r.Features.Features[col]; !ok {
				t.Fatalf("row %s missing column %s", r.Document.ID, col)
			}
		}
	}
}

func TestMarkdown_StableColumnOrder(t *testing.T) {
	tbl := New()
	tbl.AddRow(kg.Document{ID: "a"}, PaperFeatures{
		Authors: []string{"Alice", "Bob"}, Title: "A Paper", Year: 2023, Domain: "NLP",
		Features: map[string]string{"method": "transformer"},
	})

	md := tbl.Markdown()
	if !strings.HasPrefix(md, "| authors | title | year | domain | method |") {
		t.Fatalf("unexpected header: %q", strings.SplitN(md, "\n", 2)[0])
	}
	if !strings.Contains(md, "Alice, Bob") || !strings.Contains(md, "transformer") {
		t.Fatalf("expected row data in markdown: %s", md)
	}
}

func TestIndexedMarkdown_MapsIndicesToDocumentIDs(t *testing.T) {
	tbl := New()
	tbl.AddRow(kg.Document{ID: "doc-a"}, PaperFeatures{Features: map[string]string{}})
	tbl.AddRow(kg.Document{ID: "doc-b"}, PaperFeatures{Features: map[string]string{}})

	md, mapping := tbl.IndexedMarkdown()
	if mapping[0] != "doc-a" || mapping[1] != "doc-b" {
		t.Fatalf("unexpected index mapping: %v", mapping)
	}
	if !strings.Contains(md, "Index") {
		t.Fatalf("expected Index column header, got %s", md)
	}
}
