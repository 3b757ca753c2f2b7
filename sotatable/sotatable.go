// Package sotatable implements the SotaTable (§3): a comparison matrix
// of papers (rows) against salient features (columns), rendered to the
// persisted markdown format of §6 and, newly, to XLSX. Concurrency is
// the caller's responsibility — the kanban.Board that owns a Table
// serializes access through its single mutex (§5).
package sotatable

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sotatable/sota/kg"
)

// NotAvailable is the rendered value for a column a row does not
// populate (§3, §6).
const NotAvailable = "Not Available"

// PaperFeatures is one row's non-document data: {authors, title, year,
// domain, features: map<column, value>} (§3).
type PaperFeatures struct {
	Authors  []string
	Title    string
	Year     int
	Domain   string
	Features map[string]string // column -> value, exactly the current column set (§3 invariant)
}

// Row pairs a Document with its PaperFeatures.
type Row struct {
	Document kg.Document
	Features PaperFeatures
}

// Table is a SotaTable: an ordered feature-column list and a list of
// (Document, PaperFeatures) rows (§3).
type Table struct {
	Features []string // ordered column names, insertion order
	Rows     []Row
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// AddFeatureColumn appends name to the column set if not already
// present, backfilling NotAvailable into every existing row so the
// rectangularity invariant (§3, §8 property 7) holds immediately.
func (t *Table) AddFeatureColumn(name string) {
	for _, f := range t.Features {
		if f == name {
			return
		}
	}
	t.Features = append(t.Features, name)
	for i := range t.Rows {
		if t.Rows[i].Features.Features == nil {
			t.Rows[i].Features.Features = make(map[string]string)
		}
		if _, ok := t.Rows[i].Features.Features[name]; !ok {
			t.Rows[i].Features.Features[name] = NotAvailable
		}
	}
}

// AddRow appends a (Document, PaperFeatures) row, padding any column in
// the current column set the caller omitted with NotAvailable and
// adding any column the caller supplied that the table doesn't know
// about yet (§3 invariant: "every row's features map contains exactly
// the current column set").
func (t *Table) AddRow(doc kg.Document, features PaperFeatures) {
	if features.Features == nil {
		features.Features = make(map[string]string)
	}
	for col := range features.Features {
		t.AddFeatureColumn(col)
	}
	for _, col := range t.Features {
		if _, ok := features.Features[col]; !ok {
			features.Features[col] = NotAvailable
		}
	}
	t.Rows = append(t.Rows, Row{Document: doc, Features: features})
}

// RemoveByDocumentID removes every row whose document id is in ids,
// then garbage-collects any feature column no surviving row references
// (§4.8 step 4, §8 property 8). Returns the ids actually removed.
func (t *Table) RemoveByDocumentID(ids map[string]bool) []string {
	var removed []string
	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if ids[r.Document.ID] {
			removed = append(removed, r.Document.ID)
			continue
		}
		kept = append(kept, r)
	}
	t.Rows = kept
	t.gcColumns()
	return removed
}

// gcColumns drops every feature column that no remaining row populates
// with a value other than NotAvailable (§4.8 step 4, §8 property 8,
// scenario E5). Rectangularity (§3) is preserved: dropping a column
// removes its key from every row's features map, since the column set
// invariant only requires the map to cover exactly the *current*
// column set.
func (t *Table) gcColumns() {
	if len(t.Rows) == 0 {
		t.Features = nil
		return
	}
	referenced := make(map[string]bool, len(t.Features))
	for _, r := range t.Rows {
		for col, v := range r.Features.Features {
			if v != NotAvailable && v != "" {
				referenced[col] = true
			}
		}
	}
	kept := t.Features[:0]
	for _, col := range t.Features {
		if referenced[col] {
			kept = append(kept, col)
		}
	}
	t.Features = append([]string{}, kept...)
	for i := range t.Rows {
		for col := range t.Rows[i].Features.Features {
			if !referenced[col] {
				delete(t.Rows[i].Features.Features, col)
			}
		}
	}
}

// IndexedMarkdown renders the table with a leading "Index" column for
// DocumentRemover's vote-by-index flow (§4.8 step 1), and returns the
// parallel index -> document id mapping.
func (t *Table) IndexedMarkdown() (string, map[int]string) {
	mapping := make(map[int]string, len(t.Rows))
	header := append([]string{"Index"}, t.columnHeaders()...)
	var rows [][]string
	for i, r := range t.Rows {
		mapping[i] = r.Document.ID
		rows = append(rows, append([]string{fmt.Sprintf("%d", i)}, t.rowCells(r)...))
	}
	return renderMarkdownTable(header, rows), mapping
}

// Markdown renders the stable-column-order SOTA-as-markdown persisted
// format (§6): authors, title, year, domain, <feature columns in
// insertion order>, one row per paper, missing values as NotAvailable.
func (t *Table) Markdown() string {
	header := t.columnHeaders()
	var rows [][]string
	for _, r := range t.Rows {
		rows = append(rows, t.rowCells(r))
	}
	return renderMarkdownTable(header, rows)
}

func (t *Table) columnHeaders() []string {
	return append([]string{"authors", "title", "year", "domain"}, t.Features...)
}

func (t *Table) rowCells(r Row) []string {
	cells := []string{
		strings.Join(r.Features.Authors, ", "),
		r.Features.Title,
		fmt.Sprintf("%d", r.Features.Year),
		r.Features.Domain,
	}
	for _, col := range t.Features {
		v, ok := r.Features.Features[col]
		if !ok || v == "" {
			v = NotAvailable
		}
		cells = append(cells, v)
	}
	return cells
}

func renderMarkdownTable(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(header, " | "))
	b.WriteString(" |\n|")
	for range header {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString("| ")
		b.WriteString(strings.Join(escapeCells(row), " | "))
		b.WriteString(" |\n")
	}
	return b.String()
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = strings.ReplaceAll(c, "|", "\\|")
	}
	return out
}

// WriteXLSX renders the same column order as Markdown into an xlsx
// workbook, giving excelize (already a teacher dependency via
// parser.XLSXParser) a second call site on the write path (SPEC_FULL §3
// DOMAIN STACK).
func (t *Table) WriteXLSX(path string) error {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "SOTA"
	f.SetSheetName(f.GetSheetName(0), sheet)

	header := t.columnHeaders()
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}
	for rIdx, r := range t.Rows {
		cells := t.rowCells(r)
		for cIdx, v := range cells {
			cell, _ := excelize.CoordinatesToCellName(cIdx+1, rIdx+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	return f.SaveAs(path)
}

// SortedFeatureSnapshot returns a copy of the feature list sorted
// lexically, used only for deterministic test assertions; Features
// itself stays insertion-ordered for Markdown/WriteXLSX.
func (t *Table) SortedFeatureSnapshot() []string {
	out := make([]string, len(t.Features))
	copy(out, t.Features)
	sort.Strings(out)
	return out
}
