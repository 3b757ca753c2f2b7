// Package store persists the test-case-store (§6): a small SQLite
// schema used to evaluate Recoverer/PaperAdder precision and recall
// against a known-relevant document set. It is entirely optional —
// the in-memory kg.Graph and vectorindex.Memory are sufficient for
// every in-spec runtime operation (§6 Non-goals (d)) — and exists
// alongside them purely for offline evaluation harnesses.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sotatable/sota/kg"
)

// Store wraps the SQLite database backing the test-case-store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at dbPath and initialises
// the test-case-store schema.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for callers that need it (matching the
// teacher's own escape hatch for ad-hoc queries).
func (s *Store) DB() *sql.DB { return s.db }

// UpsertDocument inserts or replaces a document row from a kg.Document.
func (s *Store) UpsertDocument(ctx context.Context, doc kg.Document) error {
	authors, err := json.Marshal(doc.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, abstract, authors, content)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, abstract=excluded.abstract,
			authors=excluded.authors, content=excluded.content`,
		doc.ID, doc.Title, doc.Abstract, string(authors), doc.Content)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument loads a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*kg.Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, title, abstract, authors, content FROM documents WHERE id = ?", id)
	return scanDocument(row)
}

// ListDocuments returns every document in the store.
func (s *Store) ListDocuments(ctx context.Context) ([]kg.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, abstract, authors, content FROM documents")
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []kg.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*kg.Document, error) {
	var doc kg.Document
	var authorsJSON string
	if err := row.Scan(&doc.ID, &doc.Title, &doc.Abstract, &authorsJSON, &doc.Content); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	if authorsJSON != "" {
		if err := json.Unmarshal([]byte(authorsJSON), &doc.Authors); err != nil {
			return nil, fmt.Errorf("unmarshaling authors: %w", err)
		}
	}
	return &doc, nil
}

// CreateTestCase registers the seed queries for a test case. Queries
// are upserted idempotently so re-seeding the same test case is safe.
func (s *Store) CreateTestCase(ctx context.Context, testCaseID string, queries []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin test case insert: %w", err)
	}
	defer tx.Rollback()

	for _, q := range queries {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO test_cases_queries (test_case_id, query_str) VALUES (?, ?)",
			testCaseID, q); err != nil {
			return fmt.Errorf("inserting test case query: %w", err)
		}
	}
	return tx.Commit()
}

// AddRelevantDocument records that documentID is a ground-truth match
// for testCaseID with the given graded relevance.
func (s *Store) AddRelevantDocument(ctx context.Context, testCaseID, documentID string, relevance int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO test_cases (test_case_id, document_id, relevance) VALUES (?, ?, ?)
		 ON CONFLICT(test_case_id, document_id) DO UPDATE SET relevance=excluded.relevance`,
		testCaseID, documentID, relevance)
	if err != nil {
		return fmt.Errorf("adding relevant document: %w", err)
	}
	return nil
}

// TestCaseQueries returns the seed queries for a test case.
func (s *Store) TestCaseQueries(ctx context.Context, testCaseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT query_str FROM test_cases_queries WHERE test_case_id = ?", testCaseID)
	if err != nil {
		return nil, fmt.Errorf("reading test case queries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// TestCaseRelevance returns documentID -> relevance for every
// ground-truth match recorded against testCaseID, for computing
// precision/recall of a Recoverer/PaperAdder run against it.
func (s *Store) TestCaseRelevance(ctx context.Context, testCaseID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT document_id, relevance FROM test_cases WHERE test_case_id = ?", testCaseID)
	if err != nil {
		return nil, fmt.Errorf("reading test case relevance: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var docID string
		var relevance int
		if err := rows.Scan(&docID, &relevance); err != nil {
			return nil, err
		}
		out[docID] = relevance
	}
	return out, rows.Err()
}

// ListTestCaseIDs returns every distinct test case id known to the store.
func (s *Store) ListTestCaseIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT test_case_id FROM test_cases_queries
		 UNION SELECT DISTINCT test_case_id FROM test_cases`)
	if err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
