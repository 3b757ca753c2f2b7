package store

// schemaSQL returns the DDL for the test-case-store (§6): a document
// registry plus the test-case ground truth used to evaluate Recoverer
// and PaperAdder precision/recall against a known-relevant document
// set, independent of the in-memory KnowledgeGraph used at runtime.
const schemaSQL = `
-- Document registry, seedable from a localfile SourceAdapter directory
-- or from anything the PaperAdder/Recoverer pipeline has already
-- resolved into a kg.Document.
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    abstract TEXT,
    authors JSON NOT NULL DEFAULT '[]',
    content TEXT NOT NULL
);

-- One row per (test case, relevant document) pair, with a graded
-- relevance judgment (§6: "relevance INT").
CREATE TABLE IF NOT EXISTS test_cases (
    test_case_id TEXT NOT NULL,
    document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    relevance    INTEGER NOT NULL,
    PRIMARY KEY (test_case_id, document_id)
);

-- Seed queries a test case should be run against (a test case can
-- carry more than one phrasing of the same information need).
CREATE TABLE IF NOT EXISTS test_cases_queries (
    test_case_id TEXT NOT NULL,
    query_str    TEXT NOT NULL,
    PRIMARY KEY (test_case_id, query_str)
);

CREATE INDEX IF NOT EXISTS idx_test_cases_document ON test_cases(document_id);
`
