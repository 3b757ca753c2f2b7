package vectorindex

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLiteVec is a persistent Index backed by sqlite-vec's vec0 virtual
// table, for runs that need the index to survive a process restart.
// store/insert and distance semantics mirror the pattern used by the
// document-reasoning engine this module was built from: embeddings are
// serialized as little-endian float32 bytes and matched with the vec0
// `MATCH ... AND k = ?` query form.
type SQLiteVec struct {
	db  *sql.DB
	dim int
}

// NewSQLiteVec opens (or creates) a sqlite-vec backed index at dbPath
// with the given vector dimension.
func NewSQLiteVec(dbPath string, dim int) (*SQLiteVec, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating vector index directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening vector index database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector index database: %w", err)
	}

	schema := fmt.Sprintf(`
CREATE VIRTUAL TABLE IF NOT EXISTS vec_items USING vec0(
    item_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
CREATE TABLE IF NOT EXISTS vec_ids (
    item_id INTEGER PRIMARY KEY AUTOINCREMENT
);
`, dim)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vector index schema: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLiteVec{db: db, dim: dim}, nil
}

// Store inserts vector and returns a freshly assigned, strictly
// increasing id.
func (s *SQLiteVec) Store(vector []float32) (int64, error) {
	if len(vector) != s.dim {
		return 0, fmt.Errorf("vectorindex: expected dim %d, got %d", s.dim, len(vector))
	}

	res, err := s.db.Exec("INSERT INTO vec_ids DEFAULT VALUES")
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	_, err = s.db.Exec(
		"INSERT INTO vec_items (item_id, embedding) VALUES (?, ?)",
		id, serializeFloat32(vector))
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetClosest performs a KNN search over vec_items and returns up to k
// ids ordered by ascending distance (nearest first).
func (s *SQLiteVec) GetClosest(vector []float32, k int) ([]int64, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT item_id FROM vec_items
		WHERE embedding MATCH ? AND k = ?
		ORDER BY distance
	`, serializeFloat32(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteVec) Close() error {
	return s.db.Close()
}

// serializeFloat32 converts a float32 slice to little-endian bytes, the
// wire format sqlite-vec expects for a float[N] column.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
