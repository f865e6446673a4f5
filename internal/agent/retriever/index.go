package retriever

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	source    TEXT NOT NULL,
	topic     TEXT NOT NULL,
	text      TEXT NOT NULL,
	embedding BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_topic ON chunks(topic);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Chunk is a piece of a corpus document before embedding.
type Chunk struct {
	Source string
	Topic  string
	Text   string
}

// Document is a search hit.
type Document struct {
	Text   string
	Source string
	Topic  string
	Score  float32
}

// Index stores chunk embeddings in SQLite. Vectors are little-endian
// float32 BLOBs and similarity is computed in Go; rule corpora are small
// enough for a full scan.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates the index file at path.
func OpenIndex(path string) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("index path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open index db: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// EmbedderName returns the embedder the index was built with, or "" for an
// index that was never built.
func (ix *Index) EmbedderName(ctx context.Context) (string, error) {
	var name string
	err := ix.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'embedder'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read index meta: %w", err)
	}
	return name, nil
}

func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Replace swaps the whole index content in one transaction.
func (ix *Index) Replace(ctx context.Context, embedder string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (source, topic, text, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.Source, c.Topic, c.Text, encodeFloat32s(vectors[i])); err != nil {
			return fmt.Errorf("failed to insert chunk from %s: %w", c.Source, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('embedder', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, embedder); err != nil {
		return fmt.Errorf("failed to write index meta: %w", err)
	}
	return tx.Commit()
}

// Search returns the k chunks most similar to vector. A non-empty topic
// restricts the scan to that topic.
func (ix *Index) Search(ctx context.Context, vector []float32, k int, topic string) ([]Document, error) {
	query := `SELECT source, topic, text, embedding FROM chunks`
	var args []interface{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			doc  Document
			blob []byte
		)
		if err := rows.Scan(&doc.Source, &doc.Topic, &doc.Text, &blob); err != nil {
			return nil, fmt.Errorf("failed to read chunk: %w", err)
		}
		stored := decodeFloat32s(blob)
		if len(stored) != len(vector) {
			continue // built with another dimension
		}
		doc.Score = cosineSimilarity(vector, stored)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	if k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
