package knowledge

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Chunk is a retrieved contract fragment with its similarity score.
type Chunk struct {
	ID       string
	DocID    string
	Position int
	Text     string
	Score    float32
}

// Record is a chunk with its embedding, ready for insertion.
type Record struct {
	ID        string
	DocID     string
	Position  int
	Text      string
	Embedding []float32
}

// VectorStore provides per-tenant vector storage and brute-force cosine
// similarity search backed by SQLite. All rows are keyed by tenant hash;
// no operation ever reads across tenants.
type VectorStore struct {
	db *sql.DB
}

// NewVectorStore wraps an existing *sql.DB for vector operations. The
// contract_vectors and index_versions tables must already exist (created via
// migrations).
func NewVectorStore(db *sql.DB) *VectorStore {
	return &VectorStore{db: db}
}

// Replace atomically swaps a tenant's chunk set: existing rows are deleted,
// the new records inserted, and the tenant's index version bumped, all in one
// transaction. A reader never observes a half-replaced index.
func (s *VectorStore) Replace(tenantHash, docID string, records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM contract_vectors WHERE tenant_hash = ?", tenantHash); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting prior index: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO contract_vectors (id, tenant_hash, doc_id, position, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		if _, err := stmt.Exec(r.ID, tenantHash, r.DocID, r.Position, r.Text, blob, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO index_versions (tenant_hash, version) VALUES (?, 1)
		ON CONFLICT(tenant_hash) DO UPDATE SET version = version + 1`, tenantHash); err != nil {
		tx.Rollback()
		return fmt.Errorf("bumping index version: %w", err)
	}

	return tx.Commit()
}

// Search ranks a tenant's stored chunks by cosine similarity to the query
// vector, descending, and returns the top-K. A tenant with no index yields an
// empty result, not an error.
func (s *VectorStore) Search(tenantHash string, vector []float32, topK int) ([]Chunk, error) {
	queryNorm := norm(vector)
	if queryNorm == 0 || topK <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(`
		SELECT id, doc_id, position, text_chunk, embedding
		FROM contract_vectors WHERE tenant_hash = ?`, tenantHash)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &chunkHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var c Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.DocID, &c.Position, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}

		c.Score = dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, c)
		} else if c.Score > (*h)[0].Score {
			(*h)[0] = c
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	// Pop min-heap into descending score order.
	results := make([]Chunk, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(Chunk)
	}
	return results, nil
}

// Exists reports whether the tenant has any indexed chunks.
func (s *VectorStore) Exists(tenantHash string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM contract_vectors WHERE tenant_hash = ?", tenantHash).Scan(&n)
	return n > 0, err
}

// Version returns the tenant's index version, 0 if nothing was ever built.
// Sessions compare this against the version they last saw to detect a
// re-upload without an explicit reload signal.
func (s *VectorStore) Version(tenantHash string) (int64, error) {
	var v int64
	err := s.db.QueryRow("SELECT version FROM index_versions WHERE tenant_hash = ?", tenantHash).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// Count returns the number of chunks indexed for the tenant.
func (s *VectorStore) Count(tenantHash string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM contract_vectors WHERE tenant_hash = ?", tenantHash).Scan(&n)
	return n, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// chunkHeap is a min-heap of Chunk ordered by Score, used to track top-K
// candidates during the search scan.
type chunkHeap []Chunk

func (h chunkHeap) Len() int            { return len(h) }
func (h chunkHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h chunkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x interface{}) { *h = append(*h, x.(Chunk)) }
func (h *chunkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
