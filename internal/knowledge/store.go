// Package knowledge maintains the per-tenant contract index: it turns an
// uploaded lease PDF into embedded text chunks, stores them keyed by a
// one-way hash of the tenant identity, and answers similarity searches over
// them. Re-uploading replaces the whole index; a version counter lets
// sessions detect the swap without an explicit reload signal.
package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avelar/leasebot/internal/storage"
)

// embedConcurrency bounds concurrent embedding calls during a build.
const embedConcurrency = 4

// EmbeddingClient generates embeddings for text. Implemented by openai.Client.
type EmbeddingClient interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// SummaryStore persists extracted contract summaries. Implemented by
// storage.Store.
type SummaryStore interface {
	SaveContractSummary(tenantHash string, sum storage.ContractSummary) error
	GetContractSummary(tenantHash string) (storage.ContractSummary, error)
}

// Config holds the model names and timeouts the store uses for its
// collaborator calls.
type Config struct {
	EmbedModel   string
	ExtractModel string
	EmbedTimeout time.Duration
	Chunking     ChunkConfig
}

// Store is the per-tenant contract knowledge store.
type Store struct {
	vectors   *VectorStore
	summaries SummaryStore
	embedder  EmbeddingClient
	extractor ExtractionClient
	cfg       Config

	// Per-tenant locks: Build excludes concurrent Build/Search for the same
	// tenant while the index is being swapped; other tenants are unaffected.
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewStore creates a Store over the shared SQLite database.
func NewStore(db *sql.DB, summaries SummaryStore, embedder EmbeddingClient, extractor ExtractionClient, cfg Config) *Store {
	if cfg.Chunking.Size <= 0 {
		cfg.Chunking = DefaultChunkConfig()
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 15 * time.Second
	}
	return &Store{
		vectors:   NewVectorStore(db),
		summaries: summaries,
		embedder:  embedder,
		extractor: extractor,
		cfg:       cfg,
		locks:     make(map[string]*sync.RWMutex),
	}
}

// TenantHash derives the storage key for a tenant identity. Storage is never
// keyed by the raw identity, so the layout leaks nothing and the identity
// cannot smuggle path characters.
func TenantHash(tenantID string) string {
	sum := sha256.Sum256([]byte(tenantID))
	return hex.EncodeToString(sum[:])
}

func (s *Store) lock(tenantHash string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[tenantHash]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[tenantHash] = l
	}
	return l
}

// Build parses the PDF document, chunks and embeds it, and replaces the
// tenant's index. Any pre-existing index for the tenant is fully replaced,
// never merged. It then attempts a structured summary extraction over the
// leading chunks; extraction and summary-persistence failures are non-fatal
// once the index is live. Returns ErrNoText if the document yields no
// extractable text.
func (s *Store) Build(ctx context.Context, tenantID string, document []byte) (storage.ContractSummary, error) {
	text, err := ExtractPDFText(document)
	if err != nil {
		return storage.ContractSummary{}, err
	}
	return s.BuildText(ctx, tenantID, text)
}

// BuildText is Build for contracts already in plain text.
func (s *Store) BuildText(ctx context.Context, tenantID, text string) (storage.ContractSummary, error) {
	chunks := SplitText(text, s.cfg.Chunking)
	if len(chunks) == 0 {
		return storage.ContractSummary{}, ErrNoText
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return storage.ContractSummary{}, fmt.Errorf("embedding chunks: %w", err)
	}

	docID := uuid.New().String()
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:        uuid.New().String(),
			DocID:     docID,
			Position:  i,
			Text:      c,
			Embedding: vectors[i],
		}
	}

	tenantHash := TenantHash(tenantID)

	// Exclusive lock only around the swap: the embedding calls above run
	// without blocking this tenant's searches against the old index.
	l := s.lock(tenantHash)
	l.Lock()
	err = s.vectors.Replace(tenantHash, docID, records)
	l.Unlock()
	if err != nil {
		return storage.ContractSummary{}, fmt.Errorf("replacing index: %w", err)
	}

	sum := extractSummary(ctx, s.extractor, s.cfg.ExtractModel, chunks)
	if err := s.summaries.SaveContractSummary(tenantHash, sum); err != nil {
		// The index is already live; a failed summary write only degrades
		// the reminder job, so the upload still succeeds.
		slog.Warn("saving contract summary failed", "tenant", tenantHash, "error", err)
	}

	return sum, nil
}

func (s *Store) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	results := make([][]float32, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gCtx, s.cfg.EmbedTimeout)
			defer cancel()
			vec, err := s.embedder.Embed(callCtx, s.cfg.EmbedModel, chunk)
			if err != nil {
				return fmt.Errorf("embedding chunk %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Exists reports whether the tenant has a built index. Callers use this to
// distinguish "not uploaded yet" from an empty search result.
func (s *Store) Exists(tenantID string) bool {
	ok, err := s.vectors.Exists(TenantHash(tenantID))
	return err == nil && ok
}

// Version returns the tenant's current index version (0 = never built).
func (s *Store) Version(tenantID string) int64 {
	v, err := s.vectors.Version(TenantHash(tenantID))
	if err != nil {
		return 0
	}
	return v
}

// Search embeds the query and returns the tenant's top-k most similar
// chunks, ranked by cosine similarity descending. A tenant with no index
// yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, tenantID, query string, k int) ([]Chunk, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	defer cancel()
	vec, err := s.embedder.Embed(callCtx, s.cfg.EmbedModel, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	tenantHash := TenantHash(tenantID)
	l := s.lock(tenantHash)
	l.RLock()
	defer l.RUnlock()

	return s.vectors.Search(tenantHash, vec, k)
}

// Summary returns the stored contract summary for the tenant.
func (s *Store) Summary(tenantID string) (storage.ContractSummary, error) {
	return s.summaries.GetContractSummary(TenantHash(tenantID))
}
