// Package vectorstore provides in-process similarity search over knowledge
// chunks with typed metadata.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/embedding"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// ErrDimensionMismatch indicates an embedding with the wrong dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ChunkMetadata carries provenance and routing fields for a chunk.
type ChunkMetadata struct {
	Source           string `json:"source"`
	UploadedBy       string `json:"uploaded_by,omitempty"`
	UploadTS         string `json:"upload_ts,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	Phase            string `json:"phase,omitempty"`
	Purpose          string `json:"purpose,omitempty"`
	Format           string `json:"format,omitempty"`
	Type             string `json:"type,omitempty"`
}

// Chunk is a unit of indexed text. Immutable after insert.
type Chunk struct {
	ChunkID   string        `json:"chunk_id"`
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// SearchResult pairs a chunk with its similarity score.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// DeleteResult reports the outcome of a delete-by-source call.
type DeleteResult struct {
	Deleted   int  `json:"deleted"`
	Remaining int  `json:"remaining"`
	Success   bool `json:"success"`
}

// SearchOptions shapes a search call.
type SearchOptions struct {
	// ScoreThreshold drops results scoring below it when > 0.
	ScoreThreshold float64
	// MetadataFilter is a conjunction over metadata fields; empty values
	// are ignored.
	MetadataFilter *ChunkMetadata
}

// Store holds chunks and answers exact-cosine top-k queries. Writes are
// serialized; reads run concurrently. Sized for up to ~10^6 chunks.
type Store struct {
	mu       sync.RWMutex
	chunks   []Chunk
	embedder embedding.Embedder
	dim      int
	path     string
	logger   *observability.Logger
}

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	// Path is the persistence file; empty disables Save/Load.
	Path string
}

// NewStore creates a vector store backed by the given embedder.
func NewStore(embedder embedding.Embedder, cfg StoreConfig, logger *observability.Logger) *Store {
	return &Store{
		embedder: embedder,
		dim:      embedder.Dimension(),
		path:     cfg.Path,
		logger:   logger,
	}
}

// Dimension returns the store's embedding dimension.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Count returns the number of stored chunks.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Insert validates and appends chunks. Chunks without an embedding are
// embedded first. A chunk with the same (source, chunk_id) as an existing
// one replaces it in place. The call is atomic: on any failure no chunks
// are added.
func (s *Store) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var missingIdx []int
	var missingTexts []string
	for i := range chunks {
		if len(chunks[i].Embedding) == 0 {
			missingIdx = append(missingIdx, i)
			missingTexts = append(missingTexts, chunks[i].Content)
		}
	}

	if len(missingTexts) > 0 {
		vectors, err := s.embedder.Embed(ctx, missingTexts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		for j, i := range missingIdx {
			if j >= len(vectors) || len(vectors[j]) == 0 {
				return fmt.Errorf("embed chunks: empty vector for chunk %s", chunks[i].ChunkID)
			}
			chunks[i].Embedding = vectors[j]
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range chunks {
		if len(chunks[i].Embedding) != s.dim {
			return fmt.Errorf("%w: expected %d, got %d for chunk %s",
				ErrDimensionMismatch, s.dim, len(chunks[i].Embedding), chunks[i].ChunkID)
		}
	}

	for _, c := range chunks {
		replaced := false
		for i := range s.chunks {
			if s.chunks[i].Metadata.Source == c.Metadata.Source && s.chunks[i].ChunkID == c.ChunkID {
				s.chunks[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			s.chunks = append(s.chunks, c)
		}
	}

	s.logger.Debug().Int("inserted", len(chunks)).Int("total", len(s.chunks)).Msg("chunks inserted")
	return nil
}

// Search returns the top-k chunks by cosine similarity to the query text.
// Ties break by insertion order. Results below opts.ScoreThreshold are
// dropped.
func (s *Store) Search(ctx context.Context, query string, k int, opts SearchOptions) ([]SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}

	queryVec, err := s.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(queryVec) != s.dim {
		return nil, fmt.Errorf("%w: query dimension %d, store dimension %d",
			ErrDimensionMismatch, len(queryVec), s.dim)
	}

	type scored struct {
		idx   int
		score float64
	}
	var candidates []scored
	for i := range s.chunks {
		if !matchesFilter(s.chunks[i].Metadata, opts.MetadataFilter) {
			continue
		}
		score := cosineSimilarity(queryVec, s.chunks[i].Embedding)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		candidates = append(candidates, scored{idx: i, score: score})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]SearchResult, k)
	for i := 0; i < k; i++ {
		results[i] = SearchResult{
			Chunk: s.chunks[candidates[i].idx],
			Score: candidates[i].score,
		}
	}
	return results, nil
}

// DeleteBySource removes all chunks whose metadata.source matches.
// Success is false iff nothing matched.
func (s *Store) DeleteBySource(source string) DeleteResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.chunks[:0]
	deleted := 0
	for _, c := range s.chunks {
		if c.Metadata.Source == source {
			deleted++
			continue
		}
		kept = append(kept, c)
	}
	s.chunks = kept

	return DeleteResult{
		Deleted:   deleted,
		Remaining: len(s.chunks),
		Success:   deleted > 0,
	}
}

type persistedState struct {
	Dimension int     `json:"dimension"`
	SavedAt   string  `json:"saved_at"`
	Chunks    []Chunk `json:"chunks"`
}

// Save persists the chunk list atomically (write-to-temp-then-rename).
// A failed save leaves the previous persisted state intact.
func (s *Store) Save() error {
	if s.path == "" {
		return fmt.Errorf("no persistence path configured")
	}

	s.mu.RLock()
	state := persistedState{
		Dimension: s.dim,
		SavedAt:   time.Now().UTC().Format(time.RFC3339),
		Chunks:    s.chunks,
	}
	data, err := json.Marshal(state)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename store: %w", err)
	}

	s.logger.Info().Int("chunks", len(state.Chunks)).Str("path", s.path).Msg("vector store saved")
	return nil
}

// Load restores persisted state. A missing file yields an empty store
// without error.
func (s *Store) Load() error {
	if s.path == "" {
		return fmt.Errorf("no persistence path configured")
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read store: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal store: %w", err)
	}

	s.mu.Lock()
	s.chunks = state.Chunks
	if state.Dimension > 0 {
		s.dim = state.Dimension
	}
	s.mu.Unlock()

	s.logger.Info().Int("chunks", len(state.Chunks)).Str("path", s.path).Msg("vector store loaded")
	return nil
}

// matchesFilter applies a conjunction over non-empty filter fields.
func matchesFilter(md ChunkMetadata, filter *ChunkMetadata) bool {
	if filter == nil {
		return true
	}
	if filter.Source != "" && md.Source != filter.Source {
		return false
	}
	if filter.UploadedBy != "" && md.UploadedBy != filter.UploadedBy {
		return false
	}
	if filter.Phase != "" && md.Phase != filter.Phase {
		return false
	}
	if filter.Purpose != "" && md.Purpose != filter.Purpose {
		return false
	}
	if filter.Format != "" && md.Format != filter.Format {
		return false
	}
	if filter.Type != "" && md.Type != filter.Type {
		return false
	}
	return true
}

// cosineSimilarity computes cosine similarity between two vectors of equal
// length.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp floating point drift.
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim
}
