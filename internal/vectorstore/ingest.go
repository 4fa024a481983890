package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// Ingestor chunks uploaded knowledge documents into the store and publishes
// cache invalidations so stale retrieval results are evicted.
type Ingestor struct {
	store  *Store
	cache  cache.Client
	config IngestConfig
	logger *observability.Logger
}

// IngestConfig holds chunking parameters.
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

// DefaultIngestConfig returns default chunking parameters.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		ChunkSize:    512,
		ChunkOverlap: 64,
	}
}

// Upload describes a knowledge document to ingest.
type Upload struct {
	Source           string `json:"source"`
	Content          string `json:"content"`
	UploadedBy       string `json:"uploaded_by,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	Phase            string `json:"phase,omitempty"`
	Purpose          string `json:"purpose,omitempty"`
	Format           string `json:"format,omitempty"`
}

// IngestResult reports an ingestion outcome.
type IngestResult struct {
	Source      string `json:"source"`
	ChunksAdded int    `json:"chunks_added"`
}

// NewIngestor creates an ingestor over the given store.
func NewIngestor(store *Store, c cache.Client, cfg IngestConfig, logger *observability.Logger) *Ingestor {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 8
	}
	return &Ingestor{store: store, cache: c, config: cfg, logger: logger}
}

// Ingest chunks and indexes an upload, then invalidates the RAG search
// namespace. Re-uploading the same source replaces its chunks.
func (in *Ingestor) Ingest(ctx context.Context, up Upload) (*IngestResult, error) {
	if up.Source == "" {
		up.Source = uuid.NewString()
	}

	pieces := splitText(up.Content, in.config.ChunkSize, in.config.ChunkOverlap)
	if len(pieces) == 0 {
		return &IngestResult{Source: up.Source}, nil
	}

	// Replacing: drop any previous chunks from the same source first.
	in.store.DeleteBySource(up.Source)

	now := time.Now().UTC().Format(time.RFC3339)
	chunks := make([]Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = Chunk{
			ChunkID: fmt.Sprintf("%s#%d", up.Source, i),
			Content: piece,
			Metadata: ChunkMetadata{
				Source:           up.Source,
				UploadedBy:       up.UploadedBy,
				UploadTS:         now,
				OriginalFilename: up.OriginalFilename,
				Phase:            up.Phase,
				Purpose:          up.Purpose,
				Format:           up.Format,
			},
		}
	}

	if err := in.store.Insert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", up.Source, err)
	}

	in.invalidate(ctx, up.Source)

	in.logger.Info().
		Str("source", up.Source).
		Int("chunks", len(chunks)).
		Msg("knowledge document ingested")

	return &IngestResult{Source: up.Source, ChunksAdded: len(chunks)}, nil
}

// Remove deletes a source's chunks and invalidates dependent caches.
func (in *Ingestor) Remove(ctx context.Context, source string) DeleteResult {
	result := in.store.DeleteBySource(source)
	if result.Success {
		in.invalidate(ctx, source)
	}
	return result
}

func (in *Ingestor) invalidate(ctx context.Context, source string) {
	if in.cache == nil {
		return
	}
	if err := in.cache.DeleteByPrefix(ctx, string(cache.NamespaceRAGSearch)+":"); err != nil {
		in.logger.Warn().Err(err).Msg("failed to evict retrieval cache after ingest")
	}
	if err := in.cache.Publish(ctx, cache.ChannelInvalidation, map[string]string{
		"reason": "knowledge_upload",
		"source": source,
	}); err != nil {
		in.logger.Debug().Err(err).Msg("failed to publish invalidation")
	}
}

// splitText cuts text into overlapping word-boundary chunks of roughly
// size characters.
func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}
		// Back off to the nearest space so words stay whole.
		cut := end
		for cut > start && text[cut] != ' ' && text[cut] != '\n' {
			cut--
		}
		if cut == start {
			cut = end
		}
		chunks = append(chunks, strings.TrimSpace(text[start:cut]))
		next := cut - overlap
		if next <= start {
			// Guarantee forward progress on pathological inputs.
			next = cut
		}
		start = next
	}

	out := chunks[:0]
	for _, c := range chunks {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
