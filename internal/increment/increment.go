// Package increment skips artifact regeneration when every generation
// input is byte-identical to a prior run. Entries live in the generation
// namespace of the shared cache.
package increment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
)

// HashVersion tags the hash semantics. Bumping it invalidates every prior
// entry at once.
const HashVersion = "v2"

// AgentFingerprint is the agent config subset that influences the hash.
// Fields outside this subset never cause a miss.
type AgentFingerprint struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Version     string  `json:"version"`
}

// Inputs enumerates everything that determines a generation result.
type Inputs struct {
	DocumentName      string
	Assumptions       []project.Assumption
	DependencyHashes  map[string]string
	ProjectID         string
	Phase             string
	AdditionalContext string
	Agent             AgentFingerprint
}

// Result is a cached generation outcome.
type Result struct {
	Content        string                 `json:"content"`
	ExtractedData  map[string]interface{} `json:"extracted_data,omitempty"`
	AIQualityScore float64                `json:"ai_quality_score,omitempty"`
	GeneratedAt    string                 `json:"generated_at"`
}

// ContentHash returns the dependency content hash used in Inputs.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type hashPayload struct {
	Version     string               `json:"version"`
	Document    string               `json:"document"`
	Assumptions []project.Assumption `json:"assumptions"`
	DepHashes   map[string]string    `json:"dep_hashes"`
	ProjectID   string               `json:"project_id"`
	Phase       string               `json:"phase"`
	Extra       string               `json:"extra"`
	Agent       AgentFingerprint     `json:"agent"`
}

// ComputeHash canonicalizes the inputs and returns their SHA-256 hex.
// Assumptions are sorted by ID; map keys serialize sorted.
func ComputeHash(in Inputs) string {
	assumptions := make([]project.Assumption, len(in.Assumptions))
	copy(assumptions, in.Assumptions)
	sort.Slice(assumptions, func(i, j int) bool { return assumptions[i].ID < assumptions[j].ID })

	payload := hashPayload{
		Version:     HashVersion,
		Document:    in.DocumentName,
		Assumptions: assumptions,
		DepHashes:   in.DependencyHashes,
		ProjectID:   in.ProjectID,
		Phase:       in.Phase,
		Extra:       in.AdditionalContext,
		Agent:       in.Agent,
	}
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Cache reads and writes (hash, result) pairs keyed by document ID.
type Cache struct {
	client cache.Client
	logger *observability.Logger
}

// NewCache creates an incremental-generation cache over the shared client.
func NewCache(client cache.Client, logger *observability.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

func hashKey(docID string) string {
	return cache.Key(cache.NamespaceGeneration, docID) + ":input_hash"
}

func resultKey(docID string) string {
	return cache.Key(cache.NamespaceGeneration, docID) + ":result"
}

// Check returns the stored result iff the stored hash equals inputHash.
// Any cache failure degrades to a miss.
func (c *Cache) Check(ctx context.Context, docID, inputHash string) (*Result, bool) {
	if c.client == nil {
		return nil, false
	}

	stored, err := c.client.Get(ctx, hashKey(docID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug().Str("doc_id", docID).Err(err).Msg("incremental hash read failed")
		}
		return nil, false
	}
	if string(stored) != inputHash {
		return nil, false
	}

	data, err := c.client.Get(ctx, resultKey(docID))
	if err != nil {
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn().Str("doc_id", docID).Err(err).Msg("corrupt incremental result, treating as miss")
		return nil, false
	}

	c.logger.Info().Str("doc_id", docID).Msg("incremental cache hit, skipping generation")
	return &result, true
}

// Store writes the hash and the result under the generation TTL. Failures
// are logged; generation already succeeded so there is nothing to undo.
func (c *Cache) Store(ctx context.Context, docID, inputHash string, result Result) error {
	if c.client == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal incremental result: %w", err)
	}

	ttl := cache.TTL(cache.NamespaceGeneration)
	if err := c.client.SetBatch(ctx, map[string][]byte{
		hashKey(docID):   []byte(inputHash),
		resultKey(docID): data,
	}, ttl); err != nil {
		c.logger.Warn().Str("doc_id", docID).Err(err).Msg("incremental cache write failed")
		return err
	}
	return nil
}

// Invalidate deletes both keys for a document. Called on manual edits and
// when a dependency changes.
func (c *Cache) Invalidate(ctx context.Context, docID string) {
	if c.client == nil {
		return
	}
	for _, key := range []string{hashKey(docID), resultKey(docID)} {
		if err := c.client.Delete(ctx, key); err != nil {
			c.logger.Debug().Str("doc_id", docID).Err(err).Msg("incremental invalidate failed")
		}
	}
}
