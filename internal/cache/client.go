// Package cache provides the shared key-value and pub/sub layer for the
// generation core. All operations are best-effort: a failed read is a miss
// and a failed write reports false, so callers stay correct with a cold or
// unreachable cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrCacheMiss indicates a cache miss.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	GetBatch(ctx context.Context, keys []string) (map[string][]byte, error)
	SetBatch(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

// Namespace identifies a keyspace with its own TTL.
type Namespace string

// Cache namespaces and their TTLs.
const (
	NamespaceRAGSearch        Namespace = "rag"
	NamespaceEmbeddings       Namespace = "emb"
	NamespaceDocumentList     Namespace = "doclist"
	NamespaceAdminAnalytics   Namespace = "admin"
	NamespaceUserAnalytics    Namespace = "user"
	NamespaceGenerationResult Namespace = "gen"
)

// Channel prefixes for pub/sub fanout.
const (
	ChannelInvalidation = "invalidate"
	ChannelWebSocket    = "ws"
)

// namespaceTTLs maps each namespace to its expiry.
var namespaceTTLs = map[Namespace]time.Duration{
	NamespaceRAGSearch:        30 * time.Minute,
	NamespaceEmbeddings:       24 * time.Hour,
	NamespaceDocumentList:     time.Hour,
	NamespaceAdminAnalytics:   5 * time.Minute,
	NamespaceUserAnalytics:    15 * time.Minute,
	NamespaceGenerationResult: 7 * 24 * time.Hour,
}

// TTL returns the configured TTL for a namespace. Unknown namespaces get
// five minutes.
func TTL(ns Namespace) time.Duration {
	if ttl, ok := namespaceTTLs[ns]; ok {
		return ttl
	}
	return 5 * time.Minute
}

// Key builds a deterministic namespaced key from arbitrary arguments:
// namespace + ":" + first 16 hex chars of sha256(canonical JSON of args).
// Map arguments are canonicalized by sorting their keys.
func Key(ns Namespace, args ...interface{}) string {
	canonical := canonicalJSON(args)
	sum := sha256.Sum256([]byte(canonical))
	return string(ns) + ":" + hex.EncodeToString(sum[:])[:16]
}

// WSChannel returns the WebSocket fanout channel for a project.
func WSChannel(projectID string) string {
	return ChannelWebSocket + ":" + projectID
}

// canonicalJSON renders a value as JSON with sorted map keys.
func canonicalJSON(v interface{}) string {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			b.WriteString(canonicalJSON(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	case []interface{}:
		var b strings.Builder
		b.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalJSON(e))
		}
		b.WriteByte(']')
		return b.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
