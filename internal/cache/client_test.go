package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyDeterministic(t *testing.T) {
	k1 := Key(NamespaceRAGSearch, "query", 5)
	k2 := Key(NamespaceRAGSearch, "query", 5)
	assert.Equal(t, k1, k2)
	assert.Contains(t, k1, string(NamespaceRAGSearch)+":")

	// 16 hex chars after the namespace prefix.
	assert.Len(t, k1, len(string(NamespaceRAGSearch))+1+16)
}

func TestKeyMapOrderIrrelevant(t *testing.T) {
	a := Key(NamespaceRAGSearch, map[string]interface{}{"x": 1, "y": 2})
	b := Key(NamespaceRAGSearch, map[string]interface{}{"y": 2, "x": 1})
	assert.Equal(t, a, b)
}

func TestKeyDistinguishesArgs(t *testing.T) {
	assert.NotEqual(t, Key(NamespaceRAGSearch, "a"), Key(NamespaceRAGSearch, "b"))
	assert.NotEqual(t, Key(NamespaceRAGSearch, "a"), Key(NamespaceEmbeddings, "a"))
}

func TestTTLPerNamespace(t *testing.T) {
	assert.Equal(t, 24*time.Hour, TTL(NamespaceEmbeddings))
	assert.Equal(t, 7*24*time.Hour, TTL(NamespaceGenerationResult))
	assert.Equal(t, 5*time.Minute, TTL(Namespace("unknown")))
}

func TestWSChannel(t *testing.T) {
	assert.Equal(t, "ws:proj-1", WSChannel("proj-1"))
}
