// Package registry is the per-program inventory of generated artifacts,
// their extracted structured data, and the lineage edges between them.
// Each program's documents live in one newline-delimited JSON file.
package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

var (
	// ErrCycleDetected indicates a reference would close a cycle in a
	// program's lineage graph.
	ErrCycleDetected = errors.New("reference would create a cycle")
	// ErrDocumentNotFound indicates no document matched the lookup.
	ErrDocumentNotFound = errors.New("document not found")
)

// Document is one persisted artifact record.
type Document struct {
	ID            string                 `json:"id"`
	DocType       string                 `json:"doc_type"`
	Program       string                 `json:"program"`
	Content       string                 `json:"content"`
	FilePath      string                 `json:"file_path,omitempty"`
	ExtractedData map[string]interface{} `json:"extracted_data,omitempty"`
	References    []Reference            `json:"references,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	Version       int                    `json:"version"`
}

// Reference is a directed lineage edge from the owning document.
type Reference struct {
	RefType string `json:"ref_type"`
	ToID    string `json:"to_id"`
}

// Registry persists documents as one NDJSON file per program. Writes
// serialize per program; reads share the lock briefly to snapshot.
type Registry struct {
	mu      sync.Mutex
	dir     string
	logger  *observability.Logger
	counter uint64
}

// NewRegistry creates a registry rooted at dir, creating it if needed.
func NewRegistry(dir string, logger *observability.Logger) (*Registry, error) {
	if dir == "" {
		return nil, fmt.Errorf("registry dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &Registry{dir: dir, logger: logger}, nil
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// sanitize lowercases a program name and replaces unsafe characters so it
// can appear in file names and doc IDs.
func sanitize(program string) string {
	s := strings.ToLower(strings.TrimSpace(program))
	s = unsafeChars.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

func (r *Registry) programPath(program string) string {
	return filepath.Join(r.dir, sanitize(program)+".ndjson")
}

// nextID builds a monotonically ordered document ID. The counter suffix
// keeps IDs ordered even when two saves land on the same timestamp.
func (r *Registry) nextID(docType, program string) string {
	r.counter++
	ts := time.Now().UTC().Format("20060102T150405.000000000")
	return fmt.Sprintf("%s_%s_%s_%06d", docType, sanitize(program), ts, r.counter)
}

// SaveDocument appends a new artifact record and returns its ID. The
// append is atomic from readers' perspective: a record is either fully
// present or absent.
func (r *Registry) SaveDocument(doc Document) (string, error) {
	if doc.DocType == "" || doc.Program == "" {
		return "", fmt.Errorf("doc_type and program are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc.ID = r.nextID(doc.DocType, doc.Program)
	doc.CreatedAt = time.Now().UTC()

	existing, err := r.loadLocked(doc.Program)
	if err != nil {
		return "", err
	}
	doc.Version = 1
	for _, d := range existing {
		if d.DocType == doc.DocType && d.Version >= doc.Version {
			doc.Version = d.Version + 1
		}
	}

	for _, ref := range doc.References {
		if wouldCycle(existing, doc.ID, ref.ToID) {
			return "", fmt.Errorf("save %s: %w", doc.ID, ErrCycleDetected)
		}
	}

	if err := r.appendLocked(doc); err != nil {
		return "", err
	}

	r.logger.Info().
		Str("doc_id", doc.ID).
		Str("doc_type", doc.DocType).
		Str("program", doc.Program).
		Int("version", doc.Version).
		Msg("document saved")

	return doc.ID, nil
}

// FindLatestDocument returns the most recent artifact of a type for a
// program, latest by created_at with doc ID order breaking ties.
func (r *Registry) FindLatestDocument(docType, program string) (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.loadLocked(program)
	if err != nil {
		return nil, err
	}

	var latest *Document
	for i := range docs {
		d := &docs[i]
		if d.DocType != docType {
			continue
		}
		if latest == nil || d.CreatedAt.After(latest.CreatedAt) ||
			(d.CreatedAt.Equal(latest.CreatedAt) && d.ID > latest.ID) {
			latest = d
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("find %s for %s: %w", docType, program, ErrDocumentNotFound)
	}
	return latest, nil
}

// ListForProgram returns all artifacts for a program in insertion order.
func (r *Registry) ListForProgram(program string) ([]Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(program)
}

// AddReference creates a directed edge fromID → toID. Both documents must
// belong to the program, and the edge must not close a cycle.
func (r *Registry) AddReference(program, fromID, refType, toID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.loadLocked(program)
	if err != nil {
		return err
	}

	var from *Document
	foundTo := false
	for i := range docs {
		if docs[i].ID == fromID {
			from = &docs[i]
		}
		if docs[i].ID == toID {
			foundTo = true
		}
	}
	if from == nil {
		return fmt.Errorf("add reference from %s: %w", fromID, ErrDocumentNotFound)
	}
	if !foundTo {
		return fmt.Errorf("add reference to %s: %w", toID, ErrDocumentNotFound)
	}

	if wouldCycle(docs, fromID, toID) {
		return fmt.Errorf("add reference %s -> %s: %w", fromID, toID, ErrCycleDetected)
	}

	from.References = append(from.References, Reference{RefType: refType, ToID: toID})
	return r.rewriteLocked(program, docs)
}

// wouldCycle reports whether adding fromID → toID closes a cycle: true iff
// fromID is already reachable from toID.
func wouldCycle(docs []Document, fromID, toID string) bool {
	if fromID == toID {
		return true
	}
	adj := make(map[string][]string, len(docs))
	for _, d := range docs {
		for _, ref := range d.References {
			adj[d.ID] = append(adj[d.ID], ref.ToID)
		}
	}
	stack := []string{toID}
	seen := map[string]struct{}{}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == fromID {
			return true
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		stack = append(stack, adj[id]...)
	}
	return false
}

// loadLocked reads a program's NDJSON file. Missing file means no
// documents yet. Caller holds the lock.
func (r *Registry) loadLocked(program string) ([]Document, error) {
	f, err := os.Open(r.programPath(program))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open registry file: %w", err)
	}
	defer f.Close()

	var docs []Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var d Document
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			r.logger.Warn().Str("program", program).Err(err).Msg("skipping corrupt registry line")
			continue
		}
		docs = append(docs, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan registry file: %w", err)
	}
	return docs, nil
}

func (r *Registry) appendLocked(doc Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	f, err := os.OpenFile(r.programPath(doc.Program), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open registry file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append document: %w", err)
	}
	return nil
}

// rewriteLocked replaces a program's file atomically via temp-then-rename.
func (r *Registry) rewriteLocked(program string, docs []Document) error {
	path := r.programPath(program)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp registry file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, d := range docs {
		data, err := json.Marshal(d)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal document: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush registry file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close registry file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace registry file: %w", err)
	}
	return nil
}

// Programs lists the programs with registry files, sorted.
func (r *Registry) Programs() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read registry dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ndjson") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".ndjson"))
	}
	sort.Strings(names)
	return names, nil
}
