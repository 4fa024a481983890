package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
)

// InfluenceType classifies how a source shaped a derived document.
type InfluenceType string

const (
	InfluenceContext    InfluenceType = "context"
	InfluenceTemplate   InfluenceType = "template"
	InfluenceRegulation InfluenceType = "regulation"
	InfluenceDataSource InfluenceType = "data_source"
	InfluenceReference  InfluenceType = "reference"
)

// LineageEdge records one influence on a derived document.
type LineageEdge struct {
	FromID        string        `json:"from_id"`
	ToID          string        `json:"to_id"`
	InfluenceType InfluenceType `json:"influence_type"`
	Relevance     float64       `json:"relevance"`
	ChunkIDs      []string      `json:"chunk_ids,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// LineageWriter appends lineage edges to a per-program NDJSON log and
// exports them as a JSON document.
type LineageWriter struct {
	mu     sync.Mutex
	dir    string
	logger *observability.Logger
}

// NewLineageWriter creates a lineage writer rooted at dir.
func NewLineageWriter(dir string, logger *observability.Logger) (*LineageWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("lineage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lineage dir: %w", err)
	}
	return &LineageWriter{dir: dir, logger: logger}, nil
}

func (w *LineageWriter) programPath(program string) string {
	return filepath.Join(w.dir, sanitize(program)+".lineage.ndjson")
}

// Record appends edges for a program. Edges with an empty recorded_at are
// stamped with the current time.
func (w *LineageWriter) Record(program string, edges []LineageEdge) error {
	if len(edges) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.programPath(program), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open lineage file: %w", err)
	}
	defer f.Close()

	now := time.Now().UTC()
	buf := bufio.NewWriter(f)
	for _, e := range edges {
		if e.RecordedAt.IsZero() {
			e.RecordedAt = now
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal lineage edge: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("write lineage edges: %w", err)
	}

	w.logger.Debug().Str("program", program).Int("edges", len(edges)).Msg("lineage recorded")
	return nil
}

// Edges returns all recorded edges for a program in recording order.
func (w *LineageWriter) Edges(program string) ([]LineageEdge, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.programPath(program))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open lineage file: %w", err)
	}
	defer f.Close()

	var edges []LineageEdge
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e LineageEdge
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			w.logger.Warn().Str("program", program).Err(err).Msg("skipping corrupt lineage line")
			continue
		}
		edges = append(edges, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lineage file: %w", err)
	}
	return edges, nil
}

// Export is the JSON shape produced by ExportJSON.
type Export struct {
	Program     string        `json:"program"`
	GeneratedAt time.Time     `json:"generated_at"`
	EdgeCount   int           `json:"edge_count"`
	Edges       []LineageEdge `json:"edges"`
}

// ExportJSON renders a program's full lineage as indented JSON.
func (w *LineageWriter) ExportJSON(program string) ([]byte, error) {
	edges, err := w.Edges(program)
	if err != nil {
		return nil, err
	}
	out := Export{
		Program:     program,
		GeneratedAt: time.Now().UTC(),
		EdgeCount:   len(edges),
		Edges:       edges,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lineage export: %w", err)
	}
	return data, nil
}
