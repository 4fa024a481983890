package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/agent"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/events"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/increment"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/registry"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/retrieval"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/taskstore"
)

// runState is the mutable state of one executing task. Progress is
// monotonic: completed only grows, and events are emitted under the lock.
type runState struct {
	mu         sync.Mutex
	total      int
	completed  int
	results    map[string]*ArtifactResult
	failed     map[string]bool
	savedIDs   map[string]string
	errs       []string
	onProgress func(ctx context.Context, progress float64)
}

func (s *runState) progress() float64 {
	if s.total == 0 {
		return 1
	}
	return float64(s.completed) / float64(s.total)
}

// Execute runs a generation task to completion. The returned result is
// also reflected in the task store and the progress channel.
func (c *Coordinator) Execute(ctx context.Context, req *Request) (*TaskResult, error) {
	if req.TaskID == "" {
		req.TaskID = newTaskID()
	}
	if req.Documents == nil {
		req.Documents = make(map[string]*project.Document)
	}

	pub := events.NewPublisher(c.cache, req.Project.ID, c.logger)
	log := c.logger.WithTask(req.TaskID)

	if c.tasks != nil {
		rec := &taskstore.Record{
			ID:            req.TaskID,
			ProjectID:     req.Project.ID,
			Queue:         req.Queue,
			Status:        taskstore.StatusRunning,
			RequestedDocs: req.Requested,
		}
		if err := c.tasks.Create(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("task record create failed, continuing without durability")
		}
	}

	order, err := c.plan(req)
	if err != nil {
		// Planning failures commit no partial progress.
		c.finish(ctx, req, pub, taskstore.StatusFailed, err.Error())
		return &TaskResult{
			TaskID: req.TaskID,
			Status: taskstore.StatusFailed,
			Errors: []string{err.Error()},
		}, err
	}

	log.Info().Strs("order", order).Msg("generation task started")
	pub.Publish(ctx, events.ProgressEvent{
		TaskID:    req.TaskID,
		EventType: events.EventStarted,
		Message:   fmt.Sprintf("generating %d artifacts", len(order)),
	})

	st := &runState{
		total:    len(order),
		results:  make(map[string]*ArtifactResult, len(order)),
		failed:   make(map[string]bool),
		savedIDs: make(map[string]string),
	}
	if c.tasks != nil {
		st.onProgress = func(ctx context.Context, progress float64) {
			err := c.tasks.UpdateProgress(ctx, req.TaskID, taskstore.StatusRunning, progress)
			if err != nil && !errors.Is(err, taskstore.ErrTaskNotFound) {
				log.Debug().Err(err).Msg("task progress update failed")
			}
		}
	}

	if c.config.ParallelChains {
		c.runParallel(ctx, req, st, pub, order)
	} else {
		for _, docType := range order {
			c.runArtifact(ctx, req, st, pub, docType)
		}
	}

	status := taskstore.StatusCompleted
	if ctx.Err() != nil {
		status = taskstore.StatusCancelled
	} else {
		for _, r := range st.results {
			if r.Status == ArtifactFailed || r.Status == ArtifactSkipped {
				status = taskstore.StatusPartialFailure
				break
			}
		}
	}

	result := &TaskResult{TaskID: req.TaskID, Status: status, Errors: st.errs}
	for _, docType := range order {
		if r, ok := st.results[docType]; ok {
			result.Artifacts = append(result.Artifacts, *r)
		}
	}

	c.finish(ctx, req, pub, status, strings.Join(st.errs, "; "))
	log.Info().Str("status", string(status)).Msg("generation task finished")
	return result, nil
}

// runParallel executes independent dependency chains concurrently while
// each chain stays sequential.
func (c *Coordinator) runParallel(ctx context.Context, req *Request, st *runState, pub *events.Publisher, order []string) {
	chains := c.partitionChains(order)
	var wg sync.WaitGroup
	for _, chain := range chains {
		wg.Add(1)
		go func(chain []string) {
			defer wg.Done()
			for _, docType := range chain {
				c.runArtifact(ctx, req, st, pub, docType)
			}
		}(chain)
	}
	wg.Wait()
}

// partitionChains groups the ordered plan into connected components of the
// dependency graph. Each component preserves topological order.
func (c *Coordinator) partitionChains(order []string) [][]string {
	parent := make(map[string]string, len(order))
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	inPlan := make(map[string]bool, len(order))
	for _, t := range order {
		parent[t] = t
		inPlan[t] = true
	}
	for _, t := range order {
		for _, dep := range c.graph.Deps[t] {
			if inPlan[dep] {
				parent[find(t)] = find(dep)
			}
		}
	}

	groups := make(map[string][]string)
	for _, t := range order {
		root := find(t)
		groups[root] = append(groups[root], t)
	}
	chains := make([][]string, 0, len(groups))
	for _, chain := range groups {
		chains = append(chains, chain)
	}
	return chains
}

// runArtifact executes one artifact and records its outcome.
func (c *Coordinator) runArtifact(ctx context.Context, req *Request, st *runState, pub *events.Publisher, docType string) {
	log := c.logger.WithTask(req.TaskID)

	// Cancellation takes effect between artifacts; completed work stays.
	if ctx.Err() != nil {
		st.record(docType, &ArtifactResult{DocType: docType, Status: ArtifactSkipped, SkipReason: "cancelled"})
		return
	}

	// A failed ancestor poisons its dependents, never its siblings.
	for _, dep := range c.graph.Deps[docType] {
		st.mu.Lock()
		depFailed := st.failed[dep]
		st.mu.Unlock()
		if depFailed {
			st.record(docType, &ArtifactResult{DocType: docType, Status: ArtifactSkipped, SkipReason: "missing_dependency"})
			st.markFailed(docType)
			return
		}
	}

	ag, err := c.agents.Get(docType)
	if err != nil {
		c.failArtifact(ctx, req, st, pub, docType, err)
		return
	}

	doc := c.documentFor(req, docType)
	ancestors, depHashes := c.ancestorInputs(req, docType)

	inputHash := increment.ComputeHash(increment.Inputs{
		DocumentName:      doc.DocumentName,
		Assumptions:       req.Assumptions,
		DependencyHashes:  depHashes,
		ProjectID:         req.Project.ID,
		Phase:             string(req.Project.CurrentPhase),
		AdditionalContext: req.AdditionalContext,
		Agent:             c.agentFP,
	})

	if c.incCache != nil {
		if cached, hit := c.incCache.Check(ctx, doc.ID, inputHash); hit {
			c.applyResult(doc, cached.Content, cached.AIQualityScore)
			st.record(docType, &ArtifactResult{
				DocType:      docType,
				Status:       ArtifactCacheHit,
				QualityScore: cached.AIQualityScore,
			})
			st.advance(ctx, pub, req.TaskID, docType, events.EventCacheHit)
			return
		}
	}

	// Retrieval and extraction feed the agent; both tolerate empty output.
	hits, retrievedContext := c.retrieve(ctx, req, doc)
	corpus := combineAncestors(ancestors)
	extracted := c.extract(ctx, docType, hits, corpus)

	out, err := ag.Execute(ctx, agent.Task{
		DocType:      docType,
		DocumentName: doc.DocumentName,
		Project: agent.ProjectInfo{
			ProjectID:           req.Project.ID,
			ProgramName:         req.Project.ProgramName,
			Description:         req.Project.Description,
			ProjectType:         req.Project.ProjectType,
			CurrentPhase:        req.Project.CurrentPhase,
			EstimatedValue:      req.Project.EstimatedValue,
			ContractType:        req.Project.ContractType,
			PeriodOfPerformance: req.Project.PeriodOfPerformance,
		},
		Extracted:         extracted,
		Assumptions:       req.Assumptions,
		AncestorContent:   truncateAncestors(ancestors, c.config.AncestorContentCap),
		RetrievedContext:  retrievedContext,
		AdditionalContext: req.AdditionalContext,
	})
	if err != nil {
		c.failArtifact(ctx, req, st, pub, docType, err)
		return
	}

	quality, _ := out.Metadata["section_coverage"].(float64)
	c.applyResult(doc, out.Content, quality)

	regID, err := c.persist(ctx, req, st, docType, doc, out, hits, ancestors)
	if err != nil {
		c.failArtifact(ctx, req, st, pub, docType, err)
		return
	}

	if c.incCache != nil {
		c.incCache.Store(ctx, doc.ID, inputHash, increment.Result{
			Content:        out.Content,
			ExtractedData:  out.ExtractedData,
			AIQualityScore: quality,
			GeneratedAt:    time.Now().UTC().Format(time.RFC3339),
		})
	}

	st.record(docType, &ArtifactResult{
		DocType:      docType,
		Status:       ArtifactGenerated,
		RegistryID:   regID,
		QualityScore: quality,
	})
	st.advance(ctx, pub, req.TaskID, docType, events.EventProgress)

	log.Info().
		Str("doc_type", docType).
		Str("registry_id", regID).
		Msg("artifact generated")
}

// documentFor returns the project document for a type, creating a pending
// one when the project has none yet.
func (c *Coordinator) documentFor(req *Request, docType string) *project.Document {
	if doc, ok := req.Documents[docType]; ok {
		return doc
	}
	name := docType
	for _, def := range agent.BuiltinDefinitions {
		if def.DocType == docType {
			name = def.Title
			break
		}
	}
	doc := &project.Document{
		ID:               fmt.Sprintf("%s:%s", req.Project.ID, docType),
		ProjectID:        req.Project.ID,
		DocumentName:     name,
		DocumentType:     docType,
		Phase:            req.Project.CurrentPhase,
		GenerationStatus: project.GenerationPending,
		ApprovalStatus:   project.ApprovalDraft,
	}
	req.Documents[docType] = doc
	return doc
}

// ancestorInputs gathers ancestor content and its content hashes.
func (c *Coordinator) ancestorInputs(req *Request, docType string) (map[string]string, map[string]string) {
	ancestors := make(map[string]string)
	hashes := make(map[string]string)
	for _, dep := range c.graph.Deps[docType] {
		doc, ok := req.Documents[dep]
		if !ok || doc.GeneratedContent == "" {
			continue
		}
		ancestors[dep] = doc.GeneratedContent
		hashes[dep] = increment.ContentHash(doc.GeneratedContent)
	}
	return ancestors, hashes
}

func (c *Coordinator) retrieve(ctx context.Context, req *Request, doc *project.Document) ([]retrieval.Hit, string) {
	if c.retriever == nil {
		return nil, ""
	}
	query := strings.Join([]string{
		doc.DocumentName,
		req.Project.ProgramName,
		req.Project.ProjectType,
		string(req.Project.CurrentPhase),
	}, " | ")
	hits, err := c.retriever.Retrieve(ctx, query, c.config.RetrievalTopK)
	if err != nil {
		c.logger.Warn().Str("doc_type", doc.DocumentType).Err(err).Msg("retrieval failed, generating without evidence")
		return nil, ""
	}
	return hits, retrieval.FormatHits(hits)
}

func (c *Coordinator) extract(ctx context.Context, docType string, hits []retrieval.Hit, corpus string) map[string]interface{} {
	if c.extractor == nil {
		return nil
	}
	return c.extractor.Extract(ctx, docType, hits, corpus, nil)
}

// persist saves the registry record, resolves reference targets, and
// records lineage edges.
func (c *Coordinator) persist(ctx context.Context, req *Request, st *runState, docType string, doc *project.Document, out *agent.Output, hits []retrieval.Hit, ancestors map[string]string) (string, error) {
	refs := c.resolveReferences(req, st, out.References)

	regID, err := c.registry.SaveDocument(registry.Document{
		DocType:       docType,
		Program:       req.Project.ProgramName,
		Content:       out.Content,
		ExtractedData: out.ExtractedData,
		References:    refs,
	})
	if err != nil {
		return "", fmt.Errorf("persist %s: %w", docType, err)
	}
	st.mu.Lock()
	st.savedIDs[docType] = regID
	st.mu.Unlock()

	if c.lineage != nil {
		edges := lineageEdges(regID, refs, hits, ancestors, c.config.AncestorContentCap, st)
		if err := c.lineage.Record(req.Project.ProgramName, edges); err != nil {
			c.logger.Warn().Str("doc_type", docType).Err(err).Msg("lineage record failed")
		}
	}
	return regID, nil
}

// resolveReferences maps the agent's dependency-type references to registry
// IDs: artifacts generated earlier in this task first, then the latest
// persisted document of that type.
func (c *Coordinator) resolveReferences(req *Request, st *runState, refs map[string]string) []registry.Reference {
	var out []registry.Reference
	for depType := range refs {
		st.mu.Lock()
		toID, ok := st.savedIDs[depType]
		st.mu.Unlock()
		if !ok {
			latest, err := c.registry.FindLatestDocument(depType, req.Project.ProgramName)
			if err != nil {
				continue
			}
			toID = latest.ID
		}
		out = append(out, registry.Reference{RefType: "data_source", ToID: toID})
	}
	return out
}

// lineageEdges builds DATA_SOURCE edges for consumed ancestors and CONTEXT
// edges for retrieval sources with averaged scores.
func lineageEdges(regID string, refs []registry.Reference, hits []retrieval.Hit, ancestors map[string]string, limit int, st *runState) []registry.LineageEdge {
	var edges []registry.LineageEdge

	for depType, content := range ancestors {
		used := len(content)
		if used > limit {
			used = limit
		}
		relevance := float64(used) / float64(limit)
		fromID := depType
		st.mu.Lock()
		if id, ok := st.savedIDs[depType]; ok {
			fromID = id
		}
		st.mu.Unlock()
		edges = append(edges, registry.LineageEdge{
			FromID:        fromID,
			ToID:          regID,
			InfluenceType: registry.InfluenceDataSource,
			Relevance:     relevance,
		})
	}

	bySource := make(map[string]*registry.LineageEdge)
	counts := make(map[string]int)
	var sources []string
	for _, h := range hits {
		src := h.Metadata.Source
		e, ok := bySource[src]
		if !ok {
			e = &registry.LineageEdge{
				FromID:        src,
				ToID:          regID,
				InfluenceType: registry.InfluenceContext,
			}
			bySource[src] = e
			sources = append(sources, src)
		}
		e.Relevance += h.Score
		e.ChunkIDs = append(e.ChunkIDs, h.ChunkID)
		counts[src]++
	}
	for _, src := range sources {
		e := bySource[src]
		e.Relevance /= float64(counts[src])
		edges = append(edges, *e)
	}
	return edges
}

// applyResult updates the project document with generated output.
func (c *Coordinator) applyResult(doc *project.Document, content string, quality float64) {
	now := time.Now().UTC()
	doc.GeneratedContent = content
	doc.GeneratedAt = &now
	doc.GenerationStatus = project.GenerationGenerated
	doc.AIQualityScore = quality
}

// failArtifact records a per-artifact failure; siblings continue and the
// task ends in partial_failure.
func (c *Coordinator) failArtifact(ctx context.Context, req *Request, st *runState, pub *events.Publisher, docType string, err error) {
	c.logger.WithTask(req.TaskID).Error().Str("doc_type", docType).Err(err).Msg("artifact generation failed")

	if doc, ok := req.Documents[docType]; ok {
		doc.GenerationStatus = project.GenerationFailed
	}
	st.record(docType, &ArtifactResult{DocType: docType, Status: ArtifactFailed, Error: err.Error()})
	st.markFailed(docType)
	st.mu.Lock()
	st.errs = append(st.errs, fmt.Sprintf("%s: %v", docType, err))
	st.mu.Unlock()

	pub.Publish(ctx, events.ProgressEvent{
		TaskID:    req.TaskID,
		EventType: events.EventError,
		Progress:  st.progressLocked(),
		Message:   fmt.Sprintf("%s failed: %v", docType, err),
	})
}

func (c *Coordinator) finish(ctx context.Context, req *Request, pub *events.Publisher, status taskstore.Status, errText string) {
	if c.tasks != nil {
		if err := c.tasks.Finish(ctx, req.TaskID, status, errText); err != nil && !errors.Is(err, taskstore.ErrTaskNotFound) {
			c.logger.Warn().Str("task_id", req.TaskID).Err(err).Msg("task record finish failed")
		}
	}
	eventType := events.EventCompleted
	message := string(status)
	if status == taskstore.StatusFailed {
		eventType = events.EventError
		message = errText
	}
	pub.Publish(ctx, events.ProgressEvent{
		TaskID:    req.TaskID,
		EventType: eventType,
		Progress:  1,
		Message:   message,
		Extra:     map[string]interface{}{"status": string(status)},
	})
}

func (s *runState) record(docType string, r *ArtifactResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[docType] = r
}

func (s *runState) markFailed(docType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[docType] = true
}

// advance increments completion and emits a monotonic progress event.
func (s *runState) advance(ctx context.Context, pub *events.Publisher, taskID, docType string, et events.EventType) {
	s.mu.Lock()
	s.completed++
	progress := s.progress()
	completed, total := s.completed, s.total
	s.mu.Unlock()

	if s.onProgress != nil {
		s.onProgress(ctx, progress)
	}
	pub.Publish(ctx, events.ProgressEvent{
		TaskID:    taskID,
		EventType: et,
		Progress:  progress,
		Message:   fmt.Sprintf("%s complete (%d/%d)", docType, completed, total),
		Extra:     map[string]interface{}{"doc_type": docType, "completed": completed, "total": total},
	})
}

func (s *runState) progressLocked() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress()
}

func combineAncestors(ancestors map[string]string) string {
	if len(ancestors) == 0 {
		return ""
	}
	keys := make([]string, 0, len(ancestors))
	for k := range ancestors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, ancestors[k])
	}
	return strings.Join(parts, "\n\n")
}

func truncateAncestors(ancestors map[string]string, limit int) map[string]string {
	out := make(map[string]string, len(ancestors))
	for k, v := range ancestors {
		if len(v) > limit {
			v = v[:limit]
		}
		out[k] = v
	}
	return out
}

