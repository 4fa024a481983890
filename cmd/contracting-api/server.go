package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/cache"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/consistency"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/coordinator"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/events"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/increment"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/observability"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/phasegate"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/queue"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/registry"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/taskstore"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/vectorstore"
)

type serverDeps struct {
	projects    *project.Store
	coordinator *coordinator.Coordinator
	pool        *queue.Pool
	tasks       *taskstore.Store
	gates       *phasegate.Service
	registry    *registry.Registry
	lineage     *registry.LineageWriter
	validator   *consistency.Validator
	ingestor    *vectorstore.Ingestor
	vectors     *vectorstore.Store
	cache       cache.Client
	inccache    *increment.Cache
	logger      *observability.Logger
}

type server struct {
	serverDeps

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newServer(deps serverDeps) *server {
	return &server{serverDeps: deps, cancels: make(map[string]context.CancelFunc)}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Post("/", s.handleCreateProject)
			r.Get("/", s.handleListProjects)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Get("/documents", s.handleListDocuments)
				r.Post("/documents", s.handleUpsertDocument)
				r.Post("/generate", s.handleGenerate)
				r.Get("/tasks", s.handleProjectTasks)
				r.Get("/events", s.handleEvents)
				r.Get("/phase-validation", s.handlePhaseValidation)
				r.Post("/phase-transitions", s.handleCreateTransition)
			})
		})
		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Post("/cancel", s.handleCancelTask)
		})
		r.Route("/phase-transitions/{requestID}", func(r chi.Router) {
			r.Post("/approve", s.handleApproveTransition)
			r.Post("/reject", s.handleRejectTransition)
		})
		r.Route("/knowledge", func(r chi.Router) {
			r.Post("/", s.handleKnowledgeUpload)
			r.Delete("/{source}", s.handleKnowledgeRemove)
		})
		r.Route("/programs/{program}", func(r chi.Router) {
			r.Get("/documents", s.handleProgramDocuments)
			r.Get("/lineage", s.handleLineageExport)
			r.Get("/consistency", s.handleConsistency)
		})
	})

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"chunks": s.vectors.Count(),
	})
}

func (s *server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var p project.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode project: %w", err))
		return
	}
	if p.ProgramName == "" {
		writeError(w, http.StatusBadRequest, errors.New("program_name is required"))
		return
	}
	writeJSON(w, http.StatusCreated, s.projects.Create(&p))
}

func (s *server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.projects.List())
}

func (s *server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.projects.DocumentList(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *server) handleUpsertDocument(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	var doc project.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode document: %w", err))
		return
	}
	if doc.DocumentType == "" || doc.DocumentName == "" {
		writeError(w, http.StatusBadRequest, errors.New("document_type and document_name are required"))
		return
	}
	if err := s.projects.UpsertDocument(projectID, &doc); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	// A manual edit makes any cached generation for this document stale.
	if s.inccache != nil {
		s.inccache.Invalidate(r.Context(), doc.ID)
	}
	writeJSON(w, http.StatusOK, doc)
}

type generateRequest struct {
	Documents         []string             `json:"documents"`
	Assumptions       []project.Assumption `json:"assumptions"`
	AdditionalContext string               `json:"additional_context"`
	Queue             string               `json:"queue"`
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	proj, err := s.projects.Get(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var body generateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(body.Documents) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("documents list is required"))
		return
	}
	seen := map[string]bool{}
	for _, a := range body.Assumptions {
		if seen[a.ID] {
			writeError(w, http.StatusBadRequest, fmt.Errorf("duplicate assumption id: %s", a.ID))
			return
		}
		seen[a.ID] = true
	}

	queueName := queue.Name(body.Queue)
	if queueName == "" {
		queueName = queue.QueueHigh
		if len(body.Documents) > 1 {
			queueName = queue.QueueBatch
		}
	}

	docs, err := s.projects.Documents(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	taskID := "task_" + uuid.NewString()
	req := &coordinator.Request{
		TaskID:            taskID,
		Queue:             string(queueName),
		Project:           proj,
		Documents:         docs,
		Requested:         body.Documents,
		Assumptions:       body.Assumptions,
		AdditionalContext: body.AdditionalContext,
	}

	err = s.pool.Submit(&queue.Task{
		ID:    taskID,
		Queue: queueName,
		Run: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(ctx)
			s.registerCancel(taskID, cancel)
			defer s.unregisterCancel(taskID)

			_, err := s.coordinator.Execute(ctx, req)
			return err
		},
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, queue.ErrQueueFull) || errors.Is(err, queue.ErrPoolClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": taskID,
		"queue":   string(queueName),
	})
}

func (s *server) registerCancel(taskID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[taskID] = cancel
}

func (s *server) unregisterCancel(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, taskID)
}

func (s *server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("task is not running"))
		return
	}
	cancel()
	writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "cancelling"})
}

func (s *server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.tasks.Get(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, taskstore.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *server) handleProjectTasks(w http.ResponseWriter, r *http.Request) {
	recs, err := s.tasks.ListForProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleEvents streams task progress as server-sent events until the
// client disconnects.
func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ch, stop, err := events.Subscribe(r.Context(), s.cache, projectID, s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

type transitionBody struct {
	To       project.Phase `json:"to"`
	User     project.User  `json:"user"`
	Comments string        `json:"comments"`
}

func (s *server) handlePhaseValidation(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	proj, err := s.projects.Get(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	docs, err := s.projects.DocumentList(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	to := project.Phase(r.URL.Query().Get("to"))
	if to == "" {
		to = project.NextPhase(proj.CurrentPhase)
	}
	user := project.User{
		ID:   r.URL.Query().Get("user_id"),
		Role: project.Role(r.URL.Query().Get("role")),
	}

	report := s.gates.ValidateTransition(proj, docs, proj.CurrentPhase, to, user)
	writeJSON(w, http.StatusOK, report)
}

func (s *server) handleCreateTransition(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	proj, err := s.projects.Get(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	docs, err := s.projects.DocumentList(projectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if body.To == "" {
		body.To = project.NextPhase(proj.CurrentPhase)
	}

	req, err := s.gates.CreateTransitionRequest(proj, docs, body.To, body.User)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, phasegate.ErrNotAuthorized) {
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *server) handleApproveTransition(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	req, err := s.gates.Request(requestID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	proj, err := s.projects.Get(req.ProjectID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	if err := s.gates.ApproveTransition(requestID, proj, body.User, body.Comments); err != nil {
		writeError(w, transitionErrStatus(err), err)
		return
	}

	s.publishInvalidation(r.Context(), "phase_approved", req.ProjectID)
	updated, _ := s.gates.Request(requestID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *server) handleRejectTransition(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")

	var body transitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	if err := s.gates.RejectTransition(requestID, body.User, body.Comments); err != nil {
		writeError(w, transitionErrStatus(err), err)
		return
	}
	updated, _ := s.gates.Request(requestID)
	writeJSON(w, http.StatusOK, updated)
}

func transitionErrStatus(err error) int {
	switch {
	case errors.Is(err, phasegate.ErrRequestNotFound):
		return http.StatusNotFound
	case errors.Is(err, phasegate.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, phasegate.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, phasegate.ErrReasonRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) publishInvalidation(ctx context.Context, reason, projectID string) {
	if err := s.cache.Publish(ctx, cache.ChannelInvalidation, map[string]string{
		"reason":     reason,
		"project_id": projectID,
	}); err != nil {
		s.logger.Debug().Err(err).Msg("invalidation publish failed")
	}
}

func (s *server) handleKnowledgeUpload(w http.ResponseWriter, r *http.Request) {
	var up vectorstore.Upload
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode upload: %w", err))
		return
	}
	if up.Content == "" {
		writeError(w, http.StatusBadRequest, errors.New("content is required"))
		return
	}

	result, err := s.ingestor.Ingest(r.Context(), up)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.vectors.Save(); err != nil {
		s.logger.Warn().Err(err).Msg("vector index save after upload failed")
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *server) handleKnowledgeRemove(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	result := s.ingestor.Remove(r.Context(), source)
	if !result.Success {
		writeError(w, http.StatusNotFound, fmt.Errorf("no chunks for source %s", source))
		return
	}
	if err := s.vectors.Save(); err != nil {
		s.logger.Warn().Err(err).Msg("vector index save after removal failed")
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleProgramDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.registry.ListForProgram(chi.URLParam(r, "program"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *server) handleLineageExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.lineage.ExportJSON(chi.URLParam(r, "program"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	program := chi.URLParam(r, "program")
	typeA := r.URL.Query().Get("doc_a")
	typeB := r.URL.Query().Get("doc_b")
	if typeA == "" || typeB == "" {
		writeError(w, http.StatusBadRequest, errors.New("doc_a and doc_b query params are required"))
		return
	}

	docA, err := s.registry.FindLatestDocument(typeA, program)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	docB, err := s.registry.FindLatestDocument(typeB, program)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	report := s.validator.Compare(docA.ID, docA.Content, docB.ID, docB.Content)
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are gone; nothing more to do.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
