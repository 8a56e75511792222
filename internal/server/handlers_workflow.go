package server

import (
	"net/http"

	"github.com/jonathan/storefront-agent/internal/pipeline"
	"github.com/jonathan/storefront-agent/internal/types"
)

// handleResearch starts a research run
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var params types.ResearchParams
	if err := decodeBody(w, r, &params); err != nil {
		s.failure(w, r, err)
		return
	}
	runID, err := s.deps.Workflow.StartResearch(r.Context(), params)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

// handleGenerate starts a generate run, or a regeneration when entity_id is set
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req pipeline.GenerationRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.failure(w, r, err)
		return
	}
	runID, err := s.deps.Workflow.StartGeneration(r.Context(), req)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]any{"run_id": runID})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	entity, err := s.deps.Workflow.ApproveEntity(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, entity)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	runID, err := s.deps.Workflow.StartPublish(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]any{"run_id": runID, "entity_id": id})
}

// handleReconcile runs one reconciliation synchronously and returns its counters
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Reconciler.Reconcile(r.Context())
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}
