package server

import (
	"net/http"

	"github.com/jonathan/storefront-agent/internal/types"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.failure(w, r, err)
		return
	}
	q := r.URL.Query()
	runs, err := s.deps.Store.ListRuns(r.Context(), types.RunFilters{
		Phase:  types.Phase(q.Get("phase")),
		Status: types.RunStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	run, err := s.deps.Store.GetRun(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if run == nil {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	entity, err := s.deps.Store.GetEntity(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if entity == nil {
		s.failure(w, r, types.ErrEntityNotFound)
		return
	}
	s.jsonResponse(w, http.StatusOK, entity)
}

func (s *Server) handleEntitySales(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	sales, err := s.deps.Store.ListSalesForEntity(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if sales == nil {
		sales = []types.SaleRecord{}
	}
	var total float64
	for _, sale := range sales {
		total += sale.Amount
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"sales": sales, "count": len(sales), "total": total})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	report, err := s.deps.Store.GetReport(r.Context(), id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if report == nil {
		s.errorResponse(w, http.StatusNotFound, "report not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, report)
}

// handleTasks lists the background continuations and their outcome
func (s *Server) handleTasks(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Tasks == nil {
		s.jsonResponse(w, http.StatusOK, map[string]any{"tasks": []any{}})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"tasks": s.deps.Tasks.List()})
}
