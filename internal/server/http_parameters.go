package server

import (
	"encoding/json"
	"net/http"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// handleGetParameters handles GET /v1/workbooks/{id}/parameters.
func (s *GraphServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	cats, err := sess.engine.Parameters()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// handleGetParameter handles GET /v1/workbooks/{id}/parameters/{pid}.
func (s *GraphServer) handleGetParameter(w http.ResponseWriter, r *http.Request) {
	detail, err := s.parameterDetail(r.Context(), r.PathValue("id"), r.PathValue("pid"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// closureResponse lists the transitive dependencies or dependents of one
// parameter.
type closureResponse struct {
	ID        string   `json:"id"`
	Direction string   `json:"direction"`
	Closure   []string `json:"closure"`
	HasCycle  bool     `json:"has_cycle"`
}

// handleGetClosure handles GET /v1/workbooks/{id}/parameters/{pid}/closure.
// ?direction=dependents walks the graph forward instead of backward.
func (s *GraphServer) handleGetClosure(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pid := r.PathValue("pid")

	resp := closureResponse{ID: pid, Direction: r.URL.Query().Get("direction")}
	switch resp.Direction {
	case "", "dependencies":
		resp.Direction = "dependencies"
		resp.Closure, err = sess.engine.Closure(pid)
	case "dependents":
		resp.Closure, err = sess.engine.Dependents(pid)
	default:
		writeError(w, http.StatusBadRequest, "direction must be dependencies or dependents")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if resp.HasCycle, err = sess.engine.HasCycle(pid); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if resp.Closure == nil {
		resp.Closure = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetDependencies handles GET /v1/workbooks/{id}/dependencies.
func (s *GraphServer) handleGetDependencies(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	deps, err := sess.engine.Dependencies()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if deps == nil {
		deps = []model.DependencyRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dependencies": deps})
}

// handleGetCycles handles GET /v1/workbooks/{id}/cycles.
func (s *GraphServer) handleGetCycles(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	report, err := sess.engine.Cycles()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleGetOrder handles GET /v1/workbooks/{id}/order.
func (s *GraphServer) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	order, err := sess.engine.Order()
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": order})
}

// handleGetView handles GET /v1/workbooks/{id}/view. Without query
// parameters it returns the session's active projection; with ?mode= or
// ?focus= it derives one without changing the session.
func (s *GraphServer) handleGetView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := s.project(r.Context(), viewRequest{
		WorkbookID: r.PathValue("id"),
		Mode:       q.Get("mode"),
		Focus:      q.Get("focus"),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleSetView handles PUT /v1/workbooks/{id}/view.
func (s *GraphServer) handleSetView(w http.ResponseWriter, r *http.Request) {
	var in viewRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	in.WorkbookID = r.PathValue("id")

	p, err := s.selectView(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
