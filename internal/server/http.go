package server

import (
	"encoding/json"
	"net/http"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *GraphServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/workbooks", s.handleCreateWorkbook)
	mux.HandleFunc("POST /v1/workbooks/upload", s.handleUploadWorkbook)
	mux.HandleFunc("GET /v1/workbooks", s.handleListWorkbooks)
	mux.HandleFunc("GET /v1/workbooks/{id}", s.handleGetWorkbook)
	mux.HandleFunc("DELETE /v1/workbooks/{id}", s.handleDeleteWorkbook)
	mux.HandleFunc("GET /v1/workbooks/{id}/optimized", s.handleDownloadWorkbook)
	mux.HandleFunc("GET /v1/workbooks/{id}/parameters", s.handleGetParameters)
	mux.HandleFunc("GET /v1/workbooks/{id}/parameters/{pid}", s.handleGetParameter)
	mux.HandleFunc("GET /v1/workbooks/{id}/parameters/{pid}/closure", s.handleGetClosure)
	mux.HandleFunc("GET /v1/workbooks/{id}/dependencies", s.handleGetDependencies)
	mux.HandleFunc("GET /v1/workbooks/{id}/cycles", s.handleGetCycles)
	mux.HandleFunc("GET /v1/workbooks/{id}/order", s.handleGetOrder)
	mux.HandleFunc("POST /v1/workbooks/{id}/calculate", s.handleCalculate)
	mux.HandleFunc("GET /v1/workbooks/{id}/view", s.handleGetView)
	mux.HandleFunc("PUT /v1/workbooks/{id}/view", s.handleSetView)
	mux.HandleFunc("GET /v1/workbooks/{id}/computations", s.handleListComputations)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	return AuthMiddleware(authToken, RequestLogger(s.logger, mux))
}

// handleHealth handles GET /v1/health.
func (s *GraphServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps err onto an HTTP status and writes it.
func (s *GraphServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch classify(err) {
	case kindInvalid:
		status = http.StatusBadRequest
	case kindNotFound:
		status = http.StatusNotFound
	case kindUnprocessable:
		status = http.StatusUnprocessableEntity
	case kindConflict:
		status = http.StatusConflict
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, status, err.Error())
}
