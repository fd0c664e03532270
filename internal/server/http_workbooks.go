package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// createWorkbookInput is the body of POST /v1/workbooks.
type createWorkbookInput struct {
	Name         string                   `json:"name"`
	Parameters   *model.Categories        `json:"parameters"`
	Dependencies []model.DependencyRecord `json:"dependencies"`
}

// handleCreateWorkbook handles POST /v1/workbooks.
func (s *GraphServer) handleCreateWorkbook(w http.ResponseWriter, r *http.Request) {
	var in createWorkbookInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := s.createWorkbook(r.Context(), &model.Workbook{Name: in.Name}, in.Parameters, in.Dependencies)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleUploadWorkbook handles POST /v1/workbooks/upload. The spreadsheet is
// sent as the multipart field "file"; an optional "name" field overrides the
// workbook name, which defaults to the file name without extension.
func (s *GraphServer) handleUploadWorkbook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds "+strconv.FormatInt(s.maxUpload, 10)+" bytes")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".xlsx" && ext != ".xlsm" {
		writeError(w, http.StatusBadRequest, "only .xlsx and .xlsm files are supported")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}

	name := r.FormValue("name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename))
	}

	resp, err := s.uploadWorkbook(r.Context(), name, header.Filename, data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handleListWorkbooks handles GET /v1/workbooks.
func (s *GraphServer) handleListWorkbooks(w http.ResponseWriter, r *http.Request) {
	wbs, err := s.store.ListWorkbooks(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// Ensure workbooks is never null in JSON output.
	if wbs == nil {
		wbs = []*model.Workbook{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workbooks": wbs,
		"total":     len(wbs),
	})
}

// handleGetWorkbook handles GET /v1/workbooks/{id}.
func (s *GraphServer) handleGetWorkbook(w http.ResponseWriter, r *http.Request) {
	wb, err := s.store.GetWorkbook(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wb)
}

// xlsxContentType is the media type of an .xlsx spreadsheet.
const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleDownloadWorkbook handles GET /v1/workbooks/{id}/optimized: the
// consolidated spreadsheet kept for an uploaded workbook.
func (s *GraphServer) handleDownloadWorkbook(w http.ResponseWriter, r *http.Request) {
	wb, err := s.store.GetWorkbook(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(wb.Source) == 0 {
		writeError(w, http.StatusNotFound, "workbook "+wb.ID+" was not uploaded as a spreadsheet")
		return
	}
	base := strings.TrimSuffix(filepath.Base(wb.SourceFile), filepath.Ext(wb.SourceFile))
	if base == "" || base == "." {
		base = wb.Name
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": base + "_optimized.xlsx"}))
	w.Header().Set("Content-Length", strconv.Itoa(len(wb.Source)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wb.Source)
}

// handleDeleteWorkbook handles DELETE /v1/workbooks/{id}.
func (s *GraphServer) handleDeleteWorkbook(w http.ResponseWriter, r *http.Request) {
	if err := s.deleteWorkbook(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListComputations handles GET /v1/workbooks/{id}/computations.
func (s *GraphServer) handleListComputations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	if _, err := s.store.GetWorkbook(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	list, err := s.store.ListComputations(r.Context(), id, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Computation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"computations": list})
}

// calculateInput is the body of POST /v1/workbooks/{id}/calculate.
type calculateInput struct {
	Inputs map[string]float64 `json:"inputs"`
}

// handleCalculate handles POST /v1/workbooks/{id}/calculate.
func (s *GraphServer) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var in calculateInput
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	resp, err := s.calculate(r.Context(), r.PathValue("id"), in.Inputs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
