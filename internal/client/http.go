package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/paramgraph/internal/graph"
	"github.com/alfredjeanlab/paramgraph/internal/model"
	"github.com/alfredjeanlab/paramgraph/internal/view"
)

// HTTPClient implements GraphClient using the paramgraph HTTP/JSON REST API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func workbookPath(id string, rest ...string) string {
	p := "/v1/workbooks/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// --- Workbooks ---

func (c *HTTPClient) CreateWorkbook(ctx context.Context, req *CreateWorkbookRequest) (*CreateWorkbookResponse, error) {
	var resp CreateWorkbookResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/workbooks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UploadWorkbook sends a spreadsheet as multipart form data. An empty name
// lets the server derive one from filename.
func (c *HTTPClient) UploadWorkbook(ctx context.Context, name, filename string, r io.Reader) (*CreateWorkbookResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		if err := mw.WriteField("name", name); err != nil {
			return nil, fmt.Errorf("writing form: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("writing form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/workbooks/upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp CreateWorkbookResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ListWorkbooks(ctx context.Context) ([]*model.Workbook, error) {
	var resp struct {
		Workbooks []*model.Workbook `json:"workbooks"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/workbooks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workbooks, nil
}

func (c *HTTPClient) GetWorkbook(ctx context.Context, id string) (*model.Workbook, error) {
	var wb model.Workbook
	if err := c.doJSON(ctx, http.MethodGet, workbookPath(id), nil, &wb); err != nil {
		return nil, err
	}
	return &wb, nil
}

func (c *HTTPClient) DeleteWorkbook(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, workbookPath(id), nil, nil)
}

// DownloadWorkbook copies the optimized spreadsheet of an uploaded workbook
// to w.
func (c *HTTPClient) DownloadWorkbook(ctx context.Context, id string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, workbookPath(id, "optimized"), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		return apiError(resp.StatusCode, body)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("reading spreadsheet: %w", err)
	}
	return nil
}

// --- Graph queries ---

func (c *HTTPClient) GetParameters(ctx context.Context, workbookID string) (*model.Categories, error) {
	var cats model.Categories
	if err := c.doJSON(ctx, http.MethodGet, workbookPath(workbookID, "parameters"), nil, &cats); err != nil {
		return nil, err
	}
	return &cats, nil
}

func (c *HTTPClient) GetParameter(ctx context.Context, workbookID, id string) (*model.ParameterDetail, error) {
	var d model.ParameterDetail
	if err := c.doJSON(ctx, http.MethodGet, workbookPath(workbookID, "parameters", url.PathEscape(id)), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *HTTPClient) GetClosure(ctx context.Context, workbookID, id string, dependents bool) (*Closure, error) {
	path := workbookPath(workbookID, "parameters", url.PathEscape(id), "closure")
	if dependents {
		path += "?direction=dependents"
	}
	var cl Closure
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &cl); err != nil {
		return nil, err
	}
	return &cl, nil
}

func (c *HTTPClient) GetDependencies(ctx context.Context, workbookID string) ([]model.DependencyRecord, error) {
	var resp struct {
		Dependencies []model.DependencyRecord `json:"dependencies"`
	}
	if err := c.doJSON(ctx, http.MethodGet, workbookPath(workbookID, "dependencies"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Dependencies, nil
}

func (c *HTTPClient) GetCycles(ctx context.Context, workbookID string) (*graph.CycleReport, error) {
	var report graph.CycleReport
	if err := c.doJSON(ctx, http.MethodGet, workbookPath(workbookID, "cycles"), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *HTTPClient) GetOrder(ctx context.Context, workbookID string) ([]string, error) {
	var resp struct {
		Order []string `json:"order"`
	}
	if err := c.doJSON(ctx, http.MethodGet, workbookPath(workbookID, "order"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Order, nil
}

// --- Compute ---

func (c *HTTPClient) Calculate(ctx context.Context, workbookID string, inputs map[string]float64) (*CalculateResponse, error) {
	body := map[string]any{"inputs": inputs}
	var resp CalculateResponse
	if err := c.doJSON(ctx, http.MethodPost, workbookPath(workbookID, "calculate"), body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) ListComputations(ctx context.Context, workbookID string, limit int) ([]*model.Computation, error) {
	path := workbookPath(workbookID, "computations")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Computations []*model.Computation `json:"computations"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Computations, nil
}

// --- View ---

func (c *HTTPClient) GetView(ctx context.Context, workbookID string, req *ViewRequest) (*view.Projection, error) {
	path := workbookPath(workbookID, "view")
	if req != nil {
		q := url.Values{}
		if req.Mode != "" {
			q.Set("mode", req.Mode)
		}
		if req.Focus != "" {
			q.Set("focus", req.Focus)
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
	}
	var p view.Projection
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) SetView(ctx context.Context, workbookID string, req *ViewRequest) (*view.Projection, error) {
	if req == nil {
		req = &ViewRequest{}
	}
	var p view.Projection
	if err := c.doJSON(ctx, http.MethodPut, workbookPath(workbookID, "view"), req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Health ---

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded (for DELETE/204 responses).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, result)
}

func (c *HTTPClient) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	// 204 No Content: success with no body.
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return apiError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func apiError(code int, body []byte) error {
	var errResp struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: code, Message: errResp.Error}
	}
	return &APIError{StatusCode: code, Message: strings.TrimSpace(string(body))}
}
