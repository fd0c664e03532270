package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alfredjeanlab/paramgraph/internal/model"
)

// Remote delegates computation to an external calculator service. The
// service receives the input overrides as a JSON object and answers
// {"calculated_values": {id: {"value": ..., "error": ...}}}.
type Remote struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewRemote returns a calculator posting to url. When token is non-empty it
// is sent as a bearer token.
func NewRemote(url, token string) *Remote {
	return &Remote{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// RemoteError is a non-2xx answer from the calculator service.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("calculator HTTP %d: %s", e.StatusCode, e.Message)
}

type remoteResponse struct {
	CalculatedValues model.ComputedMap `json:"calculated_values"`
	Error            string            `json:"error,omitempty"`
}

// Compute implements Calculator. Values for identifiers the request does
// not know are passed through; the merge step reports them as unknown.
func (r *Remote) Compute(ctx context.Context, req *Request) (model.ComputedMap, error) {
	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]float64{}
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return nil, fmt.Errorf("marshaling inputs: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling calculator: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading calculator response: %w", err)
	}

	var out remoteResponse
	if resp.StatusCode >= 400 {
		if json.Unmarshal(body, &out) == nil && out.Error != "" {
			return nil, &RemoteError{StatusCode: resp.StatusCode, Message: out.Error}
		}
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding calculator response: %w", err)
	}
	if out.CalculatedValues == nil {
		return model.ComputedMap{}, nil
	}
	return out.CalculatedValues, nil
}
