package api_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/go-querystring/query"

	"github.com/WarriorSushi/speedstein/pkg/api/business/gateway"
	"github.com/WarriorSushi/speedstein/pkg/api/business/renders"
)

// IdentityHeader mirrors the header the render routes read the caller
// identity from.
const IdentityHeader = "X-Identity"

// Client is a typed client for the speedstein HTTP API.
type Client struct {
	httpClient *http.Client
	config     Config
}

// NewClient creates a new speedstein API client.
func NewClient(config Config) *Client {
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	reqURL := c.config.BaseURL + path

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if c.config.Identity != "" {
		req.Header.Set(IdentityHeader, c.config.Identity)
	}

	return req, nil
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)

		// The render routes answer failures with a call error body; surface
		// it typed so callers can branch on the kind.
		var callError renders.CallError
		if unmarshalErr := json.Unmarshal(bodyBytes, &callError); unmarshalErr == nil && callError.Kind != "" {
			return fmt.Errorf("api request failed with status %d: %w", resp.StatusCode, &callError)
		}

		return fmt.Errorf("api request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// RenderOne renders a single document.
func (c *Client) RenderOne(ctx context.Context, call renders.Call) (*renders.Result, error) {
	jsonBody, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render call: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/render", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result renders.Result
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// BatchRequest is the request body of the batch render endpoint.
type BatchRequest struct {
	Calls []renders.Call `json:"calls"`
}

// RenderBatch renders a batch of documents, honoring depends_on edges.
func (c *Client) RenderBatch(ctx context.Context, calls []renders.Call) (*gateway.BatchResult, error) {
	jsonBody, err := json.Marshal(BatchRequest{Calls: calls})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/render/batch", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var result gateway.BatchResult
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// GetJob retrieves one render job record.
func (c *Client) GetJob(ctx context.Context, jobID string) (*renders.Job, error) {
	path := fmt.Sprintf("/jobs/%s", jobID)

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var job renders.Job
	if err := c.do(req, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// ListJobsParams narrows a job listing.
type ListJobsParams struct {
	Identity string `url:"identity,omitempty"`
	Status   string `url:"status,omitempty"`
	Limit    int    `url:"limit,omitempty"`
}

// ListJobs lists stored render job records, newest first.
func (c *Client) ListJobs(ctx context.Context, params *ListJobsParams) ([]*renders.Job, error) {
	path := "/jobs"

	if params != nil {
		q, err := query.Values(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode query params: %w", err)
		}

		if q.Encode() != "" {
			path = path + "?" + q.Encode()
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var jobs []*renders.Job
	if err := c.do(req, &jobs); err != nil {
		return nil, err
	}

	return jobs, nil
}

// Stats retrieves the pool statistics snapshot.
func (c *Client) Stats(ctx context.Context) (*gateway.StatsSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/stats", nil)
	if err != nil {
		return nil, err
	}

	var stats gateway.StatsSnapshot
	if err := c.do(req, &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// Ping checks service liveness.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}

	return c.do(req, nil)
}
