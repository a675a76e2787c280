// Package client is a typed HTTP client for the meshplane controller API.
// It is shared by meshctl and the node agent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"meshplane/pkg/api"
)

// UserIDHeader identifies the caller to the controller.
const UserIDHeader = "X-User-ID"

// Client handles API calls to the meshplane controller.
type Client struct {
	BaseURL    string
	UserID     string
	HTTPClient *http.Client
}

// New creates a client for the controller at baseURL. userID may be empty.
func New(baseURL, userID string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		UserID:  userID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the controller.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// RegisterNode sends POST /nodes/register.
func (c *Client) RegisterNode(ctx context.Context, req api.RegisterNodeRequest) (*api.NodeResponse, error) {
	var result api.NodeResponse
	if err := c.do(ctx, http.MethodPost, "/nodes/register", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListNodes sends GET /nodes, optionally restricted to live nodes.
func (c *Client) ListNodes(ctx context.Context, live bool) (*api.ListNodesResponse, error) {
	path := "/nodes"
	if live {
		path += "?live=true"
	}
	var result api.ListNodesResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetNode sends GET /nodes/{id}.
func (c *Client) GetNode(ctx context.Context, nodeID string) (*api.NodeResponse, error) {
	var result api.NodeResponse
	if err := c.do(ctx, http.MethodGet, "/nodes/"+url.PathEscape(nodeID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Heartbeat sends POST /nodes/{id}/heartbeat.
func (c *Client) Heartbeat(ctx context.Context, nodeID string) (*api.HeartbeatResponse, error) {
	var result api.HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/nodes/"+url.PathEscape(nodeID)+"/heartbeat", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// NodeMetrics sends GET /nodes/{id}/metrics.
func (c *Client) NodeMetrics(ctx context.Context, nodeID string) (*api.NodeMetricsResponse, error) {
	var result api.NodeMetricsResponse
	if err := c.do(ctx, http.MethodGet, "/nodes/"+url.PathEscape(nodeID)+"/metrics", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ReputationHistory sends GET /nodes/{id}/reputation. A zero limit uses the server default.
func (c *Client) ReputationHistory(ctx context.Context, nodeID string, limit int) (*api.ReputationHistoryResponse, error) {
	path := "/nodes/" + url.PathEscape(nodeID) + "/reputation"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var result api.ReputationHistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateJob sends POST /jobs.
func (c *Client) CreateJob(ctx context.Context, req api.CreateJobRequest) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Finetune sends POST /finetune.
func (c *Client) Finetune(ctx context.Context, req api.CreateJobRequest) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(ctx, http.MethodPost, "/finetune", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *Client) GetJob(ctx context.Context, jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RetryJob sends POST /jobs/{id}/retry.
func (c *Client) RetryJob(ctx context.Context, jobID string) (*api.RetryJobResponse, error) {
	var result api.RetryJobResponse
	if err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/retry", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// JobMetrics sends GET /jobs/{id}/metrics.
func (c *Client) JobMetrics(ctx context.Context, jobID string) (*api.JobMetricsResponse, error) {
	var result api.JobMetricsResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/metrics", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats sends GET /stats.
func (c *Client) Stats(ctx context.Context) (*api.SystemStatsResponse, error) {
	var result api.SystemStatsResponse
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health sends GET /health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var result api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.UserID != "" {
		httpReq.Header.Set(UserIDHeader, c.UserID)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts the message of an api.ErrorResponse, falling back to
// the raw body for plain-text errors such as 429.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		if e.Details != "" {
			return e.Error + ": " + e.Details
		}
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
