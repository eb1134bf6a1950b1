package kioku

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Kioku server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Kioku incident-intelligence API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("kioku: BaseURL is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: baseURL,
		client:  httpClient,
	}, nil
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// Ask runs query through the pipeline with server defaults. It is
// shorthand for Query with a bare QueryRequest.
func (c *Client) Ask(ctx context.Context, query string) (*RAGResponse, error) {
	return c.Query(ctx, QueryRequest{Query: query})
}

// Query runs a query through the retrieval pipeline and returns the
// grounded answer. A refusal is not an error: the server answers 200
// with Strategy "refusal", so check resp.Refused() rather than err.
func (c *Client) Query(ctx context.Context, req QueryRequest) (*RAGResponse, error) {
	var out RAGResponse
	if err := c.post(ctx, "/v1/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetIncident fetches one incident by its identifier. A missing id
// yields an *Error for which IsNotFound returns true.
func (c *Client) GetIncident(ctx context.Context, id string) (*Incident, error) {
	var out Incident
	if err := c.get(ctx, "/v1/incidents/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IngestIncidents submits a batch of incidents. The call succeeds even
// when some records are quarantined; inspect the report's Failures for
// per-record rejections.
func (c *Client) IngestIncidents(ctx context.Context, incidents []Incident) (*IngestReport, error) {
	body := struct {
		Incidents []Incident `json:"incidents"`
	}{Incidents: incidents}

	var out IngestReport
	if err := c.post(ctx, "/v1/incidents", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitFeedback records a quality signal for a previously served
// answer. Rating must be 1..5.
func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) (*FeedbackResponse, error) {
	var out FeedbackResponse
	if err := c.post(ctx, "/v1/feedback", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns the corpus and traffic snapshot.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var out StatsResponse
	if err := c.get(ctx, "/v1/stats", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health reports server component health. The server answers 503 when
// the corpus store is down but still sends a full HealthResponse body,
// so an unhealthy server yields a response, not an error; branch on
// resp.Status. Errors are reserved for transport and decode failures.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("kioku: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kioku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kioku: read response body: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil || envelope.Data == nil {
		return nil, parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	var out HealthResponse
	if err := json.Unmarshal(envelope.Data, &out); err != nil {
		return nil, fmt.Errorf("kioku: decode health response: %w", err)
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("kioku: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("kioku: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("kioku: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("kioku: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kioku: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("kioku: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
