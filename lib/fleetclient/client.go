// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleetclient is the typed HTTP client for a moltletd daemon.
//
// It covers both of the daemon's listeners: the orchestrator API
// (job control, personas, status) via [Client], and the cattle
// bootstrap API (one-time token redemption) via [CattleClient]. The
// wire request types defined here are shared with the daemon's
// handlers, so the contract lives in one place.
package fleetclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/netutil"
	"github.com/regenrek/moltlets-sub007/lib/persona"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

// ProtocolVersion is the orchestrator enqueue protocol this build
// speaks. The daemon rejects requests carrying a different version so
// that a stale CLI fails loudly instead of enqueueing a payload the
// worker will misread.
const ProtocolVersion = 1

// Config holds configuration for creating a fleet API client.
type Config struct {
	// BaseURL is the root URL of the API, for example
	// "http://127.0.0.1:7601". Required.
	BaseURL string

	// HTTPClient is used for all HTTP requests. Defaults to a client
	// with a 30 second timeout.
	HTTPClient *http.Client

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client talks to the orchestrator API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an orchestrator API client.
func New(config Config) (*Client, error) {
	baseURL, httpClient, err := prepare(config)
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

func prepare(config Config) (string, *http.Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		return "", nil, fmt.Errorf("fleetclient: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", nil, fmt.Errorf("fleetclient: BaseURL %q must be an http(s) URL", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return baseURL, httpClient, nil
}

// EnqueueRequest is the wire body of POST /v1/jobs/enqueue. The
// daemon decodes into the same struct.
type EnqueueRequest struct {
	// ProtocolVersion is filled by the client when zero.
	ProtocolVersion int `json:"protocolVersion"`

	// Requester identifies the caller. Required.
	Requester string `json:"requester"`

	// IdempotencyKey deduplicates repeated enqueues. Optional.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	// Kind is the job kind, for example "cattle.spawn".
	Kind string `json:"kind"`

	// Payload is the kind-specific request document.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Status is the daemon's self-report served at GET /v1/status.
type Status struct {
	Version     string      `json:"version"`
	Commit      string      `json:"commit,omitempty"`
	Environment string      `json:"environment"`
	Fleet       string      `json:"fleet"`
	StartedAt   time.Time   `json:"startedAt"`
	Uptime      string      `json:"uptime"`
	Queue       queue.Stats `json:"queue"`
}

// JobsQuery filters GET /v1/jobs.
type JobsQuery struct {
	Requester string
	Status    string
	Kind      string

	// Limit caps the result count. Zero uses the daemon default.
	Limit int
}

// Enqueue submits a job. The protocol version is filled in when the
// request leaves it zero.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (*queue.EnqueueResult, error) {
	if req.ProtocolVersion == 0 {
		req.ProtocolVersion = ProtocolVersion
	}
	var result queue.EnqueueResult
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/enqueue", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Jobs lists jobs matching the query, newest first.
func (c *Client) Jobs(ctx context.Context, query JobsQuery) ([]queue.Job, error) {
	values := url.Values{}
	if query.Requester != "" {
		values.Set("requester", query.Requester)
	}
	if query.Status != "" {
		values.Set("status", query.Status)
	}
	if query.Kind != "" {
		values.Set("kind", query.Kind)
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	path := "/v1/jobs"
	if len(values) > 0 {
		path += "?" + values.Encode()
	}

	var result struct {
		Jobs []queue.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Jobs, nil
}

// Job fetches one job by id. A missing job is an *APIError with
// status 404 (see IsNotFound).
func (c *Client) Job(ctx context.Context, jobID string) (*queue.Job, error) {
	if jobID == "" {
		return nil, fmt.Errorf("fleetclient: job id is required")
	}
	var job queue.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel administratively stops a job. Canceling a job that already
// reached a terminal status is a success.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("fleetclient: job id is required")
	}
	return c.do(ctx, http.MethodPost, "/v1/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil)
}

// Events returns the audit trail of one job, oldest first.
func (c *Client) Events(ctx context.Context, jobID string) ([]queue.Event, error) {
	if jobID == "" {
		return nil, fmt.Errorf("fleetclient: job id is required")
	}
	var result struct {
		Events []queue.Event `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(jobID)+"/events", nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// Status fetches the daemon's self-report.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var status Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Personas lists every loadable persona.
func (c *Client) Personas(ctx context.Context) ([]persona.Persona, error) {
	var result struct {
		Personas []persona.Persona `json:"personas"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/personas", nil, &result); err != nil {
		return nil, err
	}
	return result.Personas, nil
}

// Persona fetches one persona by name.
func (c *Client) Persona(ctx context.Context, name string) (*persona.Persona, error) {
	if name == "" {
		return nil, fmt.Errorf("fleetclient: persona name is required")
	}
	var p persona.Persona
	if err := c.do(ctx, http.MethodGet, "/v1/personas/"+url.PathEscape(name), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Health checks daemon liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do executes one API request. Non-2xx responses return an *APIError.
func (c *Client) do(ctx context.Context, method, path string, requestBody, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("fleetclient: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("fleetclient: creating request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("fleetclient: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	c.logger.Debug("fleet API call",
		"method", method,
		"path", path,
		"status", response.StatusCode)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return parseAPIError(response)
	}
	if result == nil {
		io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := netutil.DecodeResponse(response.Body, result); err != nil {
		return fmt.Errorf("fleetclient: decoding %s %s response: %w", method, path, err)
	}
	return nil
}
