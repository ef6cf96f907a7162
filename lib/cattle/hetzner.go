// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/netutil"
	"github.com/regenrek/moltlets-sub007/lib/secret"
)

// defaultBaseURL is the public Hetzner Cloud API.
const defaultBaseURL = "https://api.hetzner.cloud/v1"

// Config holds configuration for creating a provider Client.
type Config struct {
	// BaseURL is the root URL for API requests. Defaults to
	// "https://api.hetzner.cloud/v1". Must use HTTPS.
	BaseURL string

	// Token is the provider API token, held in a protected buffer.
	// Required.
	Token *secret.Buffer

	// HTTPClient is used for all HTTP requests. Defaults to a client
	// with a 30 second timeout: provider calls are the handler's I/O
	// boundary and must not hang a worker for a whole lease.
	HTTPClient *http.Client

	// Logger is used for structured logging. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Client is a typed Hetzner Cloud API client covering the server
// lifecycle calls the worker needs.
type Client struct {
	baseURL    string
	token      *secret.Buffer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a provider client from the given configuration.
func NewClient(config Config) (*Client, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("cattle: provider client requires HTTPS (got %q)", baseURL)
	}

	if config.Token == nil || config.Token.Len() == 0 {
		return nil, fmt.Errorf("cattle: provider token is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    baseURL,
		token:      config.Token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Server is a provider instance, reduced to the fields the worker
// acts on.
type Server struct {
	ID        int64             `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Created   time.Time         `json:"created"`
	Labels    map[string]string `json:"labels"`
	PublicNet PublicNet         `json:"public_net"`

	ServerType ServerTypeRef `json:"server_type"`
}

// PublicNet carries a server's public addresses.
type PublicNet struct {
	IPv4 IPAddress `json:"ipv4"`
	IPv6 IPAddress `json:"ipv6"`
}

// IPAddress is one assigned address.
type IPAddress struct {
	IP string `json:"ip"`
}

// ServerTypeRef names the machine type a server runs on.
type ServerTypeRef struct {
	Name string `json:"name"`
}

// ListServers returns every server matching the label selector (all
// servers when the selector is empty), following pagination to the
// end.
func (client *Client) ListServers(ctx context.Context, labelSelector string) ([]Server, error) {
	var servers []Server
	page := 1
	for {
		query := url.Values{
			"per_page": {"50"},
			"page":     {strconv.Itoa(page)},
		}
		if labelSelector != "" {
			query.Set("label_selector", labelSelector)
		}

		var result struct {
			Servers []Server `json:"servers"`
			Meta    struct {
				Pagination struct {
					NextPage *int `json:"next_page"`
				} `json:"pagination"`
			} `json:"meta"`
		}
		if err := client.do(ctx, http.MethodGet, "/servers?"+query.Encode(), nil, &result); err != nil {
			return nil, err
		}
		servers = append(servers, result.Servers...)

		if result.Meta.Pagination.NextPage == nil {
			return servers, nil
		}
		page = *result.Meta.Pagination.NextPage
	}
}

// CreateServerRequest describes a server to create.
type CreateServerRequest struct {
	Name       string
	ServerType string
	Image      string
	Location   string
	Labels     map[string]string
	UserData   string
}

// CreateServer creates and starts a server. The provider only accepts
// user-data at create time, so the cloud-init document must be fully
// rendered before this call.
func (client *Client) CreateServer(ctx context.Context, request CreateServerRequest) (*Server, error) {
	if request.Name == "" {
		return nil, fmt.Errorf("cattle: server name is required")
	}
	if request.ServerType == "" {
		return nil, fmt.Errorf("cattle: server type is required")
	}
	if request.Image == "" {
		return nil, fmt.Errorf("cattle: image is required")
	}

	wire := struct {
		Name             string            `json:"name"`
		ServerType       string            `json:"server_type"`
		Image            string            `json:"image"`
		Location         string            `json:"location,omitempty"`
		Labels           map[string]string `json:"labels,omitempty"`
		UserData         string            `json:"user_data,omitempty"`
		StartAfterCreate bool              `json:"start_after_create"`
	}{
		Name:             request.Name,
		ServerType:       request.ServerType,
		Image:            request.Image,
		Location:         request.Location,
		Labels:           request.Labels,
		UserData:         request.UserData,
		StartAfterCreate: true,
	}

	var result struct {
		Server Server `json:"server"`
	}
	if err := client.do(ctx, http.MethodPost, "/servers", wire, &result); err != nil {
		return nil, err
	}

	client.logger.Info("created provider server",
		"server_id", result.Server.ID,
		"name", result.Server.Name,
		"server_type", request.ServerType,
		"location", request.Location)
	return &result.Server, nil
}

// DeleteServer deletes a server by id. Deleting a server that no
// longer exists is a success: deletes are idempotent so a reap retried
// after a lease reclaim does not fail on its own earlier progress.
func (client *Client) DeleteServer(ctx context.Context, id int64) error {
	err := client.do(ctx, http.MethodDelete, "/servers/"+strconv.FormatInt(id, 10), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	client.logger.Info("deleted provider server", "server_id", id)
	return nil
}

// do executes one authenticated API request. On non-2xx responses the
// returned error is a *ProviderError carrying the provider's code and
// message.
func (client *Client) do(ctx context.Context, method, path string, requestBody, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("cattle: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("cattle: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+client.token.String())
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("cattle: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	client.logger.Debug("provider call",
		"method", method,
		"path", path,
		"status", response.StatusCode)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return parseProviderError(response)
	}
	if result == nil {
		io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := netutil.DecodeResponse(response.Body, result); err != nil {
		return fmt.Errorf("cattle: decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// ProviderError represents a non-2xx response from the provider API.
type ProviderError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Code is the provider's machine-readable error code (for example
	// "uniqueness_error" or "resource_limit_exceeded").
	Code string

	// Message is the provider's human-readable description.
	Message string
}

func (err *ProviderError) Error() string {
	if err.Code != "" {
		return fmt.Sprintf("cattle: provider HTTP %d: %s (%s)", err.StatusCode, err.Message, err.Code)
	}
	return fmt.Sprintf("cattle: provider HTTP %d: %s", err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var providerError *ProviderError
	return errors.As(err, &providerError) && providerError.StatusCode == http.StatusNotFound
}

// IsUniquenessError reports whether err is the provider rejecting a
// create because the name is already taken. The spawn handler treats
// this as "my earlier attempt already created it" and adopts the
// existing server.
func IsUniquenessError(err error) bool {
	var providerError *ProviderError
	return errors.As(err, &providerError) && providerError.Code == "uniqueness_error"
}

// parseProviderError decodes the provider's structured error body.
func parseProviderError(response *http.Response) *ProviderError {
	providerError := &ProviderError{StatusCode: response.StatusCode}

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		providerError.Message = "unreadable error body"
		return providerError
	}

	var wireError struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		providerError.Code = wireError.Error.Code
		providerError.Message = wireError.Error.Message
	} else {
		providerError.Message = strings.TrimSpace(string(body))
	}
	return providerError
}
