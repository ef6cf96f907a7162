// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleetclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/regenrek/moltlets-sub007/lib/netutil"
	"github.com/regenrek/moltlets-sub007/lib/secret"
)

// CattleClient talks to the daemon's cattle bootstrap API. A freshly
// booted instance uses it exactly once, redeeming the bootstrap token
// written to its disk for the environment it runs with.
type CattleClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCattle creates a cattle bootstrap API client.
func NewCattle(config Config) (*CattleClient, error) {
	baseURL, httpClient, err := prepare(config)
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CattleClient{baseURL: baseURL, httpClient: httpClient, logger: logger}, nil
}

// cattleEnvResponse is the wire body of a successful GET /v1/cattle/env.
type cattleEnvResponse struct {
	OK  bool              `json:"ok"`
	Env map[string]string `json:"env"`
}

// Env redeems a bootstrap token for the instance's environment. The
// token is single-use: a second call with the same token fails with a
// 401 *APIError regardless of how the first call went.
func (c *CattleClient) Env(ctx context.Context, token *secret.Buffer) (map[string]string, error) {
	if token == nil || token.Len() == 0 {
		return nil, fmt.Errorf("fleetclient: bootstrap token is required")
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/cattle/env", nil)
	if err != nil {
		return nil, fmt.Errorf("fleetclient: creating request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token.String())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fleetclient: GET /v1/cattle/env: %w", err)
	}
	defer response.Body.Close()

	c.logger.Debug("cattle bootstrap call", "status", response.StatusCode)

	if response.StatusCode != http.StatusOK {
		return nil, parseAPIError(response)
	}

	var decoded cattleEnvResponse
	if err := netutil.DecodeResponse(response.Body, &decoded); err != nil {
		return nil, fmt.Errorf("fleetclient: decoding bootstrap response: %w", err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("fleetclient: bootstrap response not ok")
	}
	return decoded.Env, nil
}

// Health checks cattle API liveness.
func (c *CattleClient) Health(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("fleetclient: creating request: %w", err)
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("fleetclient: GET /healthz: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return parseAPIError(response)
	}
	io.Copy(io.Discard, response.Body)
	return nil
}
