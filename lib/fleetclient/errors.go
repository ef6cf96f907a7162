// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fleetclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/regenrek/moltlets-sub007/lib/netutil"
)

// APIError represents a non-2xx response from a moltletd API.
type APIError struct {
	// StatusCode is the HTTP response status code.
	StatusCode int

	// Message is the daemon's human-readable description.
	Message string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("fleetclient: daemon HTTP %d: %s", err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a daemon 404, such as asking for
// a job or persona that does not exist.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a daemon 401. On the cattle
// API this means the bootstrap token was missing, malformed, expired
// or already spent; the body never says which.
func IsUnauthorized(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == http.StatusUnauthorized
}

// parseAPIError decodes the daemon's structured error body.
func parseAPIError(response *http.Response) *APIError {
	apiError := &APIError{StatusCode: response.StatusCode}

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		apiError.Message = "unreadable error body"
		return apiError
	}

	var wireError struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		apiError.Message = wireError.Error.Message
	} else {
		apiError.Message = strings.TrimSpace(string(body))
	}
	return apiError
}
