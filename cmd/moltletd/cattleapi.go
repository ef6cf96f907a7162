// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/regenrek/moltlets-sub007/lib/queue"
)

// cattleAPI serves the bootstrap listener where freshly booted
// instances redeem their one-time token for secrets. It binds to a
// separate address from the orchestrator API so the secret-dispensing
// surface can be firewalled down to the fleet's network alone.
type cattleAPI struct {
	store *queue.Store

	// getenv resolves declared secret keys. os.Getenv in production;
	// injected in tests.
	getenv func(string) string

	logger *slog.Logger
}

// newCattleMux routes the cattle bootstrap API. Anything but the two
// known paths is a 404.
func newCattleMux(api *cattleAPI) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/cattle/env", api.handleEnv)
	mux.HandleFunc("GET /healthz", api.handleHealthz)
	return mux
}

func (api *cattleAPI) handleEnv(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		api.unauthorized(w, r, "malformed authorization header")
		return
	}

	payload, err := api.store.ConsumeCattleBootstrapToken(r.Context(), token)
	if err != nil {
		api.logger.Error("consuming bootstrap token", "error", err)
		sendError(w, api.logger, http.StatusInternalServerError, "internal error")
		return
	}
	if payload == nil {
		// Unknown, expired, and already-spent tokens are deliberately
		// indistinguishable here.
		api.unauthorized(w, r, "token rejected")
		return
	}

	// The mint path validated these once. Re-check before touching the
	// process environment so a corrupted row cannot smuggle key names.
	for _, key := range payload.EnvKeys {
		if !queue.ValidEnvKey(key) {
			api.logger.Error("token payload has invalid env key",
				"job_id", payload.JobID, "key", key)
			sendError(w, api.logger, http.StatusBadRequest, "invalid token payload")
			return
		}
	}
	for key := range payload.PublicEnv {
		if !strings.HasPrefix(key, queue.PublicEnvPrefix) || !queue.ValidEnvKey(key) {
			api.logger.Error("token payload has invalid public env key",
				"job_id", payload.JobID, "key", key)
			sendError(w, api.logger, http.StatusBadRequest, "invalid token payload")
			return
		}
	}

	env := make(map[string]string, len(payload.PublicEnv)+len(payload.EnvKeys))
	for key, value := range payload.PublicEnv {
		env[key] = value
	}
	// Secrets are written after the public entries, so on a key
	// collision the secret value wins.
	for _, key := range payload.EnvKeys {
		value := api.getenv(key)
		if value == "" {
			// The token promised a secret the daemon does not hold.
			// That is a deployment bug: fail closed instead of
			// booting the instance without its credentials.
			api.logger.Error("declared secret missing from daemon environment",
				"job_id", payload.JobID, "cattle", payload.CattleName, "key", key)
			sendError(w, api.logger, http.StatusInternalServerError, "server configuration error")
			return
		}
		env[key] = value
	}

	api.logger.Info("bootstrap token redeemed",
		"job_id", payload.JobID,
		"requester", payload.Requester,
		"cattle", payload.CattleName,
		"secret_keys", len(payload.EnvKeys),
		"public_keys", len(payload.PublicEnv),
	)
	writeJSON(w, api.logger, struct {
		OK  bool              `json:"ok"`
		Env map[string]string `json:"env"`
	}{OK: true, Env: env})
}

func (api *cattleAPI) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, api.logger, okResponse{OK: true})
}

// unauthorized sends the single uniform 401. Every auth failure goes
// through here so the response cannot leak why authentication failed;
// the reason stays in the log.
func (api *cattleAPI) unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	api.logger.Warn("bootstrap auth failed", "reason", reason, "remote", r.RemoteAddr)
	sendError(w, api.logger, http.StatusUnauthorized, "unauthorized")
}

// bearerToken extracts the token from an Authorization header. The
// scheme is case-insensitive but the separator must be exactly one
// space: tabs, extra spaces, or whitespace inside the token all fail,
// and the caller treats every failure identically.
func bearerToken(header string) (string, bool) {
	const prefixLen = len("Bearer ")
	if len(header) <= prefixLen {
		return "", false
	}
	if !strings.EqualFold(header[:prefixLen-1], "Bearer") || header[prefixLen-1] != ' ' {
		return "", false
	}
	token := header[prefixLen:]
	if strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
