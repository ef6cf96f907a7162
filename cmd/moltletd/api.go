// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/clock"
	"github.com/regenrek/moltlets-sub007/lib/fleetclient"
	"github.com/regenrek/moltlets-sub007/lib/persona"
	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/version"
)

// maxRequestBody bounds enqueue bodies. Payloads are small JSON
// documents; anything near this limit is a client bug.
const maxRequestBody = 1 << 20

// orchestratorAPI serves the operator-facing job control API.
type orchestratorAPI struct {
	store       *queue.Store
	personas    *persona.Store
	environment string
	fleet       string
	startedAt   time.Time
	clock       clock.Clock
	logger      *slog.Logger
}

// newOrchestratorMux routes the orchestrator API.
func newOrchestratorMux(api *orchestratorAPI) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs/enqueue", api.handleEnqueue)
	mux.HandleFunc("GET /v1/jobs", api.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{jobID}", api.handleGetJob)
	mux.HandleFunc("POST /v1/jobs/{jobID}/cancel", api.handleCancelJob)
	mux.HandleFunc("GET /v1/jobs/{jobID}/events", api.handleJobEvents)
	mux.HandleFunc("GET /v1/status", api.handleStatus)
	mux.HandleFunc("GET /v1/personas", api.handleListPersonas)
	mux.HandleFunc("GET /v1/personas/{name}", api.handleGetPersona)
	mux.HandleFunc("GET /healthz", api.handleHealthz)
	return mux
}

func (api *orchestratorAPI) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req fleetclient.EnqueueRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		api.sendError(w, http.StatusBadRequest, "decoding request body: %v", err)
		return
	}

	if req.ProtocolVersion != fleetclient.ProtocolVersion {
		api.sendError(w, http.StatusBadRequest,
			"unsupported protocol version %d (daemon speaks %d)",
			req.ProtocolVersion, fleetclient.ProtocolVersion)
		return
	}
	kind, err := queue.ParseKind(req.Kind)
	if err != nil {
		api.sendError(w, http.StatusBadRequest, "%v", err)
		return
	}

	result, err := api.store.Enqueue(r.Context(), queue.EnqueueRequest{
		Kind:           kind,
		Requester:      req.Requester,
		IdempotencyKey: req.IdempotencyKey,
		Payload:        req.Payload,
	})
	if err != nil {
		if errors.Is(err, queue.ErrValidation) {
			api.sendError(w, http.StatusBadRequest, "%v", err)
			return
		}
		api.internalError(w, "enqueue", err)
		return
	}

	api.logger.Info("job enqueued",
		"job_id", result.JobID,
		"kind", kind,
		"requester", req.Requester,
		"deduped", result.Deduped,
	)
	api.writeJSON(w, result)
}

func (api *orchestratorAPI) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.ListFilter{Requester: query.Get("requester")}

	if raw := query.Get("status"); raw != "" {
		status, err := queue.ParseStatus(raw)
		if err != nil {
			api.sendError(w, http.StatusBadRequest, "%v", err)
			return
		}
		filter.Statuses = []queue.Status{status}
	}
	if raw := query.Get("kind"); raw != "" {
		kind, err := queue.ParseKind(raw)
		if err != nil {
			api.sendError(w, http.StatusBadRequest, "%v", err)
			return
		}
		filter.Kinds = []queue.Kind{kind}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			api.sendError(w, http.StatusBadRequest, "limit %q must be a non-negative integer", raw)
			return
		}
		filter.Limit = limit
	}

	jobs, err := api.store.List(r.Context(), filter)
	if err != nil {
		api.internalError(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []queue.Job{}
	}
	api.writeJSON(w, struct {
		Jobs []queue.Job `json:"jobs"`
	}{Jobs: jobs})
}

func (api *orchestratorAPI) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := api.store.Get(r.Context(), r.PathValue("jobID"))
	if err != nil {
		api.internalError(w, "get job", err)
		return
	}
	if job == nil {
		api.sendError(w, http.StatusNotFound, "job not found")
		return
	}
	api.writeJSON(w, job)
}

func (api *orchestratorAPI) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	found, err := api.store.Cancel(r.Context(), jobID)
	if err != nil {
		api.internalError(w, "cancel job", err)
		return
	}
	if !found {
		api.sendError(w, http.StatusNotFound, "job not found")
		return
	}
	api.logger.Info("job canceled", "job_id", jobID)
	api.writeJSON(w, okResponse{OK: true})
}

func (api *orchestratorAPI) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	job, err := api.store.Get(r.Context(), jobID)
	if err != nil {
		api.internalError(w, "get job", err)
		return
	}
	if job == nil {
		api.sendError(w, http.StatusNotFound, "job not found")
		return
	}

	events, err := api.store.Events(r.Context(), jobID)
	if err != nil {
		api.internalError(w, "list events", err)
		return
	}
	if events == nil {
		events = []queue.Event{}
	}
	api.writeJSON(w, struct {
		Events []queue.Event `json:"events"`
	}{Events: events})
}

func (api *orchestratorAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := api.store.Stats(r.Context())
	if err != nil {
		api.internalError(w, "queue stats", err)
		return
	}
	api.writeJSON(w, fleetclient.Status{
		Version:     version.Short(),
		Commit:      version.Commit(),
		Environment: api.environment,
		Fleet:       api.fleet,
		StartedAt:   api.startedAt,
		Uptime:      api.clock.Now().Sub(api.startedAt).Round(time.Second).String(),
		Queue:       stats,
	})
}

func (api *orchestratorAPI) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	names, err := api.personas.List()
	if err != nil {
		api.internalError(w, "list personas", err)
		return
	}

	// Definitions are re-read from disk on every Load, so one can
	// vanish or break between List and here. Skip it rather than fail
	// the whole listing.
	personas := make([]persona.Persona, 0, len(names))
	for _, name := range names {
		p, err := api.personas.Load(name)
		if err != nil {
			api.logger.Warn("skipping unloadable persona", "persona", name, "error", err)
			continue
		}
		personas = append(personas, *p)
	}
	api.writeJSON(w, struct {
		Personas []persona.Persona `json:"personas"`
	}{Personas: personas})
}

func (api *orchestratorAPI) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, err := api.personas.Load(r.PathValue("name"))
	if err != nil {
		if errors.Is(err, persona.ErrNotFound) {
			api.sendError(w, http.StatusNotFound, "persona not found")
			return
		}
		api.sendError(w, http.StatusBadRequest, "%v", err)
		return
	}
	api.writeJSON(w, p)
}

func (api *orchestratorAPI) handleHealthz(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, okResponse{OK: true})
}

// okResponse is the body of endpoints that only signal success.
type okResponse struct {
	OK bool `json:"ok"`
}

// errorResponse is the uniform error body shape.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
}

func (api *orchestratorAPI) writeJSON(w http.ResponseWriter, value any) {
	writeJSON(w, api.logger, value)
}

func (api *orchestratorAPI) sendError(w http.ResponseWriter, status int, format string, args ...any) {
	sendError(w, api.logger, status, format, args...)
}

// internalError hides store failure detail from the client and logs it
// server-side.
func (api *orchestratorAPI) internalError(w http.ResponseWriter, operation string, err error) {
	api.logger.Error(operation+" failed", "error", err)
	sendError(w, api.logger, http.StatusInternalServerError, "internal error")
}

// writeJSON encodes value into w with the JSON content type. Encoding
// failures mean the client went away; they are logged, not answered.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, value any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logger.Warn("writing JSON response", "error", err)
	}
}

func sendError(w http.ResponseWriter, logger *slog.Logger, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := errorResponse{Error: errorDetail{Message: fmt.Sprintf(format, args...)}}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("writing JSON error response", "error", err, "status", status)
	}
}
