// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/cattle"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

// ReapPayload is the cattle.reap job payload.
type ReapPayload struct {
	// DryRun reports expired instances without deleting them.
	DryRun bool `json:"dryRun,omitempty"`
}

// ReapedInstance identifies one instance found past its TTL.
type ReapedInstance struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Persona string `json:"persona,omitempty"`

	// ExpiredAt is when the instance's lifetime ended (RFC 3339).
	ExpiredAt string `json:"expiredAt"`
}

// ReapResult is the job result recorded for a reap sweep.
type ReapResult struct {
	// Checked counts the live fleet instances examined.
	Checked int `json:"checked"`

	// Expired lists every instance past its TTL, deleted or not.
	Expired []ReapedInstance `json:"expired"`

	// DeletedIDs lists the instances actually deleted this sweep.
	DeletedIDs []int64 `json:"deletedIds"`

	DryRun bool `json:"dryRun"`
}

// reap finds fleet instances whose creation time plus TTL label has
// passed and deletes them unless the payload asks for a dry run.
// Expiry is computed entirely from provider labels, so a fresh daemon
// with an empty database still reaps the fleet correctly.
func (w *Worker) reap(ctx context.Context, job *queue.Job) (any, error) {
	var payload ReapPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("parsing reap payload: %w", err)
		}
	}

	servers, err := w.provider.ListServers(ctx, cattle.FleetSelector(w.fleet.Name))
	if err != nil {
		return nil, fmt.Errorf("listing fleet instances: %w", err)
	}

	now := w.clock.Now()
	result := ReapResult{
		Checked:    len(servers),
		Expired:    []ReapedInstance{},
		DeletedIDs: []int64{},
		DryRun:     payload.DryRun,
	}

	var deleteErrs []error
	for _, server := range servers {
		expiry, ok := cattle.Expiry(server)
		if !ok {
			w.logger.Warn("cattle instance has no parseable ttl label, skipping",
				"job", job.ID,
				"server_id", server.ID,
				"name", server.Name)
			continue
		}
		if expiry.After(now) {
			continue
		}

		result.Expired = append(result.Expired, ReapedInstance{
			ID:        server.ID,
			Name:      server.Name,
			Persona:   server.Labels[cattle.LabelPersona],
			ExpiredAt: expiry.UTC().Format(time.RFC3339),
		})
		if payload.DryRun {
			continue
		}

		if err := w.provider.DeleteServer(ctx, server.ID); err != nil {
			// Keep sweeping. Deletes are idempotent, so whatever this
			// sweep misses the next one retries.
			deleteErrs = append(deleteErrs, fmt.Errorf("deleting %s: %w", server.Name, err))
			continue
		}
		result.DeletedIDs = append(result.DeletedIDs, server.ID)
		w.emit(job.ID, "reap", "deleted expired instance "+server.Name)
	}

	if len(deleteErrs) > 0 {
		return nil, errors.Join(deleteErrs...)
	}
	w.emit(job.ID, "reap", fmt.Sprintf("%d of %d instances expired, %d deleted",
		len(result.Expired), result.Checked, len(result.DeletedIDs)))
	return result, nil
}
