// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobui

import (
	"context"

	"github.com/regenrek/moltlets-sub007/lib/fleetclient"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

// Source provides job data to the watcher. Implementations must be
// safe for calls from bubbletea command goroutines.
type Source interface {
	// Jobs returns the jobs the watcher displays, newest first.
	Jobs(ctx context.Context) ([]queue.Job, error)

	// Events returns one job's audit trail, oldest first.
	Events(ctx context.Context, jobID string) ([]queue.Event, error)

	// Cancel administratively stops a job.
	Cancel(ctx context.Context, jobID string) error
}

// ClientSource adapts a fleet API client to the Source interface,
// pinning the query the watcher was started with (requester, kind,
// status filters from the command line).
type ClientSource struct {
	Client *fleetclient.Client
	Query  fleetclient.JobsQuery
}

func (source *ClientSource) Jobs(ctx context.Context) ([]queue.Job, error) {
	return source.Client.Jobs(ctx, source.Query)
}

func (source *ClientSource) Events(ctx context.Context, jobID string) ([]queue.Event, error) {
	return source.Client.Events(ctx, jobID)
}

func (source *ClientSource) Cancel(ctx context.Context, jobID string) error {
	return source.Client.Cancel(ctx, jobID)
}
