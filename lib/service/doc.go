// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the process runtime shared by moltletd's
// long-running pieces: HTTP listeners with clean startup and shutdown,
// and poll loops with error backoff.
//
// The daemon runs two HTTP surfaces on separate listeners (the operator
// API and the cattle bootstrap API) plus several background loops (the
// worker pool, the reap scheduler, retention sweeps). All of them share
// the lifecycle conventions here: construction panics on programmer
// error, Serve and RunPollLoop block until their context is canceled,
// and shutdown is graceful with a bounded drain.
package service
