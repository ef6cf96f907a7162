// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Moltletd is the fleet daemon. It owns the SQLite job queue, runs the
// worker pool that executes cattle.spawn and cattle.reap jobs against
// the Hetzner Cloud API, and serves two HTTP listeners: the
// orchestrator API (job control, personas, status) for operators and
// bots, and the cattle bootstrap API where freshly booted instances
// redeem their one-time token for secrets.
package main
