// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Moltctl is the operator CLI for a moltletd daemon. It provides
// subcommands for job queue control (jobs), cattle lifecycle (cattle),
// persona inspection (personas), and daemon health (status).
package main
