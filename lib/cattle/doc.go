// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cattle talks to the cloud provider that hosts ephemeral
// instances. It is a thin, typed wrapper over the three REST calls
// the worker needs (list, create, and delete servers by label) plus
// the pure helpers that surround a create: stable instance naming,
// lifecycle labels, cloud-init document rendering, and operator SSH
// key validation.
//
// The driver is stateless and carries no retry logic of its own:
// provider failures surface as *ProviderError and are retried (or
// not) by the job queue's backoff policy. Each call runs under the
// caller's context with the HTTP client's own timeout as the I/O
// bound.
package cattle
