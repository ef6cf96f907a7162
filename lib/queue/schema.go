// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queue

// schema is applied on every connection open. Statements are
// idempotent so an existing database passes through unchanged.
//
// Timestamps are Unix milliseconds. Job payloads and event details are
// JSON text; job results are deterministic CBOR blobs; token hashes
// are raw 32-byte BLAKE3 digests.
const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id               TEXT PRIMARY KEY,
		kind             TEXT NOT NULL,
		requester        TEXT NOT NULL,
		idempotency_key  TEXT,
		payload          TEXT,
		status           TEXT NOT NULL,
		attempt          INTEGER NOT NULL DEFAULT 0,
		max_attempts     INTEGER NOT NULL,
		run_at           INTEGER NOT NULL,
		locked_by        TEXT,
		lease_expires_at INTEGER,
		last_error       TEXT,
		result           BLOB,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	-- One job per (requester, idempotency key). Partial: jobs without
	-- a key never collide.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_idempotency
		ON jobs(requester, idempotency_key)
		WHERE idempotency_key IS NOT NULL;

	-- Claim scan: eligible jobs by status, oldest run_at first.
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, run_at);

	-- Listing by requester, newest first.
	CREATE INDEX IF NOT EXISTS idx_jobs_requester ON jobs(requester, created_at);

	-- Retention sweep: terminal jobs by age.
	CREATE INDEX IF NOT EXISTS idx_jobs_updated ON jobs(status, updated_at);

	CREATE TABLE IF NOT EXISTS job_events (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id  TEXT NOT NULL,
		type    TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		at      INTEGER NOT NULL,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);

	CREATE TABLE IF NOT EXISTS cattle_tokens (
		token_hash  BLOB PRIMARY KEY,
		job_id      TEXT NOT NULL,
		requester   TEXT NOT NULL,
		cattle_name TEXT NOT NULL,
		env_keys    TEXT NOT NULL,
		public_env  TEXT,
		created_at  INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL,
		used_at     INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_cattle_tokens_expiry ON cattle_tokens(expires_at);
`
