// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import (
	"strconv"
	"time"
)

// Label keys attached to every cattle instance. Labels are the only
// state the provider holds for us: the reaper reconstructs fleet
// membership, job attribution, and expiry entirely from them, so a
// fresh daemon with an empty database still reaps correctly.
const (
	LabelRole    = "molt.role"
	LabelFleet   = "molt.fleet"
	LabelPersona = "molt.persona"
	LabelJob     = "molt.job"

	// LabelTTL holds the instance lifetime as integer seconds.
	// Durations render to label-safe characters either way, but a
	// plain integer survives being parsed by humans and shell scripts
	// too.
	LabelTTL = "molt.ttl"

	// RoleCattle is the LabelRole value for ephemeral instances.
	// Anything else under the same fleet label (permanent hosts,
	// manually created machines) is invisible to the reaper.
	RoleCattle = "cattle"
)

// Labels builds the full label set for a new cattle instance.
func Labels(fleet, personaName, jobID string, ttl time.Duration) map[string]string {
	return map[string]string{
		LabelRole:    RoleCattle,
		LabelFleet:   fleet,
		LabelPersona: personaName,
		LabelJob:     jobID,
		LabelTTL:     strconv.FormatInt(int64(ttl.Seconds()), 10),
	}
}

// FleetSelector matches every cattle instance of one fleet.
func FleetSelector(fleet string) string {
	return LabelRole + "=" + RoleCattle + "," + LabelFleet + "=" + fleet
}

// JobSelector matches the cattle instance (at most one) created for a
// specific spawn job. Used to adopt an existing instance when a spawn
// is retried after a lease reclaim.
func JobSelector(fleet, jobID string) string {
	return FleetSelector(fleet) + "," + LabelJob + "=" + jobID
}

// Expiry computes when a server ages out: creation time plus its TTL
// label. Returns false for servers without a parseable TTL label;
// the reaper skips those rather than guessing.
func Expiry(server Server) (time.Time, bool) {
	raw, ok := server.Labels[LabelTTL]
	if !ok {
		return time.Time{}, false
	}
	seconds, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || seconds < 0 {
		return time.Time{}, false
	}
	return server.Created.Add(time.Duration(seconds) * time.Second), true
}

// Expired reports whether a server's lifetime has passed at now.
// Servers without a TTL label never expire.
func Expired(server Server, now time.Time) bool {
	expiry, ok := Expiry(server)
	return ok && !expiry.After(now)
}
