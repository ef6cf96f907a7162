// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import "strings"

// maxInstanceNameLength is the hostname label limit; provider server
// names double as hostnames.
const maxInstanceNameLength = 63

// InstanceName derives the provider server name for a spawn job:
// fleet, persona, and the job id's random suffix, joined with dashes.
// The name is a pure function of its inputs, so a spawn retried after
// a crash or lease reclaim regenerates the identical name and either
// adopts the existing server or trips the provider's uniqueness check
// instead of creating a duplicate.
func InstanceName(fleet, personaName, jobID string) string {
	suffix := strings.TrimPrefix(jobID, "job-")
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}

	// Budget the persona portion so the whole name fits a hostname
	// label even with a maximum-length fleet name.
	budget := maxInstanceNameLength - len(fleet) - len(suffix) - 2
	if budget < 1 {
		budget = 1
	}
	if len(personaName) > budget {
		personaName = strings.TrimRight(personaName[:budget], "-")
	}

	return fleet + "-" + personaName + "-" + suffix
}
