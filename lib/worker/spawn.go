// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/regenrek/moltlets-sub007/lib/cattle"
	"github.com/regenrek/moltlets-sub007/lib/persona"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

// githubTokenEnv is the worker-environment variable forwarded to
// instances that request it.
const githubTokenEnv = "GITHUB_TOKEN"

// Public (non-secret) bootstrap environment delivered to every
// instance alongside its secrets. The reserved prefix keeps these from
// ever shadowing a real secret name.
const (
	pubEnvAutoShutdown = queue.PublicEnvPrefix + "AUTO_SHUTDOWN"
	pubEnvCattleName   = queue.PublicEnvPrefix + "CATTLE_NAME"
	pubEnvTTLSeconds   = queue.PublicEnvPrefix + "TTL_SECONDS"
)

// SpawnPayload is the cattle.spawn job payload.
type SpawnPayload struct {
	// Persona names the persona to boot. Required.
	Persona string `json:"persona"`

	// TTL overrides the instance lifetime, as a duration string like
	// "90m". Optional.
	TTL string `json:"ttl,omitempty"`

	// ServerType, Image, and Location override provider placement.
	// Unset fields fall back to the persona's defaults, then to the
	// fleet configuration.
	ServerType string `json:"serverType,omitempty"`
	Image      string `json:"image,omitempty"`
	Location   string `json:"location,omitempty"`

	// AutoShutdown controls whether the instance powers itself off
	// when its task completes. Defaults to true. The value reaches the
	// instance through the public bootstrap environment, never as a
	// secret.
	AutoShutdown *bool `json:"autoShutdown,omitempty"`

	// WithGithubToken additionally scopes the instance's bootstrap
	// token to the worker's GITHUB_TOKEN.
	WithGithubToken bool `json:"withGithubToken,omitempty"`

	// Task overrides the persona's default task document (JSON).
	Task json.RawMessage `json:"task,omitempty"`
}

// SpawnResult is the job result recorded for a successful spawn.
type SpawnResult struct {
	Server     SpawnedServer `json:"server"`
	Persona    string        `json:"persona"`
	TTLSeconds int64         `json:"ttlSeconds"`

	// Adopted reports that a retried spawn found the instance its
	// earlier attempt had already created and reused it.
	Adopted bool `json:"adopted,omitempty"`

	// TokenExpiresAt is the bootstrap token's redemption deadline
	// (RFC 3339). Empty on adoption; the original attempt's token
	// still governs the instance.
	TokenExpiresAt string `json:"tokenExpiresAt,omitempty"`
}

// SpawnedServer is the created instance's identity, reduced to what
// callers need to reach and recognize it.
type SpawnedServer struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	IPv4       string `json:"ipv4,omitempty"`
	IPv6       string `json:"ipv6,omitempty"`
	ServerType string `json:"serverType,omitempty"`
}

// spawn provisions one cattle instance for a persona: load the
// persona, enforce the fleet quota, mint a bootstrap token, render
// cloud-init, create the server. The instance name derives from the
// job ID, so a retried spawn reaches for the same name and adopts the
// existing instance instead of duplicating it.
func (w *Worker) spawn(ctx context.Context, job *queue.Job) (any, error) {
	payload, err := parseSpawnPayload(job.Payload)
	if err != nil {
		return nil, err
	}

	p, err := w.personas.Load(payload.Persona)
	if err != nil {
		return nil, fmt.Errorf("loading persona: %w", err)
	}
	w.emit(job.ID, "persona", "loaded persona "+p.Name)

	envKeys := p.EnvKeys()
	if payload.WithGithubToken {
		if os.Getenv(githubTokenEnv) == "" {
			return nil, errors.New("GITHUB_TOKEN missing from the worker environment")
		}
		envKeys = append(envKeys, githubTokenEnv)
	}

	ttl, err := resolveTTL(payload.TTL, p.Defaults.TTL, w.fleet.DefaultTTL)
	if err != nil {
		return nil, err
	}
	serverType := cmp.Or(payload.ServerType, p.Defaults.ServerType, w.fleet.ServerType)
	image := cmp.Or(payload.Image, p.Defaults.Image, w.fleet.Image)
	location := cmp.Or(payload.Location, p.Defaults.Location, w.fleet.Location)

	name := cattle.InstanceName(w.fleet.Name, p.Name, job.ID)

	live, err := w.provider.ListServers(ctx, cattle.FleetSelector(w.fleet.Name))
	if err != nil {
		return nil, fmt.Errorf("listing fleet instances: %w", err)
	}

	// A spawn retried after a crash or lease reclaim may find the
	// instance its earlier attempt already created. Adopt it; the
	// token minted back then still governs its bootstrap.
	for _, server := range live {
		if server.Labels[cattle.LabelJob] == job.ID {
			w.emit(job.ID, "adopt", "adopted existing instance "+server.Name)
			return spawnResult(server, p.Name, ttl, true, ""), nil
		}
	}

	if len(live) >= w.fleet.MaxInstances {
		return nil, fmt.Errorf("fleet %q is at capacity (%d/%d live instances)",
			w.fleet.Name, len(live), w.fleet.MaxInstances)
	}

	autoShutdown := true
	if payload.AutoShutdown != nil {
		autoShutdown = *payload.AutoShutdown
	}
	token, err := w.store.CreateCattleBootstrapToken(ctx, queue.TokenRequest{
		JobID:      job.ID,
		Requester:  job.Requester,
		CattleName: name,
		EnvKeys:    envKeys,
		PublicEnv: map[string]string{
			pubEnvAutoShutdown: strconv.FormatBool(autoShutdown),
			pubEnvCattleName:   name,
			pubEnvTTLSeconds:   strconv.FormatInt(int64(ttl.Seconds()), 10),
		},
		TTL: w.tokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("minting bootstrap token: %w", err)
	}
	w.emit(job.ID, "token", "minted bootstrap token for "+name)

	userData, err := cattle.CloudInit{
		Hostname:         name,
		SSHAuthorizedKey: w.fleet.SSHAuthorizedKey,
		CattleAPIURL:     w.fleet.CattleAPIURL,
		BootstrapToken:   token.Token,
		Persona:          p,
		Task:             payload.Task,
	}.Render()
	if err != nil {
		return nil, fmt.Errorf("rendering cloud-init: %w", err)
	}

	created, err := w.provider.CreateServer(ctx, cattle.CreateServerRequest{
		Name:       name,
		ServerType: serverType,
		Image:      image,
		Location:   location,
		Labels:     cattle.Labels(w.fleet.Name, p.Name, job.ID, ttl),
		UserData:   userData,
	})
	if cattle.IsUniquenessError(err) {
		// Our earlier attempt won a race between the listing above and
		// this create. The token just minted is an orphan; it expires
		// unredeemed.
		existing, listErr := w.provider.ListServers(ctx, cattle.JobSelector(w.fleet.Name, job.ID))
		if listErr == nil && len(existing) > 0 {
			w.emit(job.ID, "adopt", "adopted existing instance "+existing[0].Name)
			return spawnResult(existing[0], p.Name, ttl, true, ""), nil
		}
		return nil, fmt.Errorf("creating instance: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("creating instance: %w", err)
	}

	w.emit(job.ID, "create", "created instance "+created.Name)
	return spawnResult(*created, p.Name, ttl, false, token.ExpiresAt.UTC().Format(time.RFC3339)), nil
}

func parseSpawnPayload(raw []byte) (SpawnPayload, error) {
	var payload SpawnPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return SpawnPayload{}, fmt.Errorf("parsing spawn payload: %w", err)
		}
	}
	if payload.Persona == "" {
		return SpawnPayload{}, errors.New("spawn payload: persona is required")
	}
	if !persona.ValidName(payload.Persona) {
		return SpawnPayload{}, fmt.Errorf("spawn payload: invalid persona name %q", payload.Persona)
	}
	return payload, nil
}

// resolveTTL layers the instance lifetime: payload, then persona
// default, then fleet default.
func resolveTTL(raw string, personaDefault, fleetDefault time.Duration) (time.Duration, error) {
	if raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("spawn payload: invalid ttl %q: %w", raw, err)
		}
		if ttl <= 0 {
			return 0, fmt.Errorf("spawn payload: ttl %q must be positive", raw)
		}
		return ttl, nil
	}
	if personaDefault > 0 {
		return personaDefault, nil
	}
	return fleetDefault, nil
}

func spawnResult(server cattle.Server, personaName string, ttl time.Duration, adopted bool, tokenExpiresAt string) SpawnResult {
	return SpawnResult{
		Server: SpawnedServer{
			ID:         server.ID,
			Name:       server.Name,
			IPv4:       server.PublicNet.IPv4.IP,
			IPv6:       server.PublicNet.IPv6.IP,
			ServerType: server.ServerType.Name,
		},
		Persona:        personaName,
		TTLSeconds:     int64(ttl.Seconds()),
		Adopted:        adopted,
		TokenExpiresAt: tokenExpiresAt,
	}
}
