// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package persona loads bot persona definitions from disk.
//
// A persona is the static identity of a bot the fleet can host: which
// model provider it talks to, which model it runs, the instructions it
// boots with, and any extra environment variables it needs. Personas
// live one-per-directory under a configured root:
//
//	personas/
//	  rex/
//	    persona.yaml       required
//	    instructions.md    optional system instructions (markdown)
//	    task.jsonc         optional default task payload
//
// The persona name is the directory name. Spawn jobs reference
// personas by name, so names are restricted to lowercase DNS-label
// characters; they end up in instance hostnames and provider labels.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Model providers a persona can be configured with. The provider
// determines which secret environment variable a spawned instance
// receives at bootstrap.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// providerEnvKeys maps each provider to the environment variable its
// SDK reads the API key from.
var providerEnvKeys = map[string]string{
	ProviderOpenAI:     "OPENAI_API_KEY",
	ProviderAnthropic:  "ANTHROPIC_API_KEY",
	ProviderOpenRouter: "OPENROUTER_API_KEY",
}

// namePattern matches valid persona names: lowercase DNS labels, since
// persona names are embedded in instance hostnames and provider
// labels. Also keeps names safe to join onto the persona directory.
var namePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,30}[a-z0-9])?$`)

// ValidName reports whether name is an acceptable persona name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Persona is a bot definition loaded from a persona directory.
type Persona struct {
	// Name is the persona's directory name. Populated by the loader,
	// never from the YAML file.
	Name string `yaml:"-" json:"name"`

	// Description is a one-line human summary.
	Description string `yaml:"description" json:"description,omitempty"`

	// Provider is the model provider: openai, anthropic, or
	// openrouter.
	Provider string `yaml:"provider" json:"provider"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model" json:"model"`

	// ExtraEnvKeys lists additional environment variable names the bot
	// needs at boot beyond the provider API key (e.g. SENTRY_DSN).
	// Values are resolved from the daemon's environment at redemption
	// time, never stored.
	ExtraEnvKeys []string `yaml:"extra_env_keys" json:"extraEnvKeys,omitempty"`

	// Defaults overrides fleet-wide spawn defaults for this persona.
	// Resolution order at spawn time: payload, then these, then the
	// fleet configuration.
	Defaults Defaults `yaml:"defaults" json:"defaults,omitzero"`

	// Instructions is the contents of instructions.md, empty when the
	// file is absent.
	Instructions string `yaml:"-" json:"instructions,omitempty"`

	// DefaultTask is the normalized JSON from task.jsonc, nil when the
	// file is absent. Spawn payloads without a task fall back to it.
	DefaultTask json.RawMessage `yaml:"-" json:"defaultTask,omitempty"`
}

// EnvKeys returns the environment variable names a spawned instance
// running this persona must receive at bootstrap: the provider's API
// key first, then ExtraEnvKeys, deduplicated with order preserved.
func (p *Persona) EnvKeys() []string {
	keys := make([]string, 0, 1+len(p.ExtraEnvKeys))
	keys = append(keys, providerEnvKeys[p.Provider])
	for _, key := range p.ExtraEnvKeys {
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Defaults are per-persona overrides of the fleet-wide spawn defaults.
// All fields are optional; zero values defer to the next layer.
type Defaults struct {
	// TTL is the instance lifetime.
	TTL time.Duration

	// ServerType, Image, and Location are provider identifiers.
	ServerType string
	Location   string
	Image      string
}

// defaultsWire is the serialized form of Defaults. The TTL travels as a
// duration string ("90m") in both YAML and JSON so persona files and
// API responses read the same way.
type defaultsWire struct {
	TTL        string `yaml:"ttl" json:"ttl,omitempty"`
	ServerType string `yaml:"server_type" json:"serverType,omitempty"`
	Location   string `yaml:"location" json:"location,omitempty"`
	Image      string `yaml:"image" json:"image,omitempty"`
}

func (d *Defaults) fromWire(w defaultsWire) error {
	if w.TTL != "" {
		ttl, err := time.ParseDuration(w.TTL)
		if err != nil {
			return fmt.Errorf("invalid ttl %q: %w", w.TTL, err)
		}
		if ttl <= 0 {
			return fmt.Errorf("ttl %q must be positive", w.TTL)
		}
		d.TTL = ttl
	}
	d.ServerType = w.ServerType
	d.Location = w.Location
	d.Image = w.Image
	return nil
}

func (d Defaults) toWire() defaultsWire {
	w := defaultsWire{
		ServerType: d.ServerType,
		Location:   d.Location,
		Image:      d.Image,
	}
	if d.TTL > 0 {
		w.TTL = d.TTL.String()
	}
	return w
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Defaults) UnmarshalYAML(value *yaml.Node) error {
	var w defaultsWire
	if err := value.Decode(&w); err != nil {
		return err
	}
	return d.fromWire(w)
}

// MarshalJSON implements json.Marshaler.
func (d Defaults) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.toWire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Defaults) UnmarshalJSON(data []byte) error {
	var w defaultsWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return d.fromWire(w)
}

// envKeyPattern matches well-formed environment variable identifiers.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the persona definition for errors.
func (p *Persona) Validate() error {
	var errs []error

	if !ValidName(p.Name) {
		errs = append(errs, fmt.Errorf("invalid persona name %q (must be a lowercase DNS label)", p.Name))
	}
	if _, ok := providerEnvKeys[p.Provider]; !ok {
		errs = append(errs, fmt.Errorf(
			"unknown provider %q (must be %s, %s, or %s)",
			p.Provider, ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter))
	}
	if p.Model == "" {
		errs = append(errs, fmt.Errorf("model is required"))
	}
	for _, key := range p.ExtraEnvKeys {
		if !envKeyPattern.MatchString(key) {
			errs = append(errs, fmt.Errorf("extra_env_keys: %q is not a valid environment variable name", key))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
