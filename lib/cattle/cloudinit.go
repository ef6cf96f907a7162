// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"

	"github.com/regenrek/moltlets-sub007/lib/persona"
)

// userDataLimit is the provider's cap on user-data size.
const userDataLimit = 32 * 1024

// compressFileThreshold is the per-file size above which embedded
// content switches to gzip+base64 encoding. cloud-init decodes
// "gz+b64" entries natively; compressing large persona instructions
// keeps the whole document under userDataLimit.
const compressFileThreshold = 4 * 1024

// CloudInit describes one instance's boot configuration. The rendered
// document carries the persona definition, the operator's SSH key, and
// the single-use bootstrap token, never any long-lived secret. The
// instance exchanges the token for its real environment over the
// cattle API during boot.
type CloudInit struct {
	// Hostname is the instance name.
	Hostname string

	// SSHAuthorizedKey is the operator's public key line. Optional;
	// when empty no login user is provisioned.
	SSHAuthorizedKey string

	// CattleAPIURL is the base URL the instance redeems its token
	// against, reachable from the provider network.
	CattleAPIURL string

	// BootstrapToken is the freshly minted single-use token.
	BootstrapToken string

	// Persona is the bot configuration the instance runs.
	Persona *persona.Persona

	// Task is the job-specific task payload (JSON). Empty falls back
	// to the persona's default task.
	Task []byte
}

// cloudConfig is the #cloud-config document layout.
type cloudConfig struct {
	Hostname   string      `yaml:"hostname"`
	Users      []cloudUser `yaml:"users,omitempty"`
	WriteFiles []cloudFile `yaml:"write_files"`
	RunCmd     []string    `yaml:"runcmd"`
}

type cloudUser struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

type cloudFile struct {
	Path        string `yaml:"path"`
	Permissions string `yaml:"permissions,omitempty"`
	Encoding    string `yaml:"encoding,omitempty"`
	Content     string `yaml:"content"`
}

// bootstrapScript redeems the one-time token for the instance's
// environment and writes it as sourceable export lines. The token
// file is removed as soon as it has been read; the token is dead
// after first use anyway, but there is no reason to leave it on disk.
const bootstrapScript = `#!/bin/sh
# Redeems this instance's one-time bootstrap token for its environment.
set -eu
umask 077

TOKEN="$(cat /opt/molt/bootstrap-token)"
curl -fsS --retry 10 --retry-delay 3 --retry-connrefused \
    -H "Authorization: Bearer ${TOKEN}" \
    '__CATTLE_API_URL__/v1/cattle/env' > /opt/molt/cattle-env.json
rm -f /opt/molt/bootstrap-token

python3 - <<'PY' > /opt/molt/cattle.env
import json, shlex
with open("/opt/molt/cattle-env.json") as handle:
    doc = json.load(handle)
for key, value in sorted(doc["env"].items()):
    print(f"export {key}={shlex.quote(value)}")
PY
rm -f /opt/molt/cattle-env.json
`

// Render produces the #cloud-config user-data document.
func (c CloudInit) Render() (string, error) {
	if c.Hostname == "" {
		return "", fmt.Errorf("cattle: cloud-init hostname is required")
	}
	if c.CattleAPIURL == "" {
		return "", fmt.Errorf("cattle: cloud-init cattle API URL is required")
	}
	if c.BootstrapToken == "" {
		return "", fmt.Errorf("cattle: cloud-init bootstrap token is required")
	}
	if c.Persona == nil {
		return "", fmt.Errorf("cattle: cloud-init persona is required")
	}

	document := cloudConfig{
		Hostname: c.Hostname,
		RunCmd:   []string{"/opt/molt/bootstrap.sh"},
	}

	if c.SSHAuthorizedKey != "" {
		document.Users = []cloudUser{{
			Name:              "molt",
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Shell:             "/bin/bash",
			SSHAuthorizedKeys: []string{c.SSHAuthorizedKey},
		}}
	}

	script := strings.ReplaceAll(bootstrapScript,
		"__CATTLE_API_URL__", strings.TrimRight(c.CattleAPIURL, "/"))
	document.WriteFiles = []cloudFile{
		{Path: "/opt/molt/bootstrap-token", Permissions: "0600", Content: c.BootstrapToken},
		{Path: "/opt/molt/bootstrap.sh", Permissions: "0755", Content: script},
	}

	personaJSON, err := json.MarshalIndent(c.Persona, "", "  ")
	if err != nil {
		return "", fmt.Errorf("cattle: encoding persona: %w", err)
	}
	document.WriteFiles = append(document.WriteFiles,
		fileEntry("/opt/molt/persona/persona.json", "0644", personaJSON))

	if len(c.Persona.Instructions) > 0 {
		document.WriteFiles = append(document.WriteFiles,
			fileEntry("/opt/molt/persona/instructions.md", "0644", []byte(c.Persona.Instructions)))
	}
	task := c.Task
	if len(task) == 0 {
		task = c.Persona.DefaultTask
	}
	if len(task) > 0 {
		document.WriteFiles = append(document.WriteFiles,
			fileEntry("/opt/molt/persona/task.json", "0644", task))
	}

	encoded, err := yaml.Marshal(document)
	if err != nil {
		return "", fmt.Errorf("cattle: encoding cloud-init document: %w", err)
	}
	rendered := "#cloud-config\n" + string(encoded)

	if len(rendered) > userDataLimit {
		return "", fmt.Errorf("cattle: cloud-init document is %d bytes, provider limit is %d (trim the persona's instructions or task)",
			len(rendered), userDataLimit)
	}
	return rendered, nil
}

// fileEntry embeds file content, switching to gzip+base64 when the
// content is large or not valid UTF-8.
func fileEntry(path, permissions string, content []byte) cloudFile {
	if len(content) <= compressFileThreshold && utf8.Valid(content) {
		return cloudFile{Path: path, Permissions: permissions, Content: string(content)}
	}

	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	writer.Write(content)
	writer.Close()

	return cloudFile{
		Path:        path,
		Permissions: permissions,
		Encoding:    "gz+b64",
		Content:     base64.StdEncoding.EncodeToString(compressed.Bytes()),
	}
}
