// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
)

// LoadAuthorizedKey reads and validates an OpenSSH public key file.
// It returns the canonical authorized_keys line (comment stripped)
// and the key's SHA256 fingerprint for logging. Validating at config
// load means a truncated or corrupted key file fails daemon startup
// instead of producing instances nobody can log into.
func LoadAuthorizedKey(path string) (line, fingerprint string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("cattle: reading SSH public key: %w", err)
	}

	publicKey, _, _, _, err := ssh.ParseAuthorizedKey(raw)
	if err != nil {
		return "", "", fmt.Errorf("cattle: parsing SSH public key %s: %w", path, err)
	}

	line = strings.TrimSpace(string(ssh.MarshalAuthorizedKey(publicKey)))
	return line, ssh.FingerprintSHA256(publicKey), nil
}
