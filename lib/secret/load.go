// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"os"
	"strings"
)

// FromFile reads a secret from a file into a protected buffer. The
// file content is trimmed of trailing whitespace (token files commonly
// end with a newline) and the intermediate read buffer is zeroed
// before returning.
func FromFile(path string) (*Buffer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: reading %s: %w", path, err)
	}

	trimmed := len(raw)
	for trimmed > 0 {
		switch raw[trimmed-1] {
		case '\n', '\r', '\t', ' ':
			trimmed--
			continue
		}
		break
	}
	if trimmed == 0 {
		zero(raw)
		return nil, fmt.Errorf("secret: %s is empty", path)
	}

	buffer, err := NewFromBytes(raw[:trimmed])
	// NewFromBytes zeroes its source; clear any trimmed tail bytes too.
	zero(raw)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}

// FromEnv reads a secret from an environment variable into a protected
// buffer. The environment copy held by the process cannot be zeroed,
// so FromFile is preferred where deployment allows; FromEnv still
// keeps every copy this process makes afterward off the heap.
func FromEnv(name string) (*Buffer, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return nil, fmt.Errorf("secret: environment variable %s is not set", name)
	}
	return NewFromBytes([]byte(value))
}

func zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
