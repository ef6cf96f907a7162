// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	// Two maps with the same contents inserted in different orders
	// must encode to identical bytes.
	first := map[string]any{"server": "cattle-rex-a1b2", "ipv4": "1.2.3.4", "id": int64(42)}
	second := map[string]any{"id": int64(42), "ipv4": "1.2.3.4", "server": "cattle-rex-a1b2"}

	firstBytes, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	secondBytes, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("deterministic encoding produced different bytes:\n%x\n%x", firstBytes, secondBytes)
	}
}

func TestUnmarshalAnyIsJSONCompatible(t *testing.T) {
	encoded, err := Marshal(map[string]any{
		"server": map[string]any{"name": "cattle-rex-a1b2", "ipv4": "1.2.3.4"},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	// The decoded any must round-trip through encoding/json: the HTTP
	// API re-encodes stored results as JSON.
	if _, err := json.Marshal(decoded); err != nil {
		t.Fatalf("json.Marshal of decoded value: %v", err)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	encoded, err := Marshal(map[string]any{"known": "value", "extra": "ignored"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var target struct {
		Known string `cbor:"known"`
	}
	if err := Unmarshal(encoded, &target); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if target.Known != "value" {
		t.Errorf("Known = %q, want %q", target.Known, "value")
	}
}
