// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid identifiers
		{"bech32 address", "addr_test1qz2fxv2umyhttkxyxp8x0dlpdt3k6cwng5pxj3jhsydzer3", false},
		{"hex hash", "8f3a0c5e9b2d4a7f1e6c3b8a5d2f9e0c7b4a1d8e5f2c9b6a3d0e7f4c1b8a5d2f", false},
		{"prefixed node id", "tx_8f3a0c5e", false},
		{"base58", "DdzFFzCqrhsjcfsReoiHddzfBMcX", false},
		{"hyphen", "block-42", false},
		{"single char", "A", false},
		{"max length", strings.Repeat("a", MaxIdentifierLength), false},

		// Invalid identifiers
		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxIdentifierLength+1), true},
		{"quote injection", `addr1") |> drop()`, true},
		{"sql injection", "addr1'; DROP TABLE anomalies--", true},
		{"newline", "addr1\nlevel=ERROR", true},
		{"spaces", "addr 1", true},
		{"path traversal", "../etc/passwd", true},
		{"starts with underscore", "_addr", true},
		{"unicode", "addr\u2122", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifiers(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"all valid", []string{"addr_a", "tx_b"}, false},
		{"empty skipped", []string{"addr_a", ""}, false},
		{"one invalid", []string{"addr_a", "bad!", "tx_b"}, true},
		{"none", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifiers(tt.ids...)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifiers(%v) error = %v, wantErr %v", tt.ids, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{"passthrough", "tx_abc", "tx_abc", false},
		{"trimmed", "  addr_abc\t", "addr_abc", false},
		{"case preserved", "DdzFF", "DdzFF", false},
		{"invalid rejected", "bad!", "", true},
		{"blank rejected", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeIdentifier(tt.id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SanitizeIdentifier(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}
