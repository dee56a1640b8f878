// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided chain identifiers.
//
// Addresses, transaction hashes and node ids arrive in URL paths and query
// strings and end up in graph lookups, log records and report sinks. Only
// plain alphanumeric identifiers with underscores and hyphens are accepted,
// which covers bech32 and base58 addresses, hex hashes and prefixed node
// ids such as "addr_addr1q9..." or "tx_8f3a...".
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength bounds an identifier. Byron-era addresses are the
// longest legitimate input at roughly 120 characters.
const MaxIdentifierLength = 255

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]*$`)

// ValidateIdentifier reports whether id is a well-formed identifier.
//
// Valid identifiers:
//   - 1-255 characters
//   - Letters and digits
//   - Underscores and hyphens after the first character
//
// Example:
//
//	if err := validation.ValidateIdentifier(id); err != nil {
//	    return fmt.Errorf("invalid node id: %w", err)
//	}
func ValidateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(id) > MaxIdentifierLength {
		return fmt.Errorf("identifier too long: %d characters (max %d)", len(id), MaxIdentifierLength)
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("invalid identifier format: %q (must be alphanumeric, underscores or hyphens)", id)
	}
	return nil
}

// ValidateIdentifiers validates several identifiers, skipping empty ones.
// The error lists every invalid identifier.
func ValidateIdentifiers(ids ...string) error {
	var invalid []string
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := ValidateIdentifier(id); err != nil {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid identifiers: %q", invalid)
	}
	return nil
}

// SanitizeIdentifier trims surrounding whitespace and validates the rest.
func SanitizeIdentifier(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateIdentifier(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
