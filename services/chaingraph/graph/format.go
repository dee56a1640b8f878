// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
)

// FormatAmount renders a lovelace amount for an edge label.
//
// Amounts of at least one ADA render as "X.XX ADA", smaller amounts as
// comma-grouped lovelace, e.g. "999,999 L".
func FormatAmount(lovelace int64) string {
	if lovelace >= chain.LovelacePerADA {
		return fmt.Sprintf("%.2f ADA", float64(lovelace)/chain.LovelacePerADA)
	}
	return groupDigits(lovelace) + " L"
}

func groupDigits(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 && !(neg && b.Len() == 1) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
