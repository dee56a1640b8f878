// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chaingraph serves the blockchain graph and its analytics over HTTP.
//
// The package wires the graph store, the analytics engine, ingestion
// status, result sinks and the live update stream behind a gin router
// rooted at /v1/chaingraph. Construction of those components is left to
// the caller; see cmd/chaingraph for the production wiring.
package chaingraph
