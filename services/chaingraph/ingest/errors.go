// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest feeds blocks into the graph.
//
// Every source (the Blockfrost poller, the Kafka consumer, JSON-lines files
// and the directory watcher) produces chain.BlockBundle values and hands
// them to a shared Applier, which mutates the graph through a
// graph.Builder and persists each bundle to the block store.
package ingest

import "errors"

// Sentinel errors for ingestion.
var (
	// ErrRateLimited is returned when the upstream API answers 429.
	ErrRateLimited = errors.New("upstream rate limit exceeded")

	// ErrNotFound is returned when the upstream API answers 404.
	ErrNotFound = errors.New("upstream resource not found")

	// ErrBadRequest is returned for 400 and 403 answers, which are not
	// retried. These usually mean a wrong project id or network.
	ErrBadRequest = errors.New("upstream rejected request")

	// ErrUpstream is returned for other unexpected upstream statuses.
	ErrUpstream = errors.New("upstream error")

	// ErrMissingAPIKey is returned when a client is built without a key.
	ErrMissingAPIKey = errors.New("api key is required")

	// ErrMalformedBundle is returned for input that does not decode into
	// a block bundle.
	ErrMalformedBundle = errors.New("malformed block bundle")
)
