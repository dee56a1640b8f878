// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics derives analytical overlays from the blockchain graph.
//
// The Engine computes connectivity degrees, activity coloring, descriptive
// statistics with anomaly flags, community clusters over a recent-block
// window, and value-flow paths. Results are cached per metric family and
// invalidated by graph mutation events delivered through the handle
// returned by Engine.Invalidator.
//
// # Annotations
//
// Every computation that misses its cache writes its results back onto the
// graph nodes in a single graph.AnnotationBatch. The write happens inside
// the family lock, after the computation succeeds, so node annotations
// always reflect the last completed computation.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Each metric family is guarded by its
// own lock; identical concurrent queries share one computation.
//
// # Errors
//
// ErrInvalidInput is returned for malformed queries before any work is
// done. Too-small populations and projections are not errors and yield
// empty results. Clustering failures yield an empty report. Any other
// compute error propagates and leaves the family dirty.
package analytics

import "errors"

// Sentinel errors for analytics operations.
var (
	// ErrInvalidInput is returned for an unknown cluster mode, detection
	// method, out-of-range window, or a missing required filter.
	ErrInvalidInput = errors.New("invalid input")

	// ErrComputationFailed is returned internally when community detection
	// cannot produce a partition. Engine.Clusters converts it to an empty
	// report.
	ErrComputationFailed = errors.New("computation failed")
)
