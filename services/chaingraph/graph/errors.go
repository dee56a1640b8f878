// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the append-only blockchain entity graph.
//
// Nodes are blocks, transactions, and addresses. Edges link consecutive
// blocks (chain), blocks to the transactions they contain (block_tx),
// spending addresses to transactions (tx_input), and transactions to the
// addresses they pay (tx_output).
//
// # Ownership Model
//
// Nodes and edges are owned by the Graph. Pointers handed to a View
// callback are valid only for the duration of that callback and MUST NOT
// be retained or mutated.
//
// # Thread Safety
//
// Graph is safe for concurrent use. Structural mutation happens only
// through a Builder, which holds the write lock for each operation and
// notifies its listeners before releasing it. Analytic annotations are
// written only through Apply, one batch at a time.
//
// # Lifecycle
//
// A typical lifecycle:
//  1. Create with New()
//  2. Wrap with NewBuilder(g, listeners...) on the ingestion side
//  3. Read with View(), annotate with Apply()
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound is returned when a lookup or edge references a
	// node that does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrMaxNodesExceeded is returned when the graph has reached its
	// configured maximum node capacity.
	ErrMaxNodesExceeded = errors.New("maximum node count exceeded")

	// ErrMaxEdgesExceeded is returned when the graph has reached its
	// configured maximum edge capacity.
	ErrMaxEdgesExceeded = errors.New("maximum edge count exceeded")

	// ErrInvalidTransaction is returned when a transaction lacks inputs
	// or outputs, or has no hash.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidBlock is returned when a block has no hash or a negative height.
	ErrInvalidBlock = errors.New("invalid block")

	// ErrInvalidAddress is returned when an address is empty.
	ErrInvalidAddress = errors.New("invalid address")
)
