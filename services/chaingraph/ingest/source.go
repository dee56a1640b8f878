// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
)

// Source reads chain data from an upstream provider.
type Source interface {
	// LatestBlock returns the chain tip.
	LatestBlock(ctx context.Context) (chain.Block, error)

	// BlockTransactions returns every transaction in the block with
	// resolved inputs and outputs. Transactions whose details cannot be
	// read are left out.
	BlockTransactions(ctx context.Context, blockHash string) ([]chain.Transaction, error)

	// Transaction returns one transaction with resolved inputs and outputs.
	Transaction(ctx context.Context, txHash string) (chain.Transaction, error)
}
