// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("chaingraph.storage")

// ErrBlockNotFound is returned by Get for a height that is not stored.
var ErrBlockNotFound = errors.New("block not found in store")

// blockPrefix precedes the zero-padded height in every bundle key, so
// lexical key order is height order.
const blockPrefix = "block/"

func blockKey(height int64) []byte {
	return fmt.Appendf(nil, "%s%020d", blockPrefix, height)
}

// BlockStore keeps applied block bundles keyed by height.
//
// Storing a height again replaces the earlier bundle.
//
// Thread Safety: Safe for concurrent use.
type BlockStore struct {
	db     *DB
	logger *slog.Logger
}

// NewBlockStore creates a block store on db.
func NewBlockStore(db *DB) *BlockStore {
	return &BlockStore{
		db:     db,
		logger: slog.Default().With(slog.String("component", "block_store")),
	}
}

// Put stores bundle under its block height.
func (s *BlockStore) Put(ctx context.Context, bundle chain.BlockBundle) error {
	if bundle.Block.Height < 0 {
		return fmt.Errorf("%w: negative height %d", chain.ErrInvalidEntity, bundle.Block.Height)
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", bundle.Block.Height, err)
	}
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(blockKey(bundle.Block.Height), data)
	})
}

// Get returns the bundle stored at height, or ErrBlockNotFound.
func (s *BlockStore) Get(ctx context.Context, height int64) (chain.BlockBundle, error) {
	var bundle chain.BlockBundle
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: height %d", ErrBlockNotFound, height)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &bundle)
		})
	})
	return bundle, err
}

// LastHeight returns the highest stored height. ok is false for an empty
// store.
func (s *BlockStore) LastHeight(ctx context.Context) (height int64, ok bool, err error) {
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = []byte(blockPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append([]byte(blockPrefix), 0xff))
		if !it.Valid() {
			return nil
		}
		var h int64
		if _, err := fmt.Sscanf(string(it.Item().Key()[len(blockPrefix):]), "%d", &h); err != nil {
			return fmt.Errorf("corrupt block key %q: %w", it.Item().Key(), err)
		}
		height, ok = h, true
		return nil
	})
	return height, ok, err
}

// Replay calls fn for every stored bundle in ascending height order and
// returns how many were delivered. It stops at the first fn error or when
// ctx is done.
func (s *BlockStore) Replay(ctx context.Context, fn func(chain.BlockBundle) error) (int, error) {
	ctx, span := tracer.Start(ctx, "storage.BlockStore.Replay")
	defer span.End()

	n := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(blockPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var bundle chain.BlockBundle
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &bundle)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			if err := fn(bundle); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	span.SetAttributes(attribute.Int("replay.blocks", n))
	if err == nil {
		s.logger.Info("Replayed block store", slog.Int("blocks", n))
	}
	return n, err
}
