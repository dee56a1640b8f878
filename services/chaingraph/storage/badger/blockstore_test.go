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
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bundleAt(height int64) chain.BlockBundle {
	return chain.BlockBundle{
		Block: chain.Block{
			Hash:      fmt.Sprintf("b%d", height),
			Height:    height,
			Timestamp: time.Unix(1700000000+height, 0).UTC(),
		},
		Transactions: []chain.Transaction{{
			Hash:    fmt.Sprintf("t%d", height),
			Inputs:  []chain.Input{{TxHash: "prev", Address: "a"}},
			Outputs: []chain.Output{{Address: "b", Amount: height}},
		}},
	}
}

func newMemStore(t *testing.T) *BlockStore {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewBlockStore(db)
}

func TestBlockStore_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	require.NoError(t, s.Put(ctx, bundleAt(7)))
	got, err := s.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, bundleAt(7), got)

	_, err = s.Get(ctx, 8)
	assert.ErrorIs(t, err, ErrBlockNotFound)

	bad := bundleAt(1)
	bad.Block.Height = -1
	assert.ErrorIs(t, s.Put(ctx, bad), chain.ErrInvalidEntity)
}

func TestBlockStore_LastHeight(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)

	_, ok, err := s.LastHeight(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, h := range []int64{3, 120, 9, 0} {
		require.NoError(t, s.Put(ctx, bundleAt(h)))
	}
	h, ok, err := s.LastHeight(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(120), h)
}

func TestBlockStore_ReplayInHeightOrder(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	for _, h := range []int64{10, 2, 100, 33} {
		require.NoError(t, s.Put(ctx, bundleAt(h)))
	}
	// Replacing a height keeps one entry.
	replaced := bundleAt(33)
	replaced.Block.Hash = "b33-reorg"
	require.NoError(t, s.Put(ctx, replaced))

	var heights []int64
	var hashes []string
	n, err := s.Replay(ctx, func(b chain.BlockBundle) error {
		heights = append(heights, b.Block.Height)
		hashes = append(hashes, b.Block.Hash)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []int64{2, 10, 33, 100}, heights)
	assert.Equal(t, "b33-reorg", hashes[2])
}

func TestBlockStore_ReplayStopsOnError(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t)
	for h := int64(1); h <= 3; h++ {
		require.NoError(t, s.Put(ctx, bundleAt(h)))
	}

	stop := errors.New("stop")
	n, err := s.Replay(ctx, func(b chain.BlockBundle) error {
		if b.Block.Height == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, n)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Replay(cctx, func(chain.BlockBundle) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Put(cctx, bundleAt(9)), context.Canceled)
}

func TestBlockStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false
	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, NewBlockStore(db).Put(ctx, bundleAt(5)))
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "second close is a no-op")

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()
	h, ok, err := NewBlockStore(db).LastHeight(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(5), h)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestNewGCRunner_Validation(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	tests := []struct {
		name     string
		db       *badger.DB
		interval time.Duration
		ratio    float64
	}{
		{"nil db", nil, time.Minute, 0.5},
		{"zero interval", db.DB, 0, 0.5},
		{"ratio too high", db.DB, time.Minute, 1},
		{"ratio zero", db.DB, time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGCRunner(tt.db, tt.interval, tt.ratio, nil)
			assert.Error(t, err)
		})
	}
}

func TestGCRunner_StartStop(t *testing.T) {
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer db.Close()

	r, err := NewGCRunner(db.DB, 5*time.Millisecond, 0.5, nil)
	require.NoError(t, err)
	r.Start()
	r.Start()
	time.Sleep(20 * time.Millisecond)
	r.Stop()
	r.Stop()
}
