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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLines(t *testing.T, bundles ...chain.BlockBundle) string {
	t.Helper()
	var sb strings.Builder
	for _, b := range bundles {
		data, err := json.Marshal(b)
		require.NoError(t, err)
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

func TestReadBundles(t *testing.T) {
	var heights []int64
	err := ReadBundles(strings.NewReader(jsonLines(t, testBundle(1), testBundle(2))), func(b chain.BlockBundle) error {
		heights = append(heights, b.Block.Height)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, heights)
}

func TestReadBundles_Malformed(t *testing.T) {
	input := jsonLines(t, testBundle(1)) + "{broken\n"
	err := ReadBundles(strings.NewReader(input), func(chain.BlockBundle) error { return nil })
	assert.ErrorIs(t, err, ErrMalformedBundle)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	bad := testBundle(2)
	bad.Block.Height = -1
	path := filepath.Join(dir, "blocks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(jsonLines(t, testBundle(1), bad, testBundle(3))), 0600))

	g, a, store := newTestApplier()
	stats, err := LoadFile(context.Background(), path, a)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Bundles)
	assert.Equal(t, 1, stats.Failed)
	assert.Positive(t, stats.Graph.NodesAdded)
	assert.Equal(t, []int64{1, 3}, store.heights())
	assert.True(t, hasNode(t, g, graph.BlockID("blk003")))

	_, err = LoadFile(context.Background(), filepath.Join(dir, "missing.jsonl"), a)
	assert.Error(t, err)
}

func TestDirWatcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte(jsonLines(t, testBundle(1))), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0600))

	g, a, _ := newTestApplier()
	var mu sync.Mutex
	loaded := map[string]int{}
	w := NewDirWatcher(dir, a,
		WithDebounce(10*time.Millisecond),
		WithLoadHook(func(path string, _ LoadStats, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				loaded[filepath.Base(path)]++
			}
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return hasNode(t, g, graph.BlockID("blk001"))
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl"), []byte(jsonLines(t, testBundle(2))), 0600))
	require.Eventually(t, func() bool {
		return hasNode(t, g, graph.BlockID("blk002"))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, loaded["a.jsonl"])
	assert.GreaterOrEqual(t, loaded["b.jsonl"], 1)
	assert.NotContains(t, loaded, "ignored.txt")
}

func TestDirWatcher_MissingDir(t *testing.T) {
	_, a, _ := newTestApplier()
	w := NewDirWatcher(filepath.Join(t.TempDir(), "nope"), a)
	assert.Error(t, w.Run(context.Background()))
}
