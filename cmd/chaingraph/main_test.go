// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/chaingraph/cmd/chaingraph/config"
	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// bundle returns a block at height h whose single transaction spends from
// "in{h}" to "shared" and "out{h}".
func bundle(h int64) chain.BlockBundle {
	block := fmt.Sprintf("b%d", h)
	return chain.BlockBundle{
		Block: chain.Block{
			Hash:      block,
			Height:    h,
			Timestamp: time.Date(2024, 1, 1, 0, 0, int(h), 0, time.UTC),
			TxCount:   1,
		},
		Transactions: []chain.Transaction{{
			Hash:        fmt.Sprintf("t%d", h),
			BlockHash:   block,
			BlockHeight: h,
			Inputs:      []chain.Input{{TxHash: "prev", Address: fmt.Sprintf("in%d", h)}},
			Outputs: []chain.Output{
				{Address: "shared", Amount: 1_000_000 * h},
				{Address: fmt.Sprintf("out%d", h), Amount: 500},
			},
		}},
	}
}

func writeBundles(t *testing.T, n int) string {
	t.Helper()
	var sb strings.Builder
	for h := int64(1); h <= int64(n); h++ {
		data, err := json.Marshal(bundle(h))
		require.NoError(t, err)
		sb.Write(data)
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "blocks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0600))
	return path
}

func TestAnalyzeFile(t *testing.T) {
	path := writeBundles(t, 12)

	res, err := analyzeFile(context.Background(), path, config.DefaultConfig().Graph, analyzeOptions{
		Method:        analytics.MethodZScore,
		Scheme:        analytics.SchemeHeatmap,
		ClusterWindow: 30,
		FlowDepth:     5,
		FlowBlocks:    5,
	}, quiet)
	require.NoError(t, err)

	assert.Equal(t, 12, res.Load.Bundles)
	assert.Equal(t, 0, res.Load.Failed)
	// 12 blocks, 12 transactions, 12 inputs, 12 outputs and "shared".
	assert.Equal(t, 12+12+12+12+1, res.Graph.NodeCount)
	assert.Len(t, res.Degrees, res.Graph.NodeCount)
	assert.Len(t, res.Activity, res.Graph.NodeCount)
	assert.Contains(t, res.Statistics, "block.transaction_count")
	assert.Equal(t, 12, res.Statistics["transaction.value"].Count)
	assert.Equal(t, 24, res.Anomalies.TotalNodesAnalyzed)

	// Every transaction pays "shared", so they form one cluster.
	tx := res.Clusters["transaction"]
	require.Equal(t, 1, tx.TotalClusters)
	assert.Equal(t, 12, tx.NodesClustered)
	assert.Equal(t, 30, res.Clusters["address"].TimeWindowBlocks)

	assert.NotEmpty(t, res.Flow.Paths)
	assert.Equal(t, 5, res.Flow.MaxDepth)
}

func TestAnalyzeFile_Errors(t *testing.T) {
	ctx := context.Background()
	limits := config.DefaultConfig().Graph

	_, err := analyzeFile(ctx, filepath.Join(t.TempDir(), "missing.jsonl"), limits, analyzeOptions{ClusterWindow: 30}, quiet)
	assert.Error(t, err)

	_, err = analyzeFile(ctx, writeBundles(t, 2), limits, analyzeOptions{ClusterWindow: 0}, quiet)
	assert.ErrorIs(t, err, analytics.ErrInvalidInput)
}

func TestApp_ReplayRestoresGraph(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = t.TempDir()
	cfg.Storage.GCInterval = 0

	a, err := newApp(cfg, quiet, true)
	require.NoError(t, err)
	for h := int64(1); h <= 3; h++ {
		_, err := a.applier.Apply(ctx, "test", bundle(h))
		require.NoError(t, err)
	}
	want := a.graph.Stats()
	require.NoError(t, a.Close())

	b, err := newApp(cfg, quiet, true)
	require.NoError(t, err)
	defer b.Close()

	applied, last, ok, err := b.replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.True(t, ok)
	assert.Equal(t, int64(3), last)

	got := b.graph.Stats()
	assert.Equal(t, want.NodeCount, got.NodeCount)
	assert.Equal(t, want.EdgeCount, got.EdgeCount)
	assert.Equal(t, want.LatestBlockHeight, got.LatestBlockHeight)
}

func TestApp_ReplayWithoutStorage(t *testing.T) {
	a, err := newApp(config.DefaultConfig(), quiet, false)
	require.NoError(t, err)
	defer a.Close()

	applied, _, ok, err := a.replay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.False(t, ok)
}

func TestBuildFetcher_Disabled(t *testing.T) {
	cfg := config.DefaultConfig().Blockfrost

	f, err := buildFetcher(cfg, nil, quiet)
	require.NoError(t, err)
	assert.Nil(t, f, "no API key disables polling")

	cfg.APIKey = "key"
	cfg.Enabled = false
	f, err = buildFetcher(cfg, nil, quiet)
	require.NoError(t, err)
	assert.Nil(t, f)

	cfg.Enabled = true
	f, err = buildFetcher(cfg, nil, quiet)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 10*time.Second, f.PollingInterval())
}

func TestBuildSinks_NoneEnabled(t *testing.T) {
	d, err := buildSinks(context.Background(), config.DefaultConfig().Sinks, quiet)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "chaingraph dev"), out.String())
}
