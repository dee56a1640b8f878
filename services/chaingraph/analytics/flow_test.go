// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"testing"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flowFixture: b1 holds t1 (A pays B and C), b2 holds t2 (B pays D).
func flowFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.block(t, "b1", 1)
	f.tx(t, "t1", "b1", []string{"A"}, out{"B", 100}, out{"C", 200})
	f.block(t, "b2", 2)
	f.tx(t, "t2", "b2", []string{"B"}, out{"D", 50})
	return f
}

func TestEngine_RecentWindow(t *testing.T) {
	ctx := context.Background()
	f := flowFixture(t)
	a, tx, b := graph.AddressID, graph.TransactionID, graph.BlockID

	w, err := f.e.RecentWindow(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{b("b2"), b("b1")}, w.Blocks)
	assert.Equal(t, []string{tx("t2"), tx("t1")}, w.Transactions)
	assert.Equal(t, []string{a("B"), a("D"), a("A"), a("C")}, w.Addresses)
	assert.Equal(t, 8, w.Size())
	assert.Len(t, w.IDs(), 8)

	w, err = f.e.RecentWindow(ctx, 1)
	require.NoError(t, err)
	assert.True(t, w.Contains(tx("t2")))
	assert.False(t, w.Contains(tx("t1")))
	assert.False(t, w.Contains(a("A")))

	w, err = f.e.RecentWindow(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, w.Size())

	_, err = f.e.RecentWindow(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEngine_RecentWindow_EqualHeights(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.block(t, "zz", 7)
	f.block(t, "aa", 7)
	f.block(t, "mm", 3)

	w, err := f.e.RecentWindow(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{graph.BlockID("aa"), graph.BlockID("zz")}, w.Blocks)
}

func TestEngine_TraceFlow_FromAddress(t *testing.T) {
	ctx := context.Background()
	f := flowFixture(t)
	a, tx := graph.AddressID, graph.TransactionID

	report, err := f.e.TraceFlow(ctx, FlowQuery{StartAddress: "A"})
	require.NoError(t, err)
	require.Equal(t, 2, report.TotalPaths)
	assert.Equal(t, DefaultFlowDepth, report.MaxDepth)
	assert.Equal(t, DefaultFlowBlocks, report.BlocksAnalyzed)

	p := report.Paths[0]
	assert.Equal(t, []string{a("A"), tx("t1"), a("B")}, p.PathNodes)
	assert.Equal(t, []FlowEdge{
		{From: a("A"), To: tx("t1"), Value: 0},
		{From: tx("t1"), To: a("B"), Value: 100},
	}, p.PathEdges)
	assert.Equal(t, int64(100), p.TotalValue)
	assert.Equal(t, 2, p.PathLength)
	assert.Equal(t, "flow_addr_A_tx_t1_addr_B", p.PathID)
	assert.Equal(t, a("A"), p.StartAddress)
	assert.Equal(t, a("B"), p.EndAddress)
	assert.True(t, p.IsComplete)
	assert.Equal(t, int64(200), report.Paths[1].TotalValue)

	// Node ids work as well as raw addresses.
	byID, err := f.e.TraceFlow(ctx, FlowQuery{StartAddress: a("A")})
	require.NoError(t, err)
	assert.Equal(t, report, byID)
}

func TestEngine_TraceFlow_FromTransaction(t *testing.T) {
	ctx := context.Background()
	f := flowFixture(t)

	report, err := f.e.TraceFlow(ctx, FlowQuery{StartTransaction: "t1"})
	require.NoError(t, err)
	require.Equal(t, 2, report.TotalPaths)
	for _, p := range report.Paths {
		assert.Equal(t, graph.AddressID("A"), p.StartAddress)
		assert.Equal(t, graph.TransactionID("t1"), p.PathNodes[1])
	}
}

func TestEngine_TraceFlow_OutsideWindow(t *testing.T) {
	ctx := context.Background()
	f := flowFixture(t)

	report, err := f.e.TraceFlow(ctx, FlowQuery{StartAddress: "A", MaxBlocks: 1})
	require.NoError(t, err)
	assert.Empty(t, report.Paths)
	assert.NotNil(t, report.Paths)

	report, err = f.e.TraceFlow(ctx, FlowQuery{StartAddress: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, report.Paths)
}

func TestEngine_TraceFlow_AllStarts(t *testing.T) {
	ctx := context.Background()
	f := flowFixture(t)

	neither, err := f.e.TraceFlow(ctx, FlowQuery{})
	require.NoError(t, err)
	assert.Equal(t, 3, neither.TotalPaths)
	assert.Equal(t, graph.AddressID("B"), neither.Paths[0].StartAddress)

	both, err := f.e.TraceFlow(ctx, FlowQuery{StartAddress: "A", StartTransaction: "t2"})
	require.NoError(t, err)
	assert.Equal(t, neither.Paths, both.Paths)
}

func TestEngine_TraceFlow_Depth(t *testing.T) {
	ctx := context.Background()
	f := flowFixture(t)

	report, err := f.e.TraceFlow(ctx, FlowQuery{MaxDepth: 1})
	require.NoError(t, err)
	assert.Empty(t, report.Paths)

	_, err = f.e.TraceFlow(ctx, FlowQuery{MaxDepth: -2})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.e.TraceFlow(ctx, FlowQuery{MaxBlocks: -1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEngine_TraceFlow_TestnetAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.block(t, "b1", 1)
	f.tx(t, "T", "b1", []string{"addr_test1qsender"}, out{"addr_test1qrecv", 10})
	f.tx(t, "U", "b1", []string{"addr1qsender"}, out{"addr1qrecv", 20})
	a := graph.AddressID

	report, err := f.e.TraceFlow(ctx, FlowQuery{StartAddress: "addr_test1qsender"})
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalPaths)
	assert.Equal(t, a("addr_test1qsender"), report.Paths[0].StartAddress)
	assert.Equal(t, a("addr_test1qrecv"), report.Paths[0].EndAddress)

	byID, err := f.e.TraceFlow(ctx, FlowQuery{StartAddress: a("addr_test1qsender")})
	require.NoError(t, err)
	assert.Equal(t, report, byID)
}
