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
	"fmt"
	"strconv"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultFlowDepth applies when FlowQuery.MaxDepth is zero.
	DefaultFlowDepth = 5

	// DefaultFlowBlocks applies when FlowQuery.MaxBlocks is zero.
	DefaultFlowBlocks = 5

	// flowHops is the length of every generated path: address, transaction,
	// address.
	flowHops = 2
)

// FlowQuery parameterizes TraceFlow.
//
// Exactly one start is expected. With both or neither set, every address
// in the window is used as a start. Starts may be node ids or raw
// address and transaction hashes.
type FlowQuery struct {
	StartAddress     string
	StartTransaction string
	MaxDepth         int
	MaxBlocks        int
}

// FlowEdge is one hop of a flow path. Value is the output amount in
// lovelace, or 0 on the input hop.
type FlowEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value int64  `json:"value"`
}

// FlowPath is one address to transaction to address path.
type FlowPath struct {
	PathID       string     `json:"path_id"`
	StartAddress string     `json:"start_address"`
	EndAddress   string     `json:"end_address"`
	PathNodes    []string   `json:"path_nodes"`
	PathEdges    []FlowEdge `json:"path_edges"`
	TotalValue   int64      `json:"total_value"`
	PathLength   int        `json:"path_length"`
	IsComplete   bool       `json:"is_complete"`
}

// FlowReport is the result of TraceFlow.
type FlowReport struct {
	Paths          []FlowPath `json:"paths"`
	TotalPaths     int        `json:"total_paths"`
	MaxDepth       int        `json:"max_depth"`
	BlocksAnalyzed int        `json:"blocks_analyzed"`
}

func (q FlowQuery) normalize() (FlowQuery, error) {
	if q.MaxDepth == 0 {
		q.MaxDepth = DefaultFlowDepth
	}
	if q.MaxBlocks == 0 {
		q.MaxBlocks = DefaultFlowBlocks
	}
	if q.MaxDepth < 0 || q.MaxBlocks < 0 {
		return q, fmt.Errorf("%w: max depth and max blocks must be positive", ErrInvalidInput)
	}
	return q, nil
}

func (q FlowQuery) cacheKey() string {
	return q.StartAddress + "|" + q.StartTransaction + "|" +
		strconv.Itoa(q.MaxDepth) + "|" + strconv.Itoa(q.MaxBlocks)
}

func newFlowPath(from, tx string, out *graph.Edge) FlowPath {
	edges := []FlowEdge{
		{From: from, To: tx, Value: 0},
		{From: tx, To: out.ToID, Value: out.Weight},
	}
	var total int64
	for _, e := range edges {
		total += e.Value
	}
	return FlowPath{
		PathID:       "flow_" + from + "_" + tx + "_" + out.ToID,
		StartAddress: from,
		EndAddress:   out.ToID,
		PathNodes:    []string{from, tx, out.ToID},
		PathEdges:    edges,
		TotalValue:   total,
		PathLength:   flowHops,
		IsComplete:   true,
	}
}

// pathsFromAddress follows every window transaction addr spends into, to
// every window output of that transaction.
func pathsFromAddress(r graph.Reader, w Window, addr string) []FlowPath {
	if !w.Contains(addr) {
		return nil
	}
	var paths []FlowPath
	for _, in := range r.Out(addr, graph.EdgeKindTxInput) {
		if !w.Contains(in.ToID) {
			continue
		}
		for _, out := range r.Out(in.ToID, graph.EdgeKindTxOutput) {
			if w.Contains(out.ToID) {
				paths = append(paths, newFlowPath(addr, in.ToID, out))
			}
		}
	}
	return paths
}

// pathsFromTransaction pairs every window input of tx with every window
// output.
func pathsFromTransaction(r graph.Reader, w Window, tx string) []FlowPath {
	if !w.Contains(tx) {
		return nil
	}
	var paths []FlowPath
	outs := r.Out(tx, graph.EdgeKindTxOutput)
	for _, in := range r.In(tx, graph.EdgeKindTxInput) {
		if !w.Contains(in.FromID) {
			continue
		}
		for _, out := range outs {
			if w.Contains(out.ToID) {
				paths = append(paths, newFlowPath(in.FromID, tx, out))
			}
		}
	}
	return paths
}

func (e *Engine) computeFlow(q FlowQuery) computeFunc {
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var paths []FlowPath
		_ = e.g.View(func(r graph.Reader) error {
			w := recentWindow(r, q.MaxBlocks)
			switch {
			case q.StartAddress != "" && q.StartTransaction == "":
				paths = pathsFromAddress(r, w, r.ResolveID(q.StartAddress, graph.NodeKindAddress))
			case q.StartTransaction != "" && q.StartAddress == "":
				paths = pathsFromTransaction(r, w, r.ResolveID(q.StartTransaction, graph.NodeKindTransaction))
			default:
				for _, addr := range w.Addresses {
					paths = append(paths, pathsFromAddress(r, w, addr)...)
				}
			}
			return nil
		})

		report := FlowReport{
			Paths:          make([]FlowPath, 0, len(paths)),
			MaxDepth:       q.MaxDepth,
			BlocksAnalyzed: q.MaxBlocks,
		}
		for _, p := range paths {
			if p.PathLength <= q.MaxDepth {
				report.Paths = append(report.Paths, p)
			}
		}
		report.TotalPaths = len(report.Paths)
		return report, nil
	}
}

// TraceFlow finds value-flow paths within the most recent blocks.
//
// Description:
//
//	Every path is address, transaction, address. The input hop carries
//	value 0 and the output hop carries the output amount. A start outside
//	the window yields no paths. Paths longer than MaxDepth are dropped.
//
// Outputs:
//
//	FlowReport - Paths in edge insertion order.
//	error - ErrInvalidInput for a negative depth or block count.
func (e *Engine) TraceFlow(ctx context.Context, q FlowQuery) (FlowReport, error) {
	q, err := q.normalize()
	if err != nil {
		return FlowReport{}, err
	}
	ctx, span := startQuerySpan(ctx, "TraceFlow",
		attribute.String("start_address", q.StartAddress),
		attribute.String("start_transaction", q.StartTransaction),
		attribute.Int("max_depth", q.MaxDepth),
		attribute.Int("max_blocks", q.MaxBlocks),
	)

	v, err := e.cache.get(ctx, FamilyFlow, q.cacheKey(), e.computeFlow(q))
	if err != nil {
		endSpan(span, err)
		return FlowReport{}, err
	}
	defer span.End()
	return v.(FlowReport), nil
}
