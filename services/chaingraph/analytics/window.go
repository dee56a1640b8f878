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
	"sort"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"go.opentelemetry.io/otel/attribute"
)

// Window is the node set of the most recent blocks.
//
// Blocks, Transactions, and Addresses are deduplicated and ordered by
// discovery: blocks by height descending, then the transactions of each
// block, then the addresses of each transaction (inputs before outputs).
type Window struct {
	Blocks       []string `json:"blocks"`
	Transactions []string `json:"transactions"`
	Addresses    []string `json:"addresses"`

	members map[string]struct{}
}

// Contains reports whether id is in the window.
func (w Window) Contains(id string) bool {
	_, ok := w.members[id]
	return ok
}

// Size is the number of nodes in the window.
func (w Window) Size() int {
	return len(w.members)
}

// IDs returns every node id in the window, blocks first.
func (w Window) IDs() []string {
	out := make([]string, 0, len(w.members))
	out = append(out, w.Blocks...)
	out = append(out, w.Transactions...)
	return append(out, w.Addresses...)
}

func (w *Window) add(list *[]string, id string) {
	if _, ok := w.members[id]; ok {
		return
	}
	w.members[id] = struct{}{}
	*list = append(*list, id)
}

// recentWindow selects the n highest blocks and expands to their
// transactions and those transactions' addresses. Caller is inside View.
//
// Equal heights are ordered by id so the selection is deterministic.
func recentWindow(r graph.Reader, n int) Window {
	w := Window{members: make(map[string]struct{})}
	if n <= 0 {
		return w
	}

	blocks := append([]*graph.Node(nil), r.NodesOfKind(graph.NodeKindBlock)...)
	sort.SliceStable(blocks, func(i, j int) bool {
		hi, hj := blocks[i].Height(), blocks[j].Height()
		if hi != hj {
			return hi > hj
		}
		return blocks[i].ID < blocks[j].ID
	})
	if len(blocks) > n {
		blocks = blocks[:n]
	}

	for _, b := range blocks {
		w.add(&w.Blocks, b.ID)
	}
	for _, b := range blocks {
		for _, e := range r.Out(b.ID, graph.EdgeKindBlockTx) {
			w.add(&w.Transactions, e.ToID)
		}
	}
	for _, tx := range w.Transactions {
		for _, e := range r.In(tx, graph.EdgeKindTxInput) {
			w.add(&w.Addresses, e.FromID)
		}
		for _, e := range r.Out(tx, graph.EdgeKindTxOutput) {
			w.add(&w.Addresses, e.ToID)
		}
	}
	return w
}

// RecentWindow returns the node set of the n most recent blocks.
//
// Outputs:
//
//	Window - Empty when n is zero.
//	error - ErrInvalidInput when n is negative.
func (e *Engine) RecentWindow(ctx context.Context, n int) (Window, error) {
	_, span := startQuerySpan(ctx, "RecentWindow", attribute.Int("blocks", n))
	if n < 0 {
		err := fmt.Errorf("%w: window must not be negative, got %d", ErrInvalidInput, n)
		endSpan(span, err)
		return Window{}, err
	}
	defer span.End()

	var w Window
	_ = e.g.View(func(r graph.Reader) error {
		w = recentWindow(r, n)
		return nil
	})
	return w, nil
}

// ClusterMode selects the projection clustered.
type ClusterMode string

const (
	// ClusterByAddress links addresses that co-occur on a transaction.
	ClusterByAddress ClusterMode = "address"

	// ClusterByTransaction links transactions that share an address.
	ClusterByTransaction ClusterMode = "transaction"
)

// ParseClusterMode returns the named mode.
func ParseClusterMode(name string) (ClusterMode, error) {
	switch m := ClusterMode(name); m {
	case ClusterByAddress, ClusterByTransaction:
		return m, nil
	default:
		return "", fmt.Errorf("%w: cluster mode must be %q or %q, got %q",
			ErrInvalidInput, ClusterByAddress, ClusterByTransaction, name)
	}
}

// projection is an undirected, unweighted, deduplicated graph over a
// subset of node ids. Nodes are sorted by id.
type projection struct {
	nodes []string
	index map[string]int
	adj   []map[int]struct{}
	edges int
}

func newProjection(ids []string) *projection {
	nodes := append([]string(nil), ids...)
	sort.Strings(nodes)
	p := &projection{
		nodes: nodes,
		index: make(map[string]int, len(nodes)),
		adj:   make([]map[int]struct{}, len(nodes)),
	}
	for i, id := range nodes {
		p.index[id] = i
		p.adj[i] = make(map[int]struct{})
	}
	return p
}

// link adds the undirected edge a-b. Self loops and repeats are ignored.
func (p *projection) link(a, b string) {
	i, ok1 := p.index[a]
	j, ok2 := p.index[b]
	if !ok1 || !ok2 || i == j {
		return
	}
	if _, ok := p.adj[i][j]; ok {
		return
	}
	p.adj[i][j] = struct{}{}
	p.adj[j][i] = struct{}{}
	p.edges++
}

// txAddresses returns the window addresses on tx, inputs first.
func txAddresses(r graph.Reader, w Window, tx string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) {
		if !w.Contains(id) {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, e := range r.In(tx, graph.EdgeKindTxInput) {
		add(e.FromID)
	}
	for _, e := range r.Out(tx, graph.EdgeKindTxOutput) {
		add(e.ToID)
	}
	return out
}

// project builds the mode's projection of w. Caller is inside View.
func project(r graph.Reader, w Window, mode ClusterMode) *projection {
	switch mode {
	case ClusterByAddress:
		p := newProjection(w.Addresses)
		for _, tx := range w.Transactions {
			addrs := txAddresses(r, w, tx)
			for i := range addrs {
				for j := i + 1; j < len(addrs); j++ {
					p.link(addrs[i], addrs[j])
				}
			}
		}
		return p

	case ClusterByTransaction:
		p := newProjection(w.Transactions)
		byAddr := make(map[string][]string)
		for _, tx := range w.Transactions {
			for _, a := range txAddresses(r, w, tx) {
				byAddr[a] = append(byAddr[a], tx)
			}
		}
		for _, a := range w.Addresses {
			txs := byAddr[a]
			for i := range txs {
				for j := i + 1; j < len(txs); j++ {
					p.link(txs[i], txs[j])
				}
			}
		}
		return p

	default:
		return newProjection(nil)
	}
}
