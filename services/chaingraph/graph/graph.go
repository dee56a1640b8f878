// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"sync"
	"time"
)

// edgeKey identifies an edge by its ordered endpoints.
type edgeKey struct {
	from, to string
}

// Graph is the append-only directed graph of blockchain entities.
//
// Thread Safety:
//
//	Safe for concurrent use. Reads go through View, annotation writes
//	through Apply, and structural writes through a Builder.
type Graph struct {
	mu sync.RWMutex

	// nodes maps node ID to Node.
	nodes map[string]*Node

	// order holds nodes in insertion order for deterministic iteration.
	order []*Node

	// nodesByKind is a secondary index for kind-based iteration.
	nodesByKind [NumNodeKinds][]*Node

	// edges maps (from, to) to the single edge between them.
	edges map[edgeKey]*Edge

	// edgeCounts counts edges per kind.
	edgeCounts [NumEdgeKinds]int

	// blocksByHeight indexes block nodes by height for chain linking.
	blocksByHeight map[int64]*Node

	latestHeight int64
	hasBlocks    bool
	lastUpdate   time.Time

	options GraphOptions
}

// New creates an empty graph.
//
// Example:
//
//	g := graph.New(graph.WithMaxNodes(100_000))
func New(opts ...GraphOption) *Graph {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Graph{
		nodes:          make(map[string]*Node),
		edges:          make(map[edgeKey]*Edge),
		blocksByHeight: make(map[int64]*Node),
		options:        options,
	}
}

// Reader is a read-only handle valid for the duration of a View callback.
type Reader struct {
	g *Graph
}

// View runs fn with the read lock held.
//
// Description:
//
//	All reads of node and edge state go through View so that a caller
//	observes one consistent version of the graph. fn MUST NOT retain the
//	Reader or any returned pointer after it returns, and MUST NOT call
//	Apply or a Builder method (the lock is not reentrant).
//
// Outputs:
//
//	error - Whatever fn returns.
func (g *Graph) View(fn func(r Reader) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(Reader{g: g})
}

// Node returns the node with the given ID.
func (r Reader) Node(id string) (*Node, bool) {
	n, ok := r.g.nodes[id]
	return n, ok
}

// Has reports whether a node with the given ID exists.
func (r Reader) Has(id string) bool {
	_, ok := r.g.nodes[id]
	return ok
}

// ResolveID maps raw, either a node id or a bare hash or address, to the
// id of a node of kind k.
//
// raw is returned unchanged when it names a node of kind k. Otherwise the
// kind's prefix is added, whether or not that node exists. Testnet
// addresses begin with "addr_test1", so a prefix check cannot tell the
// two forms apart.
func (r Reader) ResolveID(raw string, k NodeKind) string {
	if n, ok := r.g.nodes[raw]; ok && n.Kind == k {
		return raw
	}
	switch k {
	case NodeKindBlock:
		return BlockID(raw)
	case NodeKindTransaction:
		return TransactionID(raw)
	case NodeKindAddress:
		return AddressID(raw)
	}
	return raw
}

// Nodes returns every node in insertion order.
func (r Reader) Nodes() []*Node {
	return r.g.order
}

// NodesOfKind returns every node of kind k in insertion order.
func (r Reader) NodesOfKind(k NodeKind) []*Node {
	if k < 0 || k >= NumNodeKinds {
		return nil
	}
	return r.g.nodesByKind[k]
}

// NodeCount returns the number of nodes.
func (r Reader) NodeCount() int {
	return len(r.g.order)
}

// EdgeCount returns the number of edges.
func (r Reader) EdgeCount() int {
	return len(r.g.edges)
}

// HasEdge reports whether an edge from -> to exists.
func (r Reader) HasEdge(from, to string) bool {
	_, ok := r.g.edges[edgeKey{from, to}]
	return ok
}

// Out returns the outgoing edges of id, restricted to kinds when given.
func (r Reader) Out(id string, kinds ...EdgeKind) []*Edge {
	n, ok := r.g.nodes[id]
	if !ok {
		return nil
	}
	return filterEdges(n.Outgoing, kinds)
}

// In returns the incoming edges of id, restricted to kinds when given.
func (r Reader) In(id string, kinds ...EdgeKind) []*Edge {
	n, ok := r.g.nodes[id]
	if !ok {
		return nil
	}
	return filterEdges(n.Incoming, kinds)
}

// BlockAtHeight returns the block node at height h.
func (r Reader) BlockAtHeight(h int64) (*Node, bool) {
	n, ok := r.g.blocksByHeight[h]
	return n, ok
}

// LatestBlockHeight returns the highest block height, if any block exists.
func (r Reader) LatestBlockHeight() (int64, bool) {
	return r.g.latestHeight, r.g.hasBlocks
}

func filterEdges(edges []*Edge, kinds []EdgeKind) []*Edge {
	if len(kinds) == 0 {
		return edges
	}
	out := make([]*Edge, 0, len(edges))
	for _, e := range edges {
		for _, k := range kinds {
			if e.Kind == k {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Stats summarizes the graph.
type Stats struct {
	NodeCount         int            `json:"node_count"`
	EdgeCount         int            `json:"edge_count"`
	NodesByKind       map[string]int `json:"nodes_by_kind"`
	EdgesByKind       map[string]int `json:"edges_by_kind"`
	LatestBlockHeight *int64         `json:"latest_block_height"`
	LastUpdate        *time.Time     `json:"last_update"`
}

// Stats returns a summary of the graph.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		NodeCount:   len(g.order),
		EdgeCount:   len(g.edges),
		NodesByKind: make(map[string]int, NumNodeKinds),
		EdgesByKind: make(map[string]int, NumEdgeKinds),
	}
	for k := NodeKindBlock; k < NumNodeKinds; k++ {
		s.NodesByKind[k.String()] = len(g.nodesByKind[k])
	}
	for k := EdgeKindChain; k < NumEdgeKinds; k++ {
		s.EdgesByKind[k.String()] = g.edgeCounts[k]
	}
	if g.hasBlocks {
		h := g.latestHeight
		s.LatestBlockHeight = &h
	}
	if !g.lastUpdate.IsZero() {
		t := g.lastUpdate
		s.LastUpdate = &t
	}
	return s
}

// addNodeLocked inserts n. Caller holds the write lock and has checked
// that n.ID is not present.
func (g *Graph) addNodeLocked(n *Node) error {
	if len(g.order) >= g.options.MaxNodes {
		return ErrMaxNodesExceeded
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n)
	if n.Kind > NodeKindUnknown && n.Kind < NumNodeKinds {
		g.nodesByKind[n.Kind] = append(g.nodesByKind[n.Kind], n)
	}
	if n.Block != nil {
		g.blocksByHeight[n.Block.Height] = n
		if !g.hasBlocks || n.Block.Height > g.latestHeight {
			g.latestHeight = n.Block.Height
			g.hasBlocks = true
		}
	}
	g.lastUpdate = time.Now()
	return nil
}

// addEdgeLocked inserts e unless an edge between the same ordered pair
// already exists. Caller holds the write lock.
//
// Outputs:
//
//	bool - True if the edge was added.
//	error - ErrNodeNotFound or ErrMaxEdgesExceeded.
func (g *Graph) addEdgeLocked(e *Edge) (bool, error) {
	key := edgeKey{e.FromID, e.ToID}
	if _, exists := g.edges[key]; exists {
		return false, nil
	}
	from, ok := g.nodes[e.FromID]
	if !ok {
		return false, ErrNodeNotFound
	}
	to, ok := g.nodes[e.ToID]
	if !ok {
		return false, ErrNodeNotFound
	}
	if len(g.edges) >= g.options.MaxEdges {
		return false, ErrMaxEdgesExceeded
	}
	g.edges[key] = e
	if e.Kind >= 0 && e.Kind < NumEdgeKinds {
		g.edgeCounts[e.Kind]++
	}
	from.Outgoing = append(from.Outgoing, e)
	to.Incoming = append(to.Incoming, e)
	g.lastUpdate = time.Now()
	return true, nil
}
