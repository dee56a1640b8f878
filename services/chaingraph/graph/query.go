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
	"sort"
	"strconv"
	"strings"
	"time"
)

// NodeView is a JSON-ready copy of a node without its edge lists.
type NodeView struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Type        NodeKind    `json:"type"`
	Data        any         `json:"data"`
	Annotations Annotations `json:"annotations"`
}

// ExportMetadata describes an export.
type ExportMetadata struct {
	NodeCount         int        `json:"node_count"`
	EdgeCount         int        `json:"edge_count"`
	LatestBlockHeight *int64     `json:"latest_block_height"`
	LastUpdate        *time.Time `json:"last_update"`
}

// Export is a snapshot of (part of) the graph.
type Export struct {
	Nodes    []NodeView     `json:"nodes"`
	Edges    []Edge         `json:"edges"`
	Metadata ExportMetadata `json:"metadata"`
}

// viewOf copies n into a NodeView. Caller holds at least the read lock.
func viewOf(n *Node) NodeView {
	v := NodeView{ID: n.ID, Label: n.Label, Type: n.Kind}
	switch {
	case n.Block != nil:
		b := *n.Block
		v.Data = b
	case n.Tx != nil:
		t := *n.Tx
		v.Data = t
	case n.Address != nil:
		a := *n.Address
		v.Data = a
	}
	v.Annotations = copyAnnotations(n.Annotations)
	return v
}

func copyAnnotations(a Annotations) Annotations {
	var out Annotations
	if a.Degree != nil {
		d := *a.Degree
		out.Degree = &d
	}
	if a.Activity != nil {
		c := *a.Activity
		out.Activity = &c
	}
	if a.Anomaly != nil {
		c := *a.Anomaly
		out.Anomaly = &c
	}
	if a.Cluster != nil {
		c := *a.Cluster
		out.Cluster = &c
	}
	return out
}

// Export copies the graph into a JSON-ready snapshot.
//
// Description:
//
//	When include is non-nil only those node IDs, and edges with both
//	endpoints among them, are exported. Metadata always describes the
//	whole graph.
func (g *Graph) Export(include map[string]struct{}) Export {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := Export{
		Nodes: make([]NodeView, 0, len(g.order)),
		Edges: make([]Edge, 0, len(g.edges)),
		Metadata: ExportMetadata{
			NodeCount: len(g.order),
			EdgeCount: len(g.edges),
		},
	}
	if g.hasBlocks {
		h := g.latestHeight
		out.Metadata.LatestBlockHeight = &h
	}
	if !g.lastUpdate.IsZero() {
		t := g.lastUpdate
		out.Metadata.LastUpdate = &t
	}

	for _, n := range g.order {
		if include != nil {
			if _, ok := include[n.ID]; !ok {
				continue
			}
		}
		out.Nodes = append(out.Nodes, viewOf(n))
		for _, e := range n.Outgoing {
			if include != nil {
				if _, ok := include[e.ToID]; !ok {
					continue
				}
			}
			out.Edges = append(out.Edges, *e)
		}
	}
	return out
}

// SearchQuery filters and paginates nodes.
type SearchQuery struct {
	// Query is a case-insensitive substring matched against id, label,
	// hash, address, and block height. Empty matches everything.
	Query string

	// Kind restricts results to one node kind. NodeKindUnknown means all.
	Kind NodeKind

	Limit  int
	Offset int
}

// SearchResult is one page of matching nodes.
type SearchResult struct {
	Nodes   []NodeView `json:"nodes"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	HasMore bool       `json:"has_more"`
}

// Search returns one page of nodes matching q, in insertion order.
func (g *Graph) Search(q SearchQuery) SearchResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	needle := strings.ToLower(q.Query)
	var matched []*Node
	for _, n := range g.order {
		if q.Kind != NodeKindUnknown && n.Kind != q.Kind {
			continue
		}
		if needle != "" && !matches(n, needle) {
			continue
		}
		matched = append(matched, n)
	}

	res := SearchResult{Total: len(matched), Limit: q.Limit, Offset: q.Offset, Nodes: []NodeView{}}
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if q.Limit >= 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	for _, n := range matched[start:end] {
		res.Nodes = append(res.Nodes, viewOf(n))
	}
	res.HasMore = q.Offset+q.Limit < res.Total
	return res
}

func matches(n *Node, needle string) bool {
	fields := []string{n.ID, n.Label}
	switch {
	case n.Block != nil:
		fields = append(fields, n.Block.Hash, strconv.FormatInt(n.Block.Height, 10))
	case n.Tx != nil:
		fields = append(fields, n.Tx.Hash)
	case n.Address != nil:
		fields = append(fields, n.Address.Address)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// Neighborhood is a node with every node and edge directly connected to it.
type Neighborhood struct {
	Node            NodeView   `json:"node"`
	ConnectedNodes  []NodeView `json:"connected_nodes"`
	ConnectedEdges  []Edge     `json:"connected_edges"`
	ConnectionCount int        `json:"connection_count"`
}

// Neighborhood returns id with its direct neighbours.
//
// Outputs:
//
//	Neighborhood - Connected nodes sorted by ID.
//	error - ErrNodeNotFound if id does not exist.
func (g *Graph) Neighborhood(id string) (Neighborhood, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Neighborhood{}, ErrNodeNotFound
	}

	out := Neighborhood{
		Node:           viewOf(n),
		ConnectedEdges: make([]Edge, 0, len(n.Outgoing)+len(n.Incoming)),
	}
	seen := make(map[string]struct{})
	for _, e := range n.Outgoing {
		out.ConnectedEdges = append(out.ConnectedEdges, *e)
		seen[e.ToID] = struct{}{}
	}
	for _, e := range n.Incoming {
		out.ConnectedEdges = append(out.ConnectedEdges, *e)
		seen[e.FromID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for nid := range seen {
		ids = append(ids, nid)
	}
	sort.Strings(ids)
	out.ConnectedNodes = make([]NodeView, 0, len(ids))
	for _, nid := range ids {
		out.ConnectedNodes = append(out.ConnectedNodes, viewOf(g.nodes[nid]))
	}
	out.ConnectionCount = len(ids)
	return out, nil
}
