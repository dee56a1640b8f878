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

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
)

// DegreeRecord is the connectivity of one node.
type DegreeRecord struct {
	NodeID      string         `json:"node_id"`
	NodeType    graph.NodeKind `json:"node_type"`
	InDegree    int            `json:"in_degree"`
	OutDegree   int            `json:"out_degree"`
	TotalDegree int            `json:"total_degree"`
	TypeDegree  int            `json:"type_degree"`
}

// DegreeQuery filters Degrees. Both filters apply when both are set.
type DegreeQuery struct {
	// Kind restricts results to one node kind. NodeKindUnknown means all.
	Kind graph.NodeKind

	// NodeID restricts results to one node. Empty means all.
	NodeID string
}

// typeDegree is the kind-specific connectivity of n:
// blocks count contained transactions, transactions count inputs plus
// outputs, addresses count every touching edge.
func typeDegree(r graph.Reader, n *graph.Node) int {
	switch n.Kind {
	case graph.NodeKindBlock:
		return len(r.Out(n.ID, graph.EdgeKindBlockTx))
	case graph.NodeKindTransaction:
		return len(r.In(n.ID, graph.EdgeKindTxInput)) + len(r.Out(n.ID, graph.EdgeKindTxOutput))
	case graph.NodeKindAddress:
		return len(n.Incoming) + len(n.Outgoing)
	default:
		return 0
	}
}

// computeDegrees computes degree records for every node in insertion
// order and writes them back as degree annotations.
func (e *Engine) computeDegrees(ctx context.Context) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []DegreeRecord
	err := e.g.View(func(r graph.Reader) error {
		nodes := r.Nodes()
		records = make([]DegreeRecord, 0, len(nodes))
		for _, n := range nodes {
			in, out := len(n.Incoming), len(n.Outgoing)
			records = append(records, DegreeRecord{
				NodeID:      n.ID,
				NodeType:    n.Kind,
				InDegree:    in,
				OutDegree:   out,
				TotalDegree: in + out,
				TypeDegree:  typeDegree(r, n),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	batch := graph.AnnotationBatch{Degrees: make(map[string]graph.DegreeAnnotation, len(records))}
	for _, rec := range records {
		batch.Degrees[rec.NodeID] = graph.DegreeAnnotation{
			Degree:     rec.TotalDegree,
			InDegree:   rec.InDegree,
			OutDegree:  rec.OutDegree,
			TypeDegree: rec.TypeDegree,
		}
	}
	e.g.Apply(batch)
	return records, nil
}

// Degrees returns degree records filtered by q.
//
// Description:
//
//	Base degrees come from the degree cache. The type-specific degree is
//	recomputed for every returned record on each call.
//
// Outputs:
//
//	[]DegreeRecord - Records in node insertion order. Empty, not nil,
//	when nothing matches.
//	error - Compute errors only.
func (e *Engine) Degrees(ctx context.Context, q DegreeQuery) ([]DegreeRecord, error) {
	ctx, span := startQuerySpan(ctx, "Degrees")
	v, err := e.cache.get(ctx, FamilyDegree, "", e.computeDegrees)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	defer span.End()

	cached := v.([]DegreeRecord)
	out := make([]DegreeRecord, 0)
	_ = e.g.View(func(r graph.Reader) error {
		for _, rec := range cached {
			if q.NodeID != "" && rec.NodeID != q.NodeID {
				continue
			}
			if q.Kind != graph.NodeKindUnknown && rec.NodeType != q.Kind {
				continue
			}
			if n, ok := r.Node(rec.NodeID); ok {
				rec.TypeDegree = typeDegree(r, n)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, nil
}
