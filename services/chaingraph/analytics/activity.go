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
	"go.opentelemetry.io/otel/attribute"
)

// DegenerateNormalizedValue is assigned to every member of a kind group
// whose raw values are all equal.
const DegenerateNormalizedValue = 50.0

// ActivityRecord is the activity score and color of one node.
type ActivityRecord struct {
	NodeID          string         `json:"node_id"`
	NodeType        graph.NodeKind `json:"node_type"`
	RawValue        float64        `json:"raw_value"`
	MinValue        float64        `json:"min_value"`
	MaxValue        float64        `json:"max_value"`
	NormalizedValue float64        `json:"normalized_value"`
	ColorHex        string         `json:"color_hex"`
	ColorHSL        HSL            `json:"color_hsl"`
}

// Normalize scales values into [0,100] by min-max.
//
// A degenerate population (all values equal, including a single value)
// maps every member to DegenerateNormalizedValue.
func Normalize(values []float64) (normalized []float64, lo, hi float64) {
	normalized = make([]float64, len(values))
	if len(values) == 0 {
		return normalized, 0, 0
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	for i, v := range values {
		if hi == lo {
			normalized[i] = DegenerateNormalizedValue
		} else {
			normalized[i] = (v - lo) / (hi - lo) * 100
		}
	}
	return normalized, lo, hi
}

// computeActivity runs the raw, normalize, color pipeline for every node
// and writes color annotations back.
func (e *Engine) computeActivity(scheme ColorScheme) computeFunc {
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var records []ActivityRecord
		err := e.g.View(func(r graph.Reader) error {
			nodes := r.Nodes()
			records = make([]ActivityRecord, len(nodes))
			groups := make(map[graph.NodeKind][]int)
			for i, n := range nodes {
				records[i] = ActivityRecord{
					NodeID:   n.ID,
					NodeType: n.Kind,
					RawValue: float64(typeDegree(r, n)),
				}
				groups[n.Kind] = append(groups[n.Kind], i)
			}

			for _, idx := range groups {
				raw := make([]float64, len(idx))
				for j, i := range idx {
					raw[j] = records[i].RawValue
				}
				norm, lo, hi := Normalize(raw)
				for j, i := range idx {
					rec := &records[i]
					rec.MinValue, rec.MaxValue = lo, hi
					rec.NormalizedValue = norm[j]
					rec.ColorHSL = MapColor(norm[j], scheme)
					rec.ColorHex = rec.ColorHSL.Hex()
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		batch := graph.AnnotationBatch{Activity: make(map[string]graph.ActivityAnnotation, len(records))}
		for _, rec := range records {
			batch.Activity[rec.NodeID] = graph.ActivityAnnotation{
				Color:         rec.ColorHex,
				ColorScheme:   string(scheme),
				ActivityScore: rec.NormalizedValue,
			}
		}
		e.g.Apply(batch)
		return records, nil
	}
}

// Activity returns activity records for every node, or for one kind.
//
// Description:
//
//	Unknown scheme names behave as heatmap. Normalization is always
//	computed over every node of a kind, regardless of the filter.
//
// Outputs:
//
//	[]ActivityRecord - Records in node insertion order.
//	error - Compute errors only.
func (e *Engine) Activity(ctx context.Context, kind graph.NodeKind, scheme ColorScheme) ([]ActivityRecord, error) {
	scheme = ParseColorScheme(string(scheme))
	ctx, span := startQuerySpan(ctx, "Activity",
		attribute.String("kind", kind.String()),
		attribute.String("scheme", string(scheme)),
	)

	v, err := e.cache.get(ctx, FamilyActivity, string(scheme), e.computeActivity(scheme))
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	defer span.End()

	cached := v.([]ActivityRecord)
	out := make([]ActivityRecord, 0, len(cached))
	for _, rec := range cached {
		if kind != graph.NodeKindUnknown && rec.NodeType != kind {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
