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
	"math"
	"sort"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"go.opentelemetry.io/otel/attribute"
)

// Metric names a per-node value definition.
type Metric string

const (
	// MetricTransactionCount is a block's number of contained transactions.
	MetricTransactionCount Metric = "transaction_count"

	// MetricValue is a transaction's total output amount in lovelace.
	MetricValue Metric = "value"
)

// Statistics describes a population of values.
type Statistics struct {
	Mean         float64 `json:"mean"`
	Std          float64 `json:"std"`
	Percentile5  float64 `json:"percentile_5"`
	Percentile95 float64 `json:"percentile_95"`
	Count        int     `json:"count"`
}

// Describe computes mean, sample standard deviation, and nearest-rank
// 5th and 95th percentiles.
//
// Description:
//
//	An empty population yields all zeros. Standard deviation is 0 for a
//	single value. Percentiles index the sorted values at floor(0.05n) and
//	min(n-1, floor(0.95n)); no interpolation.
func Describe(values []float64) Statistics {
	n := len(values)
	if n == 0 {
		return Statistics{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var std float64
	if n > 1 {
		var sq float64
		for _, v := range values {
			d := v - mean
			sq += d * d
		}
		std = math.Sqrt(sq / float64(n-1))
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	p5 := int(math.Floor(0.05 * float64(n)))
	p95 := int(math.Floor(0.95 * float64(n)))
	if p95 > n-1 {
		p95 = n - 1
	}

	return Statistics{
		Mean:         mean,
		Std:          std,
		Percentile5:  sorted[p5],
		Percentile95: sorted[p95],
		Count:        n,
	}
}

// nodeValue is one member of a population.
type nodeValue struct {
	id    string
	value float64
}

// metricFor returns the metric defined for kind, if any.
func metricFor(kind graph.NodeKind) (Metric, bool) {
	switch kind {
	case graph.NodeKindBlock:
		return MetricTransactionCount, true
	case graph.NodeKindTransaction:
		return MetricValue, true
	default:
		return "", false
	}
}

// population collects one value per node of kind. Mismatched kind and
// metric pairs yield an empty population. Caller is inside View.
func population(r graph.Reader, kind graph.NodeKind, m Metric) []nodeValue {
	want, ok := metricFor(kind)
	if !ok || want != m {
		return nil
	}
	nodes := r.NodesOfKind(kind)
	out := make([]nodeValue, 0, len(nodes))
	for _, n := range nodes {
		var v float64
		switch m {
		case MetricTransactionCount:
			v = float64(typeDegree(r, n))
		case MetricValue:
			var total int64
			for _, e := range r.Out(n.ID, graph.EdgeKindTxOutput) {
				total += e.Weight
			}
			v = float64(total)
		}
		out = append(out, nodeValue{id: n.ID, value: v})
	}
	return out
}

func valuesOf(pop []nodeValue) []float64 {
	out := make([]float64, len(pop))
	for i, p := range pop {
		out[i] = p.value
	}
	return out
}

// Statistics describes the metric over every node of kind.
//
// Description:
//
//	Blocks support MetricTransactionCount and transactions support
//	MetricValue. Any other pairing describes the empty population.
//
// Outputs:
//
//	Statistics - All zeros for an empty population.
//	error - ErrInvalidInput when kind or metric is missing.
func (e *Engine) Statistics(ctx context.Context, kind graph.NodeKind, m Metric) (Statistics, error) {
	_, span := startQuerySpan(ctx, "Statistics",
		attribute.String("kind", kind.String()),
		attribute.String("metric", string(m)),
	)
	if kind == graph.NodeKindUnknown || m == "" {
		err := fmt.Errorf("%w: node kind and metric are required", ErrInvalidInput)
		endSpan(span, err)
		return Statistics{}, err
	}
	defer span.End()

	var stats Statistics
	_ = e.g.View(func(r graph.Reader) error {
		stats = Describe(valuesOf(population(r, kind, m)))
		return nil
	})
	return stats, nil
}
