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
	"log/slog"
	"math"
	"strconv"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"go.opentelemetry.io/otel/attribute"
)

// Method selects an anomaly detection rule.
type Method string

const (
	// MethodZScore flags |value-mean|/std above the threshold.
	MethodZScore Method = "zscore"

	// MethodPercentile flags values above p95 or below p5.
	MethodPercentile Method = "percentile"

	// MethodThreshold flags values above threshold times the mean.
	MethodThreshold Method = "threshold"
)

const (
	// DefaultThreshold applies when a query leaves Threshold at zero.
	DefaultThreshold = 2.0

	// MinPopulation is the smallest population anomaly detection runs on.
	// Smaller populations contribute no anomalies.
	MinPopulation = 10
)

// Anomaly type labels. Low-side percentile outliers carry the same label
// as high-side ones.
const (
	AnomalyHighTransactionCount = "high_transaction_count"
	AnomalyHighTransactionValue = "high_transaction_value"
)

// ParseMethod returns the named method. The empty name is MethodPercentile.
func ParseMethod(name string) (Method, error) {
	switch m := Method(name); m {
	case "":
		return MethodPercentile, nil
	case MethodZScore, MethodPercentile, MethodThreshold:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown anomaly method %q", ErrInvalidInput, name)
	}
}

// AnomalyQuery parameterizes DetectAnomalies.
type AnomalyQuery struct {
	// Kind restricts detection to blocks or transactions. NodeKindUnknown
	// runs both populations and concatenates the results.
	Kind graph.NodeKind

	// Method defaults to MethodPercentile when empty.
	Method Method

	// Threshold defaults to DefaultThreshold when zero. Ignored by
	// MethodPercentile.
	Threshold float64
}

// AnomalyRecord describes one flagged node.
type AnomalyRecord struct {
	NodeID          string         `json:"node_id"`
	NodeType        graph.NodeKind `json:"node_type"`
	IsAnomaly       bool           `json:"is_anomaly"`
	AnomalyScore    float64        `json:"anomaly_score"`
	AnomalyType     string         `json:"anomaly_type"`
	ActualValue     float64        `json:"actual_value"`
	DetectionMethod Method         `json:"detection_method"`
	ThresholdValue  float64        `json:"threshold_value"`
}

// AnomalyReport is the result of one detection pass.
type AnomalyReport struct {
	Anomalies          []AnomalyRecord       `json:"anomalies"`
	Statistics         map[string]Statistics `json:"statistics"`
	TotalNodesAnalyzed int                   `json:"total_nodes_analyzed"`
	Method             Method                `json:"method"`
	Threshold          float64               `json:"threshold"`
}

// normalize fills defaults and rejects unusable parameters.
func (q AnomalyQuery) normalize() (AnomalyQuery, error) {
	m, err := ParseMethod(string(q.Method))
	if err != nil {
		return q, err
	}
	q.Method = m
	if q.Threshold == 0 {
		q.Threshold = DefaultThreshold
	}
	if math.IsNaN(q.Threshold) || math.IsInf(q.Threshold, 0) || q.Threshold < 0 {
		return q, fmt.Errorf("%w: threshold must be a positive number", ErrInvalidInput)
	}
	return q, nil
}

func (q AnomalyQuery) cacheKey() string {
	return string(q.Method) + "|" + strconv.FormatFloat(q.Threshold, 'g', -1, 64) + "|" + q.Kind.String()
}

// kinds returns the populations q covers.
func (q AnomalyQuery) kinds() []graph.NodeKind {
	switch q.Kind {
	case graph.NodeKindUnknown:
		return []graph.NodeKind{graph.NodeKindBlock, graph.NodeKindTransaction}
	case graph.NodeKindBlock, graph.NodeKindTransaction:
		return []graph.NodeKind{q.Kind}
	default:
		return nil
	}
}

func anomalyTypeFor(kind graph.NodeKind) string {
	if kind == graph.NodeKindBlock {
		return AnomalyHighTransactionCount
	}
	return AnomalyHighTransactionValue
}

// detect applies q.Method to one population.
func detect(kind graph.NodeKind, pop []nodeValue, stats Statistics, q AnomalyQuery) []AnomalyRecord {
	var out []AnomalyRecord
	flag := func(p nodeValue, score, threshold float64) {
		out = append(out, AnomalyRecord{
			NodeID:          p.id,
			NodeType:        kind,
			IsAnomaly:       true,
			AnomalyScore:    math.Min(100, score),
			AnomalyType:     anomalyTypeFor(kind),
			ActualValue:     p.value,
			DetectionMethod: q.Method,
			ThresholdValue:  threshold,
		})
	}

	switch q.Method {
	case MethodZScore:
		if stats.Std == 0 {
			return nil
		}
		for _, p := range pop {
			z := math.Abs(p.value-stats.Mean) / stats.Std
			if z > q.Threshold {
				flag(p, z/q.Threshold*50, q.Threshold*stats.Std)
			}
		}

	case MethodPercentile:
		for _, p := range pop {
			switch {
			case p.value > stats.Percentile95:
				factor := 1.0
				if d := stats.Percentile95 - stats.Mean; d > 0 {
					factor = (p.value - stats.Percentile95) / d
				}
				flag(p, 50+factor*50, stats.Percentile95)
			case p.value < stats.Percentile5:
				factor := 1.0
				if d := stats.Mean - stats.Percentile5; d > 0 {
					factor = (stats.Percentile5 - p.value) / d
				}
				flag(p, 50+factor*50, stats.Percentile5)
			}
		}

	case MethodThreshold:
		limit := q.Threshold * stats.Mean
		for _, p := range pop {
			if p.value > limit {
				factor := 1.0
				if limit > 0 {
					factor = (p.value - limit) / limit
				}
				flag(p, 50+factor*50, limit)
			}
		}
	}
	return out
}

// computeAnomalies detects over every population q covers and writes the
// anomaly pass back onto the graph.
func (e *Engine) computeAnomalies(q AnomalyQuery) computeFunc {
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report := AnomalyReport{
			Anomalies:  make([]AnomalyRecord, 0),
			Statistics: make(map[string]Statistics),
			Method:     q.Method,
			Threshold:  q.Threshold,
		}
		err := e.g.View(func(r graph.Reader) error {
			for _, kind := range q.kinds() {
				m, _ := metricFor(kind)
				pop := population(r, kind, m)
				stats := Describe(valuesOf(pop))
				report.Statistics[kind.String()] = stats
				report.TotalNodesAnalyzed += len(pop)
				if len(pop) < MinPopulation {
					e.logger.Debug("Skipping anomaly detection, population too small",
						slog.String("kind", kind.String()),
						slog.Int("size", len(pop)))
					continue
				}
				found := detect(kind, pop, stats, q)
				recordAnomalies(ctx, kind.String(), q.Method, len(found))
				report.Anomalies = append(report.Anomalies, found...)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		pass := &graph.AnomalyPass{Flagged: make(map[string]graph.AnomalyAnnotation, len(report.Anomalies))}
		for _, a := range report.Anomalies {
			t := a.AnomalyType
			pass.Flagged[a.NodeID] = graph.AnomalyAnnotation{
				IsAnomaly:    true,
				AnomalyScore: a.AnomalyScore,
				AnomalyType:  &t,
			}
		}
		e.g.Apply(graph.AnnotationBatch{Anomalies: pass})
		return report, nil
	}
}

// DetectAnomalies flags statistical outliers among blocks and
// transactions.
//
// Description:
//
//	Blocks are measured by contained transaction count and transactions
//	by total output value. Populations below MinPopulation are described
//	in the report but contribute no anomalies. Every pass first clears
//	the anomaly annotation of every node and then sets the flagged ones.
//
// Inputs:
//
//	q - Detection parameters. Address kind yields an empty report.
//
// Outputs:
//
//	AnomalyReport - Anomalies ordered by kind (blocks first), then node
//	insertion order.
//	error - ErrInvalidInput for an unknown method or a negative threshold.
func (e *Engine) DetectAnomalies(ctx context.Context, q AnomalyQuery) (AnomalyReport, error) {
	q, err := q.normalize()
	if err != nil {
		return AnomalyReport{}, err
	}
	ctx, span := startQuerySpan(ctx, "DetectAnomalies",
		attribute.String("kind", q.Kind.String()),
		attribute.String("method", string(q.Method)),
		attribute.Float64("threshold", q.Threshold),
	)

	v, err := e.cache.get(ctx, FamilyAnomaly, q.cacheKey(), e.computeAnomalies(q))
	if err != nil {
		endSpan(span, err)
		return AnomalyReport{}, err
	}
	defer span.End()

	report := v.(AnomalyReport)
	span.SetAttributes(attribute.Int("anomalies", len(report.Anomalies)))
	return report, nil
}
