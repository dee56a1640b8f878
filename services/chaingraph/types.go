// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chaingraph

import (
	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/ingest"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details carries additional context (optional).
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Nodes   int    `json:"nodes"`
	Edges   int    `json:"edges"`
}

// StatusResponse is returned by GET /status. Ingestion fields are
// inlined; without a fetcher they report a stopped, disconnected source.
type StatusResponse struct {
	ingest.Status
	GraphStats      graph.Stats          `json:"graph_stats"`
	PollingInterval float64              `json:"polling_interval"`
	Cache           analytics.CacheStats `json:"cache"`
}

// DegreeSummary counts the graph's nodes.
type DegreeSummary struct {
	TotalNodes  int            `json:"total_nodes"`
	NodesByType map[string]int `json:"nodes_by_type"`
}

// DegreesResponse is returned by GET /analytics/degrees.
type DegreesResponse struct {
	Metrics    []analytics.DegreeRecord `json:"metrics"`
	Statistics DegreeSummary            `json:"statistics"`
}

// NormalizationStats summarizes the raw values behind an activity response.
type NormalizationStats struct {
	MinValue  float64 `json:"min_value"`
	MaxValue  float64 `json:"max_value"`
	MeanValue float64 `json:"mean_value"`
}

// ActivityResponse is returned by GET /analytics/activity.
// NormalizationStats is null when there are no metrics.
type ActivityResponse struct {
	Metrics            []analytics.ActivityRecord `json:"metrics"`
	ColorScheme        analytics.ColorScheme      `json:"color_scheme"`
	NormalizationStats *NormalizationStats        `json:"normalization_stats"`
}

// StatisticsResponse is returned by GET /analytics/statistics.
type StatisticsResponse struct {
	NodeType   graph.NodeKind       `json:"node_type"`
	Metric     analytics.Metric     `json:"metric"`
	Statistics analytics.Statistics `json:"statistics"`
}

// RecalculateResponse is returned by POST /analytics/recalculate.
type RecalculateResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
