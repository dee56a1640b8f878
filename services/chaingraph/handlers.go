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
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/chaingraph/pkg/validation"
	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/ingest"
	"github.com/AleutianAI/chaingraph/services/chaingraph/stream"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"github.com/gin-gonic/gin"
)

// Version is the service version reported by /health.
var Version = "dev"

// Query parameter limits.
const (
	DefaultNodeLimit = 100
	MaxNodeLimit     = 1000

	DefaultClusterWindow = 30
	MinClusterWindow     = 20
	MaxClusterWindow     = 50

	DefaultFlowParam = 5
	MinFlowParam     = 1
	MaxFlowParam     = 10
)

// StatusProvider reports ingestion health. *ingest.Fetcher implements it.
type StatusProvider interface {
	Status() ingest.Status
	PollingInterval() time.Duration
}

// Publisher forwards analytics results without blocking the caller.
// *sink.Dispatcher implements it.
type Publisher interface {
	Anomalies(ctx context.Context, report analytics.AnomalyReport) bool
	Clusters(ctx context.Context, report analytics.ClusterReport) bool
}

// Handlers contains the HTTP handlers for the chaingraph API.
type Handlers struct {
	engine    *analytics.Engine
	graph     *graph.Graph
	status    StatusProvider
	publisher Publisher
	stream    *stream.Handler
	logger    *slog.Logger
}

// NewHandlers creates handlers serving the engine's graph.
func NewHandlers(engine *analytics.Engine) *Handlers {
	return &Handlers{
		engine: engine,
		graph:  engine.Graph(),
		logger: slog.Default(),
	}
}

// WithStatus sets the ingestion status source for /status.
func (h *Handlers) WithStatus(s StatusProvider) *Handlers {
	h.status = s
	return h
}

// WithPublisher sets where anomaly and cluster results are forwarded.
func (h *Handlers) WithPublisher(p Publisher) *Handlers {
	h.publisher = p
	return h
}

// WithStream enables the /updates endpoints.
func (h *Handlers) WithStream(s *stream.Handler) *Handlers {
	h.stream = s
	return h
}

// WithLogger sets the base logger.
func (h *Handlers) WithLogger(l *slog.Logger) *Handlers {
	if l != nil {
		h.logger = l
	}
	return h
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", telemetry.RequestIDFrom(c)),
		slog.String("handler", handler),
	)
}

func (h *Handlers) fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", slog.String("error", err.Error()))
	} else {
		logger.Warn("Request rejected", slog.String("error", err.Error()))
	}
	abortWithError(c, status, code, err.Error())
}

// parseKind reads an optional node type parameter. Empty means all kinds.
func parseKind(c *gin.Context, param string) (graph.NodeKind, bool) {
	raw := c.Query(param)
	if raw == "" {
		return graph.NodeKindUnknown, true
	}
	k, ok := graph.ParseNodeKind(raw)
	if !ok {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("%s must be block, transaction or address, got %q", param, raw))
		return graph.NodeKindUnknown, false
	}
	return k, true
}

// parseInt reads an integer parameter with a default.
func parseInt(c *gin.Context, param string, def int) (int, bool) {
	raw := c.Query(param)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("%s must be an integer, got %q", param, raw))
		return 0, false
	}
	return v, true
}

// clampFlowParam resets unparsable or out-of-range flow parameters to
// the default.
func clampFlowParam(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < MinFlowParam || v > MaxFlowParam {
		return DefaultFlowParam
	}
	return v
}

// HandleHealth handles GET /v1/chaingraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	stats := h.graph.Stats()
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: Version,
		Nodes:   stats.NodeCount,
		Edges:   stats.EdgeCount,
	})
}

// HandleGraph handles GET /v1/chaingraph/graph.
//
// Description:
//
//	Exports the graph. With max_blocks set, only the nodes of the most
//	recent max_blocks blocks are included; metadata always describes the
//	whole graph.
//
// Response:
//
//	200 OK: graph.Export
//	400 Bad Request: max_blocks is not a positive integer
func (h *Handlers) HandleGraph(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGraph")

	maxBlocks, ok := parseInt(c, "max_blocks", 0)
	if !ok {
		return
	}
	if maxBlocks < 0 {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest, "max_blocks must be positive")
		return
	}

	var include map[string]struct{}
	if maxBlocks > 0 {
		w, err := h.engine.RecentWindow(c.Request.Context(), maxBlocks)
		if err != nil {
			h.fail(c, logger, err)
			return
		}
		include = make(map[string]struct{}, w.Size())
		for _, id := range w.IDs() {
			include[id] = struct{}{}
		}
	}

	c.JSON(http.StatusOK, h.graph.Export(include))
}

// HandleNodes handles GET /v1/chaingraph/nodes.
//
// Query parameters: q (substring), type, limit (default 100, at most
// 1000) and offset.
func (h *Handlers) HandleNodes(c *gin.Context) {
	kind, ok := parseKind(c, "type")
	if !ok {
		return
	}
	limit, ok := parseInt(c, "limit", DefaultNodeLimit)
	if !ok {
		return
	}
	offset, ok := parseInt(c, "offset", 0)
	if !ok {
		return
	}
	if limit < 1 || limit > MaxNodeLimit {
		limit = DefaultNodeLimit
	}
	offset = max(offset, 0)

	c.JSON(http.StatusOK, h.graph.Search(graph.SearchQuery{
		Query:  strings.TrimSpace(c.Query("q")),
		Kind:   kind,
		Limit:  limit,
		Offset: offset,
	}))
}

// HandleNode handles GET /v1/chaingraph/nodes/:id.
//
// Response:
//
//	200 OK: graph.Neighborhood
//	404 Not Found: NODE_NOT_FOUND
func (h *Handlers) HandleNode(c *gin.Context) {
	logger := h.requestLogger(c, "HandleNode")

	id, err := validation.SanitizeIdentifier(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest, "id: "+err.Error())
		return
	}
	n, err := h.graph.Neighborhood(id)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// HandleStatus handles GET /v1/chaingraph/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	resp := StatusResponse{
		GraphStats: h.graph.Stats(),
		Cache:      h.engine.CacheStats(),
	}
	if h.status != nil {
		resp.Status = h.status.Status()
		resp.PollingInterval = h.status.PollingInterval().Seconds()
	} else {
		resp.Status = ingest.Status{
			Status:        ingest.PollingStopped,
			APIStatus:     ingest.APIDisconnected,
			PollingStatus: ingest.PollingStopped,
			LastUpdate:    time.Now().UTC(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDegrees handles GET /v1/chaingraph/analytics/degrees.
func (h *Handlers) HandleDegrees(c *gin.Context) {
	logger := h.requestLogger(c, "HandleDegrees")

	kind, ok := parseKind(c, "node_type")
	if !ok {
		return
	}
	id, ok := optionalIdentifier(c, "node_id")
	if !ok {
		return
	}
	metrics, err := h.engine.Degrees(c.Request.Context(), analytics.DegreeQuery{
		Kind:   kind,
		NodeID: id,
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	stats := h.graph.Stats()
	c.JSON(http.StatusOK, DegreesResponse{
		Metrics: metrics,
		Statistics: DegreeSummary{
			TotalNodes:  stats.NodeCount,
			NodesByType: stats.NodesByKind,
		},
	})
}

// HandleActivity handles GET /v1/chaingraph/analytics/activity.
//
// An unknown color_scheme falls back to heatmap.
func (h *Handlers) HandleActivity(c *gin.Context) {
	logger := h.requestLogger(c, "HandleActivity")

	kind, ok := parseKind(c, "node_type")
	if !ok {
		return
	}
	scheme := analytics.ParseColorScheme(c.Query("color_scheme"))

	metrics, err := h.engine.Activity(c.Request.Context(), kind, scheme)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	resp := ActivityResponse{Metrics: metrics, ColorScheme: scheme}
	if len(metrics) > 0 {
		ns := NormalizationStats{MinValue: metrics[0].RawValue, MaxValue: metrics[0].RawValue}
		sum := 0.0
		for _, m := range metrics {
			ns.MinValue = min(ns.MinValue, m.RawValue)
			ns.MaxValue = max(ns.MaxValue, m.RawValue)
			sum += m.RawValue
		}
		ns.MeanValue = sum / float64(len(metrics))
		resp.NormalizationStats = &ns
	}
	c.JSON(http.StatusOK, resp)
}

// HandleStatistics handles GET /v1/chaingraph/analytics/statistics.
//
// Both node_type and metric are required.
func (h *Handlers) HandleStatistics(c *gin.Context) {
	logger := h.requestLogger(c, "HandleStatistics")

	kind, ok := parseKind(c, "node_type")
	if !ok {
		return
	}
	metric := analytics.Metric(c.Query("metric"))
	if kind == graph.NodeKindUnknown || metric == "" {
		abortWithError(c, http.StatusBadRequest, CodeMissingParameter, "node_type and metric are required")
		return
	}

	stats, err := h.engine.Statistics(c.Request.Context(), kind, metric)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, StatisticsResponse{NodeType: kind, Metric: metric, Statistics: stats})
}

// HandleAnomalies handles GET /v1/chaingraph/analytics/anomalies.
//
// Description:
//
//	Runs anomaly detection. An unknown method is treated as percentile.
//	The population (nodes of node_type, or all nodes) must hold at least
//	analytics.MinPopulation nodes. Results are forwarded to the publisher
//	when one is configured.
//
// Response:
//
//	200 OK: analytics.AnomalyReport
//	400 Bad Request: INVALID_REQUEST or INSUFFICIENT_DATA
func (h *Handlers) HandleAnomalies(c *gin.Context) {
	logger := h.requestLogger(c, "HandleAnomalies")

	kind, ok := parseKind(c, "node_type")
	if !ok {
		return
	}
	method, err := analytics.ParseMethod(c.Query("method"))
	if err != nil {
		method = analytics.MethodPercentile
	}
	threshold := analytics.DefaultThreshold
	if raw := c.Query("threshold"); raw != "" {
		threshold, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("threshold must be a number, got %q", raw))
			return
		}
	}

	stats := h.graph.Stats()
	population := stats.NodeCount
	if kind != graph.NodeKindUnknown {
		population = stats.NodesByKind[kind.String()]
	}
	if population < analytics.MinPopulation {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Error:   fmt.Sprintf("anomaly detection requires at least %d nodes", analytics.MinPopulation),
			Code:    CodeInsufficientData,
			Details: map[string]any{"node_count": population},
		})
		return
	}

	report, err := h.engine.DetectAnomalies(c.Request.Context(), analytics.AnomalyQuery{
		Kind:      kind,
		Method:    method,
		Threshold: threshold,
	})
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("Anomalies detected",
		slog.String("method", string(report.Method)),
		slog.Int("anomalies", len(report.Anomalies)),
		slog.Int("nodes_analyzed", report.TotalNodesAnalyzed),
	)
	if h.publisher != nil && len(report.Anomalies) > 0 {
		h.publisher.Anomalies(c.Request.Context(), report)
	}
	c.JSON(http.StatusOK, report)
}

// HandleClusters handles GET /v1/chaingraph/analytics/clusters.
//
// Description:
//
//	cluster_type is required and must be address or transaction.
//	time_window_blocks defaults to 30 and must lie in [20, 50].
//
// Response:
//
//	200 OK: analytics.ClusterReport
//	400 Bad Request: MISSING_PARAMETER or INVALID_REQUEST
func (h *Handlers) HandleClusters(c *gin.Context) {
	logger := h.requestLogger(c, "HandleClusters")

	raw := c.Query("cluster_type")
	if raw == "" {
		abortWithError(c, http.StatusBadRequest, CodeMissingParameter, "cluster_type parameter is required")
		return
	}
	mode, err := analytics.ParseClusterMode(raw)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	window, ok := parseInt(c, "time_window_blocks", DefaultClusterWindow)
	if !ok {
		return
	}
	if window < MinClusterWindow || window > MaxClusterWindow {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest,
			fmt.Sprintf("time_window_blocks must be between %d and %d", MinClusterWindow, MaxClusterWindow))
		return
	}

	report, err := h.engine.Clusters(c.Request.Context(), mode, window)
	if err != nil {
		h.fail(c, logger, err)
		return
	}

	logger.Info("Clusters computed",
		slog.String("cluster_type", string(mode)),
		slog.Int("clusters", report.TotalClusters),
		slog.Int("nodes_clustered", report.NodesClustered),
	)
	if h.publisher != nil && report.TotalClusters > 0 {
		h.publisher.Clusters(c.Request.Context(), report)
	}
	c.JSON(http.StatusOK, report)
}

// HandleFlow handles GET /v1/chaingraph/analytics/flow.
//
// Description:
//
//	Traces value flow from start_address or start_tx (transaction_id is
//	accepted as an alias). max_depth and max_blocks outside [1, 10] are
//	reset to 5. A start that names no node yields 404.
func (h *Handlers) HandleFlow(c *gin.Context) {
	logger := h.requestLogger(c, "HandleFlow")

	txKey := "start_tx"
	if c.Query(txKey) == "" {
		txKey = "transaction_id"
	}
	addr, ok := optionalIdentifier(c, "start_address")
	if !ok {
		return
	}
	tx, ok := optionalIdentifier(c, txKey)
	if !ok {
		return
	}
	q := analytics.FlowQuery{
		StartAddress:     addr,
		StartTransaction: tx,
		MaxDepth:         clampFlowParam(c.Query("max_depth")),
		MaxBlocks:        clampFlowParam(c.Query("max_blocks")),
	}

	missing := ""
	_ = h.graph.View(func(r graph.Reader) error {
		switch {
		case q.StartAddress != "" && !r.Has(r.ResolveID(q.StartAddress, graph.NodeKindAddress)):
			missing = "start address " + q.StartAddress
		case q.StartTransaction != "" && !r.Has(r.ResolveID(q.StartTransaction, graph.NodeKindTransaction)):
			missing = "transaction " + q.StartTransaction
		}
		return nil
	})
	if missing != "" {
		abortWithError(c, http.StatusNotFound, CodeNodeNotFound, missing+" not found")
		return
	}

	report, err := h.engine.TraceFlow(c.Request.Context(), q)
	if err != nil {
		h.fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// optionalIdentifier returns the trimmed query value of key, or "" when it
// is absent. A malformed value aborts with 400.
func optionalIdentifier(c *gin.Context, key string) (string, bool) {
	raw := c.Query(key)
	if raw == "" {
		return "", true
	}
	id, err := validation.SanitizeIdentifier(raw)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, CodeInvalidRequest, key+": "+err.Error())
		return "", false
	}
	return id, true
}

// HandleRecalculate handles POST /v1/chaingraph/analytics/recalculate.
//
// Every cached analytics family is dropped; results are recomputed
// lazily on the next query.
func (h *Handlers) HandleRecalculate(c *gin.Context) {
	h.engine.ForceRecompute(c.Request.Context())
	h.requestLogger(c, "HandleRecalculate").Info("Analytics cache reset by request")
	c.JSON(http.StatusAccepted, RecalculateResponse{
		Status:  "recalculating",
		Message: "Analytics recalculation started",
	})
}
