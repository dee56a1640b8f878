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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/ingest"
	"github.com/AleutianAI/chaingraph/services/chaingraph/stream"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// blockCount blocks, each with one transaction paying "shared" and a
// per-block address from a per-block address.
const blockCount = 6

func buildGraph(t *testing.T) (*graph.Graph, *analytics.Engine) {
	t.Helper()
	g := graph.New()
	engine := analytics.NewEngine(g)
	b := graph.NewBuilder(g, engine.Invalidator())
	for h := int64(1); h <= blockCount; h++ {
		_, err := b.ApplyBundle(context.Background(), chain.BlockBundle{
			Block: chain.Block{
				Hash:      fmt.Sprintf("b%d", h),
				Height:    h,
				TxCount:   1,
				Timestamp: time.Date(2025, 1, 1, 0, int(h), 0, 0, time.UTC),
			},
			Transactions: []chain.Transaction{{
				Hash:   fmt.Sprintf("t%d", h),
				Inputs: []chain.Input{{TxHash: "prev", Address: fmt.Sprintf("in%d", h), Amount: 10_000_000}},
				Outputs: []chain.Output{
					{Address: "shared", Amount: h * 1_000_000},
					{Address: fmt.Sprintf("out%d", h), Amount: 500_000},
				},
			}},
		})
		require.NoError(t, err)
	}
	return g, engine
}

type fakeStatus struct{}

func (fakeStatus) Status() ingest.Status {
	return ingest.Status{
		Status:        ingest.PollingActive,
		APIStatus:     ingest.APIConnected,
		PollingStatus: ingest.PollingActive,
	}
}

func (fakeStatus) PollingInterval() time.Duration { return 10 * time.Second }

type fakePublisher struct {
	mu        sync.Mutex
	anomalies int
	clusters  int
}

func (p *fakePublisher) Anomalies(context.Context, analytics.AnomalyReport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.anomalies++
	return true
}

func (p *fakePublisher) Clusters(context.Context, analytics.ClusterReport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clusters++
	return true
}

type testAPI struct {
	router    *gin.Engine
	graph     *graph.Graph
	engine    *analytics.Engine
	publisher *fakePublisher
}

func setupTestRouter(t *testing.T) *testAPI {
	t.Helper()
	g, engine := buildGraph(t)
	pub := &fakePublisher{}
	handlers := NewHandlers(engine).
		WithStatus(fakeStatus{}).
		WithPublisher(pub).
		WithStream(stream.NewHandler(stream.NewHub(), 0, nil))
	router, err := NewRouter(handlers, "chaingraph-test")
	require.NoError(t, err)
	return &testAPI{router: router, graph: g, engine: engine, publisher: pub}
}

func (a *testAPI) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandlers_HandleHealth(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/health")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, Version, resp.Version)
	assert.Equal(t, api.graph.Stats().NodeCount, resp.Nodes)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_HandleGraph(t *testing.T) {
	api := setupTestRouter(t)

	full := decode[graph.Export](t, api.do(t, http.MethodGet, "/v1/chaingraph/graph"))
	assert.Len(t, full.Nodes, full.Metadata.NodeCount)
	require.NotNil(t, full.Metadata.LatestBlockHeight)
	assert.Equal(t, int64(blockCount), *full.Metadata.LatestBlockHeight)

	recent := decode[graph.Export](t, api.do(t, http.MethodGet, "/v1/chaingraph/graph?max_blocks=1"))
	assert.Less(t, len(recent.Nodes), len(full.Nodes))
	assert.Equal(t, full.Metadata.NodeCount, recent.Metadata.NodeCount)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/graph?max_blocks=abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = api.do(t, http.MethodGet, "/v1/chaingraph/graph?max_blocks=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_HandleNodes(t *testing.T) {
	api := setupTestRouter(t)

	res := decode[graph.SearchResult](t, api.do(t, http.MethodGet, "/v1/chaingraph/nodes?type=block&limit=4"))
	assert.Equal(t, blockCount, res.Total)
	assert.Len(t, res.Nodes, 4)
	assert.Equal(t, 4, res.Limit)
	assert.True(t, res.HasMore)

	res = decode[graph.SearchResult](t, api.do(t, http.MethodGet, "/v1/chaingraph/nodes?q=shared"))
	require.Equal(t, 1, res.Total)
	assert.Equal(t, graph.AddressID("shared"), res.Nodes[0].ID)

	res = decode[graph.SearchResult](t, api.do(t, http.MethodGet, "/v1/chaingraph/nodes?limit=5000&offset=-3"))
	assert.Equal(t, DefaultNodeLimit, res.Limit)
	assert.Equal(t, 0, res.Offset)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/nodes?type=wallet")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_HandleNode(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/nodes/"+graph.TransactionID("t1"))
	require.Equal(t, http.StatusOK, w.Code)
	n := decode[graph.Neighborhood](t, w)
	assert.Equal(t, graph.TransactionID("t1"), n.Node.ID)
	assert.Equal(t, 4, n.ConnectionCount, "block, one input and two outputs")

	w = api.do(t, http.MethodGet, "/v1/chaingraph/nodes/tx_missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, CodeNodeNotFound, decode[ErrorResponse](t, w).Code)

	w = api.do(t, http.MethodGet, "/v1/chaingraph/nodes/tx_t1%27%3B")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_HandleStatus(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "connected", body["api_status"])
	assert.Equal(t, 10.0, body["polling_interval"])
	assert.Contains(t, body, "graph_stats")
	assert.Contains(t, body, "cache")
}

func TestHandlers_HandleStatus_NoFetcher(t *testing.T) {
	_, engine := buildGraph(t)
	router, err := NewRouter(NewHandlers(engine), "")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chaingraph/status", nil))
	resp := decode[StatusResponse](t, w)
	assert.Equal(t, ingest.PollingStopped, resp.Status.Status)
	assert.Equal(t, ingest.APIDisconnected, resp.APIStatus)
}

func TestHandlers_HandleDegrees(t *testing.T) {
	api := setupTestRouter(t)

	resp := decode[DegreesResponse](t, api.do(t, http.MethodGet, "/v1/chaingraph/analytics/degrees?node_type=block"))
	assert.Len(t, resp.Metrics, blockCount)
	assert.Equal(t, blockCount, resp.Statistics.NodesByType["block"])

	resp = decode[DegreesResponse](t, api.do(t, http.MethodGet,
		"/v1/chaingraph/analytics/degrees?node_id="+graph.AddressID("shared")))
	require.Len(t, resp.Metrics, 1)
	assert.Equal(t, blockCount, resp.Metrics[0].InDegree)
}

func TestHandlers_HandleActivity(t *testing.T) {
	api := setupTestRouter(t)

	resp := decode[ActivityResponse](t, api.do(t, http.MethodGet,
		"/v1/chaingraph/analytics/activity?node_type=transaction&color_scheme=bogus"))
	assert.Equal(t, analytics.SchemeHeatmap, resp.ColorScheme)
	require.Len(t, resp.Metrics, blockCount)
	require.NotNil(t, resp.NormalizationStats)
	assert.LessOrEqual(t, resp.NormalizationStats.MinValue, resp.NormalizationStats.MeanValue)
	assert.LessOrEqual(t, resp.NormalizationStats.MeanValue, resp.NormalizationStats.MaxValue)
}

func TestHandlers_HandleStatistics(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/analytics/statistics?node_type=block&metric=transaction_count")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[StatisticsResponse](t, w)
	assert.Equal(t, blockCount, resp.Statistics.Count)
	assert.Equal(t, 1.0, resp.Statistics.Mean)

	w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/statistics?node_type=block")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeMissingParameter, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_HandleAnomalies(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/analytics/anomalies?method=unknown")
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[analytics.AnomalyReport](t, w)
	assert.Equal(t, analytics.MethodPercentile, report.Method, "unknown methods are coerced")
	assert.NotNil(t, report.Anomalies)

	w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/anomalies?node_type=block")
	require.Equal(t, http.StatusBadRequest, w.Code)
	errResp := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeInsufficientData, errResp.Code)
	assert.EqualValues(t, blockCount, errResp.Details["node_count"])

	w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/anomalies?threshold=high")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/anomalies?method=zscore&threshold=-1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
}

func TestHandlers_HandleClusters(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/analytics/clusters?cluster_type=transaction")
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[analytics.ClusterReport](t, w)
	assert.Equal(t, analytics.ClusterByTransaction, report.ClusterType)
	assert.Equal(t, DefaultClusterWindow, report.TimeWindowBlocks)
	require.Equal(t, 1, report.TotalClusters, "every transaction pays the shared address")
	assert.Equal(t, blockCount, report.NodesClustered)
	assert.Equal(t, 1, api.publisher.clusters)

	tests := []struct {
		query    string
		wantCode string
	}{
		{"", CodeMissingParameter},
		{"cluster_type=block", CodeInvalidRequest},
		{"cluster_type=address&time_window_blocks=19", CodeInvalidRequest},
		{"cluster_type=address&time_window_blocks=51", CodeInvalidRequest},
		{"cluster_type=address&time_window_blocks=x", CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := api.do(t, http.MethodGet, "/v1/chaingraph/analytics/clusters?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, w).Code)
		})
	}

	w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/clusters?cluster_type=address&time_window_blocks=20")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlers_HandleFlow(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/analytics/flow?start_address=in6&max_depth=99&max_blocks=0")
	require.Equal(t, http.StatusOK, w.Code)
	report := decode[analytics.FlowReport](t, w)
	assert.Equal(t, DefaultFlowParam, report.MaxDepth)
	assert.Equal(t, DefaultFlowParam, report.BlocksAnalyzed)
	require.Equal(t, 2, report.TotalPaths)
	assert.Equal(t, graph.AddressID("in6"), report.Paths[0].StartAddress)

	w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/flow?transaction_id=t6&max_blocks=1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[analytics.FlowReport](t, w).TotalPaths)

	for _, q := range []string{"start_address=nobody", "start_tx=" + graph.TransactionID("nope")} {
		w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/flow?"+q)
		assert.Equal(t, http.StatusNotFound, w.Code, q)
		assert.Equal(t, CodeNodeNotFound, decode[ErrorResponse](t, w).Code)
	}

	for _, q := range []string{"start_address=in6%0Alevel%3DERROR", "transaction_id=t6%22", "start_tx=%20"} {
		w = api.do(t, http.MethodGet, "/v1/chaingraph/analytics/flow?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Equal(t, CodeInvalidRequest, decode[ErrorResponse](t, w).Code)
	}
}

func TestHandlers_HandleFlow_TestnetAddress(t *testing.T) {
	api := setupTestRouter(t)
	b := graph.NewBuilder(api.graph, api.engine.Invalidator())
	_, err := b.ApplyBundle(context.Background(), chain.BlockBundle{
		Block: chain.Block{Hash: "b7", Height: blockCount + 1, TxCount: 1},
		Transactions: []chain.Transaction{{
			Hash:    "t7",
			Inputs:  []chain.Input{{TxHash: "prev", Address: "addr_test1qsender", Amount: 2_000_000}},
			Outputs: []chain.Output{{Address: "addr_test1qrecv", Amount: 1_500_000}},
		}},
	})
	require.NoError(t, err)

	for _, start := range []string{"addr_test1qsender", graph.AddressID("addr_test1qsender")} {
		w := api.do(t, http.MethodGet, "/v1/chaingraph/analytics/flow?start_address="+start)
		require.Equal(t, http.StatusOK, w.Code, start)
		report := decode[analytics.FlowReport](t, w)
		require.Equal(t, 1, report.TotalPaths, start)
		assert.Equal(t, graph.AddressID("addr_test1qrecv"), report.Paths[0].EndAddress)
	}
}

func TestHandlers_HandleRecalculate(t *testing.T) {
	api := setupTestRouter(t)

	api.do(t, http.MethodGet, "/v1/chaingraph/analytics/degrees")
	assert.False(t, api.engine.CacheStats().Dirty["degree"])

	w := api.do(t, http.MethodPost, "/v1/chaingraph/analytics/recalculate")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "recalculating", decode[RecalculateResponse](t, w).Status)
	assert.True(t, api.engine.CacheStats().Dirty["degree"])
}

func TestRouter_NotFound(t *testing.T) {
	api := setupTestRouter(t)

	w := api.do(t, http.MethodGet, "/v1/chaingraph/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, CodeNotFound, resp.Code)
	assert.Equal(t, "/v1/chaingraph/nope", resp.Details["path"])
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	api := setupTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ServerConfig{Addr: "127.0.0.1:0"}, api.router) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	err := Serve(context.Background(), ServerConfig{Addr: "256.0.0.1:bad"}, http.NotFoundHandler())
	assert.Error(t, err)
}
