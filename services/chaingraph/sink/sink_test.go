// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anomalyReport() analytics.AnomalyReport {
	return analytics.AnomalyReport{
		Anomalies: []analytics.AnomalyRecord{
			{
				NodeID: graph.AddressID("whale"), NodeType: graph.NodeKindAddress, IsAnomaly: true,
				AnomalyScore: 3.5, AnomalyType: "high_balance", ActualValue: 9e9,
				DetectionMethod: analytics.MethodZScore, ThresholdValue: 4.2e8,
			},
			{
				NodeID: graph.TransactionID("t9"), NodeType: graph.NodeKindTransaction, IsAnomaly: false,
				AnomalyType: "high_value", DetectionMethod: analytics.MethodZScore,
			},
		},
		TotalNodesAnalyzed: 40,
		Method:             analytics.MethodZScore,
		Threshold:          2,
	}
}

func clusterReport() analytics.ClusterReport {
	return analytics.ClusterReport{
		Clusters: []analytics.ClusterRecord{
			{ClusterID: 0, NodeIDs: []string{"addr_a", "addr_b", "addr_c"}, Size: 3, ColorHex: analytics.ClusterPalette[0]},
			{ClusterID: 1, NodeIDs: []string{"addr_d", "addr_e"}, Size: 2, ColorHex: analytics.ClusterPalette[1]},
		},
		ClusterType:      analytics.ClusterByAddress,
		TimeWindowBlocks: 30,
		TotalClusters:    2,
		NodesClustered:   5,
	}
}

// recordingSink counts calls and can be made to fail or block.
type recordingSink struct {
	mu        sync.Mutex
	anomalies []analytics.AnomalyReport
	clusters  []analytics.ClusterReport
	closed    int
	err       error
	gate      chan struct{}
}

func (s *recordingSink) wait(ctx context.Context) error {
	if s.gate == nil {
		return nil
	}
	select {
	case <-s.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *recordingSink) PublishAnomalies(ctx context.Context, r analytics.AnomalyReport) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, r)
	return s.err
}

func (s *recordingSink) PublishClusters(ctx context.Context, r analytics.ClusterReport) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters = append(s.clusters, r)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.err
}

func (s *recordingSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.anomalies), len(s.clusters)
}

func TestMulti_PublishesToAll(t *testing.T) {
	ctx := context.Background()
	a, b := &recordingSink{}, &recordingSink{}
	m := Multi{a, b}

	require.NoError(t, m.PublishAnomalies(ctx, anomalyReport()))
	require.NoError(t, m.PublishClusters(ctx, clusterReport()))
	require.NoError(t, m.Close())

	for _, s := range []*recordingSink{a, b} {
		na, nc := s.counts()
		assert.Equal(t, 1, na)
		assert.Equal(t, 1, nc)
		assert.Equal(t, 1, s.closed)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	failing, healthy := &recordingSink{err: boom}, &recordingSink{}
	m := Multi{failing, healthy}

	err := m.PublishAnomalies(ctx, anomalyReport())
	assert.ErrorIs(t, err, boom)
	n, _ := healthy.counts()
	assert.Equal(t, 1, n, "a failing sink must not stop the others")

	assert.ErrorIs(t, m.Close(), boom)
	assert.Equal(t, 1, healthy.closed)
}

func TestMulti_Empty(t *testing.T) {
	var m Multi
	assert.NoError(t, m.PublishClusters(context.Background(), clusterReport()))
	assert.NoError(t, m.Close())
}

func TestDispatcher_PublishesInBackground(t *testing.T) {
	s := &recordingSink{}
	d := NewDispatcher(s)

	ctx, cancel := context.WithCancel(context.Background())
	assert.True(t, d.Anomalies(ctx, anomalyReport()))
	assert.True(t, d.Clusters(ctx, clusterReport()))
	cancel() // request contexts end before the publish runs

	require.NoError(t, d.Close())
	na, nc := s.counts()
	assert.Equal(t, 1, na)
	assert.Equal(t, 1, nc)
	assert.Equal(t, 1, s.closed)

	assert.False(t, d.Anomalies(context.Background(), anomalyReport()), "closed dispatcher drops")
	assert.NoError(t, d.Close())
	assert.Equal(t, 1, s.closed)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	s := &recordingSink{gate: make(chan struct{})}
	d := NewDispatcher(s, WithQueueSize(1))
	ctx := context.Background()

	// The worker takes the first report and blocks on the gate; the
	// second fills the queue.
	require.True(t, d.Clusters(ctx, clusterReport()))
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, d.Clusters(ctx, clusterReport()))
	assert.False(t, d.Clusters(ctx, clusterReport()))

	close(s.gate)
	require.NoError(t, d.Close())
	_, nc := s.counts()
	assert.Equal(t, 2, nc)
}

func TestDispatcher_PublishTimeout(t *testing.T) {
	s := &recordingSink{gate: make(chan struct{})}
	d := NewDispatcher(s, WithPublishTimeout(20*time.Millisecond))

	require.True(t, d.Anomalies(context.Background(), anomalyReport()))
	require.NoError(t, d.Close())

	na, _ := s.counts()
	assert.Equal(t, 0, na, "a publish past its deadline is abandoned")
}
