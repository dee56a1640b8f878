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
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests run against live services and are skipped unless
// RUN_INTEGRATION_TESTS is set. Each test also needs its own endpoint
// variable.

func integrationEnv(t *testing.T, key string) string {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION_TESTS") == "" {
		t.Skip("Set RUN_INTEGRATION_TESTS=1 to run this test")
	}
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("Set %s to run this test", key)
	}
	return v
}

func TestPostgresSink_Integration(t *testing.T) {
	dsn := integrationEnv(t, "CHAINGRAPH_TEST_POSTGRES_DSN")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewPostgresSink(ctx, dsn, nil)
	require.NoError(t, err)
	defer s.Close()

	report := anomalyReport()
	nodeID := report.Anomalies[0].NodeID
	_, err = s.pool.Exec(ctx, `DELETE FROM chaingraph_anomalies WHERE node_id = $1`, nodeID)
	require.NoError(t, err)

	// Publishing twice stores each anomaly once.
	require.NoError(t, s.PublishAnomalies(ctx, report))
	require.NoError(t, s.PublishAnomalies(ctx, report))

	var n int
	require.NoError(t, s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chaingraph_anomalies WHERE node_id = $1`, nodeID).Scan(&n))
	assert.Equal(t, 1, n)

	clusters := clusterReport()
	require.NoError(t, s.PublishClusters(ctx, clusters))
	require.NoError(t, s.PublishClusters(ctx, clusters))
}

func TestKafkaSink_Integration(t *testing.T) {
	brokers := integrationEnv(t, "CHAINGRAPH_TEST_KAFKA_BROKERS")

	s, err := NewKafkaSink(strings.Split(brokers, ","), "chaingraph.reports.test")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.PublishAnomalies(ctx, anomalyReport()))
	require.NoError(t, s.PublishClusters(ctx, clusterReport()))
}

func TestInfluxSink_Integration(t *testing.T) {
	url := integrationEnv(t, "CHAINGRAPH_TEST_INFLUX_URL")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewInfluxSink(ctx, InfluxConfig{
		URL:    url,
		Token:  os.Getenv("CHAINGRAPH_TEST_INFLUX_TOKEN"),
		Org:    "aleutian",
		Bucket: "chaingraph_test",
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PublishAnomalies(ctx, anomalyReport()))
	require.NoError(t, s.PublishClusters(ctx, clusterReport()))
}
