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
	"fmt"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by InfluxSink.
const (
	MeasurementAnomaly  = "chaingraph_anomaly"
	MeasurementClusters = "chaingraph_clusters"
)

// InfluxConfig holds InfluxDB connection settings.
type InfluxConfig struct {
	URL    string `yaml:"url" json:"url" validate:"required,url"`
	Token  string `yaml:"token" json:"token"`
	Org    string `yaml:"org" json:"org" validate:"required"`
	Bucket string `yaml:"bucket" json:"bucket" validate:"required"`
}

// InfluxSink writes reports as time-series points.
type InfluxSink struct {
	writeAPI api.WriteAPIBlocking
	client   influxdb2.Client
	now      func() time.Time
}

// NewInfluxSink creates a client and checks that the server is healthy.
func NewInfluxSink(ctx context.Context, cfg InfluxConfig) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health check: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb unhealthy: %s", health.Status)
	}

	s := newInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket))
	s.client = client
	return s, nil
}

func newInfluxSink(w api.WriteAPIBlocking) *InfluxSink {
	return &InfluxSink{writeAPI: w, now: time.Now}
}

// PublishAnomalies writes one point per flagged record.
func (s *InfluxSink) PublishAnomalies(ctx context.Context, report analytics.AnomalyReport) error {
	ts := s.now()
	points := make([]*write.Point, 0, len(report.Anomalies))
	for _, r := range report.Anomalies {
		if !r.IsAnomaly {
			continue
		}
		points = append(points, influxdb2.NewPoint(MeasurementAnomaly,
			map[string]string{
				"node_id":          r.NodeID,
				"node_type":        r.NodeType.String(),
				"anomaly_type":     r.AnomalyType,
				"detection_method": string(r.DetectionMethod),
			},
			map[string]interface{}{
				"anomaly_score":   r.AnomalyScore,
				"actual_value":    r.ActualValue,
				"threshold_value": r.ThresholdValue,
			},
			ts,
		))
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write anomaly points: %w", err)
	}
	return nil
}

// PublishClusters writes one summary point for the report.
func (s *InfluxSink) PublishClusters(ctx context.Context, report analytics.ClusterReport) error {
	largest := 0
	for _, c := range report.Clusters {
		largest = max(largest, c.Size)
	}

	p := influxdb2.NewPoint(MeasurementClusters,
		map[string]string{"cluster_type": string(report.ClusterType)},
		map[string]interface{}{
			"total_clusters":     report.TotalClusters,
			"nodes_clustered":    report.NodesClustered,
			"time_window_blocks": report.TimeWindowBlocks,
			"largest_cluster":    largest,
		},
		s.now(),
	)
	if err := s.writeAPI.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write cluster point: %w", err)
	}
	return nil
}

// Close closes the client when the sink owns one.
func (s *InfluxSink) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
