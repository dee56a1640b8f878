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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createAnomaliesTable = `
CREATE TABLE IF NOT EXISTS chaingraph_anomalies (
	node_id          TEXT             NOT NULL,
	node_type        TEXT             NOT NULL,
	anomaly_type     TEXT             NOT NULL,
	detection_method TEXT             NOT NULL,
	anomaly_score    DOUBLE PRECISION NOT NULL,
	actual_value     DOUBLE PRECISION NOT NULL,
	threshold_value  DOUBLE PRECISION NOT NULL,
	detected_at      TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
	PRIMARY KEY (node_id, detection_method, anomaly_type, actual_value)
)`

const createClustersTable = `
CREATE TABLE IF NOT EXISTS chaingraph_clusters (
	report_id          TEXT        PRIMARY KEY,
	cluster_type       TEXT        NOT NULL,
	time_window_blocks INTEGER     NOT NULL,
	total_clusters     INTEGER     NOT NULL,
	nodes_clustered    INTEGER     NOT NULL,
	clusters           JSONB       NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const insertAnomaly = `
INSERT INTO chaingraph_anomalies
	(node_id, node_type, anomaly_type, detection_method, anomaly_score, actual_value, threshold_value)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (node_id, detection_method, anomaly_type, actual_value) DO NOTHING`

const insertClusters = `
INSERT INTO chaingraph_clusters
	(report_id, cluster_type, time_window_blocks, total_clusters, nodes_clustered, clusters)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (report_id) DO NOTHING`

// pgExecutor is the subset of *pgxpool.Pool the sink uses.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresSink stores reports in PostgreSQL.
//
// Anomalies are keyed by node, method, type and observed value, so the
// same detection repeated across polls is stored once. Cluster reports
// are keyed by a digest of their content.
type PostgresSink struct {
	db     pgExecutor
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresSink connects to dsn, verifies the connection and creates
// the tables when they do not exist.
func NewPostgresSink(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := newPostgresSink(pool, logger)
	s.pool = pool
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.logger.Info("postgres sink ready",
		slog.String("host", cfg.ConnConfig.Host),
		slog.String("database", cfg.ConnConfig.Database),
	)
	return s, nil
}

func newPostgresSink(db pgExecutor, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{
		db:     db,
		logger: logger.With(slog.String("sink", "postgres")),
	}
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	for _, stmt := range []string{createAnomaliesTable, createClustersTable} {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create postgres schema: %w", err)
		}
	}
	return nil
}

// PublishAnomalies inserts every flagged record in one batch.
func (s *PostgresSink) PublishAnomalies(ctx context.Context, report analytics.AnomalyReport) error {
	batch := &pgx.Batch{}
	for _, r := range report.Anomalies {
		if !r.IsAnomaly {
			continue
		}
		batch.Queue(insertAnomaly,
			r.NodeID, r.NodeType.String(), r.AnomalyType, string(r.DetectionMethod),
			r.AnomalyScore, r.ActualValue, r.ThresholdValue,
		)
	}
	if batch.Len() == 0 {
		return nil
	}

	results := s.db.SendBatch(ctx, batch)
	inserted := int64(0)
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return errors.Join(fmt.Errorf("insert anomaly %d of %d: %w", i+1, batch.Len(), err), results.Close())
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close anomaly batch: %w", err)
	}

	s.logger.Debug("anomalies stored",
		slog.Int("records", batch.Len()),
		slog.Int64("inserted", inserted),
	)
	return nil
}

// PublishClusters stores the report as one row with its clusters as JSONB.
func (s *PostgresSink) PublishClusters(ctx context.Context, report analytics.ClusterReport) error {
	clusters, err := json.Marshal(report.Clusters)
	if err != nil {
		return fmt.Errorf("encode clusters: %w", err)
	}

	_, err = s.db.Exec(ctx, insertClusters,
		clusterReportID(report.ClusterType, report.TimeWindowBlocks, clusters),
		string(report.ClusterType), report.TimeWindowBlocks,
		report.TotalClusters, report.NodesClustered, clusters,
	)
	if err != nil {
		return fmt.Errorf("insert cluster report: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func clusterReportID(mode analytics.ClusterMode, window int, clusters []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|", mode, window)
	h.Write(clusters)
	return hex.EncodeToString(h.Sum(nil))
}
