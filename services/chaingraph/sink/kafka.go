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
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"github.com/IBM/sarama"
)

// Envelope types written by KafkaSink.
const (
	TypeAnomalyReport = "anomaly_report"
	TypeClusterReport = "cluster_report"
)

// Envelope wraps every message KafkaSink produces.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// KafkaSink produces one message per report to a topic.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
	now   func() time.Time
}

// NewKafkaSink connects a synchronous producer to brokers.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaSink(p, topic), nil
}

func newKafkaSink(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, p: p, now: time.Now}
}

// PublishAnomalies implements Sink. The message key is the detection method.
func (s *KafkaSink) PublishAnomalies(ctx context.Context, report analytics.AnomalyReport) error {
	return s.emit(ctx, TypeAnomalyReport, string(report.Method), report)
}

// PublishClusters implements Sink. The message key is the cluster type.
func (s *KafkaSink) PublishClusters(ctx context.Context, report analytics.ClusterReport) error {
	return s.emit(ctx, TypeClusterReport, string(report.ClusterType), report)
}

func (s *KafkaSink) emit(ctx context.Context, typ, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	body, err := json.Marshal(Envelope{Type: typ, TS: s.now().UnixMilli(), Data: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(body),
	}
	for k, v := range telemetry.InjectToMap(ctx, nil) {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit %s: %w", typ, err)
	}
	return nil
}

// Close closes the producer.
func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}
