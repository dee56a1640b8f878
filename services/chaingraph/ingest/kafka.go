// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"github.com/IBM/sarama"
)

// sourceKafka labels bundles applied by the Kafka consumer.
const sourceKafka = "kafka"

// KafkaConfig configures a KafkaConsumer.
type KafkaConfig struct {
	// Brokers is a comma separated broker list.
	Brokers string
	GroupID string
	Topic   string
}

// KafkaConsumer applies JSON block bundles consumed from a Kafka topic.
//
// Each message value is one chain.BlockBundle. Malformed messages are
// logged and committed so they do not block the partition. Trace context
// in message headers is continued.
type KafkaConsumer struct {
	group   sarama.ConsumerGroup
	topic   string
	applier *Applier
	logger  *slog.Logger
}

// NewKafkaConsumer joins the consumer group described by cfg.
func NewKafkaConsumer(cfg KafkaConfig, applier *Applier) (*KafkaConsumer, error) {
	brokers := splitCSV(cfg.Brokers)
	if len(brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer: brokers, group id and topic are required")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return newKafkaConsumer(group, cfg.Topic, applier), nil
}

func newKafkaConsumer(group sarama.ConsumerGroup, topic string, applier *Applier) *KafkaConsumer {
	return &KafkaConsumer{
		group:   group,
		topic:   topic,
		applier: applier,
		logger:  slog.Default().With(slog.String("component", "kafka_consumer"), slog.String("topic", topic)),
	}
}

// Run consumes until ctx is done, rejoining the group after each
// rebalance. It returns nil on cancellation.
func (k *KafkaConsumer) Run(ctx context.Context) error {
	go func() {
		for err := range k.group.Errors() {
			k.logger.Warn("Consumer group error", slog.String("error", err.Error()))
		}
	}()

	k.logger.Info("Kafka ingest started")
	for {
		if err := k.group.Consume(ctx, []string{k.topic}, k); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			k.logger.Error("Consume failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
			case <-time.After(300 * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close leaves the consumer group.
func (k *KafkaConsumer) Close() error {
	return k.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler.
func (k *KafkaConsumer) Setup(sess sarama.ConsumerGroupSession) error {
	k.logger.Debug("Partitions assigned", slog.Any("claims", sess.Claims()))
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (k *KafkaConsumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler.
//
// A capacity error from the graph stops the claim without marking the
// message, so it is redelivered once the group restarts.
func (k *KafkaConsumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := k.handle(sess.Context(), msg); err != nil {
				return err
			}
			sess.MarkMessage(msg, "")
		}
	}
}

// handle applies one message. Only errors that must stop consumption are
// returned.
func (k *KafkaConsumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = telemetry.ExtractFromMap(ctx, headerMap(msg.Headers))

	bundle, err := decodeBundle(msg.Value)
	if err != nil {
		recordRejected(ctx, sourceKafka)
		k.logger.Warn("Dropping malformed message",
			slog.Int("partition", int(msg.Partition)),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
		return nil
	}

	if _, err := k.applier.Apply(ctx, sourceKafka, bundle); err != nil {
		if graph.IsCapacityError(err) {
			return err
		}
		k.logger.Warn("Block not applied",
			slog.Int64("height", bundle.Block.Height),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
	}
	return nil
}

func decodeBundle(data []byte) (chain.BlockBundle, error) {
	var b chain.BlockBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return chain.BlockBundle{}, fmt.Errorf("%w: %v", ErrMalformedBundle, err)
	}
	if b.Block.Hash == "" {
		return chain.BlockBundle{}, fmt.Errorf("%w: missing block", ErrMalformedBundle)
	}
	return b, nil
}

func headerMap(headers []*sarama.RecordHeader) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	m := make(map[string]string, len(headers))
	for _, h := range headers {
		if h != nil {
			m[string(h.Key)] = string(h.Value)
		}
	}
	return m
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}
