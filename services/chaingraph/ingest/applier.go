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
	"fmt"
	"log/slog"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// BundleStore persists applied bundles.
type BundleStore interface {
	Put(ctx context.Context, bundle chain.BlockBundle) error
}

// Applier applies block bundles to a graph and persists them.
//
// Thread Safety: Safe for concurrent use.
type Applier struct {
	builder *graph.Builder
	store   BundleStore
	logger  *slog.Logger
}

// ApplierOption configures an Applier.
type ApplierOption func(*Applier)

// WithStore persists every applied bundle to s.
func WithStore(s BundleStore) ApplierOption {
	return func(a *Applier) {
		a.store = s
	}
}

// WithApplierLogger sets the applier logger.
func WithApplierLogger(l *slog.Logger) ApplierOption {
	return func(a *Applier) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewApplier creates an applier writing through b.
func NewApplier(b *graph.Builder, opts ...ApplierOption) *Applier {
	a := &Applier{
		builder: b,
		logger:  slog.Default().With(slog.String("component", "ingest_applier")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply adds bundle to the graph, then persists it.
//
// source labels the origin in logs and metrics. A bundle whose block fails
// validation is rejected as a whole. A store failure is returned after the
// graph has been updated, so the bundle is live but will be missing on the
// next replay.
func (a *Applier) Apply(ctx context.Context, source string, bundle chain.BlockBundle) (graph.BuildStats, error) {
	ctx, span := tracer.Start(ctx, "ingest.Applier.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("ingest.source", source),
		attribute.Int64("block.height", bundle.Block.Height),
	)

	if err := bundle.Block.Validate(); err != nil {
		recordRejected(ctx, source)
		telemetry.RecordError(span, err)
		return graph.BuildStats{}, err
	}

	stats, err := a.builder.ApplyBundle(ctx, bundle)
	if err != nil {
		recordRejected(ctx, source)
		telemetry.RecordError(span, err)
		return stats, fmt.Errorf("apply block %d: %w", bundle.Block.Height, err)
	}

	if a.store != nil {
		if err := a.store.Put(ctx, bundle); err != nil {
			telemetry.RecordError(span, err)
			return stats, fmt.Errorf("persist block %d: %w", bundle.Block.Height, err)
		}
	}

	recordApplied(ctx, source, bundle.Block.Height)
	a.logger.Debug("Block applied",
		slog.String("source", source),
		slog.Int64("height", bundle.Block.Height),
		slog.Int("transactions", len(bundle.Transactions)),
		slog.Int("nodes_added", stats.NodesAdded),
		slog.Int("edges_added", stats.EdgesAdded))
	return stats, nil
}
