// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
)

// Engine answers analytical queries over a graph.
//
// Returned slices and reports are shared with the cache. Callers MUST NOT
// mutate them.
type Engine struct {
	g      *graph.Graph
	cache  *resultCache
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over g with every metric family dirty.
//
// The engine sees mutations only through Invalidator. Pass it to
// graph.NewBuilder for every builder that mutates g.
func NewEngine(g *graph.Graph, opts ...EngineOption) *Engine {
	e := &Engine{
		g:      g,
		cache:  newResultCache(),
		logger: slog.Default().With(slog.String("component", "analytics_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph the engine reads.
func (e *Engine) Graph() *graph.Graph {
	return e.g
}

// Invalidator returns the listener that marks cached families dirty on
// graph mutation.
func (e *Engine) Invalidator() graph.Listener {
	return e.cache
}

// ForceRecompute marks every family dirty and drops every cached result.
// Nothing is computed until the next query.
func (e *Engine) ForceRecompute(ctx context.Context) {
	_, span := startQuerySpan(ctx, "ForceRecompute")
	defer span.End()
	e.cache.reset()
	e.logger.Info("Analytics cache reset")
}

// CacheStats returns a snapshot of cache counters and dirty flags.
func (e *Engine) CacheStats() CacheStats {
	return e.cache.stats()
}
