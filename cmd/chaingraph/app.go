// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/chaingraph/cmd/chaingraph/config"
	"github.com/AleutianAI/chaingraph/pkg/logging"
	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/ingest"
	badgerstore "github.com/AleutianAI/chaingraph/services/chaingraph/storage/badger"
)

// app is the graph, its analytics engine and the ingestion write path.
type app struct {
	graph   *graph.Graph
	engine  *analytics.Engine
	builder *graph.Builder
	applier *ingest.Applier

	db     *badgerstore.DB
	blocks *badgerstore.BlockStore
	logger *slog.Logger
}

// newApp builds the graph stack. listeners receive graph events in
// addition to the engine's cache invalidator. When storage is enabled the
// block store is opened and every applied bundle is persisted.
func newApp(cfg config.Config, logger *slog.Logger, withStorage bool, listeners ...graph.Listener) (*app, error) {
	g := graph.New(
		graph.WithMaxNodes(cfg.Graph.MaxNodes),
		graph.WithMaxEdges(cfg.Graph.MaxEdges),
	)
	engine := analytics.NewEngine(g, analytics.WithLogger(logger.With(slog.String("component", "analytics_engine"))))
	builder := graph.NewBuilder(g, append([]graph.Listener{engine.Invalidator()}, listeners...)...)

	a := &app{
		graph:   g,
		engine:  engine,
		builder: builder,
		logger:  logger,
	}

	applierOpts := []ingest.ApplierOption{
		ingest.WithApplierLogger(logger.With(slog.String("component", "ingest_applier"))),
	}
	if withStorage && cfg.Storage.Path != "" {
		dbCfg := badgerstore.DefaultConfig(config.ExpandHome(cfg.Storage.Path))
		dbCfg.SyncWrites = cfg.Storage.SyncWrites
		dbCfg.GCInterval = cfg.Storage.GCInterval
		dbCfg.Logger = logger.With(slog.String("component", "badger"))
		db, err := badgerstore.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("open block store: %w", err)
		}
		a.db = db
		a.blocks = badgerstore.NewBlockStore(db)
		applierOpts = append(applierOpts, ingest.WithStore(a.blocks))
	}
	a.applier = ingest.NewApplier(builder, applierOpts...)
	return a, nil
}

// replay rebuilds the graph from the block store.
//
// Bundles are applied without being persisted again. A bundle the graph
// rejects is logged and skipped; a capacity error stops the replay.
// Returns the number of bundles applied and the highest stored height.
func (a *app) replay(ctx context.Context) (applied int, last int64, ok bool, err error) {
	if a.blocks == nil {
		return 0, 0, false, nil
	}
	replayer := ingest.NewApplier(a.builder, ingest.WithApplierLogger(a.logger))
	_, err = a.blocks.Replay(ctx, func(b chain.BlockBundle) error {
		if _, err := replayer.Apply(ctx, "replay", b); err != nil {
			if graph.IsCapacityError(err) {
				return err
			}
			a.logger.Warn("Skipping stored bundle",
				slog.Int64("height", b.Block.Height),
				slog.String("error", err.Error()))
			return nil
		}
		applied++
		return nil
	})
	if err != nil {
		return applied, 0, false, fmt.Errorf("replay block store: %w", err)
	}
	last, ok, err = a.blocks.LastHeight(ctx)
	if err != nil {
		return applied, 0, false, fmt.Errorf("read last height: %w", err)
	}
	return applied, last, ok, nil
}

func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// newLogger builds the process logger from cfg and installs it as the
// slog default.
func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Format:  logging.Format(cfg.Format),
		LogDir:  cfg.Dir,
		Service: "chaingraph",
	})
	slog.SetDefault(logger.Slog())
	return logger, nil
}

// loadConfig reads the --config file, or the default path.
func loadConfig() (config.Config, error) {
	if err := config.Load(configPath); err != nil {
		return config.Config{}, err
	}
	return config.Global, nil
}

