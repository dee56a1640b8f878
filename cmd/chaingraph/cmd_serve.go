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
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/AleutianAI/chaingraph/cmd/chaingraph/config"
	"github.com/AleutianAI/chaingraph/services/chaingraph"
	"github.com/AleutianAI/chaingraph/services/chaingraph/ingest"
	"github.com/AleutianAI/chaingraph/services/chaingraph/sink"
	"github.com/AleutianAI/chaingraph/services/chaingraph/stream"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logs, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logs.Close()
	logger := logs.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telCfg := cfg.Telemetry
	telCfg.ServiceVersion = chaingraph.Version
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	hub := stream.NewHub(
		stream.WithBufferSize(cfg.Stream.BufferSize),
		stream.WithLogger(logger.With(slog.String("component", "stream_hub"))),
	)
	defer hub.Close()

	a, err := newApp(cfg, logger, true, hub)
	if err != nil {
		return err
	}
	defer a.Close()

	applied, lastHeight, haveBlocks, err := a.replay(ctx)
	if err != nil {
		return err
	}
	if haveBlocks {
		logger.Info("Replayed block store",
			slog.Int("bundles", applied),
			slog.Int64("last_height", lastHeight))
	}

	publisher, err := buildSinks(ctx, cfg.Sinks, logger)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	handlers := chaingraph.NewHandlers(a.engine).
		WithLogger(logger).
		WithStream(stream.NewHandler(hub, cfg.Stream.KeepAlive, logger.With(slog.String("component", "stream_handler"))))
	if publisher != nil {
		handlers.WithPublisher(publisher)
	}

	g, gctx := errgroup.WithContext(ctx)

	if fetcher, err := buildFetcher(cfg.Blockfrost, a.applier, logger); err != nil {
		return err
	} else if fetcher != nil {
		if haveBlocks {
			fetcher.SetLastHeight(lastHeight)
		}
		handlers.WithStatus(fetcher)
		g.Go(func() error { return fetcher.Run(gctx) })
	} else {
		logger.Warn("Blockfrost polling disabled")
	}

	if cfg.Kafka.Enabled {
		consumer, err := ingest.NewKafkaConsumer(ingest.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.Topic,
		}, a.applier)
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	if cfg.Watch.Dir != "" {
		dir := config.ExpandHome(cfg.Watch.Dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create watch directory: %w", err)
		}
		w := ingest.NewDirWatcher(dir, a.applier,
			ingest.WithDebounce(cfg.Watch.Debounce),
			ingest.WithLoadHook(func(path string, stats ingest.LoadStats, err error) {
				if err != nil {
					logger.Error("Bundle file load failed", slog.String("file", path), slog.String("error", err.Error()))
					return
				}
				logger.Info("Bundle file loaded",
					slog.String("file", path),
					slog.Int("bundles", stats.Bundles),
					slog.Int("failed", stats.Failed))
			}))
		g.Go(func() error { return w.Run(gctx) })
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := chaingraph.NewRouter(handlers, telCfg.ServiceName)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	g.Go(func() error {
		return chaingraph.Serve(gctx, chaingraph.ServerConfig{
			Addr:            addr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			Logger:          logger,
		}, router)
	})

	logger.Info("chaingraph started", slog.String("addr", addr), slog.String("version", chaingraph.Version))
	err = g.Wait()
	logger.Info("chaingraph stopped")
	return err
}

// buildFetcher returns nil when polling is disabled or no API key is set.
func buildFetcher(cfg config.BlockfrostConfig, applier *ingest.Applier, logger *slog.Logger) (*ingest.Fetcher, error) {
	if !cfg.Enabled || cfg.APIKey == "" {
		return nil, nil
	}
	client, err := ingest.NewBlockfrostClient(ingest.BlockfrostConfig{
		APIKey:            cfg.APIKey,
		Network:           cfg.Network,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		MaxRetries:        cfg.MaxRetries,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create blockfrost client: %w", err)
	}
	return ingest.NewFetcher(client, applier, ingest.FetcherConfig{
		PollingInterval:  cfg.PollingInterval,
		RateLimitBackoff: cfg.RateLimitBackoff,
	}, ingest.WithFetcherLogger(logger.With(slog.String("component", "block_fetcher")))), nil
}

// buildSinks connects every enabled sink and wraps them in a Dispatcher.
// Returns nil when no sink is enabled. A sink that cannot connect fails
// startup.
func buildSinks(ctx context.Context, cfg config.SinksConfig, logger *slog.Logger) (*sink.Dispatcher, error) {
	var sinks sink.Multi
	closeAll := func() { _ = sinks.Close() }

	if cfg.Postgres.Enabled {
		s, err := sink.NewPostgresSink(ctx, cfg.Postgres.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Kafka.Enabled {
		s, err := sink.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("kafka sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.Influx.Enabled {
		s, err := sink.NewInfluxSink(ctx, cfg.Influx.InfluxConfig)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("influx sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return nil, nil
	}

	logger.Info("Report sinks enabled", slog.Int("count", len(sinks)))
	return sink.NewDispatcher(sinks,
		sink.WithQueueSize(cfg.QueueSize),
		sink.WithPublishTimeout(cfg.PublishTimeout),
		sink.WithDispatcherLogger(logger.With(slog.String("component", "sink_dispatcher"))),
	), nil
}
