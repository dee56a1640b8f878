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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// API connection states reported in Status.
const (
	APIConnected    = "connected"
	APIDisconnected = "disconnected"
	APIRateLimited  = "rate_limited"
)

// Polling states reported in Status.
const (
	PollingActive  = "active"
	PollingStopped = "stopped"
	PollingPaused  = "paused"
	PollingError   = "error"
)

// sourceBlockfrost labels bundles applied by the fetcher.
const sourceBlockfrost = "blockfrost"

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	// PollingInterval is the wait between polls. Default: 10s.
	PollingInterval time.Duration

	// RateLimitBackoff is the pause after a rate-limited poll. Default: 30s.
	RateLimitBackoff time.Duration

	// MaxConsecutiveErrors is the error count above which the overall
	// status becomes "error". Default: 5.
	MaxConsecutiveErrors int
}

// RateLimitStatus describes an active upstream rate limit.
type RateLimitStatus struct {
	Limited           bool `json:"limited"`
	RetryAfterSeconds *int `json:"retry_after"`
}

// Status is a snapshot of fetcher health.
type Status struct {
	Status            string          `json:"status"`
	APIStatus         string          `json:"api_status"`
	PollingStatus     string          `json:"polling_status"`
	RateLimit         RateLimitStatus `json:"rate_limit_status"`
	ErrorMessage      *string         `json:"error_message"`
	ConsecutiveErrors int             `json:"consecutive_errors"`
	LastBlockFetched  *time.Time      `json:"last_block_fetched"`
	LastBlockHeight   *int64          `json:"last_block_height"`
	LastUpdate        time.Time       `json:"last_update"`
}

// Fetcher polls a Source for new blocks and applies them.
//
// # Description
//
// Each poll reads the chain tip, skips it if its height is not above the
// last applied height, then reads the block's transactions and applies the
// bundle. Errors never stop the loop; they are counted and exposed through
// Status. A rate-limited poll pauses polling for RateLimitBackoff.
//
// # Thread Safety
//
// Status and SetLastHeight are safe for concurrent use with Run. Run must
// not be called concurrently with itself.
type Fetcher struct {
	src     Source
	applier *Applier
	cfg     FetcherConfig
	logger  *slog.Logger
	now     func() time.Time

	mu                sync.RWMutex
	running           bool
	apiStatus         string
	rateLimited       bool
	errMsg            *string
	consecutiveErrors int
	lastHeight        *int64
	lastFetched       *time.Time
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherLogger sets the fetcher logger.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a fetcher reading from src and applying through applier.
func NewFetcher(src Source, applier *Applier, cfg FetcherConfig, opts ...FetcherOption) *Fetcher {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 10 * time.Second
	}
	if cfg.RateLimitBackoff <= 0 {
		cfg.RateLimitBackoff = 30 * time.Second
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	f := &Fetcher{
		src:       src,
		applier:   applier,
		cfg:       cfg,
		logger:    slog.Default().With(slog.String("component", "block_fetcher")),
		now:       time.Now,
		apiStatus: APIConnected,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetLastHeight resumes polling after height, e.g. after a replay.
func (f *Fetcher) SetLastHeight(height int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHeight = &height
}

// FetchOnce performs a single poll.
//
// Outputs:
//
//	applied - True if a new block was applied.
//	error - The poll error, also recorded in Status.
func (f *Fetcher) FetchOnce(ctx context.Context) (applied bool, err error) {
	ctx, span := tracer.Start(ctx, "ingest.Fetcher.FetchOnce")
	defer span.End()

	blk, err := f.src.LatestBlock(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		f.fail(err)
		return false, fmt.Errorf("latest block: %w", err)
	}
	span.SetAttributes(attribute.Int64("block.height", blk.Height))

	f.mu.RLock()
	seen := f.lastHeight != nil && blk.Height <= *f.lastHeight
	f.mu.RUnlock()
	if seen {
		f.succeed(nil)
		return false, nil
	}

	txs, err := f.src.BlockTransactions(ctx, blk.Hash)
	if err != nil {
		telemetry.RecordError(span, err)
		f.fail(err)
		return false, fmt.Errorf("block %d transactions: %w", blk.Height, err)
	}

	if _, err := f.applier.Apply(ctx, sourceBlockfrost, chain.BlockBundle{Block: blk, Transactions: txs}); err != nil {
		telemetry.RecordError(span, err)
		f.fail(err)
		return false, err
	}

	f.succeed(&blk.Height)
	f.logger.Info("Fetched block",
		slog.Int64("height", blk.Height),
		slog.String("hash", blk.Hash),
		slog.Int("transactions", len(txs)))
	return true, nil
}

func (f *Fetcher) succeed(height *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiStatus = APIConnected
	f.rateLimited = false
	f.errMsg = nil
	f.consecutiveErrors = 0
	if height != nil {
		h := *height
		now := f.now()
		f.lastHeight = &h
		f.lastFetched = &now
	}
}

func (f *Fetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consecutiveErrors++
	msg := err.Error()
	f.errMsg = &msg
	if errors.Is(err, ErrRateLimited) {
		f.apiStatus = APIRateLimited
		f.rateLimited = true
		return
	}
	f.apiStatus = APIDisconnected
}

// Run polls until ctx is done. It returns nil on cancellation.
func (f *Fetcher) Run(ctx context.Context) error {
	f.mu.Lock()
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	f.logger.Info("Polling started", slog.Duration("interval", f.cfg.PollingInterval))
	for {
		wait := f.cfg.PollingInterval
		if _, err := f.FetchOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, ErrRateLimited) {
				wait = f.cfg.RateLimitBackoff
				f.logger.Warn("Rate limited, pausing polling", slog.Duration("backoff", wait))
			} else {
				f.logger.Error("Poll failed",
					slog.String("error", err.Error()),
					slog.Int("consecutive_errors", f.Status().ConsecutiveErrors))
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			f.logger.Info("Polling stopped")
			return nil
		case <-timer.C:
		}
	}
	f.logger.Info("Polling stopped")
	return nil
}

// PollingInterval returns the configured wait between polls.
func (f *Fetcher) PollingInterval() time.Duration {
	return f.cfg.PollingInterval
}

// Status returns a snapshot of fetcher health.
func (f *Fetcher) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s := Status{
		APIStatus:         f.apiStatus,
		PollingStatus:     PollingStopped,
		RateLimit:         RateLimitStatus{Limited: f.rateLimited},
		ConsecutiveErrors: f.consecutiveErrors,
		LastUpdate:        f.now(),
	}
	if f.running {
		s.PollingStatus = PollingActive
	}
	if f.rateLimited {
		retry := int(f.cfg.RateLimitBackoff / time.Second)
		s.RateLimit.RetryAfterSeconds = &retry
	}
	if f.errMsg != nil {
		msg := *f.errMsg
		s.ErrorMessage = &msg
	}
	if f.lastHeight != nil {
		h := *f.lastHeight
		s.LastBlockHeight = &h
	}
	if f.lastFetched != nil {
		t := *f.lastFetched
		s.LastBlockFetched = &t
	}

	switch {
	case f.consecutiveErrors > f.cfg.MaxConsecutiveErrors:
		s.Status = PollingError
	case f.rateLimited:
		s.Status = PollingPaused
	case f.running:
		s.Status = PollingActive
	default:
		s.Status = PollingStopped
	}
	if s.Status == PollingPaused && f.running {
		s.PollingStatus = PollingPaused
	}
	return s
}
