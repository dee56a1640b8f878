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
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// blockfrostPageSize is the maximum page size of list endpoints.
const blockfrostPageSize = 100

// HTTPClient allows injecting mock HTTP clients for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// BlockfrostConfig configures a BlockfrostClient.
type BlockfrostConfig struct {
	// APIKey is the Blockfrost project id. Required.
	APIKey string

	// Network is mainnet, preprod, preview or testnet. Default: testnet.
	Network string

	// BaseURL overrides the URL derived from Network.
	BaseURL string

	// RequestsPerSecond and Burst bound the request rate.
	// Defaults: 10 and 50.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries is the number of attempts per request. Default: 3.
	MaxRetries int

	// MinBackoff and MaxBackoff bound the exponential retry delay.
	// Defaults: 1s and 30s.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// HTTPClient is used for requests. Default: a client with a 30s timeout.
	HTTPClient HTTPClient

	Logger *slog.Logger
}

// BlockfrostClient implements Source against the Blockfrost Cardano API.
//
// Thread Safety: Safe for concurrent use.
type BlockfrostClient struct {
	baseURL    string
	apiKey     string
	http       HTTPClient
	limiter    *rate.Limiter
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewBlockfrostClient creates a client for cfg.
//
// Returns ErrMissingAPIKey if cfg.APIKey is empty.
func NewBlockfrostClient(cfg BlockfrostConfig) (*BlockfrostClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Network == "" {
		cfg.Network = "testnet"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://cardano-%s.blockfrost.io/api/v0", cfg.Network)
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &BlockfrostClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		http:       cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		maxRetries: cfg.MaxRetries,
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     cfg.Logger.With(slog.String("component", "blockfrost_client")),
	}, nil
}

// --- Blockfrost wire types ---

type bfBlock struct {
	Hash    string `json:"hash"`
	Height  *int64 `json:"height"`
	Time    int64  `json:"time"`
	Slot    *int64 `json:"slot"`
	Epoch   *int64 `json:"epoch"`
	TxCount int    `json:"tx_count"`
	Size    int64  `json:"size"`
}

type bfTransaction struct {
	Hash        string `json:"hash"`
	Block       string `json:"block"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
	Fees        string `json:"fees"`
	Size        int64  `json:"size"`
}

type bfAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type bfUTXO struct {
	Address     string     `json:"address"`
	Amount      []bfAmount `json:"amount"`
	TxHash      string     `json:"tx_hash"`
	OutputIndex int        `json:"output_index"`
}

type bfUTXOs struct {
	Hash    string   `json:"hash"`
	Inputs  []bfUTXO `json:"inputs"`
	Outputs []bfUTXO `json:"outputs"`
}

// LatestBlock returns the chain tip.
func (c *BlockfrostClient) LatestBlock(ctx context.Context) (chain.Block, error) {
	var b bfBlock
	if err := c.get(ctx, "blocks_latest", "/blocks/latest", &b); err != nil {
		return chain.Block{}, err
	}
	if b.Hash == "" || b.Height == nil {
		return chain.Block{}, fmt.Errorf("%w: latest block without hash or height", ErrUpstream)
	}

	blk := chain.Block{
		Hash:      b.Hash,
		Height:    *b.Height,
		Timestamp: time.Unix(b.Time, 0).UTC(),
		TxCount:   b.TxCount,
		Size:      b.Size,
	}
	if b.Slot != nil {
		blk.Slot = *b.Slot
	}
	if b.Epoch != nil {
		blk.Epoch = *b.Epoch
	}
	return blk, nil
}

// BlockTransactions lists the block's transactions page by page and
// resolves each one.
//
// A transaction whose details fail with anything other than a rate limit
// or a context error is logged and left out.
func (c *BlockfrostClient) BlockTransactions(ctx context.Context, blockHash string) ([]chain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ingest.BlockfrostClient.BlockTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("block.hash", blockHash))

	var hashes []string
	for page := 1; ; page++ {
		var batch []string
		path := fmt.Sprintf("/blocks/%s/txs?count=%d&page=%d", url.PathEscape(blockHash), blockfrostPageSize, page)
		if err := c.get(ctx, "blocks_txs", path, &batch); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		hashes = append(hashes, batch...)
		if len(batch) < blockfrostPageSize {
			break
		}
	}

	txs := make([]chain.Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, err := c.Transaction(ctx, h)
		if err != nil {
			if errors.Is(err, ErrRateLimited) || ctx.Err() != nil {
				telemetry.RecordError(span, err)
				return nil, err
			}
			c.logger.Warn("Skipping transaction without details",
				slog.String("tx_hash", h),
				slog.String("block_hash", blockHash),
				slog.String("error", err.Error()))
			continue
		}
		txs = append(txs, tx)
	}
	span.SetAttributes(attribute.Int("block.transactions", len(txs)))
	return txs, nil
}

// Transaction returns one transaction with its UTXOs.
//
// Outputs without an address are dropped. A transaction left without
// inputs or outputs fails chain validation.
func (c *BlockfrostClient) Transaction(ctx context.Context, txHash string) (chain.Transaction, error) {
	var raw bfTransaction
	if err := c.get(ctx, "txs", "/txs/"+url.PathEscape(txHash), &raw); err != nil {
		return chain.Transaction{}, err
	}
	var utxos bfUTXOs
	if err := c.get(ctx, "txs_utxos", "/txs/"+url.PathEscape(txHash)+"/utxos", &utxos); err != nil {
		return chain.Transaction{}, err
	}

	tx := chain.Transaction{
		Hash:        raw.Hash,
		BlockHash:   raw.Block,
		BlockHeight: raw.BlockHeight,
		Size:        raw.Size,
	}
	if fee, err := strconv.ParseInt(raw.Fees, 10, 64); err == nil {
		tx.Fee = &fee
	}
	if raw.BlockTime > 0 {
		ts := time.Unix(raw.BlockTime, 0).UTC()
		tx.Timestamp = &ts
	}
	for _, in := range utxos.Inputs {
		tx.Inputs = append(tx.Inputs, chain.Input{
			TxHash:  in.TxHash,
			Index:   in.OutputIndex,
			Address: in.Address,
			Amount:  lovelace(in.Amount),
		})
	}
	for _, out := range utxos.Outputs {
		if out.Address == "" {
			continue
		}
		tx.Outputs = append(tx.Outputs, chain.Output{
			Address: out.Address,
			Amount:  lovelace(out.Amount),
			Assets:  nativeAssets(out.Amount),
		})
	}

	if err := tx.Validate(); err != nil {
		return chain.Transaction{}, err
	}
	return tx, nil
}

// lovelace returns the ADA quantity of amounts, or 0.
func lovelace(amounts []bfAmount) int64 {
	for _, a := range amounts {
		if a.Unit == "lovelace" {
			n, err := strconv.ParseInt(a.Quantity, 10, 64)
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

// nativeAssets returns the non-ADA quantities of amounts, or nil.
func nativeAssets(amounts []bfAmount) map[string]int64 {
	var assets map[string]int64
	for _, a := range amounts {
		if a.Unit == "lovelace" {
			continue
		}
		n, err := strconv.ParseInt(a.Quantity, 10, 64)
		if err != nil {
			continue
		}
		if assets == nil {
			assets = make(map[string]int64)
		}
		assets[a.Unit] = n
	}
	return assets
}

// get performs a rate-limited GET with retries and decodes the JSON body
// into out.
//
// Rate limits, 5xx answers and transport errors are retried with
// exponential backoff. 400, 403 and 404 answers are returned at once.
func (c *BlockfrostClient) get(ctx context.Context, endpoint, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			c.logger.Debug("Retrying upstream request",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt+1),
				slog.Duration("wait", wait),
				slog.String("error", lastErr.Error()))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		err := c.do(ctx, path, out)
		if err == nil {
			recordUpstream(ctx, endpoint, "ok")
			return nil
		}
		lastErr = err
		recordUpstream(ctx, endpoint, outcome(err))
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", endpoint, c.maxRetries, lastErr)
}

func (c *BlockfrostClient) do(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("project_id", c.apiKey)
	req.Header.Set("Accept", "application/json")
	telemetry.InjectHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call blockfrost: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", ErrBadRequest, resp.Status, readMessage(resp.Body))
	default:
		return fmt.Errorf("%w: %s: %s", ErrUpstream, resp.Status, readMessage(resp.Body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// backoff returns the delay before the given retry attempt.
func (c *BlockfrostClient) backoff(attempt int) time.Duration {
	d := c.minBackoff
	for i := 1; i < attempt && d < c.maxBackoff; i++ {
		d *= 2
	}
	return min(d, c.maxBackoff)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBadRequest):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	}
	return "error"
}

// readMessage returns the "message" field of a Blockfrost error body.
func readMessage(r io.Reader) string {
	var body struct {
		Message string `json:"message"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
