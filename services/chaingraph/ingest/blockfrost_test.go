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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockHTTPClient lets tests fail at the transport level.
type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

func testClient(t *testing.T, handler http.Handler) *BlockfrostClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewBlockfrostClient(BlockfrostConfig{
		APIKey:            "preprodKey",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1e6,
		Burst:             1000,
		MaxRetries:        3,
		MinBackoff:        time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// chainHandler serves a block "blk" with n transactions named tx0..tx(n-1).
func chainHandler(t *testing.T, n int) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/latest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "preprodKey", r.Header.Get("project_id"))
		writeJSON(w, map[string]any{
			"hash": "blk", "height": 42, "time": 1700000000,
			"slot": 99, "epoch": 7, "tx_count": n, "size": 1024,
		})
	})
	mux.HandleFunc("/blocks/blk/txs", func(w http.ResponseWriter, r *http.Request) {
		var page, count int
		fmt.Sscan(r.URL.Query().Get("page"), &page)
		fmt.Sscan(r.URL.Query().Get("count"), &count)
		var out []string
		for i := (page - 1) * count; i < page*count && i < n; i++ {
			out = append(out, fmt.Sprintf("tx%d", i))
		}
		if out == nil {
			out = []string{}
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("/txs/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/txs/")
		hash, utxos := strings.CutSuffix(rest, "/utxos")
		if utxos {
			writeJSON(w, map[string]any{
				"hash": hash,
				"inputs": []map[string]any{{
					"address": "addr_in_" + hash, "tx_hash": "prev", "output_index": 1,
					"amount": []map[string]string{{"unit": "lovelace", "quantity": "5000000"}},
				}},
				"outputs": []map[string]any{
					{"address": "addr_out", "amount": []map[string]string{
						{"unit": "lovelace", "quantity": "4800000"},
						{"unit": "policyTOKEN", "quantity": "12"},
					}},
					{"address": "", "amount": []map[string]string{{"unit": "lovelace", "quantity": "1"}}},
				},
			})
			return
		}
		writeJSON(w, map[string]any{
			"hash": hash, "block": "blk", "block_height": 42, "block_time": 1700000000,
			"fees": "200000", "size": 300,
		})
	})
	return mux
}

func TestNewBlockfrostClient_Defaults(t *testing.T) {
	_, err := NewBlockfrostClient(BlockfrostConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	c, err := NewBlockfrostClient(BlockfrostConfig{APIKey: "k", Network: "mainnet"})
	require.NoError(t, err)
	assert.Equal(t, "https://cardano-mainnet.blockfrost.io/api/v0", c.baseURL)
	assert.Equal(t, 3, c.maxRetries)
	assert.Equal(t, time.Second, c.minBackoff)
	assert.Equal(t, 30*time.Second, c.maxBackoff)
}

func TestBlockfrostClient_LatestBlock(t *testing.T) {
	c := testClient(t, chainHandler(t, 0))

	blk, err := c.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "blk", blk.Hash)
	assert.Equal(t, int64(42), blk.Height)
	assert.Equal(t, int64(99), blk.Slot)
	assert.Equal(t, int64(7), blk.Epoch)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), blk.Timestamp)
}

func TestBlockfrostClient_BlockTransactions_Paginates(t *testing.T) {
	c := testClient(t, chainHandler(t, blockfrostPageSize+1))

	txs, err := c.BlockTransactions(context.Background(), "blk")
	require.NoError(t, err)
	require.Len(t, txs, blockfrostPageSize+1)

	tx := txs[0]
	assert.Equal(t, "tx0", tx.Hash)
	assert.Equal(t, "blk", tx.BlockHash)
	require.NotNil(t, tx.Fee)
	assert.Equal(t, int64(200000), *tx.Fee)
	require.Len(t, tx.Inputs, 1)
	assert.Equal(t, "addr_in_tx0", tx.Inputs[0].Address)
	assert.Equal(t, int64(5000000), tx.Inputs[0].Amount)
	require.Len(t, tx.Outputs, 1, "outputs without an address are dropped")
	assert.Equal(t, int64(4800000), tx.Outputs[0].Amount)
	assert.Equal(t, map[string]int64{"policyTOKEN": 12}, tx.Outputs[0].Assets)
	require.NotNil(t, tx.Timestamp)
}

func TestBlockfrostClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"hash": "blk", "height": 1, "time": 0})
	}))

	blk, err := c.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "blk", blk.Hash)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBlockfrostClient_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.LatestBlock(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBlockfrostClient_NoRetryOnClientErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrBadRequest},
		{http.StatusForbidden, ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				writeJSON(w, map[string]any{"status_code": tt.status, "message": "nope"})
			}))

			_, err := c.LatestBlock(context.Background())
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestBlockfrostClient_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))

	_, err := c.LatestBlock(context.Background())
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBlockfrostClient_TransportError(t *testing.T) {
	c, err := NewBlockfrostClient(BlockfrostConfig{
		APIKey:     "k",
		MaxRetries: 2,
		MinBackoff: time.Millisecond,
		HTTPClient: &MockHTTPClient{DoFunc: func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}},
	})
	require.NoError(t, err)

	_, err = c.LatestBlock(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBlockfrostClient_SkipsBrokenTransaction(t *testing.T) {
	inner := chainHandler(t, 3)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/txs/tx1/utxos" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		inner.ServeHTTP(w, r)
	}))

	txs, err := c.BlockTransactions(context.Background(), "blk")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx0", txs[0].Hash)
	assert.Equal(t, "tx2", txs[1].Hash)
}

func TestBlockfrostClient_RateLimitDuringDetailsPropagates(t *testing.T) {
	inner := chainHandler(t, 2)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/txs/tx1" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		inner.ServeHTTP(w, r)
	}))

	_, err := c.BlockTransactions(context.Background(), "blk")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestBlockfrostClient_ContextCanceled(t *testing.T) {
	c := testClient(t, chainHandler(t, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.LatestBlock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	c := &BlockfrostClient{minBackoff: time.Second, maxBackoff: 30 * time.Second}
	assert.Equal(t, time.Second, c.backoff(1))
	assert.Equal(t, 2*time.Second, c.backoff(2))
	assert.Equal(t, 16*time.Second, c.backoff(5))
	assert.Equal(t, 30*time.Second, c.backoff(6))
	assert.Equal(t, 30*time.Second, c.backoff(80))
}
