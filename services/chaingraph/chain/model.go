// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chain defines the blockchain entities ingested into the graph.
//
// These types are the wire shape shared by every ingestion source (the
// Blockfrost poller, the Kafka consumer, JSON-lines files) and by the
// block store. They carry no graph semantics of their own.
package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// LovelacePerADA is the number of lovelace in one ADA.
const LovelacePerADA = 1_000_000

// ErrInvalidEntity is returned when an ingested entity fails validation.
var ErrInvalidEntity = errors.New("invalid chain entity")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Block is a single block header.
type Block struct {
	Hash      string    `json:"block_hash" validate:"required"`
	Height    int64     `json:"block_height" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp"`
	Slot      int64     `json:"slot,omitempty"`
	Epoch     int64     `json:"epoch,omitempty"`
	TxCount   int       `json:"tx_count" validate:"gte=0"`
	Size      int64     `json:"size,omitempty"`
}

// Input references the output being spent by a transaction.
type Input struct {
	TxHash  string `json:"tx_hash"`
	Index   int    `json:"index"`
	Address string `json:"address"`
	Amount  int64  `json:"amount,omitempty" validate:"gte=0"`
}

// Output is a value transfer to an address, in lovelace.
type Output struct {
	Address string           `json:"address"`
	Amount  int64            `json:"amount" validate:"gte=0"`
	Assets  map[string]int64 `json:"assets,omitempty"`
}

// Transaction is a transaction with its resolved inputs and outputs.
//
// Every transaction has at least one input and one output.
type Transaction struct {
	Hash        string     `json:"tx_hash" validate:"required"`
	BlockHash   string     `json:"block_hash"`
	BlockHeight int64      `json:"block_height"`
	Inputs      []Input    `json:"inputs" validate:"min=1,dive"`
	Outputs     []Output   `json:"outputs" validate:"min=1,dive"`
	Fee         *int64     `json:"fee,omitempty"`
	Size        int64      `json:"size,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// TotalOutput returns the sum of all output amounts.
func (t Transaction) TotalOutput() int64 {
	var total int64
	for _, out := range t.Outputs {
		total += out.Amount
	}
	return total
}

// BlockBundle is a block together with the transactions it contains.
// It is the unit of ingestion and of persistence.
type BlockBundle struct {
	Block        Block         `json:"block"`
	Transactions []Transaction `json:"transactions"`
}

// Validate checks a block for required fields.
func (b Block) Validate() error {
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: block %q: %v", ErrInvalidEntity, b.Hash, err)
	}
	return nil
}

// Validate checks a transaction for required fields and the
// at-least-one-input, at-least-one-output rule.
func (t Transaction) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: transaction %q: %v", ErrInvalidEntity, t.Hash, err)
	}
	return nil
}
