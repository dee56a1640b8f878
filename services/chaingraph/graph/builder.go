// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"go.opentelemetry.io/otel/attribute"
)

// BuildStats counts the structural changes made by one Builder call.
type BuildStats struct {
	NodesAdded   int `json:"nodes_added"`
	EdgesAdded   int `json:"edges_added"`
	NodesUpdated int `json:"nodes_updated"`
}

// Add accumulates other into s.
func (s *BuildStats) Add(other BuildStats) {
	s.NodesAdded += other.NodesAdded
	s.EdgesAdded += other.EdgesAdded
	s.NodesUpdated += other.NodesUpdated
}

// AddressObservation is one sighting of an address with the amounts it
// contributes to the address totals.
type AddressObservation struct {
	Address          string
	Received         int64
	Sent             int64
	TransactionCount int64
	SeenAt           *time.Time
}

// Builder is the only component that structurally mutates a Graph.
//
// Every node or edge insertion is reported to the builder's listeners
// synchronously, before the write lock is released, so no reader can
// observe a mutation whose event has not been delivered.
//
// Thread Safety:
//
//	Safe for concurrent use; each call holds the graph write lock.
type Builder struct {
	g         *Graph
	listeners []Listener
	logger    *slog.Logger
}

// NewBuilder creates a builder for g that notifies listeners of every
// mutation.
//
// Example:
//
//	engine := analytics.NewEngine(g)
//	b := graph.NewBuilder(g, engine.Invalidator(), hub)
func NewBuilder(g *Graph, listeners ...Listener) *Builder {
	return &Builder{
		g:         g,
		listeners: listeners,
		logger:    slog.Default().With(slog.String("component", "graph_builder")),
	}
}

// Graph returns the graph this builder mutates.
func (b *Builder) Graph() *Graph {
	return b.g
}

// mutation collects changes made while the write lock is held.
type mutation struct {
	g      *Graph
	events []Event
	stats  BuildStats
}

func (m *mutation) addNode(n *Node) error {
	if err := m.g.addNodeLocked(n); err != nil {
		return err
	}
	m.stats.NodesAdded++
	m.events = append(m.events, Event{Kind: EventNodeAdded, NodeID: n.ID, NodeKind: n.Kind, At: time.Now()})
	return nil
}

func (m *mutation) addEdge(e *Edge) error {
	added, err := m.g.addEdgeLocked(e)
	if err != nil {
		return fmt.Errorf("add edge %s -> %s: %w", e.FromID, e.ToID, err)
	}
	if added {
		m.stats.EdgesAdded++
		edge := *e
		m.events = append(m.events, Event{Kind: EventEdgeAdded, Edge: &edge, At: time.Now()})
	}
	return nil
}

func (m *mutation) updated(n *Node) {
	m.stats.NodesUpdated++
	m.events = append(m.events, Event{Kind: EventNodeUpdated, NodeID: n.ID, NodeKind: n.Kind, At: time.Now()})
}

// mutate runs fn under the write lock and delivers the collected events
// to every listener before unlocking. Events for changes made before an
// error are still delivered.
func (b *Builder) mutate(fn func(m *mutation) error) (BuildStats, error) {
	b.g.mu.Lock()
	defer b.g.mu.Unlock()

	m := &mutation{g: b.g}
	err := fn(m)
	for _, ev := range m.events {
		for _, l := range b.listeners {
			l.OnGraphEvent(ev)
		}
	}
	return m.stats, err
}

// AddBlock inserts a block node and links it to its chain neighbours.
//
// Description:
//
//	Adding a block that already exists is a no-op. A chain edge is added
//	from the block at height-1 and to the block at height+1 when they
//	are present.
//
// Outputs:
//
//	BuildStats - Structural changes made.
//	error - ErrInvalidBlock, ErrMaxNodesExceeded, or ErrMaxEdgesExceeded.
func (b *Builder) AddBlock(ctx context.Context, blk chain.Block) (BuildStats, error) {
	_, span := tracer.Start(ctx, "graph.Builder.AddBlock")
	defer span.End()
	span.SetAttributes(attribute.Int64("block.height", blk.Height))

	if blk.Hash == "" || blk.Height < 0 {
		return BuildStats{}, fmt.Errorf("%w: hash=%q height=%d", ErrInvalidBlock, blk.Hash, blk.Height)
	}

	stats, err := b.mutate(func(m *mutation) error {
		return m.addBlock(blk)
	})
	recordBuildMetrics(ctx, "block", stats, err)
	return stats, err
}

func (m *mutation) addBlock(blk chain.Block) error {
	id := BlockID(blk.Hash)
	if _, exists := m.g.nodes[id]; exists {
		return nil
	}
	n := &Node{
		ID:    id,
		Kind:  NodeKindBlock,
		Label: fmt.Sprintf("Block %d", blk.Height),
		Block: &BlockAttrs{
			Hash:      blk.Hash,
			Height:    blk.Height,
			TxCount:   blk.TxCount,
			Timestamp: blk.Timestamp,
			Slot:      blk.Slot,
			Epoch:     blk.Epoch,
			Size:      blk.Size,
		},
	}
	// Capture neighbours before insertion replaces a same-height entry.
	prev, hasPrev := m.g.blocksByHeight[blk.Height-1]
	next, hasNext := m.g.blocksByHeight[blk.Height+1]

	if err := m.addNode(n); err != nil {
		return err
	}
	if hasPrev {
		if err := m.addEdge(&Edge{FromID: prev.ID, ToID: id, Kind: EdgeKindChain, Label: "next"}); err != nil {
			return err
		}
	}
	if hasNext {
		if err := m.addEdge(&Edge{FromID: id, ToID: next.ID, Kind: EdgeKindChain, Label: "next"}); err != nil {
			return err
		}
	}
	return nil
}

// AddTransaction inserts a transaction and connects it to its block and
// addresses.
//
// Description:
//
//	Adds a block_tx edge from the containing block when that block is
//	already in the graph, a tx_input edge from each input address, and a
//	tx_output edge with weight = amount to each output address. Inputs
//	and outputs without an address are skipped. Address nodes are created
//	on first sight; their totals are aggregated only the first time the
//	transaction is seen, so re-ingesting a transaction is idempotent.
//
// Outputs:
//
//	BuildStats - Structural changes made.
//	error - ErrInvalidTransaction when the transaction has no hash, no
//	inputs, or no outputs; capacity errors otherwise.
func (b *Builder) AddTransaction(ctx context.Context, tx chain.Transaction) (BuildStats, error) {
	_, span := tracer.Start(ctx, "graph.Builder.AddTransaction")
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.hash", tx.Hash),
		attribute.Int("tx.inputs", len(tx.Inputs)),
		attribute.Int("tx.outputs", len(tx.Outputs)),
	)

	if err := tx.Validate(); err != nil {
		return BuildStats{}, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	stats, err := b.mutate(func(m *mutation) error {
		return m.addTransaction(tx)
	})
	recordBuildMetrics(ctx, "transaction", stats, err)
	return stats, err
}

func (m *mutation) addTransaction(tx chain.Transaction) error {
	txID := TransactionID(tx.Hash)
	blockID := BlockID(tx.BlockHash)

	_, seen := m.g.nodes[txID]
	if !seen {
		attrs := &TxAttrs{
			Hash:        tx.Hash,
			BlockHash:   tx.BlockHash,
			BlockHeight: tx.BlockHeight,
			Fee:         tx.Fee,
			Timestamp:   tx.Timestamp,
			Size:        tx.Size,
			InputCount:  len(tx.Inputs),
			OutputCount: len(tx.Outputs),
			TotalOutput: tx.TotalOutput(),
		}
		if blk, ok := m.g.nodes[blockID]; ok && attrs.Timestamp == nil && !blk.Block.Timestamp.IsZero() {
			ts := blk.Block.Timestamp
			attrs.Timestamp = &ts
		}
		n := &Node{
			ID:    txID,
			Kind:  NodeKindTransaction,
			Label: "Tx " + truncate(tx.Hash, 16) + "...",
			Tx:    attrs,
		}
		if err := m.addNode(n); err != nil {
			return err
		}
	}

	if _, ok := m.g.nodes[blockID]; ok && tx.BlockHash != "" {
		if err := m.addEdge(&Edge{FromID: blockID, ToID: txID, Kind: EdgeKindBlockTx, Label: "contains"}); err != nil {
			return err
		}
	}

	seenAt := tx.Timestamp
	if n := m.g.nodes[txID]; n.Tx.Timestamp != nil {
		seenAt = n.Tx.Timestamp
	}

	// Per-address contribution of this transaction, in first-seen order.
	type contribution struct {
		received, sent int64
	}
	contribs := make(map[string]*contribution)
	var order []string
	touch := func(addr string) *contribution {
		c, ok := contribs[addr]
		if !ok {
			c = &contribution{}
			contribs[addr] = c
			order = append(order, addr)
		}
		return c
	}

	for _, in := range tx.Inputs {
		if in.Address == "" {
			continue
		}
		touch(in.Address).sent += in.Amount
	}
	for _, out := range tx.Outputs {
		if out.Address == "" {
			continue
		}
		touch(out.Address).received += out.Amount
	}

	for _, addr := range order {
		obs := AddressObservation{Address: addr, SeenAt: seenAt}
		if !seen {
			c := contribs[addr]
			obs.Received = c.received
			obs.Sent = c.sent
			obs.TransactionCount = 1
		}
		if err := m.observeAddress(obs); err != nil {
			return err
		}
	}

	for _, in := range tx.Inputs {
		if in.Address == "" {
			continue
		}
		e := &Edge{FromID: AddressID(in.Address), ToID: txID, Kind: EdgeKindTxInput, Label: "input"}
		if err := m.addEdge(e); err != nil {
			return err
		}
	}
	for _, out := range tx.Outputs {
		if out.Address == "" {
			continue
		}
		e := &Edge{
			FromID: txID,
			ToID:   AddressID(out.Address),
			Kind:   EdgeKindTxOutput,
			Weight: out.Amount,
			Label:  FormatAmount(out.Amount),
		}
		if err := m.addEdge(e); err != nil {
			return err
		}
	}
	return nil
}

// AddAddress creates an address node or adds the observation to its totals.
//
// Outputs:
//
//	BuildStats - NodesAdded for a new address, NodesUpdated for an
//	aggregated one.
//	error - ErrInvalidAddress for an empty address, capacity errors otherwise.
func (b *Builder) AddAddress(ctx context.Context, obs AddressObservation) (BuildStats, error) {
	if obs.Address == "" {
		return BuildStats{}, ErrInvalidAddress
	}
	stats, err := b.mutate(func(m *mutation) error {
		return m.observeAddress(obs)
	})
	recordBuildMetrics(ctx, "address", stats, err)
	return stats, err
}

func (m *mutation) observeAddress(obs AddressObservation) error {
	id := AddressID(obs.Address)
	n, exists := m.g.nodes[id]
	if !exists {
		n = &Node{
			ID:    id,
			Kind:  NodeKindAddress,
			Label: addressLabel(obs.Address),
			Address: &AddressAttrs{
				Address:          obs.Address,
				FirstSeen:        obs.SeenAt,
				TotalReceived:    obs.Received,
				TotalSent:        obs.Sent,
				TransactionCount: obs.TransactionCount,
			},
		}
		return m.addNode(n)
	}

	if obs.Received == 0 && obs.Sent == 0 && obs.TransactionCount == 0 {
		return nil
	}
	a := n.Address
	a.TotalReceived += obs.Received
	a.TotalSent += obs.Sent
	a.TransactionCount += obs.TransactionCount
	if a.FirstSeen == nil {
		a.FirstSeen = obs.SeenAt
	}
	n.Label = fmt.Sprintf("%s... (tx: %d)", truncate(obs.Address, 16), a.TransactionCount)
	m.updated(n)
	return nil
}

// ApplyBundle adds a block followed by its transactions.
//
// Description:
//
//	Invalid transactions are logged and skipped so one malformed entry
//	does not drop the rest of the block. Capacity errors abort the bundle.
func (b *Builder) ApplyBundle(ctx context.Context, bundle chain.BlockBundle) (BuildStats, error) {
	ctx, span := tracer.Start(ctx, "graph.Builder.ApplyBundle")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("block.height", bundle.Block.Height),
		attribute.Int("block.transactions", len(bundle.Transactions)),
	)

	total, err := b.AddBlock(ctx, bundle.Block)
	if err != nil {
		return total, err
	}
	for _, tx := range bundle.Transactions {
		if tx.BlockHash == "" {
			tx.BlockHash = bundle.Block.Hash
			tx.BlockHeight = bundle.Block.Height
		}
		stats, err := b.AddTransaction(ctx, tx)
		total.Add(stats)
		if err != nil {
			if IsCapacityError(err) {
				return total, err
			}
			b.logger.Warn("Skipping transaction",
				slog.String("tx_hash", tx.Hash),
				slog.Int64("block_height", bundle.Block.Height),
				slog.String("error", err.Error()))
		}
	}
	return total, nil
}

// IsCapacityError reports whether err is a node or edge capacity error.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrMaxNodesExceeded) || errors.Is(err, ErrMaxEdgesExceeded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func addressLabel(addr string) string {
	if len(addr) > 16 {
		return addr[:16] + "..."
	}
	return addr
}
