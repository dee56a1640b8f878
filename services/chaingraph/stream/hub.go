// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream fans graph mutation events out to live subscribers.
//
// Hub is registered as a graph.Listener. Each subscriber owns a bounded
// buffer; when a subscriber falls behind, new events for it are dropped
// and counted rather than blocking the graph writer.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 256

// ErrHubClosed is returned by Subscribe after Close.
var ErrHubClosed = errors.New("stream hub closed")

// ErrUnknownEventKind is returned by ParseKinds for an unrecognized name.
var ErrUnknownEventKind = errors.New("unknown event kind")

// Update is one event as delivered to subscribers. Seq increases by one
// for every event the hub receives, so gaps reveal dropped events.
type Update struct {
	Seq uint64 `json:"seq"`
	graph.Event
}

// Hub broadcasts graph events to subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	seq    atomic.Uint64
	buffer int
	logger *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscriber buffer. Values below 1 are ignored.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[uint64]*Subscription),
		buffer: DefaultBufferSize,
		logger: slog.Default().With(slog.String("component", "stream")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// OnGraphEvent implements graph.Listener. It never blocks.
func (h *Hub) OnGraphEvent(ev graph.Event) {
	u := Update{Seq: h.seq.Add(1), Event: ev}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if !s.wants(ev.Kind) {
			continue
		}
		select {
		case s.ch <- u:
		default:
			if s.dropped.Add(1) == 1 {
				h.logger.Warn("subscriber falling behind, dropping events",
					slog.Uint64("subscriber", s.id),
				)
			}
			recordDropped(context.Background())
		}
	}
}

// Subscribe registers a subscriber for the given kinds, or for every
// kind when none are given.
func (h *Hub) Subscribe(kinds ...graph.EventKind) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	s := &Subscription{
		id:  h.nextID,
		ch:  make(chan Update, h.buffer),
		hub: h,
	}
	if len(kinds) > 0 {
		s.kinds = make(map[graph.EventKind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	h.subs[s.id] = s
	recordSubscribers(context.Background(), 1)
	return s, nil
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Subsequent Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
		recordSubscribers(context.Background(), -1)
	}
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s.id]; !ok {
		return
	}
	delete(h.subs, s.id)
	close(s.ch)
	recordSubscribers(context.Background(), -1)
}

// Subscription is one subscriber's view of the hub.
type Subscription struct {
	id      uint64
	ch      chan Update
	kinds   map[graph.EventKind]bool
	hub     *Hub
	dropped atomic.Uint64
}

// Updates returns the delivery channel. It is closed when the
// subscription or the hub is closed.
func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (s *Subscription) wants(k graph.EventKind) bool {
	return s.kinds == nil || s.kinds[k]
}

// ParseKinds parses a comma separated list of event kind names such as
// "node_added,edge_added". An empty string yields nil.
func ParseKinds(csv string) ([]graph.EventKind, error) {
	var kinds []graph.EventKind
	for _, name := range strings.Split(csv, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		k, ok := graph.ParseEventKind(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventKind, name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
