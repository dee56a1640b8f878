// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodeAdded(id string) graph.Event {
	return graph.Event{Kind: graph.EventNodeAdded, NodeID: id, NodeKind: graph.NodeKindAddress, At: time.Unix(0, 0)}
}

func TestHub_FanOut(t *testing.T) {
	h := NewHub()
	a, err := h.Subscribe()
	require.NoError(t, err)
	b, err := h.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 2, h.Subscribers())

	h.OnGraphEvent(nodeAdded("addr_x"))
	h.OnGraphEvent(nodeAdded("addr_y"))

	for _, s := range []*Subscription{a, b} {
		first, second := <-s.Updates(), <-s.Updates()
		assert.Equal(t, uint64(1), first.Seq)
		assert.Equal(t, "addr_x", first.NodeID)
		assert.Equal(t, uint64(2), second.Seq)
	}
}

func TestHub_KindFilter(t *testing.T) {
	h := NewHub()
	s, err := h.Subscribe(graph.EventEdgeAdded)
	require.NoError(t, err)

	h.OnGraphEvent(nodeAdded("addr_x"))
	h.OnGraphEvent(graph.Event{Kind: graph.EventEdgeAdded, Edge: &graph.Edge{FromID: "a", ToID: "b"}})

	u := <-s.Updates()
	assert.Equal(t, graph.EventEdgeAdded, u.Kind)
	assert.Equal(t, uint64(2), u.Seq, "sequence counts every event, filtered or not")
	assert.Empty(t, s.Updates())
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	h := NewHub(WithBufferSize(2))
	slow, err := h.Subscribe()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		h.OnGraphEvent(nodeAdded("addr_x"))
	}
	assert.Len(t, slow.Updates(), 2)
	assert.Equal(t, uint64(3), slow.Dropped())

	u := <-slow.Updates()
	assert.Equal(t, uint64(1), u.Seq)
}

func TestHub_UnsubscribeAndClose(t *testing.T) {
	h := NewHub()
	a, err := h.Subscribe()
	require.NoError(t, err)
	b, err := h.Subscribe()
	require.NoError(t, err)

	a.Close()
	a.Close()
	_, open := <-a.Updates()
	assert.False(t, open)
	assert.Equal(t, 1, h.Subscribers())

	h.Close()
	_, open = <-b.Updates()
	assert.False(t, open)
	b.Close()
	assert.Equal(t, 0, h.Subscribers())

	_, err = h.Subscribe()
	assert.ErrorIs(t, err, ErrHubClosed)
	h.OnGraphEvent(nodeAdded("addr_x"))
}

func TestHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewHub(WithBufferSize(1))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		s, err := h.Subscribe()
		require.NoError(t, err)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.OnGraphEvent(nodeAdded("addr_x"))
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.Subscribers())
}

func TestHub_AsGraphListener(t *testing.T) {
	h := NewHub()
	s, err := h.Subscribe(graph.EventNodeAdded)
	require.NoError(t, err)

	g := graph.New()
	b := graph.NewBuilder(g, h)
	_, err = b.AddAddress(context.Background(), graph.AddressObservation{Address: "addr1", Received: 10})
	require.NoError(t, err)

	select {
	case u := <-s.Updates():
		assert.Equal(t, graph.AddressID("addr1"), u.NodeID)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds("node_added, edge_added")
	require.NoError(t, err)
	assert.Equal(t, []graph.EventKind{graph.EventNodeAdded, graph.EventEdgeAdded}, kinds)

	kinds, err = ParseKinds("")
	require.NoError(t, err)
	assert.Nil(t, kinds)

	_, err = ParseKinds("node_removed")
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}
