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
	"fmt"
	"time"
)

// EventKind identifies a structural change to the graph.
type EventKind int

const (
	// EventNodeAdded is emitted after a new node is inserted.
	EventNodeAdded EventKind = iota + 1

	// EventEdgeAdded is emitted after a new edge is inserted.
	EventEdgeAdded

	// EventNodeUpdated is emitted when an existing address node's
	// cumulative attributes change.
	EventNodeUpdated
)

var eventKindNames = map[EventKind]string{
	EventNodeAdded:   "node_added",
	EventEdgeAdded:   "edge_added",
	EventNodeUpdated: "node_updated",
}

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseEventKind converts an event name such as "edge_added" into an
// EventKind.
func ParseEventKind(s string) (EventKind, bool) {
	for k, name := range eventKindNames {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(text []byte) error {
	kind, ok := ParseEventKind(string(text))
	if !ok {
		return fmt.Errorf("unknown event kind %q", text)
	}
	*k = kind
	return nil
}

// Event describes one structural mutation.
//
// NodeID and NodeKind are set for node events, Edge for edge events.
type Event struct {
	Kind     EventKind `json:"type"`
	NodeID   string    `json:"node_id,omitempty"`
	NodeKind NodeKind  `json:"node_kind,omitempty"`
	Edge     *Edge     `json:"edge,omitempty"`
	At       time.Time `json:"timestamp"`
}

// Listener receives mutation events.
//
// OnGraphEvent is called synchronously while the graph write lock is
// held. Implementations MUST NOT call back into the Graph and MUST NOT
// block.
type Listener interface {
	OnGraphEvent(ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event)

// OnGraphEvent calls f(ev).
func (f ListenerFunc) OnGraphEvent(ev Event) {
	f(ev)
}
