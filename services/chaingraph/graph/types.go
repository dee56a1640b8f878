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
	"time"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	DefaultMaxNodes = 1_000_000

	// DefaultMaxEdges is the default maximum number of edges a graph can hold.
	DefaultMaxEdges = 10_000_000
)

// Node id prefixes.
const (
	BlockIDPrefix       = "block_"
	TransactionIDPrefix = "tx_"
	AddressIDPrefix     = "addr_"
)

// BlockID returns the node id for a block hash.
func BlockID(hash string) string { return BlockIDPrefix + hash }

// TransactionID returns the node id for a transaction hash.
func TransactionID(hash string) string { return TransactionIDPrefix + hash }

// AddressID returns the node id for an address.
func AddressID(address string) string { return AddressIDPrefix + address }

// NodeKind is the entity category of a node.
type NodeKind int

const (
	// NodeKindUnknown indicates an unrecognized entity.
	NodeKindUnknown NodeKind = iota

	// NodeKindBlock is a block header.
	NodeKindBlock

	// NodeKindTransaction is a transaction.
	NodeKindTransaction

	// NodeKindAddress is a payment address.
	NodeKindAddress

	// NumNodeKinds is the number of node kinds (for array sizing).
	NumNodeKinds
)

var nodeKindNames = map[NodeKind]string{
	NodeKindUnknown:     "unknown",
	NodeKindBlock:       "block",
	NodeKindTransaction: "transaction",
	NodeKindAddress:     "address",
}

// String returns the string representation of the NodeKind.
func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseNodeKind converts a kind name into a NodeKind.
//
// Returns NodeKindUnknown and false for unrecognized names.
func ParseNodeKind(s string) (NodeKind, bool) {
	for k, name := range nodeKindNames {
		if name == s && k != NodeKindUnknown {
			return k, true
		}
	}
	return NodeKindUnknown, false
}

// MarshalText implements encoding.TextMarshaler.
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognized names
// decode to NodeKindUnknown.
func (k *NodeKind) UnmarshalText(text []byte) error {
	*k, _ = ParseNodeKind(string(text))
	return nil
}

// EdgeKind defines the relationship between two nodes.
type EdgeKind int

const (
	// EdgeKindUnknown indicates an unrecognized relationship.
	EdgeKindUnknown EdgeKind = iota

	// EdgeKindChain links a block to the next block by height.
	EdgeKindChain

	// EdgeKindBlockTx links a block to a transaction it contains.
	EdgeKindBlockTx

	// EdgeKindTxInput links a spending address to a transaction.
	EdgeKindTxInput

	// EdgeKindTxOutput links a transaction to an address it pays.
	EdgeKindTxOutput

	// NumEdgeKinds is the number of edge kinds (for array sizing).
	NumEdgeKinds
)

var edgeKindNames = map[EdgeKind]string{
	EdgeKindUnknown:  "unknown",
	EdgeKindChain:    "chain",
	EdgeKindBlockTx:  "block_tx",
	EdgeKindTxInput:  "tx_input",
	EdgeKindTxOutput: "tx_output",
}

// String returns the string representation of the EdgeKind.
func (k EdgeKind) String() string {
	if name, ok := edgeKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k EdgeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Unrecognized names
// decode to EdgeKindUnknown.
func (k *EdgeKind) UnmarshalText(text []byte) error {
	*k = EdgeKindUnknown
	for kind, name := range edgeKindNames {
		if name == string(text) {
			*k = kind
			break
		}
	}
	return nil
}

// Edge is a directed relationship between two nodes.
//
// There is at most one edge per ordered (FromID, ToID) pair. Edges are
// immutable once added.
type Edge struct {
	// FromID is the ID of the source node.
	FromID string `json:"from"`

	// ToID is the ID of the target node.
	ToID string `json:"to"`

	// Kind is the relationship type.
	Kind EdgeKind `json:"type"`

	// Weight is the transferred amount in lovelace. Only tx_output edges
	// carry a meaningful weight.
	Weight int64 `json:"weight"`

	// Label is a human readable rendering of the edge.
	Label string `json:"label"`
}

// BlockAttrs are the attributes of a block node.
type BlockAttrs struct {
	Hash      string    `json:"block_hash"`
	Height    int64     `json:"block_height"`
	TxCount   int       `json:"tx_count"`
	Timestamp time.Time `json:"timestamp"`
	Slot      int64     `json:"slot,omitempty"`
	Epoch     int64     `json:"epoch,omitempty"`
	Size      int64     `json:"size,omitempty"`
}

// TxAttrs are the attributes of a transaction node.
type TxAttrs struct {
	Hash        string     `json:"tx_hash"`
	BlockHash   string     `json:"block_hash"`
	BlockHeight int64      `json:"block_height"`
	Fee         *int64     `json:"fee,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Size        int64      `json:"size,omitempty"`
	InputCount  int        `json:"input_count"`
	OutputCount int        `json:"output_count"`
	TotalOutput int64      `json:"total_output"`
}

// AddressAttrs are the cumulative attributes of an address node.
//
// Totals only ever increase: every observation of the address adds to them.
type AddressAttrs struct {
	Address          string     `json:"address"`
	FirstSeen        *time.Time `json:"first_seen,omitempty"`
	TotalReceived    int64      `json:"total_received"`
	TotalSent        int64      `json:"total_sent"`
	TransactionCount int64      `json:"transaction_count"`
}

// DegreeAnnotation is the last computed connectivity of a node.
type DegreeAnnotation struct {
	Degree     int `json:"degree"`
	InDegree   int `json:"in_degree"`
	OutDegree  int `json:"out_degree"`
	TypeDegree int `json:"type_degree"`
}

// ActivityAnnotation is the last computed activity coloring of a node.
type ActivityAnnotation struct {
	Color         string  `json:"color"`
	ColorScheme   string  `json:"color_scheme"`
	ActivityScore float64 `json:"activity_score"`
}

// AnomalyAnnotation is the last computed anomaly flag of a node.
// AnomalyType is nil when the node is not anomalous.
type AnomalyAnnotation struct {
	IsAnomaly    bool    `json:"is_anomaly"`
	AnomalyScore float64 `json:"anomaly_score"`
	AnomalyType  *string `json:"anomaly_type"`
}

// ClusterAnnotation is the last computed community of a node.
// ClusterID is -1 and the other fields nil when the node is unassigned.
type ClusterAnnotation struct {
	ClusterID    int     `json:"cluster_id"`
	ClusterType  *string `json:"cluster_type"`
	ClusterColor *string `json:"cluster_color"`
}

// Annotations holds analytic results written back onto a node.
//
// A nil field means the corresponding analysis has never run for this node.
type Annotations struct {
	Degree   *DegreeAnnotation   `json:"degree,omitempty"`
	Activity *ActivityAnnotation `json:"activity,omitempty"`
	Anomaly  *AnomalyAnnotation  `json:"anomaly,omitempty"`
	Cluster  *ClusterAnnotation  `json:"cluster,omitempty"`
}

// Node is an entity in the graph with its relationships.
//
// Exactly one of Block, Tx, Address is non-nil, matching Kind.
type Node struct {
	// ID is the unique identifier, e.g. "block_<hash>".
	ID string

	// Kind is the entity category.
	Kind NodeKind

	// Label is a short human readable name.
	Label string

	Block   *BlockAttrs
	Tx      *TxAttrs
	Address *AddressAttrs

	// Annotations are analytic results. Written only through Graph.Apply.
	Annotations Annotations

	// Outgoing contains edges where this node is the source.
	Outgoing []*Edge

	// Incoming contains edges where this node is the target.
	Incoming []*Edge
}

// Height returns the block height of a block node, or -1 for other kinds.
func (n *Node) Height() int64 {
	if n.Block == nil {
		return -1
	}
	return n.Block.Height
}

// GraphOptions configures Graph behavior and limits.
type GraphOptions struct {
	// MaxNodes is the maximum number of nodes the graph can hold.
	// Default: 1,000,000
	MaxNodes int

	// MaxEdges is the maximum number of edges the graph can hold.
	// Default: 10,000,000
	MaxEdges int
}

// DefaultGraphOptions returns sensible defaults for graph configuration.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes: DefaultMaxNodes,
		MaxEdges: DefaultMaxEdges,
	}
}

// GraphOption is a functional option for configuring Graph.
type GraphOption func(*GraphOptions)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxNodes = n
	}
}

// WithMaxEdges sets the maximum number of edges the graph can hold.
func WithMaxEdges(n int) GraphOption {
	return func(o *GraphOptions) {
		o.MaxEdges = n
	}
}
