// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"go.opentelemetry.io/otel/attribute"
)

// ClusterRecord is one detected community.
type ClusterRecord struct {
	ClusterID int      `json:"cluster_id"`
	NodeIDs   []string `json:"node_ids"`
	Size      int      `json:"size"`
	ColorHex  string   `json:"color_hex"`
}

// ClusterReport is the result of one clustering pass.
type ClusterReport struct {
	Clusters         []ClusterRecord `json:"clusters"`
	ClusterType      ClusterMode     `json:"cluster_type"`
	TimeWindowBlocks int             `json:"time_window_blocks"`
	TotalClusters    int             `json:"total_clusters"`
	NodesClustered   int             `json:"nodes_clustered"`
}

// greedyModularity partitions p by Clauset-Newman-Moore agglomeration.
//
// Description:
//
//	Every node starts in its own community. The pair of adjacent
//	communities with the largest modularity gain is merged until no merge
//	has a positive gain. Equal gains resolve to the lowest index pair.
//	A projection without edges is returned as singletons.
//
// Outputs:
//
//	[][]int - Communities as sorted node indexes, largest first, equal
//	sizes ordered by smallest member.
//	error - ErrComputationFailed if merging does not terminate, or the
//	context error.
func greedyModularity(ctx context.Context, p *projection) (communities [][]int, err error) {
	defer func() {
		if r := recover(); r != nil {
			communities = nil
			err = fmt.Errorf("%w: %v", ErrComputationFailed, r)
		}
	}()

	n := len(p.nodes)
	members := make([][]int, n)
	alive := make([]bool, n)
	for i := range members {
		members[i] = []int{i}
		alive[i] = true
	}

	if p.edges > 0 {
		twoM := float64(2 * p.edges)
		a := make([]float64, n)
		e := make([]map[int]float64, n)
		for i := 0; i < n; i++ {
			a[i] = float64(len(p.adj[i])) / twoM
			e[i] = make(map[int]float64, len(p.adj[i]))
			for j := range p.adj[i] {
				e[i][j] = 1 / twoM
			}
		}

		for iter := 0; ; iter++ {
			if iter > n {
				return nil, fmt.Errorf("%w: no convergence after %d merges", ErrComputationFailed, iter)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			bi, bj, best := -1, -1, 0.0
			for i := 0; i < n; i++ {
				if !alive[i] {
					continue
				}
				for j, eij := range e[i] {
					if j <= i {
						continue
					}
					dq := 2 * (eij - a[i]*a[j])
					if dq > best || (dq == best && bi >= 0 && (i < bi || (i == bi && j < bj))) {
						bi, bj, best = i, j, dq
					}
				}
			}
			if bi < 0 || best <= 0 {
				break
			}

			// Merge bj into bi.
			for k, ejk := range e[bj] {
				if k == bi {
					continue
				}
				e[bi][k] += ejk
				e[k][bi] = e[bi][k]
				delete(e[k], bj)
			}
			delete(e[bi], bj)
			e[bj] = nil
			a[bi] += a[bj]
			a[bj] = 0
			members[bi] = append(members[bi], members[bj]...)
			members[bj] = nil
			alive[bj] = false
		}
	}

	for i := 0; i < n; i++ {
		if alive[i] {
			c := members[i]
			sort.Ints(c)
			communities = append(communities, c)
		}
	}
	sort.SliceStable(communities, func(x, y int) bool {
		if len(communities[x]) != len(communities[y]) {
			return len(communities[x]) > len(communities[y])
		}
		return communities[x][0] < communities[y][0]
	})
	return communities, nil
}

// computeClusters projects the recent window, partitions it, and writes
// the cluster pass for mode back onto the graph.
func (e *Engine) computeClusters(mode ClusterMode, window int) computeFunc {
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		report := ClusterReport{
			Clusters:         make([]ClusterRecord, 0),
			ClusterType:      mode,
			TimeWindowBlocks: window,
		}

		var p *projection
		_ = e.g.View(func(r graph.Reader) error {
			p = project(r, recentWindow(r, window), mode)
			return nil
		})

		if len(p.nodes) >= 2 {
			communities, err := greedyModularity(ctx, p)
			switch {
			case err == nil:
				for id, c := range communities {
					ids := make([]string, len(c))
					for i, idx := range c {
						ids[i] = p.nodes[idx]
					}
					report.Clusters = append(report.Clusters, ClusterRecord{
						ClusterID: id,
						NodeIDs:   ids,
						Size:      len(ids),
						ColorHex:  ClusterColor(id),
					})
					report.NodesClustered += len(ids)
				}
			case errors.Is(err, ErrComputationFailed):
				e.logger.Warn("Community detection failed, returning no clusters",
					slog.String("mode", string(mode)),
					slog.Int("window", window),
					slog.Int("nodes", len(p.nodes)),
					slog.String("error", err.Error()))
				recordClusterFailure(ctx, mode)
			default:
				return nil, err
			}
		}
		report.TotalClusters = len(report.Clusters)

		clusterType := string(mode)
		pass := &graph.ClusterPass{
			ClusterType: clusterType,
			Members:     make(map[string]graph.ClusterAnnotation, report.NodesClustered),
		}
		for _, c := range report.Clusters {
			color := c.ColorHex
			for _, id := range c.NodeIDs {
				pass.Members[id] = graph.ClusterAnnotation{
					ClusterID:    c.ClusterID,
					ClusterType:  &clusterType,
					ClusterColor: &color,
				}
			}
		}
		e.g.Apply(graph.AnnotationBatch{Clusters: pass})
		return report, nil
	}
}

// Clusters partitions the recent-block window into communities.
//
// Description:
//
//	Address mode links addresses that appear on the same transaction.
//	Transaction mode links transactions that touch a common address.
//	Projections with fewer than two nodes yield no clusters. A failed
//	partition is logged and yields no clusters. Cluster annotations of
//	the same mode are cleared before members are written.
//
// Inputs:
//
//	mode - ClusterByAddress or ClusterByTransaction.
//	window - Number of most recent blocks. Must be at least 1.
//
// Outputs:
//
//	ClusterReport - Clusters with sequential ids from 0.
//	error - ErrInvalidInput for an unknown mode or window below 1.
func (e *Engine) Clusters(ctx context.Context, mode ClusterMode, window int) (ClusterReport, error) {
	mode, err := ParseClusterMode(string(mode))
	if err != nil {
		return ClusterReport{}, err
	}
	if window < 1 {
		return ClusterReport{}, fmt.Errorf("%w: window must be at least 1 block, got %d", ErrInvalidInput, window)
	}

	ctx, span := startQuerySpan(ctx, "Clusters",
		attribute.String("mode", string(mode)),
		attribute.Int("window", window),
	)
	key := string(mode) + "|" + strconv.Itoa(window)
	v, err := e.cache.get(ctx, FamilyCluster, key, e.computeClusters(mode, window))
	if err != nil {
		endSpan(span, err)
		return ClusterReport{}, err
	}
	defer span.End()

	report := v.(ClusterReport)
	span.SetAttributes(attribute.Int("clusters", report.TotalClusters))
	return report, nil
}
