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

// AnomalyPass replaces every node's anomaly annotation.
//
// Every node is first reset to not-anomalous, then each node in Flagged
// receives its annotation.
type AnomalyPass struct {
	Flagged map[string]AnomalyAnnotation
}

// ClusterPass replaces cluster annotations of one cluster type.
//
// Nodes currently assigned to a cluster of ClusterType are first reset to
// unassigned, then each node in Members receives its annotation. Nodes
// assigned under another cluster type are left alone unless they appear
// in Members.
type ClusterPass struct {
	ClusterType string
	Members     map[string]ClusterAnnotation
}

// AnnotationBatch is a set of annotation writes applied atomically.
type AnnotationBatch struct {
	Degrees   map[string]DegreeAnnotation
	Activity  map[string]ActivityAnnotation
	Anomalies *AnomalyPass
	Clusters  *ClusterPass
}

// Empty reports whether the batch writes nothing.
func (b AnnotationBatch) Empty() bool {
	return len(b.Degrees) == 0 && len(b.Activity) == 0 && b.Anomalies == nil && b.Clusters == nil
}

// Apply writes a batch of annotations under the write lock.
//
// Description:
//
//	The whole batch becomes visible at once: a concurrent View observes
//	either none or all of it. IDs that do not exist are skipped.
//
// Outputs:
//
//	int - Number of node annotations written, excluding resets.
func (g *Graph) Apply(batch AnnotationBatch) int {
	if batch.Empty() {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	written := 0
	for id, d := range batch.Degrees {
		if n, ok := g.nodes[id]; ok {
			d := d
			n.Annotations.Degree = &d
			written++
		}
	}
	for id, a := range batch.Activity {
		if n, ok := g.nodes[id]; ok {
			a := a
			n.Annotations.Activity = &a
			written++
		}
	}
	if pass := batch.Anomalies; pass != nil {
		for _, n := range g.order {
			n.Annotations.Anomaly = &AnomalyAnnotation{}
		}
		for id, a := range pass.Flagged {
			if n, ok := g.nodes[id]; ok {
				a := a
				n.Annotations.Anomaly = &a
				written++
			}
		}
	}
	if pass := batch.Clusters; pass != nil {
		for _, n := range g.order {
			c := n.Annotations.Cluster
			if c != nil && c.ClusterType != nil && *c.ClusterType == pass.ClusterType {
				n.Annotations.Cluster = &ClusterAnnotation{ClusterID: -1}
			}
		}
		for id, c := range pass.Members {
			if n, ok := g.nodes[id]; ok {
				c := c
				n.Annotations.Cluster = &c
				written++
			}
		}
	}
	return written
}
