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
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"golang.org/x/sync/singleflight"
)

// Family is a group of metrics cached and invalidated together.
type Family int

const (
	// FamilyDegree covers in/out/total degrees.
	FamilyDegree Family = iota

	// FamilyActivity covers normalized activity and colors.
	FamilyActivity

	// FamilyAnomaly covers anomaly detection results.
	FamilyAnomaly

	// FamilyCluster covers community clusters.
	FamilyCluster

	// FamilyFlow covers flow paths.
	FamilyFlow

	numFamilies
)

var familyNames = [numFamilies]string{
	FamilyDegree:   "degree",
	FamilyActivity: "activity",
	FamilyAnomaly:  "anomaly",
	FamilyCluster:  "cluster",
	FamilyFlow:     "flow",
}

// String returns the string representation of the Family.
func (f Family) String() string {
	if f < 0 || f >= numFamilies {
		return "unknown"
	}
	return familyNames[f]
}

// Families returns every metric family.
func Families() []Family {
	return []Family{FamilyDegree, FamilyActivity, FamilyAnomaly, FamilyCluster, FamilyFlow}
}

// computeFunc produces a fresh value for a family.
type computeFunc func(ctx context.Context) (any, error)

// slot is the cache entry of one family. key identifies the query
// parameters the value was computed for.
type slot struct {
	present bool
	key     string
	value   any
}

// resultCache holds one slot and one dirty flag per family.
//
// Description:
//
//	A family's slot is served while the family is clean and the request
//	key matches. Otherwise compute runs with the family lock held, so the
//	compute and its annotation write-back are atomic with respect to other
//	queries of the same family. Each invalidation bumps the family's
//	generation; a compute that overlapped an invalidation stores its value
//	but leaves the family dirty.
//
// Thread Safety:
//
//	Safe for concurrent use. OnGraphEvent only takes stateMu, never a
//	family lock, so it is safe to call while the graph write lock is held.
type resultCache struct {
	familyMu [numFamilies]sync.Mutex

	stateMu sync.Mutex
	dirty   [numFamilies]bool
	gen     [numFamilies]uint64
	slots   [numFamilies]slot

	flight singleflight.Group

	hits          int64
	misses        int64
	invalidations int64
	failures      int64
}

func newResultCache() *resultCache {
	c := &resultCache{}
	for f := range c.dirty {
		c.dirty[f] = true
	}
	return c
}

// OnGraphEvent implements graph.Listener.
//
// A node-added event dirties every family. An edge-added event dirties
// degree and activity only. Other events change no derived metric.
func (c *resultCache) OnGraphEvent(ev graph.Event) {
	switch ev.Kind {
	case graph.EventNodeAdded:
		c.markDirty(Families()...)
	case graph.EventEdgeAdded:
		c.markDirty(FamilyDegree, FamilyActivity)
	}
}

func (c *resultCache) markDirty(families ...Family) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, f := range families {
		c.dirty[f] = true
		c.gen[f]++
	}
	atomic.AddInt64(&c.invalidations, 1)
}

// reset marks every family dirty and drops every slot.
func (c *resultCache) reset() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for f := range c.slots {
		c.dirty[f] = true
		c.gen[f]++
		c.slots[f] = slot{}
	}
	atomic.AddInt64(&c.invalidations, 1)
}

// isDirty reports whether f must be recomputed on next read.
func (c *resultCache) isDirty(f Family) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.dirty[f]
}

// get returns the cached value of f for key, computing it when the family
// is dirty, empty, or holds a different key.
//
// Outputs:
//
//	any - The cached or freshly computed value. Shared between callers;
//	callers MUST NOT mutate it.
//	error - The compute error, or ctx.Err() when ctx ends first. The family
//	stays dirty.
//
// Concurrent callers for the same key share one compute. The compute runs
// detached from any single caller's cancellation; each caller stops waiting
// when its own ctx ends.
func (c *resultCache) get(ctx context.Context, f Family, key string, compute computeFunc) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := c.flight.DoChan(f.String()+"|"+key, func() (any, error) {
		ctx := context.WithoutCancel(ctx)

		c.familyMu[f].Lock()
		defer c.familyMu[f].Unlock()

		c.stateMu.Lock()
		s := c.slots[f]
		if !c.dirty[f] && s.present && s.key == key {
			c.stateMu.Unlock()
			atomic.AddInt64(&c.hits, 1)
			recordCacheLookup(ctx, f, true)
			return s.value, nil
		}
		gen := c.gen[f]
		c.stateMu.Unlock()

		atomic.AddInt64(&c.misses, 1)
		recordCacheLookup(ctx, f, false)

		start := time.Now()
		val, err := compute(ctx)
		recordComputeMetrics(ctx, f, time.Since(start), err)
		if err != nil {
			atomic.AddInt64(&c.failures, 1)
			return nil, err
		}

		c.stateMu.Lock()
		c.slots[f] = slot{present: true, key: key, value: val}
		if c.gen[f] == gen {
			c.dirty[f] = false
		}
		c.stateMu.Unlock()
		return val, nil
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CacheStats is a point-in-time view of cache state.
type CacheStats struct {
	Hits          int64           `json:"hits"`
	Misses        int64           `json:"misses"`
	Invalidations int64           `json:"invalidations"`
	Failures      int64           `json:"failures"`
	Dirty         map[string]bool `json:"dirty"`
}

func (c *resultCache) stats() CacheStats {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	s := CacheStats{
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Invalidations: atomic.LoadInt64(&c.invalidations),
		Failures:      atomic.LoadInt64(&c.failures),
		Dirty:         make(map[string]bool, numFamilies),
	}
	for f := Family(0); f < numFamilies; f++ {
		s.Dirty[f.String()] = c.dirty[f]
	}
	return s
}
