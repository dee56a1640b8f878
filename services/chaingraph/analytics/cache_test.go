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
	"testing"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counting(calls *int, value any, err error) computeFunc {
	return func(context.Context) (any, error) {
		*calls++
		return value, err
	}
}

func TestResultCache_HitAndMiss(t *testing.T) {
	ctx := context.Background()
	c := newResultCache()
	calls := 0

	v, err := c.get(ctx, FamilyDegree, "", counting(&calls, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.get(ctx, FamilyDegree, "", counting(&calls, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, v, "second read must hit")
	assert.Equal(t, 1, calls)

	// A different key replaces the slot.
	v, err = c.get(ctx, FamilyDegree, "other", counting(&calls, 3, nil))
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	s := c.stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
	assert.False(t, s.Dirty["degree"])
	assert.True(t, s.Dirty["activity"])
}

func TestResultCache_FailureLeavesDirty(t *testing.T) {
	ctx := context.Background()
	c := newResultCache()
	calls := 0
	boom := errors.New("boom")

	_, err := c.get(ctx, FamilyAnomaly, "k", counting(&calls, nil, boom))
	assert.ErrorIs(t, err, boom)
	assert.True(t, c.isDirty(FamilyAnomaly))

	v, err := c.get(ctx, FamilyAnomaly, "k", counting(&calls, "ok", nil))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.False(t, c.isDirty(FamilyAnomaly))
	assert.Equal(t, 2, calls)
	assert.Equal(t, int64(1), c.stats().Failures)
}

func TestResultCache_MutationDuringCompute(t *testing.T) {
	ctx := context.Background()
	c := newResultCache()

	_, err := c.get(ctx, FamilyActivity, "", func(context.Context) (any, error) {
		c.OnGraphEvent(graph.Event{Kind: graph.EventEdgeAdded})
		return "stale", nil
	})
	require.NoError(t, err)
	assert.True(t, c.isDirty(FamilyActivity), "a mutation racing the compute must keep the family dirty")

	calls := 0
	v, err := c.get(ctx, FamilyActivity, "", counting(&calls, "fresh", nil))
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, 1, calls)
}

func TestResultCache_EventRouting(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		event graph.EventKind
		dirty []Family
	}{
		{"node added", graph.EventNodeAdded, Families()},
		{"edge added", graph.EventEdgeAdded, []Family{FamilyDegree, FamilyActivity}},
		{"node updated", graph.EventNodeUpdated, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newResultCache()
			for _, f := range Families() {
				_, err := c.get(ctx, f, "", counting(new(int), f, nil))
				require.NoError(t, err)
			}
			c.OnGraphEvent(graph.Event{Kind: tt.event})

			want := make(map[Family]bool)
			for _, f := range tt.dirty {
				want[f] = true
			}
			for _, f := range Families() {
				assert.Equal(t, want[f], c.isDirty(f), f.String())
			}
		})
	}
}

func TestResultCache_Reset(t *testing.T) {
	ctx := context.Background()
	c := newResultCache()
	calls := 0
	_, err := c.get(ctx, FamilyFlow, "k", counting(&calls, 1, nil))
	require.NoError(t, err)

	c.reset()
	assert.Equal(t, 1, calls, "reset must not compute")
	for _, f := range Families() {
		assert.True(t, c.isDirty(f))
	}

	_, err = c.get(ctx, FamilyFlow, "k", counting(&calls, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestResultCache_JoinedCallerSurvivesFirstCallerCancel(t *testing.T) {
	c := newResultCache()
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return "shared", nil
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := c.get(ctxA, FamilyFlow, "k", blocking)
		errA <- err
	}()
	<-started

	type result struct {
		v   any
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := c.get(context.Background(), FamilyFlow, "k", counting(new(int), "own", nil))
		resB <- result{v, err}
	}()
	// Let B join the in-flight compute.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	require.ErrorIs(t, <-errA, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "shared", b.v)
	assert.False(t, c.isDirty(FamilyFlow))
}
