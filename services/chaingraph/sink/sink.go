// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sink forwards analytics results to external systems.
//
// A Sink receives anomaly and cluster reports after the HTTP layer has
// computed them. Publishing happens off the request path through a
// Dispatcher so a slow or unavailable backend never delays a response.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/AleutianAI/chaingraph/services/chaingraph/analytics"
)

// ErrClosed is returned when publishing to a closed sink.
var ErrClosed = errors.New("sink closed")

// Sink publishes analytics reports.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	PublishAnomalies(ctx context.Context, report analytics.AnomalyReport) error
	PublishClusters(ctx context.Context, report analytics.ClusterReport) error
	Close() error
}

// Multi publishes to every sink it holds concurrently. Errors from
// individual sinks are joined; one failing sink does not stop the others.
type Multi []Sink

// PublishAnomalies implements Sink.
func (m Multi) PublishAnomalies(ctx context.Context, report analytics.AnomalyReport) error {
	return m.each(func(s Sink) error { return s.PublishAnomalies(ctx, report) })
}

// PublishClusters implements Sink.
func (m Multi) PublishClusters(ctx context.Context, report analytics.ClusterReport) error {
	return m.each(func(s Sink) error { return s.PublishClusters(ctx, report) })
}

// Close closes every sink and joins their errors.
func (m Multi) Close() error {
	errs := make([]error, len(m))
	for i, s := range m {
		errs[i] = s.Close()
	}
	return errors.Join(errs...)
}

func (m Multi) each(fn func(Sink) error) error {
	switch len(m) {
	case 0:
		return nil
	case 1:
		return fn(m[0])
	}

	errs := make([]error, len(m))
	var wg sync.WaitGroup
	for i, s := range m {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(s)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
