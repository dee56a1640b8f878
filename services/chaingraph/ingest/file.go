// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/chain"
	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/fsnotify/fsnotify"
)

// BundleFileExt is the extension of JSON-lines bundle files.
const BundleFileExt = ".jsonl"

// sourceFile labels bundles applied from files.
const sourceFile = "file"

// maxLineBytes bounds one JSON-lines record.
const maxLineBytes = 16 << 20

// ReadBundles decodes one chain.BlockBundle per non-blank line of r and
// calls fn for each, in order. Decoding stops at the first malformed line
// or fn error.
func ReadBundles(r io.Reader, fn func(chain.BlockBundle) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		bundle, err := decodeBundle([]byte(raw))
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(bundle); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

// LoadStats summarizes one file load.
type LoadStats struct {
	Bundles int              `json:"bundles"`
	Failed  int              `json:"failed"`
	Graph   graph.BuildStats `json:"graph"`
}

// LoadFile applies every bundle in the JSON-lines file at path.
//
// A bundle the applier rejects is counted and skipped. Malformed input and
// graph capacity errors stop the load.
func LoadFile(ctx context.Context, path string, applier *Applier) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("open bundle file: %w", err)
	}
	defer f.Close()

	var stats LoadStats
	err = ReadBundles(f, func(b chain.BlockBundle) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := applier.Apply(ctx, sourceFile, b)
		stats.Graph.Add(s)
		if err != nil {
			if graph.IsCapacityError(err) {
				return err
			}
			stats.Failed++
			applier.logger.Warn("Skipping bundle",
				slog.String("file", path),
				slog.Int64("height", b.Block.Height),
				slog.String("error", err.Error()))
			return nil
		}
		stats.Bundles++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return stats, nil
}

// DirWatcher applies bundle files written to a directory.
//
// # Description
//
// Files ending in BundleFileExt that exist when Run starts are loaded in
// name order. Afterwards create and write events are collected until the
// directory is quiet for the debounce window, then every changed file is
// loaded. Empty files are ignored. A file is loaded again only if its size
// or modification time changed.
//
// # Thread Safety
//
// Run must be called once. Loads happen on the Run goroutine.
type DirWatcher struct {
	dir      string
	applier  *Applier
	debounce time.Duration
	logger   *slog.Logger
	onLoad   func(path string, stats LoadStats, err error)

	seen map[string]fileStamp
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// DirWatcherOption configures a DirWatcher.
type DirWatcherOption func(*DirWatcher)

// WithDebounce sets the quiet window before changed files are loaded.
// Default: 250ms.
func WithDebounce(d time.Duration) DirWatcherOption {
	return func(w *DirWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLoadHook calls fn after every file load attempt.
func WithLoadHook(fn func(path string, stats LoadStats, err error)) DirWatcherOption {
	return func(w *DirWatcher) {
		w.onLoad = fn
	}
}

// NewDirWatcher creates a watcher for dir.
func NewDirWatcher(dir string, applier *Applier, opts ...DirWatcherOption) *DirWatcher {
	w := &DirWatcher{
		dir:      dir,
		applier:  applier,
		debounce: 250 * time.Millisecond,
		logger:   slog.Default().With(slog.String("component", "dir_watcher"), slog.String("dir", dir)),
		seen:     make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches the directory until ctx is done. It returns nil on
// cancellation.
func (w *DirWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	existing, err := filepath.Glob(filepath.Join(w.dir, "*"+BundleFileExt))
	if err != nil {
		return fmt.Errorf("scan %s: %w", w.dir, err)
	}
	sort.Strings(existing)
	for _, path := range existing {
		w.load(ctx, path)
	}

	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		names := make([]string, 0, len(pending))
		for p := range pending {
			names = append(names, p)
		}
		sort.Strings(names)
		clear(pending)
		for _, p := range names {
			w.load(ctx, p)
		}
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, BundleFileExt) || !(ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			flush()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *DirWatcher) load(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return
	}
	stamp := fileStamp{size: info.Size(), modTime: info.ModTime()}
	if prev, ok := w.seen[path]; ok && prev == stamp {
		return
	}
	w.seen[path] = stamp

	stats, err := LoadFile(ctx, path, w.applier)
	if err != nil {
		w.logger.Error("Bundle file load failed",
			slog.String("file", path),
			slog.String("error", err.Error()))
	} else {
		w.logger.Info("Bundle file loaded",
			slog.String("file", filepath.Base(path)),
			slog.Int("bundles", stats.Bundles),
			slog.Int("failed", stats.Failed))
	}
	if w.onLoad != nil {
		w.onLoad(path, stats, err)
	}
}
