// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/AleutianAI/chaingraph/services/chaingraph/graph"
	"github.com/spf13/cobra"
)

// replayResult is the JSON document printed by replay.
type replayResult struct {
	Path       string      `json:"path"`
	Bundles    int         `json:"bundles"`
	LastHeight *int64      `json:"last_height"`
	Duration   string      `json:"duration"`
	Graph      graph.Stats `json:"graph"`
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is not set")
	}
	logs, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logs.Close()

	a, err := newApp(cfg, logs.Slog(), true)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	applied, last, ok, err := a.replay(cmd.Context())
	if err != nil {
		return err
	}
	res := replayResult{
		Path:     cfg.Storage.Path,
		Bundles:  applied,
		Duration: time.Since(start).Round(time.Millisecond).String(),
		Graph:    a.graph.Stats(),
	}
	if ok {
		res.LastHeight = &last
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
