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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string

	// analyze
	anomalyMethod    string
	anomalyThreshold float64
	clusterWindow    int
	flowDepth        int
	flowBlocks       int
	colorScheme      string
	prettyOutput     bool

	rootCmd = &cobra.Command{
		Use:   "chaingraph",
		Short: "Cardano transaction graph analytics",
		Long: `chaingraph ingests Cardano blocks into an in-memory graph of blocks,
transactions and addresses, and serves degree, activity, anomaly, cluster
and flow analytics over HTTP.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run ingestion and the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in cmd_serve.go
	}

	analyzeCmd = &cobra.Command{
		Use:   "analyze [bundle file]",
		Short: "Load a JSON-lines bundle file, run every analysis and print the results as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze, // Defined in cmd_analyze.go
	}

	replayCmd = &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the graph from the block store and print its statistics",
		Args:  cobra.NoArgs,
		RunE:  runReplay, // Defined in cmd_replay.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run:   runVersion,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default ~/.chaingraph/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&anomalyMethod, "method", "zscore", "Anomaly detection method (zscore, percentile, threshold)")
	analyzeCmd.Flags().Float64Var(&anomalyThreshold, "threshold", 0, "Anomaly threshold; 0 uses the method default")
	analyzeCmd.Flags().IntVar(&clusterWindow, "window", 30, "Cluster time window in blocks")
	analyzeCmd.Flags().IntVar(&flowDepth, "flow-depth", 5, "Maximum flow path depth")
	analyzeCmd.Flags().IntVar(&flowBlocks, "flow-blocks", 5, "Blocks searched for flow paths")
	analyzeCmd.Flags().StringVar(&colorScheme, "scheme", "heatmap", "Activity color scheme (heatmap, activity, grayscale)")
	analyzeCmd.Flags().BoolVar(&prettyOutput, "pretty", false, "Indent JSON output")
}
