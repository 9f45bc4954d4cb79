// Copyright 2025 The Graphstore Authors
// This file is part of Graphstore.
//
// Graphstore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Graphstore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Graphstore. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/erigontech/graphstore/engine"
	"github.com/erigontech/graphstore/kv"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var dataDir string

var rootCmd = &cobra.Command{
	Use:   "graphstorectl",
	Short: "Operator CLI for a graphstore transactional record store",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Path to the store's data directory (required)")
	rootCmd.MarkPersistentFlagRequired("data-dir")

	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(upgradeStatusCmd)
}

func newLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Force an out-of-band flushAndForce checkpoint of counts, degrees and record stores",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync()

		e, err := engine.New(engine.WithDataDir(dataDir), engine.WithLogger(log))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer e.Close()

		if err := e.FlushAndForce(cmd.Context()); err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		fmt.Println("checkpoint complete")
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the store id, kernel version, health and storage file manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync()

		e, err := engine.New(engine.WithDataDir(dataDir), engine.WithLogger(log), engine.WithReadOnly(true))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer e.Close()

		version, err := e.CurrentVersion()
		if err != nil {
			return fmt.Errorf("read kernel version: %w", err)
		}

		fmt.Printf("store id:      %s\n", e.GetStoreID())
		fmt.Printf("kernel version: %s\n", version)
		fmt.Printf("healthy:        %v\n", e.Healthy())
		fmt.Println()
		fmt.Println("storage files:")
		for _, f := range e.ListStorageFiles() {
			fmt.Printf("  %-24s %-12s record-size=%d  %s\n", f.Store, f.Kind, f.RecordSize, f.Path)
		}
		return nil
	},
}

var (
	targetMajor, targetMinor, targetPatch int
)

var upgradeStatusCmd = &cobra.Command{
	Use:   "upgrade-status",
	Short: "Compare the store's on-disk kernel version against a target and report what would happen on the next write",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		defer log.Sync()

		e, err := engine.New(engine.WithDataDir(dataDir), engine.WithLogger(log), engine.WithReadOnly(true))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer e.Close()

		current, err := e.CurrentVersion()
		if err != nil {
			return fmt.Errorf("read kernel version: %w", err)
		}

		target := kv.KernelVersion{Major: uint32(targetMajor), Minor: uint32(targetMinor), Patch: uint32(targetPatch)}
		if targetMajor == 0 && targetMinor == 0 && targetPatch == 0 {
			target = kv.CurrentKernelVersion
		}

		fmt.Printf("on-disk version: %s\n", current)
		fmt.Printf("target version:  %s\n", target)

		if current == target {
			fmt.Println("status: up to date, no upgrade will run on the next write")
			return nil
		}

		cmds, err := e.CreateUpgradeCommands(target)
		if err != nil {
			fmt.Printf("status: upgrade rejected: %v\n", err)
			return nil
		}
		fmt.Printf("status: upgrade transaction ready (%d command(s)), will be injected ahead of the next write commit\n", len(cmds))
		return nil
	},
}

func init() {
	upgradeStatusCmd.Flags().IntVar(&targetMajor, "target-major", 0, "Target kernel major version (defaults to this binary's current version)")
	upgradeStatusCmd.Flags().IntVar(&targetMinor, "target-minor", 0, "Target kernel minor version")
	upgradeStatusCmd.Flags().IntVar(&targetPatch, "target-patch", 0, "Target kernel patch version")
}
