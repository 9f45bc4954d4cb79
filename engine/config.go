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

// Package engine wires C1-C10 behind the Engine API from spec.md §6.
package engine

import (
	"time"

	"go.uber.org/zap"
)

// Config holds the five enumerated configuration options from §6, plus
// the ambient knobs (data directory, logger, exclusive-lock wait) the
// teacher's own engine construction takes as functional options.
type Config struct {
	DataDir string
	Log     *zap.Logger

	DenseNodeThreshold          uint32
	ReadOnly                    bool
	ConsistencyCheckOnApply     bool
	RelaxedLockingForDenseNodes bool
	AllowSingleAutomaticUpgrade bool

	UpgradeExclusiveWaitTimeout time.Duration
	MaxConcurrentFlush          int64
}

// Option configures an Engine at Start time, following the teacher's
// functional-options convention for multi-field service construction.
type Option func(*Config)

func WithDataDir(dir string) Option { return func(c *Config) { c.DataDir = dir } }

func WithLogger(log *zap.Logger) Option { return func(c *Config) { c.Log = log } }

func WithDenseNodeThreshold(n uint32) Option {
	return func(c *Config) { c.DenseNodeThreshold = n }
}

func WithReadOnly(v bool) Option { return func(c *Config) { c.ReadOnly = v } }

func WithConsistencyCheckOnApply(v bool) Option {
	return func(c *Config) { c.ConsistencyCheckOnApply = v }
}

func WithRelaxedLockingForDenseNodes(v bool) Option {
	return func(c *Config) { c.RelaxedLockingForDenseNodes = v }
}

func WithAllowSingleAutomaticUpgrade(v bool) Option {
	return func(c *Config) { c.AllowSingleAutomaticUpgrade = v }
}

func WithUpgradeExclusiveWaitTimeout(d time.Duration) Option {
	return func(c *Config) { c.UpgradeExclusiveWaitTimeout = d }
}

func WithMaxConcurrentFlush(n int64) Option {
	return func(c *Config) { c.MaxConcurrentFlush = n }
}

func defaultConfig() Config {
	return Config{
		DenseNodeThreshold:          50,
		UpgradeExclusiveWaitTimeout: 2 * time.Second,
		MaxConcurrentFlush:          4,
	}
}

func newConfig(opts ...Option) Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	return cfg
}
