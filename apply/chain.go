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

package apply

import (
	"go.uber.org/zap"

	"github.com/erigontech/graphstore/command"
)

// Deps collects every collaborator an ApplierChain might need; which
// fields are actually consulted depends on the mode's toggles (§4.4).
type Deps struct {
	Writer    RecordWriter
	Checker   ConsistencyChecker
	Observer  HighIDObserver
	Cache     CacheInvalidator
	Counts    CountsSink
	Listener  IndexListener
	StoreOf   func(cmd command.Command) string
	Log       *zap.Logger
}

// Chain is the Applier Chain (C8) built for one application mode.
// "The appliers run per command in declaration order; a throw from any
// applier aborts the batch" (§4.4).
type Chain struct {
	mode     Mode
	appliers []Applier
	log      *zap.Logger
}

// NewChain constructs the mode-dependent applier list. NeoStoreApplier
// (2) is always present; the rest are included only per togglesFor(mode).
func NewChain(mode Mode, deps Deps) *Chain {
	t := togglesFor(mode)
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}

	var appliers []Applier
	if t.needsAuxiliaryStores {
		appliers = append(appliers, &ConsistencyCheckingApplier{Checker: deps.Checker})
	}
	appliers = append(appliers, &NeoStoreApplier{Writer: deps.Writer})
	if t.needsHighIdTracking {
		observer := deps.Observer
		if t.idListenerIsIgnore {
			// "REVERSE_RECOVERY sets the id-update listener to IGNORE" (§4.4).
			observer = nil
		}
		appliers = append(appliers, &HighIdApplier{Observer: observer, StoreOf: deps.StoreOf})
	}
	if t.needsCacheInvalidationOnUpdates {
		appliers = append(appliers, &CacheInvalidationApplier{Cache: deps.Cache})
	}
	// CountsApplier runs whenever counts need applying in either
	// direction: forward during normal/replication/recovery commits, or
	// inverted during REVERSE_RECOVERY's undo (§4.4, DESIGN.md Open
	// Question 1) — it must not be gated behind needsAuxiliaryStores,
	// since REVERSE_RECOVERY sets that false but still needs its delta
	// applied, negated, to keep invariant 5 intact.
	if t.needsAuxiliaryStores || t.reverseCounts {
		appliers = append(appliers, &CountsApplier{Sink: deps.Counts, Invert: t.reverseCounts})
	}
	if t.needsAuxiliaryStores {
		appliers = append(appliers, &IndexApplier{Listener: deps.Listener})
	}

	return &Chain{mode: mode, appliers: appliers, log: log}
}

// Mode reports the application mode this chain was built for.
func (c *Chain) Mode() Mode { return c.mode }

// ApplyCommand runs every applier in the chain against cmd in
// declaration order, stopping at the first error.
func (c *Chain) ApplyCommand(cmd command.Command) error {
	for _, a := range c.appliers {
		if err := a.Apply(cmd); err != nil {
			return err
		}
	}
	return nil
}

// Batch is a linked list of per-transaction command lists, applied "in
// link order, each with its own applier" (§4.4) — in practice each
// shares this chain, since the chain itself carries no per-transaction
// state.
type Batch struct {
	Transactions [][]command.Command
}

// Apply runs the whole batch through the chain. A failure marks the
// caller's database-health monitor unhealthy (the engine's
// responsibility, per §7 "ApplyFailure") and aborts the remaining
// transactions in the batch.
func (c *Chain) Apply(batch Batch) error {
	for txIdx, tx := range batch.Transactions {
		for _, cmd := range tx {
			if err := c.ApplyCommand(cmd); err != nil {
				c.log.Error("apply failure",
					zap.String("mode", c.mode.String()),
					zap.Int("txIndex", txIdx),
					zap.String("kind", cmd.Kind.String()),
					zap.Uint64("id", cmd.ID),
					zap.Error(err),
				)
				return err
			}
		}
	}
	return nil
}
