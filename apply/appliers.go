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
	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/command"
)

// ConsistencyCheckingApplier is applier 1: optional, debug-only
// verification of record invariants before NeoStoreApplier writes them.
type ConsistencyCheckingApplier struct {
	Checker ConsistencyChecker
}

func (a *ConsistencyCheckingApplier) Name() string { return "ConsistencyChecking" }

func (a *ConsistencyCheckingApplier) Apply(cmd command.Command) error {
	if a.Checker == nil {
		return nil
	}
	if err := a.Checker.Check(cmd); err != nil {
		return errors.Wrapf(err, "apply: consistency check failed for %s %d", cmd.Kind, cmd.ID)
	}
	return nil
}

// NeoStoreApplier is applier 2: always present, writes record
// mutations to C1. Named after the teacher's own NeoStores moniker for
// its primary state-store writer.
type NeoStoreApplier struct {
	Writer RecordWriter
}

func (a *NeoStoreApplier) Name() string { return "NeoStore" }

func (a *NeoStoreApplier) Apply(cmd command.Command) error {
	if err := a.Writer.WriteCommand(cmd); err != nil {
		return errors.Wrapf(err, "apply: write %s %d", cmd.Kind, cmd.ID)
	}
	return nil
}

// HighIdApplier is applier 3: in EXTERNAL/RECOVERY modes, propagates
// observed ids into C2 so local id generators never reissue an id
// already present on disk. In REVERSE_RECOVERY the chain gives it a nil
// Observer, so it propagates nothing.
type HighIdApplier struct {
	Observer HighIDObserver
	StoreOf  func(cmd command.Command) string
}

func (a *HighIdApplier) Name() string { return "HighId" }

func (a *HighIdApplier) Apply(cmd command.Command) error {
	if a.Observer == nil {
		return nil
	}
	store := ""
	if a.StoreOf != nil {
		store = a.StoreOf(cmd)
	}
	a.Observer.ObserveID(store, cmd.ID)
	return nil
}

// CacheInvalidationApplier is applier 4: invalidates schema cache (C4)
// entries on schema/token commands.
//
// Ordering decision (DESIGN.md Open Question 2): this applier runs
// before CountsApplier in the declared chain order, so counts
// recomputation that depends on a schema-affecting command never
// observes a stale cache entry.
type CacheInvalidationApplier struct {
	Cache CacheInvalidator
}

func (a *CacheInvalidationApplier) Name() string { return "CacheInvalidation" }

func (a *CacheInvalidationApplier) Apply(cmd command.Command) error {
	if a.Cache == nil {
		return nil
	}
	switch cmd.Kind {
	case command.SchemaCmd:
		a.Cache.InvalidateSchema(uint32(cmd.ID))
	case command.TokenCmd:
		a.Cache.InvalidateToken(uint32(cmd.ID))
	}
	return nil
}

// CountsApplier is applier 5: applies counts and degrees deltas.
//
// invert implements the decision recorded for DESIGN.md Open Question
// 1: REVERSE_RECOVERY does not skip counts/degrees application, it
// applies the negated delta, preserving invariant 5 ("counts store sum
// == materialised counts recomputed from record stores") across an undo.
type CountsApplier struct {
	Sink   CountsSink
	Invert bool
}

func (a *CountsApplier) Name() string { return "Counts" }

func (a *CountsApplier) Apply(cmd command.Command) error {
	if a.Sink == nil {
		return nil
	}
	switch cmd.Kind {
	case command.CountsCmd:
		return a.Sink.ApplyCountsDelta(cmd, a.Invert)
	case command.DegreesCmd:
		return a.Sink.ApplyDegreesDelta(cmd, a.Invert)
	}
	return nil
}

// IndexApplier is applier 6: notifies the registered index listener of
// every applied command.
type IndexApplier struct {
	Listener IndexListener
}

func (a *IndexApplier) Name() string { return "Index" }

func (a *IndexApplier) Apply(cmd command.Command) error {
	if a.Listener == nil {
		return nil
	}
	a.Listener.OnCommandApplied(cmd)
	return nil
}
