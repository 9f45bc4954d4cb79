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

// Applier is one stage of the chain; it consumes a single command.
// Appliers never reorder or buffer commands across calls — ordering is
// the extractor's responsibility (spec.md §4.1).
type Applier interface {
	Name() string
	Apply(cmd command.Command) error
}

// IndexListener is notified by IndexApplier of every applied command,
// playing the role of the registered index/label-scan/rel-type-scan
// listeners from §6 (`addIndexUpdateListener` et al.), fanned out
// through their own C9 work-sync coordinators by the engine.
type IndexListener interface {
	OnCommandApplied(cmd command.Command)
}

// CacheInvalidator is notified of schema/token commands so the schema
// cache (C4) stays equal to the durable schema store between
// transactions (invariant 4).
type CacheInvalidator interface {
	InvalidateSchema(id uint32)
	InvalidateToken(id uint32)
}

// HighIDObserver is notified of every id seen in an externally-sourced
// or replayed command, so id generators never reissue an id already
// present on disk (§4.2, §4.4 applier 3).
type HighIDObserver interface {
	ObserveID(store string, id uint64)
}

// CountsSink receives the accumulated counts/degrees deltas extracted
// for a transaction (§4.4 applier 5).
type CountsSink interface {
	ApplyCountsDelta(cmd command.Command, invert bool) error
	ApplyDegreesDelta(cmd command.Command, invert bool) error
}

// ConsistencyChecker verifies record invariants before a write is
// allowed through (§4.4 applier 1, "debug only").
type ConsistencyChecker interface {
	Check(cmd command.Command) error
}

// RecordWriter is the narrow surface NeoStoreApplier needs from the
// record stores (C1): write the after-image of whatever kind of record
// cmd carries, keyed by its Kind.
type RecordWriter interface {
	WriteCommand(cmd command.Command) error
}

// ErrApplyFailure is wrapped around any applier error, matching the
// ApplyFailure error kind from spec.md §7: "applier chain threw during
// apply; database marked unhealthy."
var ErrApplyFailure = errors.New("apply: applier chain failed")
