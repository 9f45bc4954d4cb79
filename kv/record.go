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

package kv

import "fmt"

// ID is a record id. 0 is reserved, see ReservedLowIDs.
type ID uint64

// Mode selects the read semantics on a store, per §4.1.
type Mode uint8

const (
	// NORMAL fails (ErrNotInUse) when the record is not in use.
	NORMAL Mode = iota
	// ALWAYS returns whatever bytes are on disk, in-use or not.
	ALWAYS
	// CHECK never fails for a missing or not-in-use id: the bool return
	// reports whether the id has a stored record, and Record.InUse
	// reports whether that record is in use.
	CHECK
)

// ErrNotInUse is returned by Read in NORMAL mode for a not-in-use id.
var ErrNotInUse = fmt.Errorf("kv: record not in use")

// Record is the fixed-size, addressable tuple (id, inUse, payload) from
// spec.md §3. Payload is a pre-encoded fixed-width byte slice; encoding
// is owned by the caller (txstate/command layers), not the store.
type Record struct {
	ID      ID
	InUse   bool
	Payload []byte
}

func (r Record) Clone() Record {
	cp := make([]byte, len(r.Payload))
	copy(cp, r.Payload)
	return Record{ID: r.ID, InUse: r.InUse, Payload: cp}
}

// IDUpdateListener is notified with the ids written in a batch, used by
// HighIdApplier to propagate observed ids into id generators (§4.4).
// IGNORE is the REVERSE_RECOVERY no-op listener (§4.4).
type IDUpdateListener interface {
	OnIDWritten(store string, id ID)
}

type ignoreIDUpdateListener struct{}

func (ignoreIDUpdateListener) OnIDWritten(string, ID) {}

// IGNORE is the no-op IDUpdateListener used by REVERSE_RECOVERY mode.
var IGNORE IDUpdateListener = ignoreIDUpdateListener{}

// RecordStore is the uniform store abstraction from §4.1: read/write by
// id, allocate fresh record shells, and report the high id / reserved
// low-id count for backup & replay enumeration.
type RecordStore interface {
	Name() string
	Read(id ID, mode Mode) (Record, bool, error)
	Write(rec Record, listener IDUpdateListener) error
	NewRecord() Record
	HighID() ID
	ReservedLowIDs() ID
	// FilePath and RecordSize support backup/replay enumeration per §4.1.
	FilePath() string
	RecordSize() int
}
