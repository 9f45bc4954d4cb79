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

package counts

import (
	"sync"

	"github.com/tidwall/btree"

	"github.com/erigontech/graphstore/kv"
)

// Direction distinguishes outgoing/incoming/loop degree counters for a
// relationship-group record (C3 "per-group directed degree counters").
type Direction uint8

const (
	Outgoing Direction = iota
	Incoming
	Loop
)

// DegreeKey addresses one directed degree counter for a dense node's
// relationship group.
type DegreeKey struct {
	Group     kv.ID
	Direction Direction
}

type degreeEntry struct {
	key    DegreeKey
	degree uint64
}

func degreeLess(a, b degreeEntry) bool {
	if a.key.Group != b.key.Group {
		return a.key.Group < b.key.Group
	}
	return a.key.Direction < b.key.Direction
}

// DegreesStore is the Group-Degrees Store (C3): kept on a distinct
// B-tree implementation (tidwall/btree's generic BTreeG) from the
// counts Store above, so the two trees checkpoint independently per
// §4.8's "counts → degrees → record stores" ordering.
type DegreesStore struct {
	mu   sync.Mutex
	tree *btree.BTreeG[degreeEntry]
}

func NewDegreesStore() *DegreesStore {
	return &DegreesStore{tree: btree.NewBTreeG(degreeLess)}
}

// Add adjusts the degree counter at key by delta (positive on
// relationship creation, negative on deletion).
func (s *DegreesStore) Add(key DegreeKey, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, _ := s.tree.Get(degreeEntry{key: key})
	next := int64(cur.degree) + delta
	if next < 0 {
		next = 0
	}
	s.tree.Set(degreeEntry{key: key, degree: uint64(next)})
}

func (s *DegreesStore) Get(key DegreeKey) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tree.Get(degreeEntry{key: key})
	if !ok {
		return 0
	}
	return e.degree
}

func (s *DegreesStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// Snapshot returns every degree counter, ascending by (group, direction).
func (s *DegreesStore) Snapshot() map[DegreeKey]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[DegreeKey]uint64, s.tree.Len())
	s.tree.Scan(func(e degreeEntry) bool {
		out[e.key] = e.degree
		return true
	})
	return out
}

// Checkpoint persists the current snapshot; runs after the counts
// store's checkpoint and before the record-store flush (§4.8).
func (s *DegreesStore) Checkpoint(sink func(map[DegreeKey]uint64) error) error {
	return sink(s.Snapshot())
}
