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

// Package counts implements the Counts Store and Group-Degrees Store
// (C3): tree-structured stores mapping label/rel-type tuples and
// per-group directed degrees to counters, checkpointed alongside the
// record stores.
package counts

import (
	"sync"

	"github.com/google/btree"

	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/mathx"
)

// Key is the sparse counts key from spec.md §3:
// (labelId|ANY_LABEL, relTypeId|ANY_TYPE, otherLabel|ANY_LABEL) -> i64.
type Key struct {
	Label      uint32
	RelType    uint32
	OtherLabel uint32
}

type entry struct {
	key   Key
	delta int64
}

func (e *entry) Less(than btree.Item) bool {
	o := than.(*entry)
	if e.key.Label != o.key.Label {
		return e.key.Label < o.key.Label
	}
	if e.key.RelType != o.key.RelType {
		return e.key.RelType < o.key.RelType
	}
	return e.key.OtherLabel < o.key.OtherLabel
}

// Store is the Counts Store (C3), backed by a google/btree ordered tree
// so that checkpoint iteration (§4.8) visits keys in a stable order.
type Store struct {
	mu   sync.Mutex
	tree *btree.BTree
}

func NewStore() *Store {
	return &Store{tree: btree.New(32)}
}

// Apply accumulates delta into the counter for key, atomically with
// the transaction's other commands (§3 "Counts"). Overflow is checked
// so a pathological delta never silently wraps: the sum saturates at
// mathx.MaxInt64 / mathx.MinInt64 instead.
func (s *Store) Apply(key Key, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{key: key}
	if existing := s.tree.Get(e); existing != nil {
		prior := existing.(*entry).delta
		sum := prior + delta
		switch {
		case delta > 0 && sum < prior:
			e.delta = mathx.MaxInt64
		case delta < 0 && sum > prior:
			e.delta = mathx.MinInt64
		default:
			e.delta = sum
		}
	} else {
		e.delta = delta
	}
	s.tree.ReplaceOrInsert(e)
}

// Get returns the current counter value for key, 0 if absent.
func (s *Store) Get(key Key) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.tree.Get(&entry{key: key}); existing != nil {
		return existing.(*entry).delta
	}
	return 0
}

// Len reports the number of distinct keys held, for tests and metrics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Len()
}

// Snapshot returns every (key, value) pair, ascending, for checkpoint
// serialization and for the recomputation cross-check in invariant 5.
func (s *Store) Snapshot() map[Key]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Key]int64, s.tree.Len())
	s.tree.Ascend(func(i btree.Item) bool {
		e := i.(*entry)
		out[e.key] = e.delta
		return true
	})
	return out
}

// Checkpoint persists the current snapshot via the caller-supplied
// sink, as the first step of the §4.8 flush ordering (counts before
// degrees before record stores).
func (s *Store) Checkpoint(sink func(map[Key]int64) error) error {
	return sink(s.Snapshot())
}

// Recompute recomputes the full counts map from scratch by scanning the
// node/relationship stores, used to validate invariant 5 ("Counts store
// sum == materialised counts recomputed from record stores") and to
// rebuild counts after an upgrade's exclusive checkpoint barrier.
func Recompute(nodeLabels func() map[kv.ID][]uint32, relEndpoints func() map[kv.ID]RelEndpoints) map[Key]int64 {
	labelsByNode := nodeLabels()
	out := make(map[Key]int64)
	for _, labels := range labelsByNode {
		for _, l := range labels {
			out[Key{Label: l, RelType: kv.ANYType, OtherLabel: kv.ANYLabel}]++
		}
	}
	for _, rel := range relEndpoints() {
		startLabels := labelsByNode[rel.Start]
		endLabels := labelsByNode[rel.End]
		for _, sl := range startLabels {
			for _, el := range endLabels {
				out[Key{Label: sl, RelType: rel.Type, OtherLabel: el}]++
			}
		}
		out[Key{Label: kv.ANYLabel, RelType: rel.Type, OtherLabel: kv.ANYLabel}]++
	}
	return out
}

// RelEndpoints is the minimal relationship shape Recompute needs.
type RelEndpoints struct {
	Start, End kv.ID
	Type       uint32
}
