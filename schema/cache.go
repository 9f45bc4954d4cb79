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

// Package schema implements the in-memory Schema Cache (C4): a mirror
// of schema rules and constraints used by command creation to validate
// mutations without touching disk.
package schema

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

type ConstraintKind uint8

const (
	NoConstraint ConstraintKind = iota
	UniquenessConstraint
	ExistenceConstraint
	NodeKeyConstraint
)

// Rule is the in-memory mirror of one durable schema-store record.
type Rule struct {
	ID            uint32
	LabelOrRel    uint32 // token id; meaning depends on IsRelType
	IsRelType     bool
	PropertyKeys  []uint32
	Constraint    ConstraintKind
}

// Cache is the Schema Cache (C4). Equal to the durable schema store's
// contents between transactions (invariant 4); updated transactionally
// under a single-writer discipline (§3, §5 "write-locked during schema
// command application").
//
// Secondary indexes are roaring bitmaps of schema ids, the same
// "compressed bitmap of ids per key" shape the teacher uses for its own
// AccountsHistory/StorageHistory shard indexes (erigon-lib/kv/tables.go).
type Cache struct {
	mu sync.RWMutex

	rules map[uint32]Rule

	byLabel      map[uint32]*roaring.Bitmap
	byRelType    map[uint32]*roaring.Bitmap
	byPropKey    map[uint32]*roaring.Bitmap
	byConstraint map[ConstraintKind]*roaring.Bitmap
}

func NewCache() *Cache {
	return &Cache{
		rules:        make(map[uint32]Rule),
		byLabel:      make(map[uint32]*roaring.Bitmap),
		byRelType:    make(map[uint32]*roaring.Bitmap),
		byPropKey:    make(map[uint32]*roaring.Bitmap),
		byConstraint: make(map[ConstraintKind]*roaring.Bitmap),
	}
}

func bitmapFor(m map[uint32]*roaring.Bitmap, key uint32) *roaring.Bitmap {
	b, ok := m[key]
	if !ok {
		b = roaring.New()
		m[key] = b
	}
	return b
}

// Put installs or replaces rule r, maintaining every secondary index.
// Called only from the schema-command path under the single-writer
// discipline; never concurrently with Lookup callers holding no lock
// (readers take the read lock, §5 "read-lock-free between
// transactions" is honoured by callers batching reads within one RLock
// acquisition rather than by this method).
func (c *Cache) Put(r Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.rules[r.ID]; ok {
		c.unindexLocked(old)
	}
	c.rules[r.ID] = r
	c.indexLocked(r)
}

// Remove drops rule id from the cache and every secondary index,
// called on schema-rule drop commands.
func (c *Cache) Remove(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.rules[id]; ok {
		c.unindexLocked(old)
		delete(c.rules, id)
	}
}

func (c *Cache) indexLocked(r Rule) {
	if r.IsRelType {
		bitmapFor(c.byRelType, r.LabelOrRel).Add(r.ID)
	} else {
		bitmapFor(c.byLabel, r.LabelOrRel).Add(r.ID)
	}
	for _, pk := range r.PropertyKeys {
		bitmapFor(c.byPropKey, pk).Add(r.ID)
	}
	if b, ok := c.byConstraint[r.Constraint]; ok {
		b.Add(r.ID)
	} else {
		nb := roaring.New()
		nb.Add(r.ID)
		c.byConstraint[r.Constraint] = nb
	}
}

func (c *Cache) unindexLocked(r Rule) {
	if r.IsRelType {
		if b, ok := c.byRelType[r.LabelOrRel]; ok {
			b.Remove(r.ID)
		}
	} else if b, ok := c.byLabel[r.LabelOrRel]; ok {
		b.Remove(r.ID)
	}
	for _, pk := range r.PropertyKeys {
		if b, ok := c.byPropKey[pk]; ok {
			b.Remove(r.ID)
		}
	}
	if b, ok := c.byConstraint[r.Constraint]; ok {
		b.Remove(r.ID)
	}
}

func (c *Cache) Get(id uint32) (Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rules[id]
	return r, ok
}

// ByLabel returns the schema ids of every rule attached to labelID.
func (c *Cache) ByLabel(labelID uint32) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byLabel[labelID]
	if !ok {
		return nil
	}
	return bitmapToSlice(b)
}

// ByRelType returns the schema ids of every rule attached to relTypeID.
func (c *Cache) ByRelType(relTypeID uint32) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byRelType[relTypeID]
	if !ok {
		return nil
	}
	return bitmapToSlice(b)
}

// ByPropertyKey returns the schema ids of every rule referencing propKey.
func (c *Cache) ByPropertyKey(propKey uint32) []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byPropKey[propKey]
	if !ok {
		return nil
	}
	return bitmapToSlice(b)
}

// HasConstraint reports whether labelID carries a rule of the given
// constraint kind, intersecting byLabel and byConstraint - used by
// validate.Validator for structural-precondition checks (§4.6 (b)).
func (c *Cache) HasConstraint(labelID uint32, kind ConstraintKind) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lb, ok := c.byLabel[labelID]
	if !ok {
		return false
	}
	cb, ok := c.byConstraint[kind]
	if !ok {
		return false
	}
	return !roaring.And(lb, cb).IsEmpty()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

func bitmapToSlice(b *roaring.Bitmap) []uint32 {
	out := make([]uint32, 0, b.GetCardinality())
	it := b.Iterator()
	for it.HasNext() {
		out = append(out, it.Next())
	}
	return out
}
