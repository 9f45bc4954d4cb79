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

package txstate

import (
	"sort"

	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/kv"
)

// Slot is the load-or-create unit: on first touch of an id, Before is
// populated from the store; After accumulates edits. Touched guards
// against re-reading Before on subsequent touches (§3 "Record State").
type Slot[T any] struct {
	Before  T
	After   T
	Existed bool
	Touched bool
}

// Loader reads the current on-disk record for each store kind, used the
// first time RecordState touches a given id. The engine supplies a
// loader backed by kv.RecordStore; tests supply an in-memory fake.
type Loader interface {
	LoadNode(id kv.ID) (NodeRecord, bool, error)
	LoadRelationship(id kv.ID) (RelationshipRecord, bool, error)
	LoadGroup(id kv.ID) (RelationshipGroupRecord, bool, error)
	LoadProperty(id kv.ID) (PropertyRecord, bool, error)
	LoadSchemaRule(id uint32) (SchemaRuleRecord, bool, error)
	LoadToken(id uint32) (TokenRecord, bool, error)
	LoadMetaData() (MetaDataRecord, error)
}

// RecordState is the Transaction Record State (C6): a per-transaction,
// per-store staging buffer. Freed on commit/abort along with the
// owning transaction (§3 "Ownership & lifecycle").
type RecordState struct {
	loader Loader

	nodes   map[kv.ID]*Slot[NodeRecord]
	rels    map[kv.ID]*Slot[RelationshipRecord]
	groups  map[kv.ID]*Slot[RelationshipGroupRecord]
	props   map[kv.ID]*Slot[PropertyRecord]
	schemas map[uint32]*Slot[SchemaRuleRecord]
	tokens  map[uint32]*Slot[TokenRecord]
	meta    *Slot[MetaDataRecord]

	countDeltas  map[counts.Key]int64
	degreeDeltas map[counts.DegreeKey]int64

	// nextGroupID/nextPropID etc are supplied by the caller (from C2)
	// when the visitor needs to allocate a new record; kept here only
	// as injected functions so txstate has no direct idgen dependency.
	AllocNode       func() kv.ID
	AllocRel        func() kv.ID
	AllocGroup      func() kv.ID
	AllocProp       func() kv.ID
	AllocPropString func() kv.ID
	AllocPropArray  func() kv.ID

	// overflow values staged for PropertyStringStore/PropertyArrayStore,
	// keyed by the id handed out via AllocPropString/AllocPropArray.
	stringOverflow map[kv.ID][]byte
	arrayOverflow  map[kv.ID][]byte

	// relaxedLockNodes marks dense node ids whose §4.6(d) lock-coverage
	// requirement has been relaxed from "the node record" down to "the
	// relationship-group record actually mutated", per the
	// relaxed_locking_for_dense_nodes external-degree optimization (§6).
	relaxedLockNodes map[kv.ID]bool
}

func NewRecordState(loader Loader) *RecordState {
	return &RecordState{
		loader:       loader,
		nodes:        make(map[kv.ID]*Slot[NodeRecord]),
		rels:         make(map[kv.ID]*Slot[RelationshipRecord]),
		groups:       make(map[kv.ID]*Slot[RelationshipGroupRecord]),
		props:        make(map[kv.ID]*Slot[PropertyRecord]),
		schemas:      make(map[uint32]*Slot[SchemaRuleRecord]),
		tokens:       make(map[uint32]*Slot[TokenRecord]),
		countDeltas:  make(map[counts.Key]int64),
		degreeDeltas: make(map[counts.DegreeKey]int64),
	}
}

func (rs *RecordState) Node(id kv.ID) (*Slot[NodeRecord], error) {
	if s, ok := rs.nodes[id]; ok {
		return s, nil
	}
	before, existed, err := rs.loader.LoadNode(id)
	if err != nil {
		return nil, err
	}
	s := &Slot[NodeRecord]{Before: before, After: before.Clone(), Existed: existed, Touched: true}
	rs.nodes[id] = s
	return s, nil
}

func (rs *RecordState) Relationship(id kv.ID) (*Slot[RelationshipRecord], error) {
	if s, ok := rs.rels[id]; ok {
		return s, nil
	}
	before, existed, err := rs.loader.LoadRelationship(id)
	if err != nil {
		return nil, err
	}
	s := &Slot[RelationshipRecord]{Before: before, After: before, Existed: existed, Touched: true}
	rs.rels[id] = s
	return s, nil
}

func (rs *RecordState) Group(id kv.ID) (*Slot[RelationshipGroupRecord], error) {
	if s, ok := rs.groups[id]; ok {
		return s, nil
	}
	before, existed, err := rs.loader.LoadGroup(id)
	if err != nil {
		return nil, err
	}
	s := &Slot[RelationshipGroupRecord]{Before: before, After: before, Existed: existed, Touched: true}
	rs.groups[id] = s
	return s, nil
}

func (rs *RecordState) Property(id kv.ID) (*Slot[PropertyRecord], error) {
	if s, ok := rs.props[id]; ok {
		return s, nil
	}
	before, existed, err := rs.loader.LoadProperty(id)
	if err != nil {
		return nil, err
	}
	s := &Slot[PropertyRecord]{Before: before, After: before.Clone(), Existed: existed, Touched: true}
	rs.props[id] = s
	return s, nil
}

func (rs *RecordState) SchemaRule(id uint32) (*Slot[SchemaRuleRecord], error) {
	if s, ok := rs.schemas[id]; ok {
		return s, nil
	}
	before, existed, err := rs.loader.LoadSchemaRule(id)
	if err != nil {
		return nil, err
	}
	s := &Slot[SchemaRuleRecord]{Before: before, After: before, Existed: existed, Touched: true}
	rs.schemas[id] = s
	return s, nil
}

func (rs *RecordState) Token(id uint32) (*Slot[TokenRecord], error) {
	if s, ok := rs.tokens[id]; ok {
		return s, nil
	}
	before, existed, err := rs.loader.LoadToken(id)
	if err != nil {
		return nil, err
	}
	s := &Slot[TokenRecord]{Before: before, After: before, Existed: existed, Touched: true}
	rs.tokens[id] = s
	return s, nil
}

func (rs *RecordState) MetaData() (*Slot[MetaDataRecord], error) {
	if rs.meta != nil {
		return rs.meta, nil
	}
	before, err := rs.loader.LoadMetaData()
	if err != nil {
		return nil, err
	}
	rs.meta = &Slot[MetaDataRecord]{Before: before, After: before, Existed: true, Touched: true}
	return rs.meta, nil
}

// AddCountDelta accumulates a counts-store delta for this transaction
// (§3 "Counts"), combined with any prior delta on the same key.
func (rs *RecordState) AddCountDelta(key counts.Key, delta int64) {
	rs.countDeltas[key] += delta
}

func (rs *RecordState) AddDegreeDelta(key counts.DegreeKey, delta int64) {
	rs.degreeDeltas[key] += delta
}

// MarkRelaxedNodeLock records that node's lock-coverage obligation was
// satisfied via its relationship-group record rather than the node
// record itself (§4.6(d), relaxed_locking_for_dense_nodes).
func (rs *RecordState) MarkRelaxedNodeLock(node kv.ID) {
	if rs.relaxedLockNodes == nil {
		rs.relaxedLockNodes = make(map[kv.ID]bool)
	}
	rs.relaxedLockNodes[node] = true
}

// IsRelaxedNodeLock reports whether node's lock-coverage obligation was
// relaxed down to its group record(s) by MarkRelaxedNodeLock.
func (rs *RecordState) IsRelaxedNodeLock(node kv.ID) bool {
	return rs.relaxedLockNodes[node]
}

// SortedNodeIDs, etc: ascending-id enumeration of touched records per
// kind, used by command.Extractor to reproduce the fixed order in §4.3.
func (rs *RecordState) SortedNodeIDs() []kv.ID  { return sortedKeys(rs.nodes) }
func (rs *RecordState) SortedRelIDs() []kv.ID   { return sortedKeys(rs.rels) }
func (rs *RecordState) SortedGroupIDs() []kv.ID { return sortedKeys(rs.groups) }
func (rs *RecordState) SortedPropIDs() []kv.ID  { return sortedKeys(rs.props) }

func (rs *RecordState) SortedSchemaIDs() []uint32 { return sortedKeysU32(rs.schemas) }
func (rs *RecordState) SortedTokenIDs() []uint32  { return sortedKeysU32(rs.tokens) }

func (rs *RecordState) NodeSlot(id kv.ID) (*Slot[NodeRecord], bool)     { s, ok := rs.nodes[id]; return s, ok }
func (rs *RecordState) RelSlot(id kv.ID) (*Slot[RelationshipRecord], bool) {
	s, ok := rs.rels[id]
	return s, ok
}
func (rs *RecordState) GroupSlot(id kv.ID) (*Slot[RelationshipGroupRecord], bool) {
	s, ok := rs.groups[id]
	return s, ok
}
func (rs *RecordState) PropSlot(id kv.ID) (*Slot[PropertyRecord], bool) {
	s, ok := rs.props[id]
	return s, ok
}
func (rs *RecordState) SchemaSlot(id uint32) (*Slot[SchemaRuleRecord], bool) {
	s, ok := rs.schemas[id]
	return s, ok
}
func (rs *RecordState) TokenSlot(id uint32) (*Slot[TokenRecord], bool) {
	s, ok := rs.tokens[id]
	return s, ok
}
func (rs *RecordState) MetaSlot() *Slot[MetaDataRecord] { return rs.meta }

func (rs *RecordState) CountDeltas() map[counts.Key]int64        { return rs.countDeltas }
func (rs *RecordState) DegreeDeltas() map[counts.DegreeKey]int64 { return rs.degreeDeltas }

// StageStringOverflow/StageArrayOverflow record a large property value
// against an overflow id for later extraction by command.Extractor.
func (rs *RecordState) StageStringOverflow(id kv.ID, value []byte) {
	if rs.stringOverflow == nil {
		rs.stringOverflow = make(map[kv.ID][]byte)
	}
	rs.stringOverflow[id] = value
}

func (rs *RecordState) StageArrayOverflow(id kv.ID, value []byte) {
	if rs.arrayOverflow == nil {
		rs.arrayOverflow = make(map[kv.ID][]byte)
	}
	rs.arrayOverflow[id] = value
}

func (rs *RecordState) StringOverflows() map[kv.ID][]byte { return rs.stringOverflow }
func (rs *RecordState) ArrayOverflows() map[kv.ID][]byte  { return rs.arrayOverflow }

func sortedKeys(m interface{}) []kv.ID {
	var ids []kv.ID
	switch mm := m.(type) {
	case map[kv.ID]*Slot[NodeRecord]:
		for id := range mm {
			ids = append(ids, id)
		}
	case map[kv.ID]*Slot[RelationshipRecord]:
		for id := range mm {
			ids = append(ids, id)
		}
	case map[kv.ID]*Slot[RelationshipGroupRecord]:
		for id := range mm {
			ids = append(ids, id)
		}
	case map[kv.ID]*Slot[PropertyRecord]:
		for id := range mm {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedKeysU32(m interface{}) []uint32 {
	var ids []uint32
	switch mm := m.(type) {
	case map[uint32]*Slot[SchemaRuleRecord]:
		for id := range mm {
			ids = append(ids, id)
		}
	case map[uint32]*Slot[TokenRecord]:
		for id := range mm {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
