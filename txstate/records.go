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

// Package txstate implements the Transaction Record State (C6): a
// mutable staging buffer keyed by record id per store, with
// load-or-create semantics, fed by visiting the transaction's logical
// tx-state through the TxStateVisitor contract (§6).
package txstate

import "github.com/erigontech/graphstore/kv"

// NoID is the chain-terminator sentinel, the record-store analogue of
// a null pointer.
const NoID kv.ID = 0

type NodeRecord struct {
	ID         kv.ID
	InUse      bool
	Labels     []uint32
	NextRel    kv.ID
	NextProp   kv.ID
	Dense      bool
	FirstGroup kv.ID // valid only when Dense
}

func (n NodeRecord) Clone() NodeRecord {
	cp := n
	cp.Labels = append([]uint32(nil), n.Labels...)
	return cp
}

type RelationshipRecord struct {
	ID           kv.ID
	InUse        bool
	Type         uint32
	Start, End   kv.ID
	PrevAtStart  kv.ID
	NextAtStart  kv.ID
	PrevAtEnd    kv.ID
	NextAtEnd    kv.ID
	FirstProp    kv.ID
}

// Direction identifies which side of a relationship a node sits on,
// used when walking/inserting into its doubly-linked chain.
type Direction uint8

const (
	AsStart Direction = iota
	AsEnd
)

type RelationshipGroupRecord struct {
	ID       kv.ID
	InUse    bool
	Owner    kv.ID
	Type     uint32
	Next     kv.ID // next group record for the same owner (one per rel type)
	FirstOut kv.ID
	FirstIn  kv.ID
	FirstLoop kv.ID
}

type PropertyValueKind uint8

const (
	ValueInline PropertyValueKind = iota
	ValueString
	ValueArray
)

type PropertyEntry struct {
	Key        uint32
	Kind       PropertyValueKind
	Inline     []byte // used when Kind == ValueInline
	OverflowID kv.ID  // first block id in PropertyString/PropertyArray store otherwise
}

// PropertyRecord is one block of an entity's property chain (§4.3
// "Property chains... a linked chain per entity").
type PropertyRecord struct {
	ID      kv.ID
	InUse   bool
	Prev    kv.ID
	Next    kv.ID
	Entries []PropertyEntry
}

func (p PropertyRecord) Clone() PropertyRecord {
	cp := p
	cp.Entries = append([]PropertyEntry(nil), p.Entries...)
	return cp
}

// MaxEntriesPerPropertyBlock bounds how many key/value entries live in
// one PropertyRecord block before a chain split is required.
const MaxEntriesPerPropertyBlock = 4

type SchemaRuleRecord struct {
	ID           uint32
	InUse        bool
	LabelOrRel   uint32
	IsRelType    bool
	PropertyKeys []uint32
	Constraint   uint8
}

type TokenKind uint8

const (
	LabelToken TokenKind = iota
	RelTypeToken
	PropertyKeyToken
)

type TokenRecord struct {
	ID    uint32
	InUse bool
	Kind  TokenKind
	Name  string
}

type MetaDataRecord struct {
	KernelVersion kv.KernelVersion
}
