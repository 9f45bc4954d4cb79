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

// Package command implements the Command Extractor (C7): it walks a
// txstate.RecordState in the fixed order from spec.md §4.3 and emits
// the ordered, durable (before, after) command stream that the
// write-ahead log records and the Applier Chain (C8) later replays.
package command

import (
	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

// Kind tags which record store a command targets, matching the "Kinds"
// list in spec.md §3.
type Kind uint8

const (
	NodeCmd Kind = iota
	RelationshipCmd
	RelationshipGroupCmd
	PropertyCmd
	PropertyStringCmd
	PropertyArrayCmd
	SchemaCmd
	TokenCmd
	CountsCmd
	DegreesCmd
	MetaDataCmd
)

func (k Kind) String() string {
	switch k {
	case NodeCmd:
		return "NodeCmd"
	case RelationshipCmd:
		return "RelationshipCmd"
	case RelationshipGroupCmd:
		return "RelationshipGroupCmd"
	case PropertyCmd:
		return "PropertyCmd"
	case PropertyStringCmd:
		return "PropertyStringCmd"
	case PropertyArrayCmd:
		return "PropertyArrayCmd"
	case SchemaCmd:
		return "SchemaCmd"
	case TokenCmd:
		return "TokenCmd"
	case CountsCmd:
		return "CountsCmd"
	case DegreesCmd:
		return "DegreesCmd"
	case MetaDataCmd:
		return "MetaDataCmd"
	default:
		return "UnknownCmd"
	}
}

// Command is the atomic unit of durable change (spec.md §3): a
// (before, after) record pair tagged with the kernel version the
// engine held at extraction time, and its target kind/id.
//
// Exactly one of the typed payload fields is populated, selected by
// Kind. Keeping one struct rather than an interface-per-kind hierarchy
// mirrors the teacher's flat wal.Bytes-plus-tag change-set shape rather
// than a deep class hierarchy (§9 redesign guidance).
type Command struct {
	Kind          Kind
	ID            uint64
	FormatVersion kv.KernelVersion

	Node           *RecordPair[txstate.NodeRecord]
	Relationship   *RecordPair[txstate.RelationshipRecord]
	Group          *RecordPair[txstate.RelationshipGroupRecord]
	Property       *RecordPair[txstate.PropertyRecord]
	PropertyString *BytesPair
	PropertyArray  *BytesPair
	Schema         *RecordPair[txstate.SchemaRuleRecord]
	Token          *RecordPair[txstate.TokenRecord]
	Counts         *CountsDelta
	Degrees        *DegreesDelta
	MetaData       *RecordPair[txstate.MetaDataRecord]
}

// RecordPair is the generic (before, after) shape used by every
// record-backed command kind.
type RecordPair[T any] struct {
	Before T
	After  T
}

// BytesPair is the (before, after) shape for the property overflow
// stores, which hold opaque byte payloads rather than a fixed record
// struct.
type BytesPair struct {
	Before []byte
	After  []byte
}

// CountsDelta and DegreesDelta carry one accumulated auxiliary-store
// adjustment each; the extractor emits one per distinct key touched by
// the transaction (§4.3 "counts" stage).
type CountsDelta struct {
	Key   counts.Key
	Delta int64
}

type DegreesDelta struct {
	Key   counts.DegreeKey
	Delta int64
}

// NewMetaDataCommand builds the synthetic upgrade-prefix command from
// §4.7: "a MetaDataCmd(before: kv, after: rv) targeting the
// kernel-version position of the meta-data record." It is always
// inserted as the first command of the batch it belongs to.
func NewMetaDataCommand(before, after kv.KernelVersion) Command {
	return Command{
		Kind:          MetaDataCmd,
		FormatVersion: after,
		MetaData: &RecordPair[txstate.MetaDataRecord]{
			Before: txstate.MetaDataRecord{KernelVersion: before},
			After:  txstate.MetaDataRecord{KernelVersion: after},
		},
	}
}
