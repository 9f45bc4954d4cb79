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

// Package kv declares the fixed set of record stores (C1) that make up
// the on-disk layout of the engine, and the uniform store abstraction
// used to read and write them.
package kv

import (
	"sort"
	"strings"
)

// KernelVersion is the monotone on-disk format generation stamp stored
// in the meta-data record (§3 "Kernel Version"). It plays the role the
// teacher's DBSchemaVersion plays for the chain data format.
type KernelVersion struct {
	Major, Minor, Patch uint32
}

func (v KernelVersion) Less(o KernelVersion) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

func (v KernelVersion) Equal(o KernelVersion) bool { return v == o }

// CurrentKernelVersion is the newest format this build of the engine
// knows how to read and write. `rv` in §4.7.
var CurrentKernelVersion = KernelVersion{Major: 1, Minor: 0, Patch: 0}

// Store names (C1). One fixed-record-size file per name, per §2's
// component table. Naming mirrors the teacher's "one constant per
// table" convention in erigon-lib/kv/tables.go.
const (
	// NodeStore: node_id_u64 -> (inUse, dense, numLabels, labels[8],
	// firstRelId, firstPropId, firstGroupId)
	NodeStore = "Node"

	// RelationshipStore: rel_id_u64 -> (inUse, typeId, startNode, endNode,
	// prevRelStart, nextRelStart, prevRelEnd, nextRelEnd, firstPropId)
	RelationshipStore = "Relationship"

	// RelationshipGroupStore: group_id_u64 -> (inUse, ownerNode, typeId,
	// nextGroupId, firstOutRelId, firstInRelId, firstLoopRelId)
	// Backs dense-node per-type chains, see §4.3 "Dense node threshold".
	RelationshipGroupStore = "RelationshipGroup"

	// PropertyStore: prop_id_u64 -> (inUse, prevPropId, nextPropId, blocks[4])
	PropertyStore = "Property"

	// PropertyStringStore and PropertyArrayStore: overflow chains for
	// property values that do not fit inline in a PropertyStore block.
	PropertyStringStore = "PropertyString"
	PropertyArrayStore  = "PropertyArray"

	// SchemaStore: schema_id_u64 -> encoded schema rule (label/relType,
	// property keys, constraint kind). Mirrored in-memory by schema.Cache
	// (C4), see invariant 4 in spec.md §3.
	SchemaStore = "Schema"

	// TokenStore: token_id_u32 -> token name bytes. One store, shared by
	// label/relType/propertyKey token kinds distinguished by a leading
	// kind byte, matching the teacher's convention of sharing a single
	// Token-ish table across name kinds (see HeaderNumber/BadHeaderNumber
	// sharing a naming scheme in erigon-lib/kv/tables.go).
	TokenStore = "Token"

	// MetaDataStore: a single fixed record holding KernelVersion and other
	// store-wide scalars (§3 "Kernel Version" invariant 3).
	MetaDataStore = "MetaData"
)

// Counts/degrees store names (C3).
const (
	// CountsStore: (labelId|ANY_LABEL, relTypeId|ANY_TYPE, otherLabel|ANY_LABEL) -> int64 delta
	CountsStore = "Counts"
	// DegreesStore: (groupId, direction) -> uint64 degree
	DegreesStore = "GroupDegrees"
)

// ANYLabel and ANYType are the wildcard sentinels used in Counts keys,
// matching §3's "(labelId | ANY_LABEL, relTypeId | ANY_TYPE, ...)".
const (
	ANYLabel uint32 = 0xFFFFFFFF
	ANYType  uint32 = 0xFFFFFFFF
)

// ReservedLowIDs is the number of ids at the bottom of every record
// store's id-space that are reserved and never allocated (§3 "id = 0
// may be reserved"). Matches the teacher's convention of reserving a
// header region at the front of each table.
const ReservedLowIDs = 1

// AllStores lists every store name known to the engine, including the
// counts/degrees names. reinit sorts it and gives any name missing from
// StoreTableCfg an empty TableCfgItem; nothing panics over a missing
// entry.
var AllStores = []string{
	NodeStore,
	RelationshipStore,
	RelationshipGroupStore,
	PropertyStore,
	PropertyStringStore,
	PropertyArrayStore,
	SchemaStore,
	TokenStore,
	MetaDataStore,
	CountsStore,
	DegreesStore,
}

type TableFlags uint

const (
	Default    TableFlags = 0x00
	DupSort    TableFlags = 0x04
	IntegerKey TableFlags = 0x08
	IntegerDup TableFlags = 0x20
)

// TableCfgItem describes the physical layout of one store, following
// the teacher's TableCfgItem shape (erigon-lib/kv/tables.go).
type TableCfgItem struct {
	Flags TableFlags
	// RecordSize is the fixed on-disk record width in bytes, excluding
	// the DupSort value portion for stores that use it.
	RecordSize int
}

type TableCfg map[string]TableCfgItem

// StoreTableCfg is the static per-store layout registry (expansion:
// "Table/domain configuration registry", SPEC_FULL.md). Relationship
// and property chains use DupSort so that a node/entity's chain
// members are physically clustered, mirroring PlainState/HashedStorage
// in the teacher.
var StoreTableCfg = TableCfg{
	NodeStore:              {Flags: IntegerKey, RecordSize: 59},
	RelationshipStore:      {Flags: IntegerKey, RecordSize: 65},
	RelationshipGroupStore: {Flags: IntegerKey | DupSort, RecordSize: 45},
	PropertyStore:          {Flags: IntegerKey | DupSort, RecordSize: 0},
	PropertyStringStore:    {Flags: IntegerKey, RecordSize: 0},
	PropertyArrayStore:     {Flags: IntegerKey, RecordSize: 0},
	SchemaStore:            {Flags: IntegerKey, RecordSize: 0},
	TokenStore:             {Flags: IntegerKey, RecordSize: 0},
	MetaDataStore:          {Flags: IntegerKey, RecordSize: 128},
	CountsStore:            {Flags: Default},
	DegreesStore:           {Flags: IntegerKey},
}

func sortStores() {
	sort.SliceStable(AllStores, func(i, j int) bool {
		return strings.Compare(AllStores[i], AllStores[j]) < 0
	})
}

func init() { reinit() }

func reinit() {
	sortStores()
	for _, name := range AllStores {
		if _, ok := StoreTableCfg[name]; !ok {
			StoreTableCfg[name] = TableCfgItem{}
		}
	}
}
