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

package command

import (
	"sort"

	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

// Extractor is the Command Extractor (C7). It holds no state of its own
// beyond the format version to stamp onto every command it emits;
// extraction reads are confined to the RecordState handed to Extract.
type Extractor struct {
	FormatVersion kv.KernelVersion
}

func NewExtractor(formatVersion kv.KernelVersion) *Extractor {
	return &Extractor{FormatVersion: formatVersion}
}

// Extract walks rs in the fixed order required by spec.md §4.3: schema
// → tokens → nodes → relationships → relationship-groups → properties
// → counts → meta-data, ascending id within each kind. "This order is
// the durable log order and must be reproduced byte-for-byte by the
// serializer for a given engine version" — callers must not reorder the
// returned slice before logging it.
func (e *Extractor) Extract(rs *txstate.RecordState) []Command {
	var out []Command

	for _, id := range rs.SortedSchemaIDs() {
		s, _ := rs.SchemaSlot(id)
		out = append(out, Command{
			Kind: SchemaCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			Schema: &RecordPair[txstate.SchemaRuleRecord]{Before: s.Before, After: s.After},
		})
	}

	for _, id := range rs.SortedTokenIDs() {
		t, _ := rs.TokenSlot(id)
		out = append(out, Command{
			Kind: TokenCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			Token: &RecordPair[txstate.TokenRecord]{Before: t.Before, After: t.After},
		})
	}

	for _, id := range rs.SortedNodeIDs() {
		n, _ := rs.NodeSlot(id)
		out = append(out, Command{
			Kind: NodeCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			Node: &RecordPair[txstate.NodeRecord]{Before: n.Before, After: n.After},
		})
	}

	for _, id := range rs.SortedRelIDs() {
		r, _ := rs.RelSlot(id)
		out = append(out, Command{
			Kind: RelationshipCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			Relationship: &RecordPair[txstate.RelationshipRecord]{Before: r.Before, After: r.After},
		})
	}

	for _, id := range rs.SortedGroupIDs() {
		g, _ := rs.GroupSlot(id)
		out = append(out, Command{
			Kind: RelationshipGroupCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			Group: &RecordPair[txstate.RelationshipGroupRecord]{Before: g.Before, After: g.After},
		})
	}

	for _, id := range rs.SortedPropIDs() {
		p, _ := rs.PropSlot(id)
		out = append(out, Command{
			Kind: PropertyCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			Property: &RecordPair[txstate.PropertyRecord]{Before: p.Before, After: p.After},
		})
	}

	// Property overflow blocks are newly allocated within the
	// transaction (there is no "before" on disk), so before is always
	// empty; still walked in ascending id for reproducible log order.
	for _, id := range sortedIDKeys(rs.StringOverflows()) {
		out = append(out, Command{
			Kind: PropertyStringCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			PropertyString: &BytesPair{After: rs.StringOverflows()[id]},
		})
	}
	for _, id := range sortedIDKeys(rs.ArrayOverflows()) {
		out = append(out, Command{
			Kind: PropertyArrayCmd, ID: uint64(id), FormatVersion: e.FormatVersion,
			PropertyArray: &BytesPair{After: rs.ArrayOverflows()[id]},
		})
	}

	for _, key := range sortedCountsKeys(rs.CountDeltas()) {
		out = append(out, Command{
			Kind: CountsCmd, FormatVersion: e.FormatVersion,
			Counts: &CountsDelta{Key: key, Delta: rs.CountDeltas()[key]},
		})
	}
	for _, key := range sortedDegreeKeys(rs.DegreeDeltas()) {
		out = append(out, Command{
			Kind: DegreesCmd, FormatVersion: e.FormatVersion,
			Degrees: &DegreesDelta{Key: key, Delta: rs.DegreeDeltas()[key]},
		})
	}

	if m := rs.MetaSlot(); m != nil {
		out = append(out, Command{
			Kind: MetaDataCmd, FormatVersion: e.FormatVersion,
			MetaData: &RecordPair[txstate.MetaDataRecord]{Before: m.Before, After: m.After},
		})
	}

	return out
}

func sortedIDKeys(m map[kv.ID][]byte) []kv.ID {
	ids := make([]kv.ID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedCountsKeys(m map[counts.Key]int64) []counts.Key {
	keys := make([]counts.Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		if a.RelType != b.RelType {
			return a.RelType < b.RelType
		}
		return a.OtherLabel < b.OtherLabel
	})
	return keys
}

func sortedDegreeKeys(m map[counts.DegreeKey]int64) []counts.DegreeKey {
	keys := make([]counts.DegreeKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		return a.Direction < b.Direction
	})
	return keys
}
