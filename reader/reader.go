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

// Package reader implements newReader() from spec.md §6: a cheap,
// read-only StorageReader. Adapted from the teacher's point-in-time
// historical state reader, keeping its per-entity read methods for
// node/relationship/property records. Reads go to the live record
// stores at call time; the reader records a commit sequence number at
// creation but does not isolate its reads from later writes.
package reader

import (
	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

// Stores is the narrow read surface a StorageReader needs from C1; the
// engine supplies its live kv.RecordStore set. No snapshot is taken at
// NewReader time.
type Stores struct {
	Node               kv.RecordStore
	Relationship       kv.RecordStore
	RelationshipGroup  kv.RecordStore
	Property           kv.RecordStore
	PropertyString     kv.RecordStore
	PropertyArray      kv.RecordStore
	Schema             kv.RecordStore
	Token              kv.RecordStore
}

// StorageReader is the read-only handle from §6. It is cheap to create
// (NewReader does no I/O). Each read is served by the live store at the
// time of the call, so a reader does observe writes applied after it
// was created.
type StorageReader struct {
	stores    Stores
	commitSeq uint64
}

// NewReader records commitSeq alongside the stores. The engine passes
// the commit sequence number of the last transaction it had applied at
// the moment the reader was requested; reads do not filter on it.
func NewReader(stores Stores, commitSeq uint64) *StorageReader {
	return &StorageReader{stores: stores, commitSeq: commitSeq}
}

// CommitSeq reports the commit sequence number recorded at creation.
func (r *StorageReader) CommitSeq() uint64 { return r.commitSeq }

func (r *StorageReader) Node(id kv.ID) (txstate.NodeRecord, bool, error) {
	rec, ok, err := r.stores.Node.Read(id, kv.CHECK)
	if err != nil || !ok {
		return txstate.NodeRecord{}, ok, err
	}
	return txstate.DecodeNode(rec), true, nil
}

func (r *StorageReader) Relationship(id kv.ID) (txstate.RelationshipRecord, bool, error) {
	rec, ok, err := r.stores.Relationship.Read(id, kv.CHECK)
	if err != nil || !ok {
		return txstate.RelationshipRecord{}, ok, err
	}
	return txstate.DecodeRelationship(rec), true, nil
}

func (r *StorageReader) RelationshipGroup(id kv.ID) (txstate.RelationshipGroupRecord, bool, error) {
	rec, ok, err := r.stores.RelationshipGroup.Read(id, kv.CHECK)
	if err != nil || !ok {
		return txstate.RelationshipGroupRecord{}, ok, err
	}
	return txstate.DecodeGroup(rec), true, nil
}

func (r *StorageReader) Property(id kv.ID) (txstate.PropertyRecord, bool, error) {
	rec, ok, err := r.stores.Property.Read(id, kv.CHECK)
	if err != nil || !ok {
		return txstate.PropertyRecord{}, ok, err
	}
	return txstate.DecodeProperty(rec), true, nil
}

// PropertyChain walks an entity's property chain from headID, returning
// every block in chain order. Bounded by a conservative max-hop guard
// so a corrupted cyclic chain cannot hang a reader.
func (r *StorageReader) PropertyChain(headID kv.ID) ([]txstate.PropertyRecord, error) {
	const maxHops = 1 << 20
	var out []txstate.PropertyRecord
	cur := headID
	for hops := 0; cur != txstate.NoID; hops++ {
		if hops > maxHops {
			return nil, errors.Errorf("reader: property chain from %d exceeds %d hops, likely corrupt", headID, maxHops)
		}
		blk, ok, err := r.Property(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, blk)
		cur = blk.Next
	}
	return out, nil
}

func (r *StorageReader) SchemaRule(id uint32) (txstate.SchemaRuleRecord, bool, error) {
	rec, ok, err := r.stores.Schema.Read(kv.ID(id), kv.CHECK)
	if err != nil || !ok {
		return txstate.SchemaRuleRecord{}, ok, err
	}
	return txstate.DecodeSchemaRule(id, rec), true, nil
}

func (r *StorageReader) Token(id uint32) (txstate.TokenRecord, bool, error) {
	rec, ok, err := r.stores.Token.Read(kv.ID(id), kv.CHECK)
	if err != nil || !ok {
		return txstate.TokenRecord{}, ok, err
	}
	return txstate.DecodeToken(id, rec), true, nil
}
