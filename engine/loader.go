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

package engine

import (
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

// storeLoader implements txstate.Loader by reading the live kv stores in
// kv.CHECK mode, so a first touch of an id that has never been written
// comes back as a zero-value, not-existed record rather than an error.
type storeLoader struct {
	stores map[string]kv.RecordStore
}

func (l *storeLoader) read(name string, id kv.ID) (kv.Record, bool, error) {
	return l.stores[name].Read(id, kv.CHECK)
}

func (l *storeLoader) LoadNode(id kv.ID) (txstate.NodeRecord, bool, error) {
	rec, ok, err := l.read(kv.NodeStore, id)
	if err != nil || !ok {
		return txstate.NodeRecord{ID: id}, ok, err
	}
	return txstate.DecodeNode(rec), true, nil
}

func (l *storeLoader) LoadRelationship(id kv.ID) (txstate.RelationshipRecord, bool, error) {
	rec, ok, err := l.read(kv.RelationshipStore, id)
	if err != nil || !ok {
		return txstate.RelationshipRecord{ID: id}, ok, err
	}
	return txstate.DecodeRelationship(rec), true, nil
}

func (l *storeLoader) LoadGroup(id kv.ID) (txstate.RelationshipGroupRecord, bool, error) {
	rec, ok, err := l.read(kv.RelationshipGroupStore, id)
	if err != nil || !ok {
		return txstate.RelationshipGroupRecord{ID: id}, ok, err
	}
	return txstate.DecodeGroup(rec), true, nil
}

func (l *storeLoader) LoadProperty(id kv.ID) (txstate.PropertyRecord, bool, error) {
	rec, ok, err := l.read(kv.PropertyStore, id)
	if err != nil || !ok {
		return txstate.PropertyRecord{ID: id}, ok, err
	}
	return txstate.DecodeProperty(rec), true, nil
}

func (l *storeLoader) LoadSchemaRule(id uint32) (txstate.SchemaRuleRecord, bool, error) {
	rec, ok, err := l.read(kv.SchemaStore, kv.ID(id))
	if err != nil || !ok {
		return txstate.SchemaRuleRecord{ID: id}, ok, err
	}
	return txstate.DecodeSchemaRule(id, rec), true, nil
}

func (l *storeLoader) LoadToken(id uint32) (txstate.TokenRecord, bool, error) {
	rec, ok, err := l.read(kv.TokenStore, kv.ID(id))
	if err != nil || !ok {
		return txstate.TokenRecord{ID: id}, ok, err
	}
	return txstate.DecodeToken(id, rec), true, nil
}

func (l *storeLoader) LoadMetaData() (txstate.MetaDataRecord, error) {
	rec, ok, err := l.read(kv.MetaDataStore, 0)
	if err != nil {
		return txstate.MetaDataRecord{}, err
	}
	if !ok {
		return txstate.MetaDataRecord{KernelVersion: kv.CurrentKernelVersion}, nil
	}
	return txstate.DecodeMetaData(rec), nil
}
