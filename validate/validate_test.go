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

package validate

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

type fakeLoader struct {
	nodes map[kv.ID]txstate.NodeRecord
	rels  map[kv.ID]txstate.RelationshipRecord
}

func (f fakeLoader) LoadNode(id kv.ID) (txstate.NodeRecord, bool, error) {
	r, ok := f.nodes[id]
	return r, ok, nil
}
func (f fakeLoader) LoadRelationship(id kv.ID) (txstate.RelationshipRecord, bool, error) {
	r, ok := f.rels[id]
	return r, ok, nil
}
func (fakeLoader) LoadGroup(id kv.ID) (txstate.RelationshipGroupRecord, bool, error) {
	return txstate.RelationshipGroupRecord{}, false, nil
}
func (fakeLoader) LoadProperty(id kv.ID) (txstate.PropertyRecord, bool, error) {
	return txstate.PropertyRecord{}, false, nil
}
func (fakeLoader) LoadSchemaRule(id uint32) (txstate.SchemaRuleRecord, bool, error) {
	return txstate.SchemaRuleRecord{}, false, nil
}
func (fakeLoader) LoadToken(id uint32) (txstate.TokenRecord, bool, error) {
	return txstate.TokenRecord{}, false, nil
}
func (fakeLoader) LoadMetaData() (txstate.MetaDataRecord, error) {
	return txstate.MetaDataRecord{}, nil
}

// TestValidateNodeDeletionDeniedWithRelationships is S2: deleting n1
// while n1-[:R]->n2 still exists must fail with a Validation error
// naming the relationship-retention reason.
func TestValidateNodeDeletionDeniedWithRelationships(t *testing.T) {
	loader := fakeLoader{
		nodes: map[kv.ID]txstate.NodeRecord{
			1: {ID: 1, InUse: true, NextRel: 10},
			2: {ID: 2, InUse: true, NextRel: 10},
		},
		rels: map[kv.ID]txstate.RelationshipRecord{
			10: {ID: 10, InUse: true, Start: 1, End: 2},
		},
	}
	rs := txstate.NewRecordState(loader)

	nodeSlot, err := rs.Node(1)
	require.NoError(t, err)
	nodeSlot.After.InUse = false

	_, err = rs.Relationship(10) // touched so its after-image participates
	require.NoError(t, err)

	v := New(nil, nil)
	verr := v.ValidateRecordState(rs)
	require.Error(t, verr)

	var ve *Error
	require.ErrorAs(t, verr, &ve)
	require.Equal(t, KindValidation, ve.Kind)
	require.Regexp(t, regexp.MustCompile(`Cannot delete.*because it still has relationships`), ve.Error())
	require.True(t, nodeSlot.After.InUse == false, "validator reports the error; it is the caller's job not to commit")
}

func TestValidateNodeDeletionAllowedWithoutRelationships(t *testing.T) {
	loader := fakeLoader{nodes: map[kv.ID]txstate.NodeRecord{1: {ID: 1, InUse: true}}}
	rs := txstate.NewRecordState(loader)

	nodeSlot, err := rs.Node(1)
	require.NoError(t, err)
	nodeSlot.After.InUse = false

	v := New(nil, nil)
	require.NoError(t, v.ValidateRecordState(rs))
}

type fakeLockTracer struct{ covered map[kv.ID]bool }

func (f fakeLockTracer) Covers(id kv.ID) bool { return f.covered[id] }

// TestValidateLockCoverageRequiresNodeAndRelationshipLocks is §4.6(d):
// an uncovered mutated node fails; covering it passes.
func TestValidateLockCoverageRequiresNodeAndRelationshipLocks(t *testing.T) {
	loader := fakeLoader{nodes: map[kv.ID]txstate.NodeRecord{1: {ID: 1, InUse: true}}}
	rs := txstate.NewRecordState(loader)
	_, err := rs.Node(1)
	require.NoError(t, err)

	v := New(nil, fakeLockTracer{covered: map[kv.ID]bool{}})
	verr := v.ValidateRecordState(rs)
	require.Error(t, verr)
	require.Regexp(t, `node 1 mutated without a held lock`, verr.Error())

	v2 := New(nil, fakeLockTracer{covered: map[kv.ID]bool{1: true}})
	require.NoError(t, v2.ValidateRecordState(rs))
}

// TestValidateLockCoverageRelaxedNodeAcceptsGroupLock exercises the
// relaxed_locking_for_dense_nodes external-degree optimization (§6): a
// node marked relaxed via txstate.RecordState.MarkRelaxedNodeLock
// passes lock-coverage on the strength of its owned relationship-group
// lock alone, and still fails if neither is held.
func TestValidateLockCoverageRelaxedNodeAcceptsGroupLock(t *testing.T) {
	loader := fakeLoader{nodes: map[kv.ID]txstate.NodeRecord{1: {ID: 1, InUse: true, Dense: true}}}
	rs := txstate.NewRecordState(loader)
	_, err := rs.Node(1)
	require.NoError(t, err)
	groupSlot, err := rs.Group(100)
	require.NoError(t, err)
	groupSlot.After = txstate.RelationshipGroupRecord{ID: 100, InUse: true, Owner: 1, Type: 7}
	rs.MarkRelaxedNodeLock(1)

	v := New(nil, fakeLockTracer{covered: map[kv.ID]bool{100: true}})
	require.NoError(t, v.ValidateRecordState(rs), "group lock alone must satisfy a relaxed node's coverage")

	v2 := New(nil, fakeLockTracer{covered: map[kv.ID]bool{}})
	verr := v2.ValidateRecordState(rs)
	require.Error(t, verr)
	require.Regexp(t, `node 1 \(relaxed lock\)`, verr.Error())
}

func TestValidateUpgradeCommandRequiresStrictlyIncreasing(t *testing.T) {
	v0 := kv.KernelVersion{Major: 0}
	v1 := kv.KernelVersion{Major: 1}
	recognised := []kv.KernelVersion{v0, v1}

	require.NoError(t, ValidateUpgradeCommand(v0, v1, recognised))
	require.Error(t, ValidateUpgradeCommand(v1, v0, recognised))
	require.Error(t, ValidateUpgradeCommand(v0, kv.KernelVersion{Major: 2}, recognised))
}
