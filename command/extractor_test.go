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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

type fakeLoader struct{}

func (fakeLoader) LoadNode(id kv.ID) (txstate.NodeRecord, bool, error) {
	return txstate.NodeRecord{ID: id, NextRel: txstate.NoID, NextProp: txstate.NoID}, false, nil
}
func (fakeLoader) LoadRelationship(id kv.ID) (txstate.RelationshipRecord, bool, error) {
	return txstate.RelationshipRecord{ID: id}, false, nil
}
func (fakeLoader) LoadGroup(id kv.ID) (txstate.RelationshipGroupRecord, bool, error) {
	return txstate.RelationshipGroupRecord{ID: id}, false, nil
}
func (fakeLoader) LoadProperty(id kv.ID) (txstate.PropertyRecord, bool, error) {
	return txstate.PropertyRecord{ID: id}, false, nil
}
func (fakeLoader) LoadSchemaRule(id uint32) (txstate.SchemaRuleRecord, bool, error) {
	return txstate.SchemaRuleRecord{ID: id}, false, nil
}
func (fakeLoader) LoadToken(id uint32) (txstate.TokenRecord, bool, error) {
	return txstate.TokenRecord{ID: id}, false, nil
}
func (fakeLoader) LoadMetaData() (txstate.MetaDataRecord, error) {
	return txstate.MetaDataRecord{KernelVersion: kv.KernelVersion{Major: 1}}, nil
}

// TestExtractOrderIsFixed exercises the §4.3 fixed order: schema ->
// tokens -> nodes -> relationships -> relationship-groups -> properties
// -> counts -> meta-data, ascending id within each kind.
func TestExtractOrderIsFixed(t *testing.T) {
	rs := txstate.NewRecordState(fakeLoader{})

	// Touch in a deliberately scrambled order; extraction must still
	// come out in the fixed kind order with ascending ids inside each.
	_, err := rs.Relationship(20)
	require.NoError(t, err)
	_, err = rs.Node(2)
	require.NoError(t, err)
	_, err = rs.Node(1)
	require.NoError(t, err)
	_, err = rs.SchemaRule(5)
	require.NoError(t, err)
	_, err = rs.Token(9)
	require.NoError(t, err)
	_, err = rs.Relationship(10)
	require.NoError(t, err)
	_, err = rs.Group(3)
	require.NoError(t, err)
	_, err = rs.Property(4)
	require.NoError(t, err)
	_, err = rs.MetaData()
	require.NoError(t, err)

	e := NewExtractor(kv.KernelVersion{Major: 1})
	cmds := e.Extract(rs)

	var gotKinds []Kind
	for _, c := range cmds {
		gotKinds = append(gotKinds, c.Kind)
	}
	require.Equal(t, []Kind{
		SchemaCmd, TokenCmd,
		NodeCmd, NodeCmd,
		RelationshipCmd, RelationshipCmd,
		RelationshipGroupCmd,
		PropertyCmd,
		MetaDataCmd,
	}, gotKinds)

	require.Equal(t, uint64(1), cmds[2].ID)
	require.Equal(t, uint64(2), cmds[3].ID)
	require.Equal(t, uint64(10), cmds[4].ID)
	require.Equal(t, uint64(20), cmds[5].ID)
}
