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

	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v1 := kv.KernelVersion{Major: 1}
	cmds := []Command{
		{
			Kind: NodeCmd, ID: 1, FormatVersion: v1,
			Node: &RecordPair[txstate.NodeRecord]{
				After: txstate.NodeRecord{ID: 1, InUse: true, Labels: []uint32{7}, NextRel: txstate.NoID, NextProp: txstate.NoID},
			},
		},
		{
			Kind: PropertyCmd, ID: 2, FormatVersion: v1,
			Property: &RecordPair[txstate.PropertyRecord]{
				After: txstate.PropertyRecord{
					ID: 2, InUse: true, Prev: txstate.NoID, Next: txstate.NoID,
					Entries: []txstate.PropertyEntry{{Key: 3, Kind: txstate.ValueInline, Inline: []byte("x")}},
				},
			},
		},
		{
			Kind:   CountsCmd,
			Counts: &CountsDelta{Key: counts.Key{Label: 7, RelType: kv.ANYType, OtherLabel: kv.ANYLabel}, Delta: 1},
		},
		NewMetaDataCommand(kv.KernelVersion{Major: 0}, v1),
	}

	encoded, err := EncodeCommands(cmds)
	require.NoError(t, err)

	decoded, err := DecodeCommands(encoded)
	require.NoError(t, err)
	require.Equal(t, cmds, decoded)

	reencoded, err := EncodeCommands(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestEncodeCommandsEmptyBatch(t *testing.T) {
	encoded, err := EncodeCommands(nil)
	require.NoError(t, err)
	require.Empty(t, encoded)

	decoded, err := DecodeCommands(encoded)
	require.NoError(t, err)
	require.Empty(t, decoded)
}
