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
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

// wireCommand is the gob-friendly shadow of Command. gob already
// handles nil-pointer fields and slice fields cleanly, which is what a
// oneof-by-Kind struct needs for the log codec; this mirrors the
// teacher's use of a plain Go encoding for its own change-set wire
// format rather than a hand-rolled bit-packed frame.
type wireCommand struct {
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

func toWire(c Command) wireCommand {
	return wireCommand(c)
}

func fromWire(w wireCommand) Command {
	return Command(w)
}

// EncodeCommands serializes an ordered command batch for log append.
// Each command is length-prefixed so the log's cursor-replay interface
// (spec.md §1 non-goals: "treated as an append-only byte sink with a
// cursor replay interface") can read one record at a time without
// buffering the whole segment.
func EncodeCommands(cmds []Command) ([]byte, error) {
	var buf bytes.Buffer
	for i, c := range cmds {
		var frame bytes.Buffer
		if err := gob.NewEncoder(&frame).Encode(toWire(c)); err != nil {
			return nil, errors.Wrapf(err, "command: encode command %d (kind %s)", i, c.Kind)
		}
		var lenBytes [4]byte
		binary.BigEndian.PutUint32(lenBytes[:], uint32(frame.Len()))
		if _, err := buf.Write(lenBytes[:]); err != nil {
			return nil, errors.Wrap(err, "command: write frame length")
		}
		if _, err := buf.Write(frame.Bytes()); err != nil {
			return nil, errors.Wrap(err, "command: write frame body")
		}
	}
	return buf.Bytes(), nil
}

// DecodeCommands is the inverse of EncodeCommands. Per invariant 6
// ("serialize(commands) -> log -> deserialize -> commands' yields
// commands' == commands"), re-encoding the result of DecodeCommands
// must reproduce the original bytes exactly.
func DecodeCommands(data []byte) ([]Command, error) {
	var out []Command
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		if r.Len() < 4 {
			return nil, errors.New("command: truncated frame length")
		}
		var lenBytes [4]byte
		if _, err := r.Read(lenBytes[:]); err != nil {
			return nil, errors.Wrap(err, "command: read frame length")
		}
		n := binary.BigEndian.Uint32(lenBytes[:])
		frame := make([]byte, n)
		if _, err := r.Read(frame); err != nil {
			return nil, errors.Wrap(err, "command: read frame body")
		}
		var w wireCommand
		if err := gob.NewDecoder(bytes.NewReader(frame)).Decode(&w); err != nil {
			return nil, errors.Wrap(err, "command: decode frame")
		}
		out = append(out, fromWire(w))
	}
	return out, nil
}
