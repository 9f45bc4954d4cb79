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

package txstate

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/kv"
)

// MaxLabelsPerNode bounds the inline label set encoded in a fixed-width
// NodeStore record; a node with more simultaneous labels than this is
// outside what the engine's fixed-record NodeStore layout supports.
const MaxLabelsPerNode = 8

// EncodeNode packs a NodeRecord into the fixed-width NodeStore payload:
// inUse(1) | dense(1) | numLabels(1) | labels[8]*u32(32) | nextRel(8) |
// nextProp(8) | firstGroup(8) = 59 bytes.
func EncodeNode(r NodeRecord) (kv.Record, error) {
	if len(r.Labels) > MaxLabelsPerNode {
		return kv.Record{}, errors.Errorf("txstate: node %d has %d labels, exceeds MaxLabelsPerNode=%d", r.ID, len(r.Labels), MaxLabelsPerNode)
	}
	buf := make([]byte, 59)
	putBool(buf[0:1], r.InUse)
	putBool(buf[1:2], r.Dense)
	buf[2] = byte(len(r.Labels))
	for i, l := range r.Labels {
		binary.BigEndian.PutUint32(buf[3+i*4:7+i*4], l)
	}
	binary.BigEndian.PutUint64(buf[35:43], uint64(r.NextRel))
	binary.BigEndian.PutUint64(buf[43:51], uint64(r.NextProp))
	binary.BigEndian.PutUint64(buf[51:59], uint64(r.FirstGroup))
	return kv.Record{ID: r.ID, InUse: r.InUse, Payload: buf}, nil
}

func DecodeNode(rec kv.Record) NodeRecord {
	buf := rec.Payload
	n := NodeRecord{ID: rec.ID, InUse: getBool(buf[0:1]), Dense: getBool(buf[1:2])}
	numLabels := int(buf[2])
	for i := 0; i < numLabels; i++ {
		n.Labels = append(n.Labels, binary.BigEndian.Uint32(buf[3+i*4:7+i*4]))
	}
	n.NextRel = kv.ID(binary.BigEndian.Uint64(buf[35:43]))
	n.NextProp = kv.ID(binary.BigEndian.Uint64(buf[43:51]))
	n.FirstGroup = kv.ID(binary.BigEndian.Uint64(buf[51:59]))
	return n
}

// EncodeRelationship packs a RelationshipRecord into a fixed 65-byte
// payload: inUse(1) | type(4) | start(8) | end(8) | prevAtStart(8) |
// nextAtStart(8) | prevAtEnd(8) | nextAtEnd(8) | firstProp(8) = 61
// bytes, padded to 65 to leave headroom for a future flags byte set,
// matching the teacher's convention of padding fixed records for
// forward compatibility (kv.TableCfgItem.RecordSize).
func EncodeRelationship(r RelationshipRecord) kv.Record {
	buf := make([]byte, 65)
	putBool(buf[0:1], r.InUse)
	binary.BigEndian.PutUint32(buf[1:5], r.Type)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.Start))
	binary.BigEndian.PutUint64(buf[13:21], uint64(r.End))
	binary.BigEndian.PutUint64(buf[21:29], uint64(r.PrevAtStart))
	binary.BigEndian.PutUint64(buf[29:37], uint64(r.NextAtStart))
	binary.BigEndian.PutUint64(buf[37:45], uint64(r.PrevAtEnd))
	binary.BigEndian.PutUint64(buf[45:53], uint64(r.NextAtEnd))
	binary.BigEndian.PutUint64(buf[53:61], uint64(r.FirstProp))
	return kv.Record{ID: r.ID, InUse: r.InUse, Payload: buf}
}

func DecodeRelationship(rec kv.Record) RelationshipRecord {
	buf := rec.Payload
	return RelationshipRecord{
		ID: rec.ID, InUse: getBool(buf[0:1]),
		Type:        binary.BigEndian.Uint32(buf[1:5]),
		Start:       kv.ID(binary.BigEndian.Uint64(buf[5:13])),
		End:         kv.ID(binary.BigEndian.Uint64(buf[13:21])),
		PrevAtStart: kv.ID(binary.BigEndian.Uint64(buf[21:29])),
		NextAtStart: kv.ID(binary.BigEndian.Uint64(buf[29:37])),
		PrevAtEnd:   kv.ID(binary.BigEndian.Uint64(buf[37:45])),
		NextAtEnd:   kv.ID(binary.BigEndian.Uint64(buf[45:53])),
		FirstProp:   kv.ID(binary.BigEndian.Uint64(buf[53:61])),
	}
}

// EncodeGroup packs a RelationshipGroupRecord into a 45-byte payload:
// inUse(1) | owner(8) | type(4) | next(8) | firstOut(8) | firstIn(8) |
// firstLoop(8) = 45, the record size declared for
// RelationshipGroupStore in kv.StoreTableCfg.
func EncodeGroup(r RelationshipGroupRecord) kv.Record {
	buf := make([]byte, 45)
	putBool(buf[0:1], r.InUse)
	binary.BigEndian.PutUint64(buf[1:9], uint64(r.Owner))
	binary.BigEndian.PutUint32(buf[9:13], r.Type)
	binary.BigEndian.PutUint64(buf[13:21], uint64(r.Next))
	binary.BigEndian.PutUint64(buf[21:29], uint64(r.FirstOut))
	binary.BigEndian.PutUint64(buf[29:37], uint64(r.FirstIn))
	binary.BigEndian.PutUint64(buf[37:45], uint64(r.FirstLoop))
	return kv.Record{ID: r.ID, InUse: r.InUse, Payload: buf}
}

func DecodeGroup(rec kv.Record) RelationshipGroupRecord {
	buf := rec.Payload
	return RelationshipGroupRecord{
		ID: rec.ID, InUse: getBool(buf[0:1]),
		Owner:     kv.ID(binary.BigEndian.Uint64(buf[1:9])),
		Type:      binary.BigEndian.Uint32(buf[9:13]),
		Next:      kv.ID(binary.BigEndian.Uint64(buf[13:21])),
		FirstOut:  kv.ID(binary.BigEndian.Uint64(buf[21:29])),
		FirstIn:   kv.ID(binary.BigEndian.Uint64(buf[29:37])),
		FirstLoop: kv.ID(binary.BigEndian.Uint64(buf[37:45])),
	}
}

// EncodeProperty/DecodeProperty (with encodePropertyEntry for each
// entry) pack a property block's up-to-MaxEntriesPerPropertyBlock
// entries into a variable-length payload (entries' Inline values are
// themselves short, but property blocks are DupSort-addressed rather
// than fixed-width, matching PropertyStore's TableCfgItem, which
// declares RecordSize 0).
func EncodeProperty(r PropertyRecord) kv.Record {
	buf := make([]byte, 0, 32+len(r.Entries)*16)
	var head [17]byte
	putBool(head[0:1], r.InUse)
	binary.BigEndian.PutUint64(head[1:9], uint64(r.Prev))
	binary.BigEndian.PutUint64(head[9:17], uint64(r.Next))
	buf = append(buf, head[:]...)
	buf = append(buf, byte(len(r.Entries)))
	for _, e := range r.Entries {
		buf = append(buf, encodePropertyEntry(e)...)
	}
	return kv.Record{ID: r.ID, InUse: r.InUse, Payload: buf}
}

func encodePropertyEntry(e PropertyEntry) []byte {
	out := make([]byte, 0, 14+len(e.Inline))
	var head [14]byte
	binary.BigEndian.PutUint32(head[0:4], e.Key)
	head[4] = byte(e.Kind)
	binary.BigEndian.PutUint64(head[5:13], uint64(e.OverflowID))
	head[13] = byte(len(e.Inline))
	out = append(out, head[:]...)
	out = append(out, e.Inline...)
	return out
}

func DecodeProperty(rec kv.Record) PropertyRecord {
	buf := rec.Payload
	p := PropertyRecord{
		ID: rec.ID, InUse: getBool(buf[0:1]),
		Prev: kv.ID(binary.BigEndian.Uint64(buf[1:9])),
		Next: kv.ID(binary.BigEndian.Uint64(buf[9:17])),
	}
	n := int(buf[17])
	off := 18
	for i := 0; i < n; i++ {
		key := binary.BigEndian.Uint32(buf[off : off+4])
		kind := PropertyValueKind(buf[off+4])
		overflow := kv.ID(binary.BigEndian.Uint64(buf[off+5 : off+13]))
		inlineLen := int(buf[off+13])
		off += 14
		inline := append([]byte(nil), buf[off:off+inlineLen]...)
		off += inlineLen
		p.Entries = append(p.Entries, PropertyEntry{Key: key, Kind: kind, Inline: inline, OverflowID: overflow})
	}
	return p
}

// EncodeSchemaRule/DecodeSchemaRule encode a schema rule record,
// variable-length on its PropertyKeys slice (SchemaStore is declared
// with RecordSize: 0 in kv.StoreTableCfg for exactly this reason).
func EncodeSchemaRule(r SchemaRuleRecord) kv.Record {
	buf := make([]byte, 0, 14+len(r.PropertyKeys)*4)
	var head [14]byte
	putBool(head[0:1], r.InUse)
	binary.BigEndian.PutUint32(head[1:5], r.LabelOrRel)
	putBool(head[5:6], r.IsRelType)
	head[6] = r.Constraint
	binary.BigEndian.PutUint32(head[7:11], uint32(len(r.PropertyKeys)))
	buf = append(buf, head[:11]...)
	for _, k := range r.PropertyKeys {
		var kb [4]byte
		binary.BigEndian.PutUint32(kb[:], k)
		buf = append(buf, kb[:]...)
	}
	return kv.Record{ID: kv.ID(r.ID), InUse: r.InUse, Payload: buf}
}

func DecodeSchemaRule(id uint32, rec kv.Record) SchemaRuleRecord {
	buf := rec.Payload
	r := SchemaRuleRecord{
		ID: id, InUse: getBool(buf[0:1]),
		LabelOrRel: binary.BigEndian.Uint32(buf[1:5]),
		IsRelType:  getBool(buf[5:6]),
		Constraint: buf[6],
	}
	n := int(binary.BigEndian.Uint32(buf[7:11]))
	off := 11
	for i := 0; i < n; i++ {
		r.PropertyKeys = append(r.PropertyKeys, binary.BigEndian.Uint32(buf[off:off+4]))
		off += 4
	}
	return r
}

// EncodeToken/DecodeToken encode a token record; TokenStore shares one
// table across label/rel-type/property-key name kinds, distinguished by
// the leading Kind byte (kv.TokenStore doc comment).
func EncodeToken(r TokenRecord) kv.Record {
	buf := make([]byte, 2+len(r.Name))
	putBool(buf[0:1], r.InUse)
	buf[1] = byte(r.Kind)
	copy(buf[2:], r.Name)
	return kv.Record{ID: kv.ID(r.ID), InUse: r.InUse, Payload: buf}
}

func DecodeToken(id uint32, rec kv.Record) TokenRecord {
	buf := rec.Payload
	return TokenRecord{ID: id, InUse: getBool(buf[0:1]), Kind: TokenKind(buf[1]), Name: string(buf[2:])}
}

// EncodeMetaData/DecodeMetaData encode the single meta-data record
// (§3 "Kernel Version"): major(4) | minor(4) | patch(4) = 12 bytes,
// padded to the 128-byte record declared in kv.StoreTableCfg to leave
// room for future store-wide scalars.
func EncodeMetaData(r MetaDataRecord) kv.Record {
	buf := make([]byte, 128)
	binary.BigEndian.PutUint32(buf[0:4], r.KernelVersion.Major)
	binary.BigEndian.PutUint32(buf[4:8], r.KernelVersion.Minor)
	binary.BigEndian.PutUint32(buf[8:12], r.KernelVersion.Patch)
	return kv.Record{ID: 0, InUse: true, Payload: buf}
}

func DecodeMetaData(rec kv.Record) MetaDataRecord {
	buf := rec.Payload
	return MetaDataRecord{KernelVersion: kv.KernelVersion{
		Major: binary.BigEndian.Uint32(buf[0:4]),
		Minor: binary.BigEndian.Uint32(buf[4:8]),
		Patch: binary.BigEndian.Uint32(buf[8:12]),
	}}
}

func putBool(b []byte, v bool) {
	if v {
		b[0] = 1
	} else {
		b[0] = 0
	}
}

func getBool(b []byte) bool { return b[0] != 0 }
