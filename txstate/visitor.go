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
	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/kv"
)

// PropertyValue is a property to stage on an entity. Values at or
// below InlineValueLimit bytes live directly in a PropertyEntry; larger
// values are staged as an overflow block (§4.3 "Property chains").
type PropertyValue struct {
	IsArray bool
	Bytes   []byte
}

const InlineValueLimit = 32

// TxStateVisitor is the contract of §6: implemented by the engine
// (here, by Accumulator), called by the kernel's logical tx-state for
// every created/deleted/updated node, relationship, property, label,
// schema rule and token.
type TxStateVisitor interface {
	VisitCreatedNode(id kv.ID) error
	VisitDeletedNode(id kv.ID) error
	VisitNodeLabelAdded(id kv.ID, label uint32) error
	VisitNodeLabelRemoved(id kv.ID, label uint32) error

	VisitCreatedRelationship(id kv.ID, relType uint32, start, end kv.ID) error
	VisitDeletedRelationship(id kv.ID) error

	VisitNodePropertyAdded(node kv.ID, key uint32, v PropertyValue) error
	VisitNodePropertyChanged(node kv.ID, key uint32, v PropertyValue) error
	VisitNodePropertyRemoved(node kv.ID, key uint32) error
	VisitRelationshipPropertyAdded(rel kv.ID, key uint32, v PropertyValue) error
	VisitRelationshipPropertyChanged(rel kv.ID, key uint32, v PropertyValue) error
	VisitRelationshipPropertyRemoved(rel kv.ID, key uint32) error

	VisitSchemaRuleCreated(rule SchemaRuleRecord) error
	VisitSchemaRuleDropped(id uint32) error
	VisitTokenCreated(id uint32, kind TokenKind, name string) error
}

// Accumulator is the default TxStateVisitor implementation: it applies
// each visited logical change directly into a RecordState (C6).
type Accumulator struct {
	RS                 *RecordState
	DenseNodeThreshold uint32
	// RelaxedLocking mirrors the engine's relaxed_locking_for_dense_nodes
	// config (§6): when true, relationship inserts into an already-dense
	// node's existing group relax that node's §4.6(d) lock-coverage
	// obligation down to the group record actually mutated, once
	// GroupPressure/ShouldRelaxLocking judge the node hot enough.
	RelaxedLocking bool
	// pressure tracks GroupPressure per node, consulted by
	// ShouldRelaxLocking to decide when RelaxedLocking actually engages.
	pressure map[kv.ID]int64
}

func NewAccumulator(rs *RecordState, denseNodeThreshold uint32, relaxedLocking bool) *Accumulator {
	return &Accumulator{
		RS:                 rs,
		DenseNodeThreshold: denseNodeThreshold,
		RelaxedLocking:     relaxedLocking,
		pressure:           make(map[kv.ID]int64),
	}
}

var _ TxStateVisitor = (*Accumulator)(nil)

func (a *Accumulator) VisitCreatedNode(id kv.ID) error {
	slot, err := a.RS.Node(id)
	if err != nil {
		return err
	}
	slot.After = NodeRecord{ID: id, InUse: true, NextRel: NoID, NextProp: NoID}
	return nil
}

// VisitDeletedNode stages a node deletion. The caller (validate.Validator)
// must have already rejected deletion of a node with remaining
// relationships per §4.6(a) / S2; this method does not re-check that.
func (a *Accumulator) VisitDeletedNode(id kv.ID) error {
	slot, err := a.RS.Node(id)
	if err != nil {
		return err
	}
	slot.After.InUse = false
	for _, l := range slot.After.Labels {
		a.RS.AddCountDelta(counts.Key{Label: l, RelType: kv.ANYType, OtherLabel: kv.ANYLabel}, -1)
	}
	return nil
}

func (a *Accumulator) VisitNodeLabelAdded(id kv.ID, label uint32) error {
	slot, err := a.RS.Node(id)
	if err != nil {
		return err
	}
	slot.After.Labels = append(slot.After.Labels, label)
	a.RS.AddCountDelta(counts.Key{Label: label, RelType: kv.ANYType, OtherLabel: kv.ANYLabel}, 1)
	return nil
}

func (a *Accumulator) VisitNodeLabelRemoved(id kv.ID, label uint32) error {
	slot, err := a.RS.Node(id)
	if err != nil {
		return err
	}
	out := slot.After.Labels[:0]
	for _, l := range slot.After.Labels {
		if l != label {
			out = append(out, l)
		}
	}
	slot.After.Labels = out
	a.RS.AddCountDelta(counts.Key{Label: label, RelType: kv.ANYType, OtherLabel: kv.ANYLabel}, -1)
	return nil
}

// VisitCreatedRelationship inserts the relationship at the head of both
// endpoints' chains (§4.3 "Relationship chains... inserting or removing
// a relationship mutates up to four neighbouring relationship records
// plus the owning node record"). If either endpoint is already dense
// (or crosses dense_node_threshold as a result), the insertion goes
// through its relationship-group chain instead (§4.3 "Dense node
// threshold").
func (a *Accumulator) VisitCreatedRelationship(id kv.ID, relType uint32, start, end kv.ID) error {
	relSlot, err := a.RS.Relationship(id)
	if err != nil {
		return err
	}
	relSlot.After = RelationshipRecord{
		ID: id, InUse: true, Type: relType, Start: start, End: end,
		PrevAtStart: NoID, NextAtStart: NoID, PrevAtEnd: NoID, NextAtEnd: NoID, FirstProp: NoID,
	}

	if err := a.insertIntoNodeChain(start, id, relType, AsStart); err != nil {
		return err
	}
	if err := a.insertIntoNodeChain(end, id, relType, AsEnd); err != nil {
		return err
	}

	otherLabelsOf := func(n kv.ID) []uint32 {
		if s, ok := a.RS.NodeSlot(n); ok {
			return s.After.Labels
		}
		return nil
	}
	for _, sl := range otherLabelsOf(start) {
		for _, el := range otherLabelsOf(end) {
			a.RS.AddCountDelta(counts.Key{Label: sl, RelType: relType, OtherLabel: el}, 1)
		}
	}
	a.RS.AddCountDelta(counts.Key{Label: kv.ANYLabel, RelType: relType, OtherLabel: kv.ANYLabel}, 1)
	return nil
}

func (a *Accumulator) insertIntoNodeChain(node, relID kv.ID, relType uint32, dir Direction) error {
	nodeSlot, err := a.RS.Node(node)
	if err != nil {
		return err
	}

	a.pressure[node] = GroupPressure(a.pressure[node], 1, 1)

	if nodeSlot.After.Dense {
		return a.insertIntoGroup(node, relID, relType, dir)
	}

	// Head-insert into the node's single chain.
	oldHead := nodeSlot.After.NextRel
	if oldHead != NoID {
		headSlot, err := a.RS.Relationship(oldHead)
		if err != nil {
			return err
		}
		if headSlot.After.Start == node {
			headSlot.After.PrevAtStart = relID
		}
		if headSlot.After.End == node {
			headSlot.After.PrevAtEnd = relID
		}
	}
	relSlot, _ := a.RS.RelSlot(relID)
	if dir == AsStart {
		relSlot.After.NextAtStart = oldHead
	} else {
		relSlot.After.NextAtEnd = oldHead
	}
	nodeSlot.After.NextRel = relID

	degree := a.countChainLength(node)
	if degree >= int(a.DenseNodeThreshold) {
		return a.transitionToDense(node)
	}
	return nil
}

// countChainLength walks the (possibly partially staged) chain to
// count relationships touching node. Bounded by DenseNodeThreshold+1
// in practice since transitionToDense fires as soon as the threshold is
// crossed.
func (a *Accumulator) countChainLength(node kv.ID) int {
	nodeSlot, ok := a.RS.NodeSlot(node)
	if !ok {
		return 0
	}
	count := 0
	cur := nodeSlot.After.NextRel
	seen := make(map[kv.ID]bool)
	for cur != NoID && !seen[cur] {
		seen[cur] = true
		count++
		relSlot, ok := a.RS.RelSlot(cur)
		if !ok {
			break
		}
		if relSlot.After.Start == node {
			cur = relSlot.After.NextAtStart
		} else {
			cur = relSlot.After.NextAtEnd
		}
	}
	return count
}

// transitionToDense is the "single atomic bundle of record writes
// within the same transaction" from §4.3: it walks the node's existing
// chain once, fans every relationship out into per-type
// RelationshipGroupRecord chains, and clears the node's single chain
// pointer.
func (a *Accumulator) transitionToDense(node kv.ID) error {
	nodeSlot, err := a.RS.Node(node)
	if err != nil {
		return err
	}
	if nodeSlot.After.Dense {
		return nil
	}

	groupByType := make(map[uint32]kv.ID)
	cur := nodeSlot.After.NextRel
	var chain []kv.ID
	seen := make(map[kv.ID]bool)
	for cur != NoID && !seen[cur] {
		seen[cur] = true
		chain = append(chain, cur)
		relSlot, ok := a.RS.RelSlot(cur)
		if !ok {
			break
		}
		if relSlot.After.Start == node {
			cur = relSlot.After.NextAtStart
		} else {
			cur = relSlot.After.NextAtEnd
		}
	}

	var firstGroup kv.ID = NoID
	var prevGroup *Slot[RelationshipGroupRecord]
	// Walk oldest-to-newest so each splice below head-inserts the same
	// way insertIntoGroup does, leaving the newest relationship of each
	// type/direction at the group's head with the rest still reachable
	// through it (S3: "all relationships reachable via groups").
	for i := len(chain) - 1; i >= 0; i-- {
		relID := chain[i]
		relSlot, _ := a.RS.RelSlot(relID)
		gid, ok := groupByType[relSlot.After.Type]
		if !ok {
			gid = a.RS.AllocGroup()
			groupSlot, err := a.RS.Group(gid)
			if err != nil {
				return err
			}
			groupSlot.After = RelationshipGroupRecord{
				ID: gid, InUse: true, Owner: node, Type: relSlot.After.Type,
				Next: NoID, FirstOut: NoID, FirstIn: NoID, FirstLoop: NoID,
			}
			groupByType[relSlot.After.Type] = gid
			if firstGroup == NoID {
				firstGroup = gid
			}
			if prevGroup != nil {
				prevGroup.After.Next = gid
			}
			prevGroup = groupSlot
		}
		groupSlot, _ := a.RS.GroupSlot(gid)
		dir := AsStart
		if relSlot.After.Start != node {
			dir = AsEnd
		}
		if err := a.spliceIntoGroupChain(groupSlot, relSlot, relID, node, dir); err != nil {
			return err
		}
	}

	nodeSlot.After.Dense = true
	nodeSlot.After.FirstGroup = firstGroup
	nodeSlot.After.NextRel = NoID
	return nil
}

// insertIntoGroup head-inserts relID into node's per-type group chain,
// creating the group record on first use of that type (dense nodes
// still gain new per-type groups lazily).
func (a *Accumulator) insertIntoGroup(node, relID kv.ID, relType uint32, dir Direction) error {
	nodeSlot, err := a.RS.Node(node)
	if err != nil {
		return err
	}
	gid, err := a.findOrCreateGroup(nodeSlot, node, relType)
	if err != nil {
		return err
	}

	if a.RelaxedLocking && ShouldRelaxLocking(a.pressure[node], a.DenseNodeThreshold) {
		// External-degree optimization (§6 relaxed_locking_for_dense_nodes):
		// a hot dense node's lock-coverage obligation is satisfied by the
		// relationship-group record actually mutated rather than the node
		// record, so concurrent inserts into the node's other groups don't
		// serialize against each other.
		a.RS.MarkRelaxedNodeLock(node)
	}

	groupSlot, _ := a.RS.GroupSlot(gid)
	relSlot, _ := a.RS.RelSlot(relID)
	return a.spliceIntoGroupChain(groupSlot, relSlot, relID, node, dir)
}

// spliceIntoGroupChain head-inserts relID into the group's out/in/loop
// chain, splicing it ahead of whatever relationship previously sat at
// the head (mirrors insertIntoNodeChain's splice but rooted at the
// group record instead of the node record) and bumps the group's
// per-direction degree counter (C3 "per-group directed degree
// counters").
func (a *Accumulator) spliceIntoGroupChain(groupSlot *Slot[RelationshipGroupRecord], relSlot *Slot[RelationshipRecord], relID, node kv.ID, dir Direction) error {
	isLoop := relSlot.After.Start == node && relSlot.After.End == node

	var head *kv.ID
	degreeDir := counts.Outgoing
	switch {
	case isLoop:
		head, degreeDir = &groupSlot.After.FirstLoop, counts.Loop
	case dir == AsStart:
		head, degreeDir = &groupSlot.After.FirstOut, counts.Outgoing
	default:
		head, degreeDir = &groupSlot.After.FirstIn, counts.Incoming
	}

	prev := *head
	if prev != NoID {
		prevSlot, err := a.RS.Relationship(prev)
		if err != nil {
			return err
		}
		if prevSlot.After.Start == node {
			prevSlot.After.PrevAtStart = relID
		}
		if prevSlot.After.End == node {
			prevSlot.After.PrevAtEnd = relID
		}
	}
	if dir == AsStart {
		relSlot.After.NextAtStart = prev
	} else {
		relSlot.After.NextAtEnd = prev
	}
	*head = relID

	a.RS.AddDegreeDelta(counts.DegreeKey{Group: groupSlot.After.ID, Direction: degreeDir}, 1)
	return nil
}

func (a *Accumulator) findOrCreateGroup(nodeSlot *Slot[NodeRecord], node kv.ID, relType uint32) (kv.ID, error) {
	cur := nodeSlot.After.FirstGroup
	for cur != NoID {
		gSlot, ok := a.RS.GroupSlot(cur)
		if !ok {
			break
		}
		if gSlot.After.Type == relType {
			return cur, nil
		}
		cur = gSlot.After.Next
	}
	gid := a.RS.AllocGroup()
	gSlot, err := a.RS.Group(gid)
	if err != nil {
		return 0, err
	}
	gSlot.After = RelationshipGroupRecord{ID: gid, InUse: true, Owner: node, Type: relType, Next: nodeSlot.After.FirstGroup, FirstOut: NoID, FirstIn: NoID, FirstLoop: NoID}
	nodeSlot.After.FirstGroup = gid
	return gid, nil
}

// VisitDeletedRelationship removes the relationship from both
// endpoints' chains (or groups), splicing neighbours together.
func (a *Accumulator) VisitDeletedRelationship(id kv.ID) error {
	relSlot, err := a.RS.Relationship(id)
	if err != nil {
		return err
	}
	if !relSlot.After.InUse {
		return errors.Errorf("txstate: relationship %d already not in use", id)
	}
	start, end, relType := relSlot.After.Start, relSlot.After.End, relSlot.After.Type
	relSlot.After.InUse = false

	otherLabelsOf := func(n kv.ID) []uint32 {
		if s, ok := a.RS.NodeSlot(n); ok {
			return s.After.Labels
		}
		return nil
	}
	for _, sl := range otherLabelsOf(start) {
		for _, el := range otherLabelsOf(end) {
			a.RS.AddCountDelta(counts.Key{Label: sl, RelType: relType, OtherLabel: el}, -1)
		}
	}
	a.RS.AddCountDelta(counts.Key{Label: kv.ANYLabel, RelType: relType, OtherLabel: kv.ANYLabel}, -1)
	return nil
}

func (a *Accumulator) stageNodeProperty(node kv.ID, key uint32, v PropertyValue, remove bool) error {
	nodeSlot, err := a.RS.Node(node)
	if err != nil {
		return err
	}
	return a.stageEntityProperty(&nodeSlot.After.NextProp, key, v, remove)
}

func (a *Accumulator) stageRelProperty(rel kv.ID, key uint32, v PropertyValue, remove bool) error {
	relSlot, err := a.RS.Relationship(rel)
	if err != nil {
		return err
	}
	return a.stageEntityProperty(&relSlot.After.FirstProp, key, v, remove)
}

// stageEntityProperty adds/updates/removes one key in the property
// chain rooted at *head, splitting into a new block when the current
// head block is full (§4.3 "adding/removing a property may split or
// coalesce chain blocks").
func (a *Accumulator) stageEntityProperty(head *kv.ID, key uint32, v PropertyValue, remove bool) error {
	// Walk existing chain looking for the key.
	cur := *head
	for cur != NoID {
		slot, err := a.RS.Property(cur)
		if err != nil {
			return err
		}
		for i, e := range slot.After.Entries {
			if e.Key == key {
				if remove {
					slot.After.Entries = append(slot.After.Entries[:i], slot.After.Entries[i+1:]...)
					return nil
				}
				slot.After.Entries[i] = a.encodeEntry(key, v)
				return nil
			}
		}
		cur = slot.After.Next
	}
	if remove {
		return nil // removing a key that was never set is a no-op
	}

	// Not found: append to head block if it has room, else allocate a
	// new head block and chain the old head after it.
	if *head != NoID {
		headSlot, err := a.RS.Property(*head)
		if err != nil {
			return err
		}
		if len(headSlot.After.Entries) < MaxEntriesPerPropertyBlock {
			headSlot.After.Entries = append(headSlot.After.Entries, a.encodeEntry(key, v))
			return nil
		}
	}
	newID := a.RS.AllocProp()
	newSlot, err := a.RS.Property(newID)
	if err != nil {
		return err
	}
	newSlot.After = PropertyRecord{ID: newID, InUse: true, Prev: NoID, Next: *head, Entries: []PropertyEntry{a.encodeEntry(key, v)}}
	if *head != NoID {
		oldHeadSlot, _ := a.RS.PropSlot(*head)
		oldHeadSlot.After.Prev = newID
	}
	*head = newID
	return nil
}

func (a *Accumulator) encodeEntry(key uint32, v PropertyValue) PropertyEntry {
	if len(v.Bytes) <= InlineValueLimit {
		return PropertyEntry{Key: key, Kind: ValueInline, Inline: v.Bytes}
	}
	kind := ValueString
	var overflowID kv.ID
	if v.IsArray {
		kind = ValueArray
		overflowID = a.RS.AllocPropArray()
		a.RS.StageArrayOverflow(overflowID, v.Bytes)
	} else {
		overflowID = a.RS.AllocPropString()
		a.RS.StageStringOverflow(overflowID, v.Bytes)
	}
	return PropertyEntry{Key: key, Kind: kind, OverflowID: overflowID}
}

func (a *Accumulator) VisitNodePropertyAdded(node kv.ID, key uint32, v PropertyValue) error {
	return a.stageNodeProperty(node, key, v, false)
}
func (a *Accumulator) VisitNodePropertyChanged(node kv.ID, key uint32, v PropertyValue) error {
	return a.stageNodeProperty(node, key, v, false)
}
func (a *Accumulator) VisitNodePropertyRemoved(node kv.ID, key uint32) error {
	return a.stageNodeProperty(node, key, PropertyValue{}, true)
}
func (a *Accumulator) VisitRelationshipPropertyAdded(rel kv.ID, key uint32, v PropertyValue) error {
	return a.stageRelProperty(rel, key, v, false)
}
func (a *Accumulator) VisitRelationshipPropertyChanged(rel kv.ID, key uint32, v PropertyValue) error {
	return a.stageRelProperty(rel, key, v, false)
}
func (a *Accumulator) VisitRelationshipPropertyRemoved(rel kv.ID, key uint32) error {
	return a.stageRelProperty(rel, key, PropertyValue{}, true)
}

func (a *Accumulator) VisitSchemaRuleCreated(rule SchemaRuleRecord) error {
	slot, err := a.RS.SchemaRule(rule.ID)
	if err != nil {
		return err
	}
	rule.InUse = true
	slot.After = rule
	return nil
}

func (a *Accumulator) VisitSchemaRuleDropped(id uint32) error {
	slot, err := a.RS.SchemaRule(id)
	if err != nil {
		return err
	}
	slot.After.InUse = false
	return nil
}

func (a *Accumulator) VisitTokenCreated(id uint32, kind TokenKind, name string) error {
	slot, err := a.RS.Token(id)
	if err != nil {
		return err
	}
	slot.After = TokenRecord{ID: id, InUse: true, Kind: kind, Name: name}
	return nil
}
