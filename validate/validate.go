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

// Package validate implements the Integrity Validator (C5): cross-store
// semantic checks that run after record-state accumulation and before
// command extraction (§4.3, §4.6).
package validate

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/schema"
	"github.com/erigontech/graphstore/txstate"
)

// Kind tags which §7 error kind a validation failure surfaces as.
type Kind uint8

const (
	KindValidation Kind = iota
	KindConstraint
	KindUpgradeConflict
)

// Error is the typed, user-surfaced error from §7: Validation and
// Constraint kinds abort the transaction cleanly; the kernel inspects
// Kind to decide retry/propagation policy.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

func newConstraintError(format string, args ...any) *Error {
	return &Error{Kind: KindConstraint, msg: fmt.Sprintf(format, args...)}
}

// LockTracer reports whether id is covered by a lock held by the
// committing transaction, used by lock-verification mode (§4.6 (d)).
type LockTracer interface {
	Covers(id kv.ID) bool
}

// Validator runs the C5 checks. Locks is nil unless lock-verification
// mode is enabled (§6 config has no direct toggle for this; the engine
// wires it only in debug/test builds per the teacher's convention of
// gating expensive cross-checks behind a build or config flag).
type Validator struct {
	Schema *schema.Cache
	Locks  LockTracer
}

func New(schemaCache *schema.Cache, locks LockTracer) *Validator {
	return &Validator{Schema: schemaCache, Locks: locks}
}

// ValidateRecordState runs every applicable check against the
// transaction's staged RecordState; rs.Node/.Relationship/etc have
// already been touched by the visitor by this point (§4.3 "Constraint
// validation (C5) runs after record-state accumulation and before
// command extraction").
func (v *Validator) ValidateRecordState(rs *txstate.RecordState) error {
	if err := v.validateNodeDeletions(rs); err != nil {
		return err
	}
	if err := v.validateSchemaRuleCreations(rs); err != nil {
		return err
	}
	if v.Locks != nil {
		if err := v.validateLockCoverage(rs); err != nil {
			return err
		}
	}
	return nil
}

// validateNodeDeletions implements §4.6 (a): "node deletion requires
// zero remaining relationships." A node is being deleted in this
// transaction when its after-image is not in use while its before
// image was in use is not required - a newly created-then-deleted node
// within the same transaction is also checked, since any relationship
// referencing it (also staged in rs) would violate invariant 1 anyway.
func (v *Validator) validateNodeDeletions(rs *txstate.RecordState) error {
	deletedNodes := make(map[kv.ID]bool)
	for _, id := range rs.SortedNodeIDs() {
		slot, _ := rs.NodeSlot(id)
		if slot.Existed && !slot.After.InUse {
			deletedNodes[id] = true
		}
	}
	if len(deletedNodes) == 0 {
		return nil
	}

	for _, id := range rs.SortedRelIDs() {
		slot, _ := rs.RelSlot(id)
		r := slot.After
		if !r.InUse {
			continue
		}
		if deletedNodes[r.Start] {
			return newValidationError("Cannot delete node %d because it still has relationships (relationship %d)", r.Start, id)
		}
		if deletedNodes[r.End] {
			return newValidationError("Cannot delete node %d because it still has relationships (relationship %d)", r.End, id)
		}
	}
	return nil
}

// validateSchemaRuleCreations implements §4.6 (b): structural
// preconditions on schema-rule creation - a rule must name at least one
// property key and must not duplicate an existing rule of the same kind
// on the same label/rel-type with the same property-key set.
func (v *Validator) validateSchemaRuleCreations(rs *txstate.RecordState) error {
	for _, id := range rs.SortedSchemaIDs() {
		slot, _ := rs.SchemaSlot(id)
		if !slot.After.InUse {
			continue
		}
		r := slot.After
		if len(r.PropertyKeys) == 0 {
			return newConstraintError("schema rule %d must reference at least one property key", id)
		}
		if v.Schema == nil {
			continue
		}
		var existingIDs []uint32
		if r.IsRelType {
			existingIDs = v.Schema.ByRelType(r.LabelOrRel)
		} else {
			existingIDs = v.Schema.ByLabel(r.LabelOrRel)
		}
		for _, existingID := range existingIDs {
			if uint32(existingID) == r.ID {
				continue
			}
			existing, ok := v.Schema.Get(existingID)
			if !ok || existing.Constraint != schema.ConstraintKind(r.Constraint) {
				continue
			}
			if sameKeys(existing.PropertyKeys, r.PropertyKeys) {
				return newConstraintError("schema rule %d duplicates existing rule %d", id, existingID)
			}
		}
	}
	return nil
}

// validateLockCoverage implements §4.6 (d): "every mutated record is
// covered by a held exclusive lock." A node marked by
// txstate.RecordState.MarkRelaxedNodeLock had its obligation relaxed by
// the relaxed_locking_for_dense_nodes external-degree optimization
// (§6): the lock actually held is on the relationship-group record the
// transaction mutated for that node, not the node record itself, so
// coverage is checked against that group instead.
func (v *Validator) validateLockCoverage(rs *txstate.RecordState) error {
	groupsByOwner := make(map[kv.ID][]kv.ID)
	for _, gid := range rs.SortedGroupIDs() {
		gslot, _ := rs.GroupSlot(gid)
		groupsByOwner[gslot.After.Owner] = append(groupsByOwner[gslot.After.Owner], gid)
	}

	for _, id := range rs.SortedNodeIDs() {
		if rs.IsRelaxedNodeLock(id) {
			covered := false
			for _, gid := range groupsByOwner[id] {
				if v.Locks.Covers(gid) {
					covered = true
					break
				}
			}
			if !covered {
				return newValidationError("node %d (relaxed lock) mutated without its relationship-group lock held", id)
			}
			continue
		}
		if !v.Locks.Covers(id) {
			return newValidationError("node %d mutated without a held lock", id)
		}
	}
	for _, id := range rs.SortedRelIDs() {
		if !v.Locks.Covers(id) {
			return newValidationError("relationship %d mutated without a held lock", id)
		}
	}
	return nil
}

func sameKeys(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[uint32]int, len(a))
	for _, k := range a {
		seen[k]++
	}
	for _, k := range b {
		seen[k]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// ValidateUpgradeCommand implements §4.6 (c): "upgrade commands require
// current < target and both in a recognised version set."
func ValidateUpgradeCommand(current, target kv.KernelVersion, recognised []kv.KernelVersion) error {
	if !current.Less(target) {
		return errors.Errorf("upgrade: current version %v is not less than target %v", current, target)
	}
	var currentOK, targetOK bool
	for _, rv := range recognised {
		if rv.Equal(current) {
			currentOK = true
		}
		if rv.Equal(target) {
			targetOK = true
		}
	}
	if !currentOK || !targetOK {
		return errors.Errorf("upgrade: versions %v -> %v are not both in the recognised version set", current, target)
	}
	return nil
}
