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
	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/apply"
	"github.com/erigontech/graphstore/command"
	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/idgen"
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/schema"
	"github.com/erigontech/graphstore/txstate"
)

// storeNameForKind maps a command kind to the kv store it targets,
// shared by recordWriter (where to write) and HighIdApplier's StoreOf
// (which id generator observed the id).
func storeNameForKind(k command.Kind) string {
	switch k {
	case command.NodeCmd:
		return kv.NodeStore
	case command.RelationshipCmd:
		return kv.RelationshipStore
	case command.RelationshipGroupCmd:
		return kv.RelationshipGroupStore
	case command.PropertyCmd:
		return kv.PropertyStore
	case command.PropertyStringCmd:
		return kv.PropertyStringStore
	case command.PropertyArrayCmd:
		return kv.PropertyArrayStore
	case command.SchemaCmd:
		return kv.SchemaStore
	case command.TokenCmd:
		return kv.TokenStore
	case command.MetaDataCmd:
		return kv.MetaDataStore
	default:
		return ""
	}
}

// recordWriter implements apply.RecordWriter (applier 2, NeoStoreApplier):
// it re-encodes the command's after-image and writes it to the matching
// kv.RecordStore. CountsCmd/DegreesCmd are no-ops here; CountsApplier
// owns those.
type recordWriter struct {
	stores map[string]kv.RecordStore
}

func (w *recordWriter) WriteCommand(cmd command.Command) error {
	name := storeNameForKind(cmd.Kind)
	if name == "" {
		return nil
	}
	store, ok := w.stores[name]
	if !ok {
		return errors.Errorf("engine: no store registered for %s", name)
	}

	var rec kv.Record
	switch cmd.Kind {
	case command.NodeCmd:
		r, err := txstate.EncodeNode(cmd.Node.After)
		if err != nil {
			return err
		}
		rec = r
	case command.RelationshipCmd:
		rec = txstate.EncodeRelationship(cmd.Relationship.After)
	case command.RelationshipGroupCmd:
		rec = txstate.EncodeGroup(cmd.Group.After)
	case command.PropertyCmd:
		rec = txstate.EncodeProperty(cmd.Property.After)
	case command.PropertyStringCmd:
		rec = kv.Record{ID: kv.ID(cmd.ID), InUse: true, Payload: cmd.PropertyString.After}
	case command.PropertyArrayCmd:
		rec = kv.Record{ID: kv.ID(cmd.ID), InUse: true, Payload: cmd.PropertyArray.After}
	case command.SchemaCmd:
		rec = txstate.EncodeSchemaRule(cmd.Schema.After)
	case command.TokenCmd:
		rec = txstate.EncodeToken(cmd.Token.After)
	case command.MetaDataCmd:
		rec = txstate.EncodeMetaData(cmd.MetaData.After)
	default:
		return nil
	}
	return store.Write(rec, kv.IGNORE)
}

// countsSink implements apply.CountsSink (applier 5): applies a
// transaction's accumulated counts/degrees deltas, negated when invert
// is set (REVERSE_RECOVERY, DESIGN.md Open Question 1).
type countsSink struct {
	counts  *counts.Store
	degrees *counts.DegreesStore
}

func (s *countsSink) ApplyCountsDelta(cmd command.Command, invert bool) error {
	if cmd.Counts == nil {
		return nil
	}
	delta := cmd.Counts.Delta
	if invert {
		delta = -delta
	}
	s.counts.Apply(cmd.Counts.Key, delta)
	return nil
}

func (s *countsSink) ApplyDegreesDelta(cmd command.Command, invert bool) error {
	if cmd.Degrees == nil {
		return nil
	}
	delta := cmd.Degrees.Delta
	if invert {
		delta = -delta
	}
	s.degrees.Add(cmd.Degrees.Key, delta)
	return nil
}

// schemaCacheSync implements apply.CacheInvalidator (applier 4): keeps
// the schema.Cache (C4) equal to the durable schema store between
// transactions (invariant 4), by re-reading whatever the command just
// wrote rather than trying to patch the cache incrementally.
type schemaCacheSync struct {
	cache   *schema.Cache
	loader  *storeLoader
}

func (s *schemaCacheSync) InvalidateSchema(id uint32) {
	rec, ok, err := s.loader.LoadSchemaRule(id)
	if err != nil {
		return
	}
	if !ok || !rec.InUse {
		s.cache.Remove(id)
		return
	}
	s.cache.Put(schema.Rule{
		ID:           rec.ID,
		LabelOrRel:   rec.LabelOrRel,
		IsRelType:    rec.IsRelType,
		PropertyKeys: rec.PropertyKeys,
		Constraint:   schema.ConstraintKind(rec.Constraint),
	})
}

// InvalidateToken is a no-op: the schema cache indexes rules, not token
// names, and token lookups are served directly from TokenStore via
// StorageReader.Token.
func (s *schemaCacheSync) InvalidateToken(id uint32) {}

// idObserver implements apply.HighIDObserver (applier 3): propagates an
// id seen in an externally-sourced or replayed command into the
// matching id generator, so it never reissues an id already on disk.
type idObserver struct {
	idGens *idgen.Registry
}

func (o *idObserver) ObserveID(store string, id uint64) {
	if g, ok := o.idGens.Get(store); ok {
		g.Mark(kv.ID(id))
	}
}

// formatChecker implements apply.ConsistencyChecker (applier 1, debug
// only): the one cheap per-command check that does not require the full
// RecordState that validate.Validator works over - that every command
// was extracted under the kernel version the engine is currently
// running, catching a stale batch replayed against a since-upgraded
// store before NeoStoreApplier writes it.
type formatChecker struct {
	want kv.KernelVersion
}

func (c *formatChecker) Check(cmd command.Command) error {
	if cmd.Kind == command.MetaDataCmd {
		return nil
	}
	if cmd.FormatVersion != c.want {
		return errors.Errorf("command %s %d stamped with format %v, engine runtime is %v", cmd.Kind, cmd.ID, cmd.FormatVersion, c.want)
	}
	return nil
}

// compositeListener fans a single applied command out to every
// registered one-shot listener (index, node-label-scan,
// relationship-type-scan) without requiring the Applier Chain to know
// there are three of them (§6 addIndexUpdateListener et al.).
type compositeListener struct {
	listeners []apply.IndexListener
}

func (c *compositeListener) OnCommandApplied(cmd command.Command) {
	for _, l := range c.listeners {
		l.OnCommandApplied(cmd)
	}
}
