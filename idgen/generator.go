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

// Package idgen implements the per-record-type id allocators (C2):
// fresh-id allocation, freed-id reuse behind a configurable barrier,
// and a durable high-water mark.
package idgen

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/mathx"
)

// ErrOutOfIDs is returned by Allocate when the logical id space for a
// store is exhausted (§4.2).
var ErrOutOfIDs = errors.New("idgen: out of ids")

// ReuseBarrier decides whether a freed id may be reallocated yet. The
// typical barrier (§4.2): the freeing transaction must be durably
// committed and no older reader may still observe the id. The engine
// supplies a concrete barrier; tests can supply an always-true one.
type ReuseBarrier func(freedAtTxID uint64) bool

// Generator allocates, frees and marks ids for a single record store,
// and durably checkpoints its free-list and high-id.
type Generator struct {
	mu      sync.Mutex
	store   string
	highID  kv.ID
	free    []freedID
	barrier ReuseBarrier
}

type freedID struct {
	id      kv.ID
	atTxID  uint64
	pending bool
}

// New constructs a Generator for `store`, seeded from the store's
// current high id (e.g. from kv.RecordStore.HighID() at startup).
func New(store string, highID kv.ID, barrier ReuseBarrier) *Generator {
	if barrier == nil {
		barrier = func(uint64) bool { return true }
	}
	return &Generator{store: store, highID: highID, barrier: barrier}
}

// Allocate returns a fresh id, reusing a freed id that has cleared the
// reuse barrier when available, else bumping the high-water mark.
// Never blocks; only fails with ErrOutOfIDs when the logical id space
// (64-bit record ids) is exhausted.
func (g *Generator) Allocate() (kv.ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, f := range g.free {
		if !f.pending && g.barrier(f.atTxID) {
			g.free = append(g.free[:i], g.free[i+1:]...)
			return f.id, nil
		}
	}

	next, overflow := mathx.SafeAdd(uint64(g.highID), 1)
	if overflow {
		return 0, ErrOutOfIDs
	}
	g.highID = kv.ID(next)
	return g.highID, nil
}

// Free enqueues id for later reuse once it clears the reuse barrier.
// atTxID is the id of the transaction that freed it, used by the
// barrier to decide eligibility.
func (g *Generator) Free(id kv.ID, atTxID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.free = append(g.free, freedID{id: id, atTxID: atTxID})
}

// Mark records an externally-chosen id as used, during recovery replay
// (§4.2) - e.g. a HighIdApplier observed a write at this id and the
// generator's high-water mark must never issue it again.
func (g *Generator) Mark(id kv.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.highID {
		g.highID = id
	}
	for i := range g.free {
		if g.free[i].id == id {
			g.free[i].pending = true
		}
	}
}

// HighID returns the current high-water mark.
func (g *Generator) HighID() kv.ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.highID
}

// PendingFree returns the number of ids queued for reuse, for tests and
// metrics.
func (g *Generator) PendingFree() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.free)
}

// CheckpointState is the durable snapshot written by Checkpoint.
type CheckpointState struct {
	HighID kv.ID
	Free   []kv.ID
}

// Checkpoint flushes the free-list and high-id; persist is the
// caller-supplied durable sink (e.g. a MetaDataStore record or a small
// side file), keeping idgen decoupled from kv's encoding choices.
func (g *Generator) Checkpoint(persist func(CheckpointState) error) error {
	g.mu.Lock()
	state := CheckpointState{HighID: g.highID}
	for _, f := range g.free {
		state.Free = append(state.Free, f.id)
	}
	g.mu.Unlock()

	if err := persist(state); err != nil {
		return errors.Wrapf(err, "idgen: checkpoint %q", g.store)
	}
	return nil
}

// Registry owns one Generator per record store.
type Registry struct {
	mu         sync.RWMutex
	generators map[string]*Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[string]*Generator)}
}

func (r *Registry) Register(store string, gen *Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generators[store] = gen
}

func (r *Registry) Get(store string) (*Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.generators[store]
	return g, ok
}

// CheckpointAll checkpoints every registered generator in turn.
// Engine.FlushAndForce does not call it: the engine checkpoints each
// generator through its own work-sync coordinator, after the
// record-store flush.
func (r *Registry) CheckpointAll(persist func(store string, s CheckpointState) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, g := range r.generators {
		if err := g.Checkpoint(func(s CheckpointState) error { return persist(name, s) }); err != nil {
			return err
		}
	}
	return nil
}
