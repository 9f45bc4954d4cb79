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
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go.uber.org/zap"

	"github.com/erigontech/graphstore/apply"
	"github.com/erigontech/graphstore/command"
	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/idgen"
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/schema"
	"github.com/erigontech/graphstore/snapshot"
	"github.com/erigontech/graphstore/txstate"
	"github.com/erigontech/graphstore/validate"
	"github.com/erigontech/graphstore/worksync"
)

// fakeStore is an in-memory kv.RecordStore, standing in for mdbxStore in
// tests that exercise the engine wiring without touching a real MDBX
// environment.
type fakeStore struct {
	mu     sync.Mutex
	name   string
	size   int
	data   map[kv.ID]kv.Record
	highID kv.ID
}

func newFakeStore(name string, size int) *fakeStore {
	return &fakeStore{name: name, size: size, data: make(map[kv.ID]kv.Record)}
}

func (s *fakeStore) Name() string { return s.name }

func (s *fakeStore) Read(id kv.ID, mode kv.Mode) (kv.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[id]
	if !ok {
		switch mode {
		case kv.NORMAL:
			return kv.Record{}, false, kv.ErrNotInUse
		default:
			return kv.Record{ID: id}, false, nil
		}
	}
	if !rec.InUse && mode == kv.NORMAL {
		return kv.Record{}, false, kv.ErrNotInUse
	}
	return rec, true, nil
}

func (s *fakeStore) Write(rec kv.Record, listener kv.IDUpdateListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.ID] = rec
	if rec.ID > s.highID {
		s.highID = rec.ID
	}
	if listener != nil {
		listener.OnIDWritten(s.name, rec.ID)
	}
	return nil
}

func (s *fakeStore) NewRecord() kv.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highID++
	return kv.Record{ID: s.highID}
}

func (s *fakeStore) HighID() kv.ID          { s.mu.Lock(); defer s.mu.Unlock(); return s.highID }
func (s *fakeStore) ReservedLowIDs() kv.ID  { return kv.ReservedLowIDs }
func (s *fakeStore) FilePath() string       { return "/tmp/" + s.name }
func (s *fakeStore) RecordSize() int        { return s.size }
func (s *fakeStore) FlushAndForce() error   { return nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	stores := make(map[string]kv.RecordStore)
	for name, cfg := range kv.StoreTableCfg {
		if name == kv.CountsStore || name == kv.DegreesStore {
			continue
		}
		stores[name] = newFakeStore(name, cfg.RecordSize)
	}

	e := &Engine{
		cfg:      Config{DenseNodeThreshold: 50, Log: zap.NewNop()},
		stores:   stores,
		idGens:   idgen.NewRegistry(),
		counts:   counts.NewStore(),
		degrees:  counts.NewDegreesStore(),
		schema:   schema.NewCache(),
		worksync: worksync.NewRegistry(),
		metrics:  newEngineMetrics(),
		storeID:  "test-store",
	}
	e.healthy.Store(true)
	e.validator = validate.New(e.schema, nil)

	for name, st := range stores {
		e.idGens.Register(name, idgen.New(name, st.HighID(), nil))
		_, err := e.worksync.Register(name)
		require.NoError(t, err)
	}

	flushers := make(map[string]snapshot.RecordStoreFlusher, len(stores))
	for name, st := range stores {
		flushers[name] = st.(snapshot.RecordStoreFlusher)
	}
	e.chkpt = snapshot.NewCheckpointer(flushers, 4, nil)
	e.extractor = command.NewExtractor(kv.CurrentKernelVersion)
	return e
}

func TestEngineCreatesAppliesAndReadsBackACommittedTransaction(t *testing.T) {
	e := newTestEngine(t)

	rs := e.NewCommandCreationContext()
	n1 := rs.AllocNode()
	n2 := rs.AllocNode()
	r1 := rs.AllocRel()

	acc := txstate.NewAccumulator(rs, e.cfg.DenseNodeThreshold, e.cfg.RelaxedLockingForDenseNodes)
	require.NoError(t, acc.VisitCreatedNode(n1))
	require.NoError(t, acc.VisitCreatedNode(n2))
	require.NoError(t, acc.VisitCreatedRelationship(r1, 7, n1, n2))
	require.NoError(t, acc.VisitNodeLabelAdded(n1, 3))

	cmds, err := e.CreateCommands(rs)
	require.NoError(t, err)
	require.NotEmpty(t, cmds)

	err = e.Apply(apply.Batch{Transactions: [][]command.Command{cmds}}, apply.INTERNAL)
	require.NoError(t, err)
	require.True(t, e.Healthy())

	reader := e.NewReader()
	node, ok, err := reader.Node(n1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, node.InUse)
	require.Contains(t, node.Labels, uint32(3))

	rel, ok, err := reader.Relationship(r1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, rel.InUse)
	require.Equal(t, n1, rel.Start)
	require.Equal(t, n2, rel.End)
}

func TestEngineApplyMarksUnhealthyOnWriterFailure(t *testing.T) {
	e := newTestEngine(t)

	rs := e.NewCommandCreationContext()
	n1 := rs.AllocNode()
	acc := txstate.NewAccumulator(rs, e.cfg.DenseNodeThreshold, e.cfg.RelaxedLockingForDenseNodes)
	require.NoError(t, acc.VisitCreatedNode(n1))

	cmds, err := e.CreateCommands(rs)
	require.NoError(t, err)

	delete(e.stores, kv.NodeStore) // recordWriter.WriteCommand will fail to find the store
	err = e.Apply(apply.Batch{Transactions: [][]command.Command{cmds}}, apply.INTERNAL)
	require.Error(t, err)
	require.False(t, e.Healthy())

	// Once unhealthy, every subsequent Apply rethrows without retrying.
	err = e.Apply(apply.Batch{Transactions: [][]command.Command{cmds}}, apply.INTERNAL)
	require.Error(t, err)
}

func TestAddIndexUpdateListenerIsOneShot(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.AddIndexUpdateListener(noopListener{}))
	err := e.AddIndexUpdateListener(noopListener{})
	require.Error(t, err)
	var engErr *Error
	require.ErrorAs(t, err, &engErr)
	require.Equal(t, KindConfigurationError, engErr.Kind)
}

func TestFlushAndForcePersistsCheckpointFiles(t *testing.T) {
	e := newTestEngine(t)
	e.cfg.DataDir = t.TempDir()

	rs := e.NewCommandCreationContext()
	n1 := rs.AllocNode()
	acc := txstate.NewAccumulator(rs, e.cfg.DenseNodeThreshold, e.cfg.RelaxedLockingForDenseNodes)
	require.NoError(t, acc.VisitCreatedNode(n1))
	cmds, err := e.CreateCommands(rs)
	require.NoError(t, err)
	require.NoError(t, e.Apply(apply.Batch{Transactions: [][]command.Command{cmds}}, apply.INTERNAL))

	require.NoError(t, e.FlushAndForce(context.Background()))
	require.FileExists(t, filepath.Join(e.cfg.DataDir, "counts.snapshot"))
	require.FileExists(t, filepath.Join(e.cfg.DataDir, "degrees.snapshot"))
	require.FileExists(t, filepath.Join(e.cfg.DataDir, "idgen.snapshot"))
}

type noopListener struct{}

func (noopListener) OnCommandApplied(cmd command.Command) {}
