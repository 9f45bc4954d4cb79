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

package replay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erigontech/graphstore/apply"
	"github.com/erigontech/graphstore/command"
	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/engine"
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/txstate"
)

// S1: basic commit.
func TestS1BasicCommit(t *testing.T) {
	e := newTestEngine(t)

	rs := e.NewCommandCreationContext()
	n1 := rs.AllocNode()
	acc := txstate.NewAccumulator(rs, e.DenseNodeThreshold(), e.RelaxedLockingForDenseNodes())
	require.NoError(t, acc.VisitCreatedNode(n1))
	require.NoError(t, acc.VisitNodeLabelAdded(n1, labelA))
	require.NoError(t, acc.VisitNodePropertyAdded(n1, propName, txstate.PropertyValue{Bytes: []byte("x")}))

	commit(t, e, rs)

	r := e.NewReader()
	node, ok, err := r.Node(n1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, node.InUse)
	require.Contains(t, node.Labels, labelA)

	chain, err := r.PropertyChain(node.NextProp)
	require.NoError(t, err)
	require.Len(t, chain, 1)
	require.Len(t, chain[0].Entries, 1)
	require.Equal(t, propName, chain[0].Entries[0].Key)
	require.Equal(t, []byte("x"), chain[0].Entries[0].Inline)

	require.EqualValues(t, 1, e.Count(counts.Key{Label: labelA, RelType: kv.ANYType, OtherLabel: kv.ANYLabel}))
}

// S2: deny deletion with remaining relationships. validateNodeDeletions
// only inspects relationships already touched in the committing
// transaction's RecordState, so the deleting transaction must stage the
// conflicting relationship itself (rs2.Relationship(r1)) to reproduce
// what the kernel's tx-state walk would have surfaced upstream.
func TestS2DenyDeletionWithRelationships(t *testing.T) {
	e := newTestEngine(t)

	rs := e.NewCommandCreationContext()
	n1 := rs.AllocNode()
	n2 := rs.AllocNode()
	r1 := rs.AllocRel()
	acc := txstate.NewAccumulator(rs, e.DenseNodeThreshold(), e.RelaxedLockingForDenseNodes())
	require.NoError(t, acc.VisitCreatedNode(n1))
	require.NoError(t, acc.VisitCreatedNode(n2))
	require.NoError(t, acc.VisitCreatedRelationship(r1, relTypeR, n1, n2))
	commit(t, e, rs)

	rs2 := e.NewCommandCreationContext()
	_, err := rs2.Relationship(r1) // stage the still-live relationship
	require.NoError(t, err)
	acc2 := txstate.NewAccumulator(rs2, e.DenseNodeThreshold(), e.RelaxedLockingForDenseNodes())
	require.NoError(t, acc2.VisitDeletedNode(n1))

	_, err = e.CreateCommands(rs2)
	require.Error(t, err)
	require.Regexp(t, `Cannot delete.*because it still has relationships`, err.Error())

	r := e.NewReader()
	node, ok, err := r.Node(n1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, node.InUse)
}

// S3: dense transition. All relationships must remain reachable through
// the node's relationship-group chain once it crosses the threshold.
func TestS3DenseTransition(t *testing.T) {
	const threshold = 10
	e := newTestEngine(t, engine.WithDenseNodeThreshold(threshold))

	rs := e.NewCommandCreationContext()
	n1 := rs.AllocNode()
	acc := txstate.NewAccumulator(rs, e.DenseNodeThreshold(), e.RelaxedLockingForDenseNodes())
	require.NoError(t, acc.VisitCreatedNode(n1))

	others := make([]kv.ID, threshold)
	rels := make([]kv.ID, threshold)
	for i := 0; i < threshold; i++ {
		others[i] = rs.AllocNode()
		require.NoError(t, acc.VisitCreatedNode(others[i]))
		rels[i] = rs.AllocRel()
		require.NoError(t, acc.VisitCreatedRelationship(rels[i], relTypeR, n1, others[i]))
	}
	commit(t, e, rs)

	r := e.NewReader()
	node, ok, err := r.Node(n1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, node.Dense)
	require.Equal(t, txstate.NoID, node.NextRel)
	require.NotEqual(t, txstate.NoID, node.FirstGroup)

	group, ok, err := r.RelationshipGroup(node.FirstGroup)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, relTypeR, group.Type)
	require.NotEqual(t, txstate.NoID, group.FirstOut)

	seen := make(map[kv.ID]bool)
	for cur := group.FirstOut; cur != txstate.NoID; {
		rel, ok, err := r.Relationship(cur)
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, rel.InUse)
		seen[cur] = true
		cur = rel.NextAtStart
	}
	require.Len(t, seen, threshold)
	for _, rid := range rels {
		require.True(t, seen[rid], "relationship %d unreachable via group chain", rid)
	}

	require.EqualValues(t, threshold, e.Degree(counts.DegreeKey{Group: group.ID, Direction: counts.Outgoing}))
}

// S4: upgrade on first write. The runtime version bumps after the store
// already holds an explicit, durable V0 meta-data record; the next
// write-commit must inject a lone MetaDataCmd(V0->V1) transaction ahead
// of the user's write, and everything extracted after it is tagged V1.
func TestS4UpgradeOnFirstWrite(t *testing.T) {
	v0 := kv.KernelVersion{Major: 1, Minor: 0, Patch: 0}
	v1 := kv.KernelVersion{Major: 1, Minor: 1, Patch: 0}

	original := kv.CurrentKernelVersion
	kv.CurrentKernelVersion = v0
	defer func() { kv.CurrentKernelVersion = original }()

	e := newTestEngine(t, engine.WithAllowSingleAutomaticUpgrade(true), engine.WithConsistencyCheckOnApply(true))

	// Stamp an explicit V0 meta-data record so the on-disk kv no longer
	// tracks the live kv.CurrentKernelVersion var once it moves.
	rs0 := e.NewCommandCreationContext()
	meta, err := rs0.MetaData()
	require.NoError(t, err)
	meta.After.KernelVersion = v0
	commit(t, e, rs0)

	current, err := e.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, v0, current)

	// Simulate the binary being upgraded underneath a running store: a
	// read-only operation must not observe any change.
	kv.CurrentKernelVersion = v1
	current, err = e.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, v0, current)

	ctx := context.Background()
	outcome, err := e.BeginWriteCommit(ctx)
	require.NoError(t, err)
	require.NotNil(t, outcome.Prefix)
	require.Equal(t, command.MetaDataCmd, outcome.Prefix.Kind)
	require.Equal(t, v0, outcome.Prefix.MetaData.Before.KernelVersion)
	require.Equal(t, v1, outcome.Prefix.MetaData.After.KernelVersion)

	require.NoError(t, e.Apply(apply.Batch{Transactions: [][]command.Command{{*outcome.Prefix}}}, apply.INTERNAL))

	rs1 := e.NewCommandCreationContext()
	n1 := rs1.AllocNode()
	acc := txstate.NewAccumulator(rs1, e.DenseNodeThreshold(), e.RelaxedLockingForDenseNodes())
	require.NoError(t, acc.VisitCreatedNode(n1))
	cmds := commit(t, e, rs1)
	for _, c := range cmds {
		require.Equal(t, v1, c.FormatVersion)
	}

	outcome.ReleaseShared()

	current, err = e.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, v1, current)
}

// S5: upgrade deadlock retry. A "committing" transaction holds the
// shared upgrade lock across the upgrade trigger's bounded exclusive
// wait; the injector must back off, log the retry, and let both
// transactions commit at the old version. The very next write (with
// nothing else holding the shared lock) completes the upgrade.
func TestS5UpgradeDeadlockRetry(t *testing.T) {
	v0 := kv.KernelVersion{Major: 2, Minor: 0, Patch: 0}
	v1 := kv.KernelVersion{Major: 2, Minor: 1, Patch: 0}

	original := kv.CurrentKernelVersion
	kv.CurrentKernelVersion = v0
	defer func() { kv.CurrentKernelVersion = original }()

	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core)

	e := newTestEngine(t,
		engine.WithLogger(log),
		engine.WithAllowSingleAutomaticUpgrade(true),
		engine.WithUpgradeExclusiveWaitTimeout(100*time.Millisecond),
	)

	rs0 := e.NewCommandCreationContext()
	meta, err := rs0.MetaData()
	require.NoError(t, err)
	meta.After.KernelVersion = v0
	commit(t, e, rs0)

	ctx := context.Background()

	// T1 begins its write-commit while kv still equals rv: it takes the
	// shared lock and holds it open, standing in for a transaction still
	// writing when the runtime version bumps underneath it.
	t1, err := e.BeginWriteCommit(ctx)
	require.NoError(t, err)
	require.Nil(t, t1.Prefix)

	kv.CurrentKernelVersion = v1

	// T2 is the upgrade trigger: it cannot win the exclusive lock while
	// T1 still holds a shared slot, so it must back off non-fatally.
	var t2Outcome struct {
		prefix        *command.Command
		releaseShared func()
		err           error
	}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome, err := e.BeginWriteCommit(ctx)
		t2Outcome.err = err
		t2Outcome.prefix = outcome.Prefix
		t2Outcome.releaseShared = outcome.ReleaseShared
	}()
	wg.Wait()

	require.NoError(t, t2Outcome.err)
	require.Nil(t, t2Outcome.prefix)
	found := false
	for _, entry := range logs.All() {
		if entry.Message == "Upgrade from X to Y not possible right now due to conflicting transaction, will retry on next write" {
			found = true
		}
	}
	require.True(t, found, "expected the upgrade-retry log line")

	t1.ReleaseShared()
	t2Outcome.releaseShared()

	current, err := e.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, v0, current, "both T1 and T2 must commit at the old version")

	// The next write, uncontended, completes the upgrade.
	outcome3, err := e.BeginWriteCommit(ctx)
	require.NoError(t, err)
	require.NotNil(t, outcome3.Prefix)
	require.NoError(t, e.Apply(apply.Batch{Transactions: [][]command.Command{{*outcome3.Prefix}}}, apply.INTERNAL))
	outcome3.ReleaseShared()

	current, err = e.CurrentVersion()
	require.NoError(t, err)
	require.Equal(t, v1, current)
}

// S6: recovery idempotence. Replaying the same committed batch twice
// through apply.RECOVERY (record writes are unconditional after-image
// overwrites, id observation is a monotonic high-water mark) must leave
// the record stores in the same state as replaying it once.
func TestS6RecoveryIdempotence(t *testing.T) {
	e := newTestEngine(t)

	rs := e.NewCommandCreationContext()
	n1 := rs.AllocNode()
	n2 := rs.AllocNode()
	r1 := rs.AllocRel()
	acc := txstate.NewAccumulator(rs, e.DenseNodeThreshold(), e.RelaxedLockingForDenseNodes())
	require.NoError(t, acc.VisitCreatedNode(n1))
	require.NoError(t, acc.VisitCreatedNode(n2))
	require.NoError(t, acc.VisitCreatedRelationship(r1, relTypeR, n1, n2))
	require.NoError(t, acc.VisitNodeLabelAdded(n1, labelA))

	cmds, err := e.CreateCommands(rs)
	require.NoError(t, err)

	batch := apply.Batch{Transactions: [][]command.Command{cmds}}
	require.NoError(t, e.Apply(batch, apply.RECOVERY))

	r := e.NewReader()
	firstNode, ok, err := r.Node(n1)
	require.NoError(t, err)
	require.True(t, ok)
	firstRel, ok, err := r.Relationship(r1)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.Apply(batch, apply.RECOVERY))

	r2 := e.NewReader()
	secondNode, ok, err := r2.Node(n1)
	require.NoError(t, err)
	require.True(t, ok)
	secondRel, ok, err := r2.Relationship(r1)
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, firstNode, secondNode)
	require.Equal(t, firstRel, secondRel)
}
