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

package upgrade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/graphstore/command"
	"github.com/erigontech/graphstore/kv"
)

type fakeLock struct {
	exclusiveAvailable bool
	sharedAcquires     int
	exclusiveAcquires  int
}

func (f *fakeLock) AcquireShared(ctx context.Context) (func(), error) {
	f.sharedAcquires++
	return func() {}, nil
}

func (f *fakeLock) TryAcquireExclusive(ctx context.Context, timeout time.Duration) (func(), bool, error) {
	if !f.exclusiveAvailable {
		return nil, false, nil
	}
	f.exclusiveAcquires++
	return func() {}, true, nil
}

func TestOnWriteCommitNoOpWhenVersionsEqual(t *testing.T) {
	lock := &fakeLock{}
	p := NewProtocol(lock, true, 0, nil)
	v := kv.KernelVersion{Major: 1}

	out, err := p.OnWriteCommit(context.Background(), v, v)
	require.NoError(t, err)
	require.Nil(t, out.Prefix)
	require.Equal(t, 1, lock.sharedAcquires)
}

func TestOnWriteCommitFatalOnRegression(t *testing.T) {
	lock := &fakeLock{}
	p := NewProtocol(lock, true, 0, nil)

	_, err := p.OnWriteCommit(context.Background(), kv.KernelVersion{Major: 2}, kv.KernelVersion{Major: 1})
	require.ErrorIs(t, err, ErrFatalVersionRegression)
}

// TestOnWriteCommitUpgradeInjectsPrefix is S4: the first write after a
// runtime bump carries exactly one MetaDataCmd prefix at the new
// version, and nothing else.
func TestOnWriteCommitUpgradeInjectsPrefix(t *testing.T) {
	lock := &fakeLock{exclusiveAvailable: true}
	p := NewProtocol(lock, true, 0, nil)

	v0 := kv.KernelVersion{Major: 0}
	v1 := kv.KernelVersion{Major: 1}

	out, err := p.OnWriteCommit(context.Background(), v0, v1)
	require.NoError(t, err)
	require.NotNil(t, out.Prefix)
	require.Equal(t, command.MetaDataCmd, out.Prefix.Kind)
	require.Equal(t, v0, out.Prefix.MetaData.Before.KernelVersion)
	require.Equal(t, v1, out.Prefix.MetaData.After.KernelVersion)
	require.Equal(t, 1, lock.exclusiveAcquires)
}

// TestOnWriteCommitConflictSkipsUpgrade is S5: when the exclusive lock
// cannot be acquired, the upgrade is skipped (retried on next write) and
// the caller's own transaction still proceeds under the old version.
func TestOnWriteCommitConflictSkipsUpgrade(t *testing.T) {
	lock := &fakeLock{exclusiveAvailable: false}
	p := NewProtocol(lock, true, 0, nil)

	out, err := p.OnWriteCommit(context.Background(), kv.KernelVersion{Major: 0}, kv.KernelVersion{Major: 1})
	require.NoError(t, err)
	require.Nil(t, out.Prefix)
	require.Equal(t, 1, lock.sharedAcquires)
	require.Equal(t, 0, lock.exclusiveAcquires)
}

func TestOnWriteCommitUpgradeGatedByConfig(t *testing.T) {
	lock := &fakeLock{exclusiveAvailable: true}
	p := NewProtocol(lock, false, 0, nil)

	out, err := p.OnWriteCommit(context.Background(), kv.KernelVersion{Major: 0}, kv.KernelVersion{Major: 1})
	require.NoError(t, err)
	require.Nil(t, out.Prefix)
	require.Equal(t, 0, lock.exclusiveAcquires)
}
