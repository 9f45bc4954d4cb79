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

// Package upgrade implements the Upgrade Protocol (C10): detects a
// runtime-version bump and synthesizes a version-transition command as
// the first command of the next write transaction (§4.7).
package upgrade

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/erigontech/graphstore/command"
	"github.com/erigontech/graphstore/kv"
)

// ErrFatalVersionRegression is returned when kv > rv: the store is
// newer than the runtime knows how to write (§4.7 "fatal: refuse to
// write").
var ErrFatalVersionRegression = errors.New("upgrade: store kernel version is newer than runtime version")

// ErrUpgradeConflict is returned (non-fatally, §7) when the exclusive
// upgrade lock could not be acquired within the bounded wait window.
var ErrUpgradeConflict = errors.New("upgrade: could not acquire exclusive upgrade lock")

// UpgradeLock is the shared/exclusive lock pair from §5 ("A shared
// upgrade lock held by every write-commit for its duration. An
// exclusive upgrade lock acquired only by an upgrade command
// injector."). The engine supplies a concrete implementation backed by
// its lock manager; this package only calls the contract.
type UpgradeLock interface {
	AcquireShared(ctx context.Context) (release func(), err error)
	TryAcquireExclusive(ctx context.Context, timeout time.Duration) (release func(), ok bool, err error)
}

// Protocol runs the §4.7 state machine once per write-commit entry.
type Protocol struct {
	Lock                        UpgradeLock
	AllowSingleAutomaticUpgrade bool
	ExclusiveWaitTimeout        time.Duration
	Log                         *zap.Logger
}

func NewProtocol(lock UpgradeLock, allowAutomaticUpgrade bool, exclusiveWaitTimeout time.Duration, log *zap.Logger) *Protocol {
	if log == nil {
		log = zap.NewNop()
	}
	if exclusiveWaitTimeout <= 0 {
		exclusiveWaitTimeout = 2 * time.Second
	}
	return &Protocol{
		Lock:                        lock,
		AllowSingleAutomaticUpgrade: allowAutomaticUpgrade,
		ExclusiveWaitTimeout:        exclusiveWaitTimeout,
		Log:                         log,
	}
}

// Outcome reports what OnWriteCommit decided for this write-commit.
type Outcome struct {
	// Prefix is non-nil exactly when an upgrade transaction must be
	// injected as the sole, first transaction ahead of the user's
	// commands (§4.7).
	Prefix *command.Command
	// ReleaseShared must be called once the caller's commands have been
	// extracted and the shared upgrade lock is no longer needed for this
	// commit.
	ReleaseShared func()
}

// OnWriteCommit runs the state machine:
//
//	if kv == rv:  proceed normally
//	elif kv < rv: attempt upgrade
//	elif kv > rv: fatal: refuse to write
//
// currentKV is the value the caller read before calling, without any
// upgrade lock held; it is compared as given and is not re-read under
// either lock.
func (p *Protocol) OnWriteCommit(ctx context.Context, currentKV, runtimeKV kv.KernelVersion) (Outcome, error) {
	if currentKV.Equal(runtimeKV) {
		release, err := p.Lock.AcquireShared(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{ReleaseShared: release}, nil
	}
	if runtimeKV.Less(currentKV) {
		return Outcome{}, errors.Wrapf(ErrFatalVersionRegression, "store=%v runtime=%v", currentKV, runtimeKV)
	}
	if !p.AllowSingleAutomaticUpgrade {
		release, err := p.Lock.AcquireShared(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{ReleaseShared: release}, nil
	}
	return p.attemptUpgrade(ctx, currentKV, runtimeKV)
}

// attemptUpgrade takes the exclusive upgrade lock ahead of the user's
// command extraction and, with it held, returns a MetaData command
// (observedKV -> runtimeKV) as the batch prefix, ahead of every user
// command. observedKV is the caller's value; kv is not read again here.
//
// On conflict (deadlock handling, §4.7): "logs ...will retry on next
// write..., and commits the user's transaction under the old version."
func (p *Protocol) attemptUpgrade(ctx context.Context, observedKV, runtimeKV kv.KernelVersion) (Outcome, error) {
	release, ok, err := p.Lock.TryAcquireExclusive(ctx, p.ExclusiveWaitTimeout)
	if err != nil {
		return Outcome{}, err
	}
	if !ok {
		p.Log.Info("Upgrade from X to Y not possible right now due to conflicting transaction, will retry on next write",
			zap.String("from", observedKV.String()), zap.String("to", runtimeKV.String()))
		sharedRelease, sErr := p.Lock.AcquireShared(ctx)
		if sErr != nil {
			return Outcome{}, sErr
		}
		return Outcome{ReleaseShared: sharedRelease}, nil
	}
	defer release()

	// This repeats the comparison on the observedKV passed in; it does
	// not re-read kv from the store, so an upgrade that another writer
	// completed after the caller's read is not detected here.
	if !observedKV.Less(runtimeKV) {
		sharedRelease, sErr := p.Lock.AcquireShared(ctx)
		if sErr != nil {
			return Outcome{}, sErr
		}
		return Outcome{ReleaseShared: sharedRelease}, nil
	}

	prefix := command.NewMetaDataCommand(observedKV, runtimeKV)
	sharedRelease, sErr := p.Lock.AcquireShared(ctx)
	if sErr != nil {
		return Outcome{}, sErr
	}
	return Outcome{Prefix: &prefix, ReleaseShared: sharedRelease}, nil
}
