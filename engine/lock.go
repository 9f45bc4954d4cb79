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
	"time"

	"golang.org/x/sync/semaphore"
)

// upgradeWeight is the semaphore's total weight. A shared holder takes
// 1; an exclusive holder takes the whole weight, which only succeeds
// once every shared holder has released - the standard "reader count
// as weighted units" trick for building a cancellable RWMutex out of a
// weighted semaphore (§5 "shared/exclusive upgrade lock").
const upgradeWeight = 1 << 20

// semaphoreUpgradeLock implements upgrade.UpgradeLock on top of a
// single weighted semaphore, giving TryAcquireExclusive a real
// context-bounded wait where sync.RWMutex offers none.
type semaphoreUpgradeLock struct {
	sem *semaphore.Weighted
}

func newUpgradeLock() *semaphoreUpgradeLock {
	return &semaphoreUpgradeLock{sem: semaphore.NewWeighted(upgradeWeight)}
}

func (l *semaphoreUpgradeLock) AcquireShared(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { l.sem.Release(1) }, nil
}

func (l *semaphoreUpgradeLock) TryAcquireExclusive(ctx context.Context, timeout time.Duration) (func(), bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, upgradeWeight); err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		// Only the bounded wait itself expired - a conflicting transaction
		// is still holding a shared slot; non-fatal per §4.7.
		return nil, false, nil
	}
	return func() { l.sem.Release(upgradeWeight) }, true, nil
}
