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

package worksync

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoordinatorSerializesSameSink(t *testing.T) {
	c := New("TestSink")
	ctx := context.Background()

	var counter int64
	var maxObserved int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.ApplyAsync(ctx, func() error {
				n := atomic.AddInt64(&counter, 1)
				for {
					cur := atomic.LoadInt64(&maxObserved)
					if n <= cur || atomic.CompareAndSwapInt64(&maxObserved, cur, n) {
						break
					}
				}
				atomic.AddInt64(&counter, -1)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, maxObserved, "no two work items for the same sink should run concurrently")
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("IndexListener")
	require.NoError(t, err)
	_, err = r.Register("IndexListener")
	require.Error(t, err)
}

func TestRegistryRunAllIsParallelAcrossSinks(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register("A")
	_, _ = r.Register("B")

	var names []string
	var mu sync.Mutex
	err := r.RunAll(context.Background(), func(name string, c *Coordinator) error {
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	require.Len(t, names, 2)
}
