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

// Package worksync implements the Work-Sync Coordinators (C9):
// single-writer queues that serialize updates to a mutation-unsafe
// sink while letting independent sinks proceed in parallel (§4.5, §9
// "cooperative first-in drains all pattern").
package worksync

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type workItem struct {
	fn   func() error
	done chan error
}

// Coordinator serializes access to one sink. ApplyAsync enqueues work
// and ensures exactly one goroutine drains the queue at a time; the
// caller blocks until its own work has drained, but the drainer (picked
// cooperatively via a weighted semaphore of 1) also drains whatever
// else piled up in front of it - "work functions for the same sink are
// combined serially."
type Coordinator struct {
	name string

	mu    sync.Mutex
	queue []*workItem

	admit *semaphore.Weighted
}

// New constructs a Coordinator for the named sink (e.g. an id
// generator's name, "IndexListener", "NodeLabelScanListener",
// "RelationshipTypeScanListener").
func New(name string) *Coordinator {
	return &Coordinator{name: name, admit: semaphore.NewWeighted(1)}
}

func (c *Coordinator) Name() string { return c.name }

// ApplyAsync enqueues fn for serialized execution against this
// Coordinator's sink and blocks until fn (specifically) has run and
// returned, even though some other goroutine may be the one that
// actually executes it.
func (c *Coordinator) ApplyAsync(ctx context.Context, fn func() error) error {
	item := &workItem{fn: fn, done: make(chan error, 1)}

	c.mu.Lock()
	c.queue = append(c.queue, item)
	c.mu.Unlock()

	if err := c.admit.Acquire(ctx, 1); err != nil {
		return err
	}
	c.drain()
	c.admit.Release(1)

	select {
	case err := <-item.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs every item queued at the moment it is called, and keeps
// looping while new items arrive before the queue goes empty - so
// whichever goroutine wins the admission semaphore drains everything
// that piled up behind it, not just its own item.
func (c *Coordinator) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, item := range batch {
			item.done <- item.fn()
		}
	}
}

// QueueDepth reports the number of items currently queued, for tests
// and metrics; not meaningful as a precise snapshot under concurrency.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
