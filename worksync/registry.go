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

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Registry owns one Coordinator per mutation-unsafe sink: each id
// generator, the index listener, the node-label-scan listener, the
// relationship-type-scan listener (§4.5).
type Registry struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
}

func NewRegistry() *Registry {
	return &Registry{coordinators: make(map[string]*Coordinator)}
}

// Register installs a new Coordinator under name. A second
// registration under the same name is a ConfigurationError per §3
// ("attempting a second registration is a fatal configuration error").
func (r *Registry) Register(name string) (*Coordinator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.coordinators[name]; exists {
		return nil, errors.Errorf("worksync: sink %q already registered", name)
	}
	c := New(name)
	r.coordinators[name] = c
	return c, nil
}

func (r *Registry) Get(name string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coordinators[name]
	return c, ok
}

// RunAll dispatches fn against every registered coordinator
// concurrently via errgroup.Group, honoring "for different sinks they
// run in parallel" (§4.5). Used by the engine's checkpoint path to
// flush every id generator's free-list at once.
func (r *Registry) RunAll(ctx context.Context, fn func(name string, c *Coordinator) error) error {
	r.mu.RLock()
	coordinators := make(map[string]*Coordinator, len(r.coordinators))
	for k, v := range r.coordinators {
		coordinators[k] = v
	}
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for name, c := range coordinators {
		name, c := name, c
		g.Go(func() error { return fn(name, c) })
	}
	return g.Wait()
}
