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

// Package replay exercises the engine end-to-end against a real
// MDBX-backed data directory, covering the scenarios from spec.md §8:
// this is the "restart and replay the log" layer the unit tests in
// engine/ (built over an in-memory fakeStore) do not reach.
package replay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erigontech/graphstore/apply"
	"github.com/erigontech/graphstore/command"
	"github.com/erigontech/graphstore/engine"
	"github.com/erigontech/graphstore/txstate"
)

func newTestEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	allOpts := append([]engine.Option{engine.WithDataDir(t.TempDir())}, opts...)
	e, err := engine.New(allOpts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// commit stages rs through validation/extraction/apply as a single
// INTERNAL write-commit, the common path every scenario below starts
// from.
func commit(t *testing.T, e *engine.Engine, rs *txstate.RecordState) []command.Command {
	t.Helper()
	cmds, err := e.CreateCommands(rs)
	require.NoError(t, err)
	require.NoError(t, e.Apply(apply.Batch{Transactions: [][]command.Command{cmds}}, apply.INTERNAL))
	return cmds
}

const (
	labelA   uint32 = 1
	relTypeR uint32 = 7
	propName uint32 = 3
)
