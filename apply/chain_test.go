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

package apply

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/erigontech/graphstore/command"
)

type recordingWriter struct{ writes []command.Command }

func (w *recordingWriter) WriteCommand(cmd command.Command) error {
	w.writes = append(w.writes, cmd)
	return nil
}

type recordingCounts struct {
	applied []bool
}

func (c *recordingCounts) ApplyCountsDelta(cmd command.Command, invert bool) error {
	c.applied = append(c.applied, invert)
	return nil
}
func (c *recordingCounts) ApplyDegreesDelta(cmd command.Command, invert bool) error {
	c.applied = append(c.applied, invert)
	return nil
}

type recordingListener struct{ n int }

func (l *recordingListener) OnCommandApplied(cmd command.Command) { l.n++ }

type recordingCache struct{ invalidated []uint32 }

func (c *recordingCache) InvalidateSchema(id uint32) { c.invalidated = append(c.invalidated, id) }
func (c *recordingCache) InvalidateToken(id uint32)  { c.invalidated = append(c.invalidated, id) }

type recordingObserver struct{ seen []uint64 }

func (o *recordingObserver) ObserveID(store string, id uint64) { o.seen = append(o.seen, id) }

func TestChainINTERNALSkipsHighIdTracking(t *testing.T) {
	writer := &recordingWriter{}
	counts := &recordingCounts{}
	listener := &recordingListener{}
	observer := &recordingObserver{}

	chain := NewChain(INTERNAL, Deps{Writer: writer, Counts: counts, Listener: listener, Observer: observer})
	err := chain.ApplyCommand(command.Command{Kind: command.NodeCmd, ID: 1})
	require.NoError(t, err)

	require.Len(t, writer.writes, 1)
	require.Len(t, counts.applied, 0) // NodeCmd doesn't touch CountsApplier's switch
	require.Empty(t, observer.seen, "INTERNAL must not track high ids")
}

func TestChainEXTERNALTracksHighIds(t *testing.T) {
	writer := &recordingWriter{}
	observer := &recordingObserver{}
	chain := NewChain(EXTERNAL, Deps{Writer: writer, Observer: observer})

	require.NoError(t, chain.ApplyCommand(command.Command{Kind: command.NodeCmd, ID: 42}))
	require.Equal(t, []uint64{42}, observer.seen)
}

func TestChainREVERSERECOVERYInvertsCounts(t *testing.T) {
	writer := &recordingWriter{}
	counts := &recordingCounts{}
	chain := NewChain(REVERSE_RECOVERY, Deps{Writer: writer, Counts: counts})

	// REVERSE_RECOVERY still wires CountsApplier, with Invert set, so an
	// undo applies the negated delta rather than skipping counts/degrees
	// application outright (DESIGN.md Open Question 1, invariant 5).
	require.NoError(t, chain.ApplyCommand(command.Command{Kind: command.CountsCmd}))
	require.NoError(t, chain.ApplyCommand(command.Command{Kind: command.DegreesCmd}))
	require.Equal(t, []bool{true, true}, counts.applied, "both counts and degrees deltas must be applied inverted")
}

type failingChecker struct{}

func (failingChecker) Check(cmd command.Command) error { return errors.New("boom") }

func TestChainAbortsOnFirstApplierError(t *testing.T) {
	writer := &recordingWriter{}
	chain := NewChain(INTERNAL, Deps{Writer: writer, Checker: failingChecker{}})

	err := chain.Apply(Batch{Transactions: [][]command.Command{
		{{Kind: command.NodeCmd, ID: 1}},
	}})
	require.Error(t, err)
	require.Empty(t, writer.writes, "NeoStoreApplier must not run after ConsistencyChecking fails")
}
