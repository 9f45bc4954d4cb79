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

package txstate

// GroupPressure smooths how hot a node's relationship insertion rate is
// across a window of recent transactions. Accumulator keeps one running
// value per node (updated on every relationship insert, sparse or
// dense) and consults it via ShouldRelaxLocking to decide whether
// relaxed_locking_for_dense_nodes (§6 config) should engage for that
// node's next group insertion.
//
// The excess/target clamped-adjustment shape is adapted from the EIP-4844
// excess-blob-gas formula: excess moves toward zero when growth is below
// target and accumulates above it otherwise, providing the same kind of
// smoothed backpressure signal blob-gas pricing needs, applied here to
// per-node relationship growth instead of per-block blob count.
func GroupPressure(priorExcess int64, observedDegreeDelta, targetDegreeDelta int64) int64 {
	excess := priorExcess + observedDegreeDelta - targetDegreeDelta
	if excess < 0 {
		return 0
	}
	return excess
}

// ShouldRelaxLocking reports whether a node's accumulated GroupPressure
// has crossed the relaxed-locking engagement point, a fraction of the
// hard dense_node_threshold: once a dense node is this hot, its
// lock-coverage obligation (§4.6(d)) is satisfied through the
// relationship-group record it mutates instead of the node record
// itself (the "external-degree optimization" from §6).
func ShouldRelaxLocking(pressure int64, denseNodeThreshold uint32) bool {
	return pressure >= int64(denseNodeThreshold)/2
}
