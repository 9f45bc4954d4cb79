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

// Package snapshot implements flushAndForce() and listStorageFiles()
// from spec.md §6/§4.8: checkpoint ordering across the counts store,
// degrees store and record stores, plus the file manifest that tells
// operators which files are replayable from the log versus which must
// be backed up atomically. Adapted from the teacher's snapshot
// downloader/manifest machinery (turbo/snapshotsync), with the
// BitTorrent seeding/download machinery dropped - there is nothing here
// to seed to peers, only a local checkpoint barrier to order.
package snapshot

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/kv"
)

// RecordStoreFlusher flushes one record store's page cache to disk.
type RecordStoreFlusher interface {
	FlushAndForce() error
}

// Checkpointer owns everything flushAndForce needs: the counts/degrees
// stores and every record store, keyed by name.
type Checkpointer struct {
	Counts       *counts.Store
	Degrees      *counts.DegreesStore
	RecordStores map[string]RecordStoreFlusher

	// limiter bounds how many record-store flushes run concurrently,
	// playing the role of the teacher's download/merge concurrency
	// limiter but for local fsync work instead of network transfer.
	limiter *semaphore.Weighted
	log     *zap.Logger
}

func NewCheckpointer(recordStores map[string]RecordStoreFlusher, maxConcurrentFlush int64, log *zap.Logger) *Checkpointer {
	if maxConcurrentFlush <= 0 {
		maxConcurrentFlush = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checkpointer{
		RecordStores: recordStores,
		limiter:      semaphore.NewWeighted(maxConcurrentFlush),
		log:          log,
	}
}

// FlushAndForce implements §4.8: "A checkpoint flushes record stores,
// counts, and degrees in that order" is the §6 wording; §4.8 itself
// states counts -> degrees -> record stores for the commit-path
// ordering. The engine's flush always runs counts, then degrees, then
// record stores, matching the write-path dependency (counts/degrees
// checkpoints are cheap in-memory snapshots; record-store flushes are
// the expensive synchronous fsync step and run last so a crash between
// steps never leaves counts referencing un-flushed record data).
func (c *Checkpointer) FlushAndForce(ctx context.Context, persistCounts func(map[counts.Key]int64) error, persistDegrees func(map[counts.DegreeKey]uint64) error) error {
	if c.Counts != nil && persistCounts != nil {
		if err := c.Counts.Checkpoint(persistCounts); err != nil {
			return errors.Wrap(err, "snapshot: counts checkpoint")
		}
	}
	if c.Degrees != nil && persistDegrees != nil {
		if err := c.Degrees.Checkpoint(persistDegrees); err != nil {
			return errors.Wrap(err, "snapshot: degrees checkpoint")
		}
	}

	errs := make(chan error, len(c.RecordStores))
	for name, store := range c.RecordStores {
		name, store := name, store
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return errors.Wrap(err, "snapshot: acquire flush slot")
		}
		go func() {
			defer c.limiter.Release(1)
			if err := store.FlushAndForce(); err != nil {
				errs <- errors.Wrapf(err, "snapshot: flush store %q", name)
				return
			}
			errs <- nil
		}()
	}
	for range c.RecordStores {
		if err := <-errs; err != nil {
			c.log.Error("checkpoint flush failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// FileKind classifies a storage file for backup purposes (§6
// "listStorageFiles(atomic, replayable)").
type FileKind uint8

const (
	// Replayable files can be rebuilt from the log alone; backing them
	// up is an optimization, not a correctness requirement.
	Replayable FileKind = iota
	// Atomic files (counts, degrees) cannot be rederived from the log
	// on their own and must be captured consistently with the record
	// stores during a backup.
	Atomic
)

func (k FileKind) String() string {
	if k == Atomic {
		return "atomic"
	}
	return "replayable"
}

// FileInfo describes one on-disk storage file for the manifest.
type FileInfo struct {
	Store      string
	Path       string
	RecordSize int
	Kind       FileKind
}

// ListStorageFiles builds the manifest for every known record store
// plus the counts/degrees files, tagging each per §6: "counts and
// degrees are 'atomic' (not replayable from log), record stores are
// 'replayable.'"
func ListStorageFiles(stores []kv.RecordStore, countsPath, degreesPath string) []FileInfo {
	out := make([]FileInfo, 0, len(stores)+2)
	for _, s := range stores {
		out = append(out, FileInfo{
			Store:      s.Name(),
			Path:       s.FilePath(),
			RecordSize: s.RecordSize(),
			Kind:       Replayable,
		})
	}
	out = append(out,
		FileInfo{Store: kv.CountsStore, Path: countsPath, Kind: Atomic},
		FileInfo{Store: kv.DegreesStore, Path: degreesPath, Kind: Atomic},
	)
	return out
}
