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

package kv

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/pkg/errors"
)

// mdbxStore is the MDBX-backed RecordStore implementation (C1). Every
// store opens its own DBI inside a shared environment; writes go
// through a page-cached MDBX cursor, exactly the "store does not
// itself enforce ordering" contract in §4.1 - callers (the applier
// chain) decide write order.
type mdbxStore struct {
	name       string
	env        *mdbx.Env
	dbi        mdbx.DBI
	recordSize int
	headerPath string
	highID     atomic.Uint64
}

// openMDBXStore opens (creating if absent) the DBI for `name` inside
// env, and memory-maps a small per-store header file for O(1)
// ReservedLowIDs()/format-version reads without needing a live MDBX
// transaction (§4.1: "store files are memory-mapped or cursor-paged").
func openMDBXStore(env *mdbx.Env, dataDir, name string, cfg TableCfgItem) (*mdbxStore, error) {
	var flags uint
	if cfg.Flags&DupSort != 0 {
		flags |= mdbx.DupSort
	}
	if cfg.Flags&IntegerKey != 0 {
		flags |= mdbx.IntegerKey
	}

	var dbi mdbx.DBI
	err := env.Update(func(txn *mdbx.Txn) error {
		var e error
		dbi, e = txn.OpenDBI(name, mdbx.Create|mdbx.DBIFlags(flags), nil, nil)
		return e
	})
	if err != nil {
		return nil, errors.Wrapf(err, "kv: open store %q", name)
	}

	s := &mdbxStore{
		name:       name,
		env:        env,
		dbi:        dbi,
		recordSize: cfg.RecordSize,
		headerPath: filepath.Join(dataDir, name+".header"),
	}
	if err := s.ensureHeader(); err != nil {
		return nil, err
	}
	if err := s.loadHighID(); err != nil {
		return nil, err
	}
	return s, nil
}

// headerLayout: [4]byte format-version | [8]byte reservedLowIDs
const headerLayoutSize = 12

func (s *mdbxStore) ensureHeader() error {
	if _, err := os.Stat(s.headerPath); err == nil {
		return nil
	}
	buf := make([]byte, headerLayoutSize)
	binary.BigEndian.PutUint32(buf[0:4], 1) // initial format version
	binary.BigEndian.PutUint64(buf[4:12], uint64(ReservedLowIDs))
	return os.WriteFile(s.headerPath, buf, 0o644)
}

func (s *mdbxStore) readHeader() ([headerLayoutSize]byte, error) {
	var out [headerLayoutSize]byte
	f, err := os.Open(s.headerPath)
	if err != nil {
		return out, errors.Wrapf(err, "kv: open header %q", s.headerPath)
	}
	defer f.Close()
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return out, errors.Wrapf(err, "kv: mmap header %q", s.headerPath)
	}
	defer m.Unmap()
	copy(out[:], m)
	return out, nil
}

func (s *mdbxStore) loadHighID() error {
	var max uint64
	err := s.env.View(func(txn *mdbx.Txn) error {
		cur, err := txn.OpenCursor(s.dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		k, _, err := cur.Get(nil, nil, mdbx.Last)
		if errors.Is(err, mdbx.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(k) == 8 {
			max = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "kv: scan high id for %q", s.name)
	}
	s.highID.Store(max)
	return nil
}

func idKey(id ID) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func (s *mdbxStore) Name() string { return s.name }

func (s *mdbxStore) Read(id ID, mode Mode) (Record, bool, error) {
	var rec Record
	var found bool
	err := s.env.View(func(txn *mdbx.Txn) error {
		v, err := txn.Get(s.dbi, idKey(id))
		if errors.Is(err, mdbx.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		inUse := len(v) > 0 && v[0] == 1
		payload := make([]byte, len(v)-1)
		if len(v) > 1 {
			copy(payload, v[1:])
		}
		rec = Record{ID: id, InUse: inUse, Payload: payload}
		return nil
	})
	if err != nil {
		return Record{}, false, errors.Wrapf(err, "kv: read %q id=%d", s.name, id)
	}
	if !found {
		switch mode {
		case NORMAL:
			return Record{}, false, errors.Wrapf(ErrNotInUse, "%q id=%d", s.name, id)
		case CHECK:
			return Record{ID: id}, false, nil
		case ALWAYS:
			return Record{ID: id}, false, nil
		}
	}
	if !rec.InUse && mode == NORMAL {
		return Record{}, false, errors.Wrapf(ErrNotInUse, "%q id=%d", s.name, id)
	}
	return rec, found, nil
}

func (s *mdbxStore) Write(rec Record, listener IDUpdateListener) error {
	v := make([]byte, 1+len(rec.Payload))
	if rec.InUse {
		v[0] = 1
	}
	copy(v[1:], rec.Payload)
	err := s.env.Update(func(txn *mdbx.Txn) error {
		return txn.Put(s.dbi, idKey(rec.ID), v, 0)
	})
	if err != nil {
		return errors.Wrapf(err, "kv: write %q id=%d", s.name, rec.ID)
	}
	for {
		cur := s.highID.Load()
		if uint64(rec.ID) <= cur {
			break
		}
		if s.highID.CompareAndSwap(cur, uint64(rec.ID)) {
			break
		}
	}
	if listener != nil {
		listener.OnIDWritten(s.name, rec.ID)
	}
	return nil
}

func (s *mdbxStore) NewRecord() Record {
	return Record{ID: ID(s.highID.Add(1)), InUse: false}
}

func (s *mdbxStore) HighID() ID { return ID(s.highID.Load()) }

func (s *mdbxStore) ReservedLowIDs() ID {
	hdr, err := s.readHeader()
	if err != nil {
		return ReservedLowIDs
	}
	return ID(binary.BigEndian.Uint64(hdr[4:12]))
}

func (s *mdbxStore) FilePath() string { return s.headerPath }

func (s *mdbxStore) RecordSize() int { return s.recordSize }

// FlushAndForce durably syncs this store's environment, satisfying
// snapshot.RecordStoreFlusher for the engine's checkpoint path (§4.8).
// Every store in a shared env syncs the same underlying file, so this
// is safe to call redundantly from multiple stores during a checkpoint
// fan-out.
func (s *mdbxStore) FlushAndForce() error {
	if err := s.env.Sync(true, false); err != nil {
		return errors.Wrapf(err, "kv: sync %q", s.name)
	}
	return nil
}

// OpenAll opens every store named in AllStores against a shared MDBX
// environment rooted at dataDir, per the table layout in StoreTableCfg.
func OpenAll(dataDir string) (map[string]RecordStore, *mdbx.Env, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "kv: create data dir")
	}
	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, nil, errors.Wrap(err, "kv: new env")
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(AllStores))); err != nil {
		return nil, nil, errors.Wrap(err, "kv: set max dbs")
	}
	if err := env.Open(dataDir, mdbx.NoSubdir, 0o644); err != nil {
		return nil, nil, errors.Wrap(err, "kv: open env")
	}

	stores := make(map[string]RecordStore, len(AllStores))
	for _, name := range AllStores {
		if name == CountsStore || name == DegreesStore {
			continue // C3 stores have their own tree-shaped backing, see counts/.
		}
		st, err := openMDBXStore(env, dataDir, name, StoreTableCfg[name])
		if err != nil {
			return nil, nil, err
		}
		stores[name] = st
	}
	return stores, env, nil
}

var _ fmt.Stringer = KernelVersion{}

func (v KernelVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
