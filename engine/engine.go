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
	"crypto/rand"
	"encoding/gob"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/erigontech/graphstore/apply"
	"github.com/erigontech/graphstore/command"
	"github.com/erigontech/graphstore/counts"
	"github.com/erigontech/graphstore/idgen"
	"github.com/erigontech/graphstore/kv"
	"github.com/erigontech/graphstore/reader"
	"github.com/erigontech/graphstore/schema"
	"github.com/erigontech/graphstore/snapshot"
	"github.com/erigontech/graphstore/txstate"
	"github.com/erigontech/graphstore/upgrade"
	"github.com/erigontech/graphstore/validate"
	"github.com/erigontech/graphstore/worksync"
)

// MetadataProvider is the §6 `metadataProvider()` read accessor.
type MetadataProvider interface {
	CurrentVersion() (kv.KernelVersion, error)
}

// CountsAccessor is the §6 `countsAccessor()` read accessor.
type CountsAccessor interface {
	Count(key counts.Key) int64
	Degree(key counts.DegreeKey) uint64
}

// Engine wires every component (C1-C10) behind the API in spec.md §6.
type Engine struct {
	cfg Config

	stores map[string]kv.RecordStore
	closer func() error

	flock *flock.Flock

	idGens    *idgen.Registry
	counts    *counts.Store
	degrees   *counts.DegreesStore
	schema    *schema.Cache
	validator *validate.Validator
	extractor *command.Extractor
	worksync  *worksync.Registry
	upgrade   *upgrade.Protocol
	chkpt     *snapshot.Checkpointer

	storeID string
	metrics *engineMetrics

	commitSeq atomic.Uint64
	healthy   atomic.Bool

	mu              sync.Mutex
	unhealthyCause  *Error
	indexListener   apply.IndexListener
	labelListener   apply.IndexListener
	relTypeListener apply.IndexListener
}

// New opens (or creates) the data directory named by WithDataDir and
// wires every subsystem, taking a process-exclusive advisory lock over
// it for the Engine's lifetime (guards against two instances opening
// the same store files).
func New(opts ...Option) (*Engine, error) {
	cfg := newConfig(opts...)
	if cfg.DataDir == "" {
		return nil, newErr(KindConfigurationError, nil, "engine: WithDataDir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, newErr(KindStorageIO, err, "engine: create data dir")
	}

	fl := flock.New(filepath.Join(cfg.DataDir, "graphstore.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, newErr(KindStorageIO, err, "engine: acquire data-dir lock")
	}
	if !locked {
		return nil, newErr(KindConfigurationError, nil, "engine: data dir %q is already locked by another instance", cfg.DataDir)
	}

	stores, env, err := kv.OpenAll(cfg.DataDir)
	if err != nil {
		_ = fl.Unlock()
		return nil, newErr(KindStorageIO, err, "engine: open stores")
	}

	e := &Engine{
		cfg:       cfg,
		stores:    stores,
		closer:    func() error { return env.Close() },
		flock:     fl,
		idGens:    idgen.NewRegistry(),
		counts:    counts.NewStore(),
		degrees:   counts.NewDegreesStore(),
		schema:    schema.NewCache(),
		worksync:  worksync.NewRegistry(),
		metrics:   newEngineMetrics(),
	}
	e.healthy.Store(true)
	e.validator = validate.New(e.schema, nil)
	e.extractor = command.NewExtractor(kv.CurrentKernelVersion)

	for name, st := range stores {
		e.idGens.Register(name, idgen.New(name, st.HighID(), nil))
		if _, err := e.worksync.Register(name); err != nil {
			return nil, newErr(KindConfigurationError, err, "engine: register id-gen coordinator")
		}
	}
	for _, sink := range []string{"IndexListener", "NodeLabelScanListener", "RelationshipTypeScanListener"} {
		if _, err := e.worksync.Register(sink); err != nil {
			return nil, newErr(KindConfigurationError, err, "engine: register listener coordinator")
		}
	}

	if err := e.loadSchemaCache(); err != nil {
		return nil, newErr(KindStorageIO, err, "engine: load schema cache")
	}

	e.upgrade = upgrade.NewProtocol(newUpgradeLock(), cfg.AllowSingleAutomaticUpgrade, cfg.UpgradeExclusiveWaitTimeout, cfg.Log)

	flushers := make(map[string]snapshot.RecordStoreFlusher, len(stores))
	for name, st := range stores {
		if f, ok := st.(snapshot.RecordStoreFlusher); ok {
			flushers[name] = f
		}
	}
	e.chkpt = snapshot.NewCheckpointer(flushers, cfg.MaxConcurrentFlush, cfg.Log)

	storeID, err := loadOrCreateStoreID(cfg.DataDir)
	if err != nil {
		return nil, newErr(KindStorageIO, err, "engine: load store id")
	}
	e.storeID = storeID

	return e, nil
}

func (e *Engine) loadSchemaCache() error {
	st := e.stores[kv.SchemaStore]
	for id := kv.ID(1); id <= st.HighID(); id++ {
		rec, ok, err := st.Read(id, kv.CHECK)
		if err != nil {
			return err
		}
		if !ok || !rec.InUse {
			continue
		}
		sr := txstate.DecodeSchemaRule(uint32(id), rec)
		e.schema.Put(schema.Rule{
			ID:           sr.ID,
			LabelOrRel:   sr.LabelOrRel,
			IsRelType:    sr.IsRelType,
			PropertyKeys: sr.PropertyKeys,
			Constraint:   schema.ConstraintKind(sr.Constraint),
		})
	}
	return nil
}

// DenseNodeThreshold reports the configured dense-node threshold, so a
// caller building a txstate.Accumulator over a context from
// NewCommandCreationContext uses the same value the engine was opened
// with.
func (e *Engine) DenseNodeThreshold() uint32 { return e.cfg.DenseNodeThreshold }

// RelaxedLockingForDenseNodes reports whether the dense-node
// external-degree lock optimization is enabled, so a caller building a
// txstate.Accumulator uses the same setting the engine was opened with.
func (e *Engine) RelaxedLockingForDenseNodes() bool { return e.cfg.RelaxedLockingForDenseNodes }

// Healthy reports whether the database health monitor is still green
// (§7 propagation policy).
func (e *Engine) Healthy() bool { return e.healthy.Load() }

func (e *Engine) markUnhealthy(err *Error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.healthy.Load() {
		return
	}
	e.healthy.Store(false)
	e.unhealthyCause = err
	e.metrics.healthy.Set(0)
	e.cfg.Log.Error("database marked unhealthy", zap.String("kind", err.Kind.String()), zap.Error(err))
}

func (e *Engine) unhealthyError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unhealthyCause != nil {
		return e.unhealthyCause
	}
	return newErr(KindStorageIO, nil, "database is unhealthy")
}

// NewReader implements §6 `newReader()`.
func (e *Engine) NewReader() *reader.StorageReader {
	return reader.NewReader(reader.Stores{
		Node:              e.stores[kv.NodeStore],
		Relationship:      e.stores[kv.RelationshipStore],
		RelationshipGroup: e.stores[kv.RelationshipGroupStore],
		Property:          e.stores[kv.PropertyStore],
		PropertyString:    e.stores[kv.PropertyStringStore],
		PropertyArray:     e.stores[kv.PropertyArrayStore],
		Schema:            e.stores[kv.SchemaStore],
		Token:             e.stores[kv.TokenStore],
	}, e.commitSeq.Load())
}

// NewCommandCreationContext implements §6
// `newCommandCreationContext(cursor, memTracker) → ctx`: a fresh
// Transaction Record State (C6) whose id allocators are wired to this
// engine's id generators (C2).
func (e *Engine) NewCommandCreationContext() *txstate.RecordState {
	rs := txstate.NewRecordState(&storeLoader{stores: e.stores})
	rs.AllocNode = e.allocator(kv.NodeStore)
	rs.AllocRel = e.allocator(kv.RelationshipStore)
	rs.AllocGroup = e.allocator(kv.RelationshipGroupStore)
	rs.AllocProp = e.allocator(kv.PropertyStore)
	rs.AllocPropString = e.allocator(kv.PropertyStringStore)
	rs.AllocPropArray = e.allocator(kv.PropertyArrayStore)
	return rs
}

func (e *Engine) allocator(store string) func() kv.ID {
	return func() kv.ID {
		g, ok := e.idGens.Get(store)
		if !ok {
			return 0
		}
		id, err := g.Allocate()
		if err != nil {
			return 0
		}
		return id
	}
}

// CreateCommands implements §6 `createCommands(...)`: validates the
// staged record state (C5) and, if it passes, extracts the ordered
// command list (C7).
func (e *Engine) CreateCommands(rs *txstate.RecordState) ([]command.Command, error) {
	// Re-stamp the extractor with whatever kernel version the running
	// binary is on right now, so commands extracted after a runtime
	// upgrade (§4.7) carry the new version even though the Extractor was
	// built at New() time with the version then current.
	e.extractor.FormatVersion = kv.CurrentKernelVersion
	if err := e.validator.ValidateRecordState(rs); err != nil {
		kind := KindValidation
		var verr *validate.Error
		if errors.As(err, &verr) && verr.Kind == validate.KindConstraint {
			kind = KindConstraint
		}
		return nil, newErr(kind, err, "record state validation failed")
	}
	return e.extractor.Extract(rs), nil
}

func (e *Engine) currentKernelVersion() (kv.KernelVersion, error) {
	rec, err := (&storeLoader{stores: e.stores}).LoadMetaData()
	if err != nil {
		return kv.KernelVersion{}, err
	}
	return rec.KernelVersion, nil
}

// CreateUpgradeCommands implements §6 `createUpgradeCommands(target) →
// [MetaDataCmd]`.
func (e *Engine) CreateUpgradeCommands(target kv.KernelVersion) ([]command.Command, error) {
	current, err := e.currentKernelVersion()
	if err != nil {
		return nil, newErr(KindStorageIO, err, "read meta-data record")
	}
	if err := validate.ValidateUpgradeCommand(current, target, []kv.KernelVersion{current, target}); err != nil {
		return nil, newErr(KindValidation, err, "upgrade command rejected")
	}
	return []command.Command{command.NewMetaDataCommand(current, target)}, nil
}

// BeginWriteCommit runs the §4.7 upgrade protocol ahead of a write
// commit's command extraction, returning a non-nil Outcome.Prefix
// exactly when an upgrade transaction must be injected first.
func (e *Engine) BeginWriteCommit(ctx context.Context) (upgrade.Outcome, error) {
	current, err := e.currentKernelVersion()
	if err != nil {
		return upgrade.Outcome{}, newErr(KindStorageIO, err, "read meta-data record")
	}
	outcome, err := e.upgrade.OnWriteCommit(ctx, current, kv.CurrentKernelVersion)
	if err != nil {
		if errors.Is(err, upgrade.ErrFatalVersionRegression) {
			return upgrade.Outcome{}, newErr(KindFormatMismatch, err, "kernel version regression")
		}
		return upgrade.Outcome{}, newErr(KindUpgradeConflict, err, "upgrade protocol failed")
	}
	return outcome, nil
}

func (e *Engine) listenerFanout() apply.IndexListener {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ls []apply.IndexListener
	for _, l := range []apply.IndexListener{e.indexListener, e.labelListener, e.relTypeListener} {
		if l != nil {
			ls = append(ls, l)
		}
	}
	if len(ls) == 0 {
		return nil
	}
	return &compositeListener{listeners: ls}
}

// Apply implements §6 `apply(batch, mode)`: runs the mode-dependent
// Applier Chain (C8) over the batch; a failure marks the database
// unhealthy and the error is rethrown on every subsequent call.
func (e *Engine) Apply(batch apply.Batch, mode apply.Mode) error {
	if !e.Healthy() {
		return e.unhealthyError()
	}
	if e.cfg.ReadOnly {
		return newErr(KindConfigurationError, nil, "engine is read-only")
	}

	deps := apply.Deps{
		Writer:   &recordWriter{stores: e.stores},
		Observer: &idObserver{idGens: e.idGens},
		Cache:    &schemaCacheSync{cache: e.schema, loader: &storeLoader{stores: e.stores}},
		Counts:   &countsSink{counts: e.counts, degrees: e.degrees},
		Listener: e.listenerFanout(),
		StoreOf:  storeNameForKind,
		Log:      e.cfg.Log,
	}
	if e.cfg.ConsistencyCheckOnApply {
		want, err := e.currentKernelVersion()
		if err == nil {
			deps.Checker = &formatChecker{want: want}
		}
	}

	chain := apply.NewChain(mode, deps)
	if err := chain.Apply(batch); err != nil {
		e.metrics.applyFailures.Inc()
		wrapped := newErr(KindApplyFailure, err, "applier chain failed")
		e.markUnhealthy(wrapped)
		return wrapped
	}
	for _, tx := range batch.Transactions {
		for _, cmd := range tx {
			e.metrics.commandsApplied.WithLabelValues(cmd.Kind.String()).Inc()
		}
	}
	e.commitSeq.Add(uint64(len(batch.Transactions)))
	return nil
}

// AddIndexUpdateListener implements §6 `addIndexUpdateListener` - a
// one-shot registration; a second call is a ConfigurationError (§7).
func (e *Engine) AddIndexUpdateListener(l apply.IndexListener) error {
	return e.registerListener(&e.indexListener, l, "index")
}

// AddNodeLabelUpdateListener implements §6 `addNodeLabelUpdateListener`.
func (e *Engine) AddNodeLabelUpdateListener(l apply.IndexListener) error {
	return e.registerListener(&e.labelListener, l, "node-label-scan")
}

// AddRelationshipTypeUpdateListener implements §6
// `addRelationshipTypeUpdateListener`.
func (e *Engine) AddRelationshipTypeUpdateListener(l apply.IndexListener) error {
	return e.registerListener(&e.relTypeListener, l, "relationship-type-scan")
}

func (e *Engine) registerListener(slot *apply.IndexListener, l apply.IndexListener, what string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if *slot != nil {
		return newErr(KindConfigurationError, nil, "%s listener already registered", what)
	}
	*slot = l
	return nil
}

// FlushAndForce implements §6 `flushAndForce(limiter, cursor)`: checkpoint
// ordering counts -> degrees -> record stores (§4.8), plus the id
// generators' free-lists via their work-sync coordinators.
func (e *Engine) FlushAndForce(ctx context.Context) error {
	start := time.Now()
	defer func() { e.metrics.checkpointSeconds.Observe(time.Since(start).Seconds()) }()

	countsPath := filepath.Join(e.cfg.DataDir, "counts.snapshot")
	degreesPath := filepath.Join(e.cfg.DataDir, "degrees.snapshot")

	e.chkpt.Counts = e.counts
	e.chkpt.Degrees = e.degrees
	err := e.chkpt.FlushAndForce(ctx,
		func(m map[counts.Key]int64) error { return writeGob(countsPath, m) },
		func(m map[counts.DegreeKey]uint64) error { return writeGob(degreesPath, m) },
	)
	if err != nil {
		return newErr(KindStorageIO, err, "checkpoint flush failed")
	}

	idgenPath := filepath.Join(e.cfg.DataDir, "idgen.snapshot")
	states := make(map[string]idgen.CheckpointState)
	err = e.worksync.RunAll(ctx, func(name string, c *worksync.Coordinator) error {
		if c == nil {
			return nil
		}
		return c.ApplyAsync(ctx, func() error {
			g, ok := e.idGens.Get(name)
			if !ok {
				return nil
			}
			return g.Checkpoint(func(s idgen.CheckpointState) error {
				e.mu.Lock()
				states[name] = s
				e.mu.Unlock()
				return nil
			})
		})
	})
	if err != nil {
		return newErr(KindStorageIO, err, "checkpoint id generators")
	}
	if err := writeGob(idgenPath, states); err != nil {
		return newErr(KindStorageIO, err, "persist id generator checkpoint")
	}
	return nil
}

func writeGob(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(v)
}

// ListStorageFiles implements §6 `listStorageFiles(atomic, replayable)`.
func (e *Engine) ListStorageFiles() []snapshot.FileInfo {
	names := make([]string, 0, len(e.stores))
	for name := range e.stores {
		names = append(names, name)
	}
	sort.Strings(names)

	stores := make([]kv.RecordStore, 0, len(names))
	for _, name := range names {
		stores = append(stores, e.stores[name])
	}
	return snapshot.ListStorageFiles(stores,
		filepath.Join(e.cfg.DataDir, "counts.snapshot"),
		filepath.Join(e.cfg.DataDir, "degrees.snapshot"))
}

// GetStoreID implements §6 `getStoreId()`.
func (e *Engine) GetStoreID() string { return e.storeID }

// CurrentVersion implements MetadataProvider, returned by
// MetadataProvider() (§6 `metadataProvider()`).
func (e *Engine) CurrentVersion() (kv.KernelVersion, error) { return e.currentKernelVersion() }

// MetadataProvider implements §6 `metadataProvider()`.
func (e *Engine) MetadataProvider() MetadataProvider { return e }

// Count implements CountsAccessor.
func (e *Engine) Count(key counts.Key) int64 { return e.counts.Get(key) }

// Degree implements CountsAccessor.
func (e *Engine) Degree(key counts.DegreeKey) uint64 { return e.degrees.Get(key) }

// CountsAccessor implements §6 `countsAccessor()`.
func (e *Engine) CountsAccessor() CountsAccessor { return e }

// SchemaAndTokensLifecycle implements §6 `schemaAndTokensLifecycle()`.
func (e *Engine) SchemaAndTokensLifecycle() *schema.Cache { return e.schema }

// Close releases the data-dir lock and the underlying MDBX environment.
// Not part of the spec's Engine API, but every engine needs a shutdown
// path, matching the teacher's own Close()-per-subsystem convention.
func (e *Engine) Close() error {
	err := e.closer()
	if uerr := e.flock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

func loadOrCreateStoreID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "store.id")
	if b, err := os.ReadFile(path); err == nil {
		return string(b), nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := hex.EncodeToString(buf)
	if err := os.WriteFile(path, []byte(id), 0o644); err != nil {
		return "", err
	}
	return id, nil
}
