package rondo

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rondo-engine/rondo/internal/fsutil"
)

const (
	metadataVersion  = 1
	metadataFile     = "meta.json"
	seriesIndexFile  = "series_index.bin"
	storeLockFile    = ".rondo.lock"
)

// Store is the top-level handle for a rondo directory: schemas, the series
// registry, and one ring per (schema, tier) pair (§4.5).
//
// A Store is built for single-threaded access. External synchronization is
// the caller's responsibility; Open takes an advisory exclusive lock on the
// store directory for the lifetime of the Store to catch accidental
// concurrent opens from other processes, not to serialize callers within one
// process.
type Store struct {
	path     string
	fs       fsutil.FS
	schemas  []Schema
	registry *seriesRegistry
	rings    [][]*ring
	slabs    [][]*slab
	cursors  map[string]uint64
	exports  map[string]*exportCursor
	lock     *fsutil.Lock
}

type schemaWithHash struct {
	Schema Schema `json:"schema"`
	Hash   uint64 `json:"hash"`
}

type storeMetadata struct {
	Version int              `json:"version"`
	Schemas []schemaWithHash `json:"schemas"`
}

// Open creates a new store directory at path or opens an existing one
// (§4.5). Every schema is validated before anything touches disk. Opening an
// existing directory whose persisted schema hashes don't match the provided
// schemas returns an error wrapping ErrIncompatible.
func Open(path string, schemas []Schema) (*Store, error) {
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	if len(schemas) > maxSchemasPerStore {
		return nil, newStoreError(path, fmt.Sprintf("too many schemas (max %d)", maxSchemasPerStore), ErrInvalidInput)
	}

	fs := fsutil.NewReal()

	if err := fsutil.EnsureDir(fs, path); err != nil {
		return nil, newStoreError(path, err.Error(), ErrIO)
	}

	lock, err := fsutil.NewLocker(fs).TryLock(filepath.Join(path, storeLockFile))
	if err != nil {
		return nil, newStoreError(path, "acquire store lock: "+err.Error(), ErrClosed)
	}

	metaPath := filepath.Join(path, metadataFile)
	exists, err := fs.Exists(metaPath)
	if err != nil {
		_ = lock.Close()
		return nil, newStoreError(path, err.Error(), ErrIO)
	}

	var store *Store
	if exists {
		store, err = openExisting(fs, path, schemas)
	} else {
		store, err = createNew(fs, path, schemas)
	}
	if err != nil {
		_ = lock.Close()
		return nil, err
	}

	store.lock = lock
	return store, nil
}

// closeAllSlabs closes every non-nil slab across all schemas, ignoring
// individual close errors: it only runs during cleanup of a partially
// constructed Store, where the original error already takes precedence.
func closeAllSlabs(slabs [][]*slab) {
	for _, schemaSlabs := range slabs {
		for _, s := range schemaSlabs {
			if s != nil {
				_ = s.close()
			}
		}
	}
}

func createNew(fs fsutil.FS, path string, schemas []Schema) (*Store, error) {
	meta := storeMetadata{Version: metadataVersion}

	slabs := make([][]*slab, len(schemas))
	rings := make([][]*ring, len(schemas))
	var createdSchemaDirs []string

	// abort unmaps/closes every slab opened so far and removes every
	// schema directory created so far, so a failure partway through leaves
	// no stable-state trace (§4.2 Open: "on any error the operation has no
	// side effect on stable state").
	abort := func(err error) (*Store, error) {
		closeAllSlabs(slabs)
		for _, dir := range createdSchemaDirs {
			_ = fs.RemoveAll(dir)
		}
		return nil, err
	}

	for schemaIndex, schema := range schemas {
		schemaDir := filepath.Join(path, fmt.Sprintf("schema_%d", schemaIndex))
		if err := fsutil.EnsureDir(fs, schemaDir); err != nil {
			return abort(newStoreError(schemaDir, err.Error(), ErrIO))
		}
		createdSchemaDirs = append(createdSchemaDirs, schemaDir)

		schemaSlabs := make([]*slab, len(schema.Tiers))
		schemaRings := make([]*ring, len(schema.Tiers))

		hash := schema.StableHash()
		for tierIndex, tier := range schema.Tiers {
			tierPath := filepath.Join(schemaDir, fmt.Sprintf("tier_%d.slab", tierIndex))
			intervalNs := uint64(tier.Interval.Nanoseconds())
			s, err := createSlab(tierPath, hash, uint32(tier.slotCount()), schema.MaxSeries, intervalNs)
			if err != nil {
				slabs[schemaIndex] = schemaSlabs
				return abort(err)
			}
			schemaSlabs[tierIndex] = s
			schemaRings[tierIndex] = newRing(s)
		}

		slabs[schemaIndex] = schemaSlabs
		rings[schemaIndex] = schemaRings

		meta.Schemas = append(meta.Schemas, schemaWithHash{Schema: schema, Hash: hash})
	}

	if err := fsutil.WriteJSONAtomic(fs, filepath.Join(path, metadataFile), meta); err != nil {
		return abort(newStoreError(path, err.Error(), ErrIO))
	}

	registry := newSeriesRegistry(schemas)
	if err := saveSeriesIndex(fs, path, registry); err != nil {
		return abort(err)
	}

	return &Store{
		path:     path,
		fs:       fs,
		schemas:  schemas,
		registry: registry,
		rings:    rings,
		slabs:    slabs,
		cursors:  make(map[string]uint64),
		exports:  make(map[string]*exportCursor),
	}, nil
}

func openExisting(fs fsutil.FS, path string, schemas []Schema) (*Store, error) {
	var meta storeMetadata
	if err := fsutil.ReadJSON(fs, filepath.Join(path, metadataFile), &meta); err != nil {
		return nil, newStoreError(path, err.Error(), ErrCorrupt)
	}

	if meta.Version != metadataVersion {
		return nil, newStoreError(path, fmt.Sprintf("unsupported metadata version %d", meta.Version), ErrIncompatible)
	}
	if len(meta.Schemas) != len(schemas) {
		return nil, newStoreError(path, fmt.Sprintf("schema count mismatch: expected %d, found %d", len(schemas), len(meta.Schemas)), ErrIncompatible)
	}

	for i, schema := range schemas {
		stored := meta.Schemas[i]
		hash := schema.StableHash()
		if hash != stored.Hash {
			return nil, newStoreError(path, fmt.Sprintf("schema %d hash mismatch: expected %d, found %d", i, hash, stored.Hash), ErrIncompatible)
		}
		if len(schema.Tiers) != len(stored.Schema.Tiers) {
			return nil, newStoreError(path, fmt.Sprintf("schema %d tier count mismatch", i), ErrIncompatible)
		}
	}

	slabs := make([][]*slab, len(schemas))
	rings := make([][]*ring, len(schemas))

	for schemaIndex, schema := range schemas {
		schemaSlabs := make([]*slab, len(schema.Tiers))
		schemaRings := make([]*ring, len(schema.Tiers))

		for tierIndex := range schema.Tiers {
			tierPath := filepath.Join(path, fmt.Sprintf("schema_%d", schemaIndex), fmt.Sprintf("tier_%d.slab", tierIndex))
			s, err := openSlab(tierPath)
			if err != nil {
				slabs[schemaIndex] = schemaSlabs
				closeAllSlabs(slabs)
				return nil, err
			}
			schemaSlabs[tierIndex] = s
			schemaRings[tierIndex] = newRing(s)
		}

		slabs[schemaIndex] = schemaSlabs
		rings[schemaIndex] = schemaRings
	}

	var registry *seriesRegistry
	indexPath := filepath.Join(path, seriesIndexFile)
	indexExists, err := fs.Exists(indexPath)
	if err != nil {
		closeAllSlabs(slabs)
		return nil, newStoreError(indexPath, err.Error(), ErrIO)
	}
	if indexExists {
		var persisted persistedSeriesIndex
		if err := fsutil.ReadJSON(fs, indexPath, &persisted); err != nil {
			closeAllSlabs(slabs)
			return nil, newStoreError(indexPath, err.Error(), ErrCorrupt)
		}
		r, err := loadSeriesRegistry(schemas, persisted)
		if err != nil {
			closeAllSlabs(slabs)
			return nil, err
		}
		registry = r
	} else {
		registry = newSeriesRegistry(schemas)
	}

	cursors, err := loadCursors(fs, path)
	if err != nil {
		closeAllSlabs(slabs)
		return nil, err
	}

	return &Store{
		path:     path,
		fs:       fs,
		schemas:  schemas,
		registry: registry,
		rings:    rings,
		slabs:    slabs,
		cursors:  cursors,
		exports:  make(map[string]*exportCursor),
	}, nil
}

func saveSeriesIndex(fs fsutil.FS, path string, registry *seriesRegistry) error {
	if err := fsutil.WriteJSONAtomic(fs, filepath.Join(path, seriesIndexFile), registry.toPersisted()); err != nil {
		return newStoreError(path, err.Error(), ErrIO)
	}
	return nil
}

// Register records a (name, labels) series in the registry, assigning it a
// column in every tier slab of the matching schema, and returns a Handle for
// use on the write hot path (§4.4 register). Registering the same
// (name, labels) pair again returns the original Handle unchanged.
func (st *Store) Register(name string, labels []Label) (Handle, error) {
	handle, created, err := st.registry.register(name, labels)
	if err != nil {
		return Handle{}, err
	}
	if !created {
		return handle, nil
	}

	count := st.registry.seriesCount(handle.SchemaIndex)
	for _, s := range st.slabs[handle.SchemaIndex] {
		s.setSeriesColumn(handle.SeriesID, handle.Column)
		s.setSeriesCount(count)
	}

	if err := saveSeriesIndex(st.fs, st.path, st.registry); err != nil {
		return Handle{}, err
	}

	return handle, nil
}

// RegisterEntry names one series to register in a RegisterBatch call.
type RegisterEntry struct {
	Name   string
	Labels []Label
}

// RegisterBatch registers multiple series in one call, persisting the series
// index once instead of once per series. An invalid entry (bad name, bad
// labels, no matching schema, capacity exceeded) does not abort the whole
// call: every other entry is still registered, its Handle is populated in
// the returned slice at its original index, and the failing entries' errors
// are joined into the returned error. A failed entry's slot in the returned
// slice is left as the zero Handle.
func (st *Store) RegisterBatch(entries []RegisterEntry) ([]Handle, error) {
	if len(entries) > maxBatchEntries {
		return nil, newSeriesError("", nil, fmt.Sprintf("batch exceeds limit of %d entries", maxBatchEntries), ErrInvalidInput)
	}

	handles := make([]Handle, len(entries))
	dirty := false
	var errs []error

	for i, e := range entries {
		handle, created, err := st.registry.register(e.Name, e.Labels)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		handles[i] = handle
		if created {
			count := st.registry.seriesCount(handle.SchemaIndex)
			for _, s := range st.slabs[handle.SchemaIndex] {
				s.setSeriesColumn(handle.SeriesID, handle.Column)
				s.setSeriesCount(count)
			}
			dirty = true
		}
	}

	if dirty {
		if err := saveSeriesIndex(st.fs, st.path, st.registry); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return handles, errors.Join(errs...)
	}

	return handles, nil
}

// Record writes value for handle at tsNs to tier 0 of its schema (§4.5
// record). This is the hot path: no allocations, no registry lookups.
func (st *Store) Record(handle Handle, value float64, tsNs uint64) error {
	return st.rings[handle.SchemaIndex][0].write(handle.Column, value, tsNs)
}

// RecordEntry pairs a handle with the value to write at a shared timestamp.
type RecordEntry struct {
	Handle Handle
	Value  float64
}

// RecordBatch writes multiple entries sharing one timestamp, grouped by
// schema so each schema's tier-0 ring is written once (§4.5 record_batch).
func (st *Store) RecordBatch(entries []RecordEntry, tsNs uint64) error {
	if len(entries) > maxBatchEntries {
		return newRecordError(tsNs, 0, fmt.Sprintf("batch exceeds limit of %d entries", maxBatchEntries))
	}

	bySchema := make(map[int][]ColumnValue)
	for _, e := range entries {
		bySchema[e.Handle.SchemaIndex] = append(bySchema[e.Handle.SchemaIndex], ColumnValue{Column: e.Handle.Column, Value: e.Value})
	}
	for schemaIndex, batch := range bySchema {
		if err := st.rings[schemaIndex][0].writeBatch(batch, tsNs); err != nil {
			return err
		}
	}
	return nil
}

// Schemas returns the schema configurations this Store was opened with.
func (st *Store) Schemas() []Schema {
	return st.schemas
}

// SeriesCount returns the number of registered series across all schemas.
func (st *Store) SeriesCount() int {
	total := 0
	for i := range st.schemas {
		total += int(st.registry.seriesCount(i))
	}
	return total
}

// Path returns the store's directory path.
func (st *Store) Path() string {
	return st.path
}

// Sync flushes every open tier slab to disk. Never called automatically;
// callers that need crash-durable writes must call it themselves (§5, §9).
func (st *Store) Sync() error {
	for _, schemaSlabs := range st.slabs {
		for _, s := range schemaSlabs {
			if err := s.sync(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats summarizes a Store for introspection and monitoring.
type Stats struct {
	SchemaCount int
	SeriesCount int
	TierStats   []SchemaStats
}

// SchemaStats summarizes one schema's tiers.
type SchemaStats struct {
	SchemaIndex int
	SeriesCount uint32
	Tiers       []TierStats
}

// TierStats summarizes one tier's ring buffer occupancy.
type TierStats struct {
	TierIndex       int
	SlotsUsed       uint32
	SlotCount       uint32
	HasWrapped      bool
	OldestTimestamp uint64
	NewestTimestamp uint64
}

// Stats reports per-schema, per-tier occupancy, useful for a status command
// or a metrics exporter.
func (st *Store) Stats() Stats {
	out := Stats{SchemaCount: len(st.schemas), SeriesCount: st.SeriesCount()}

	for schemaIndex := range st.schemas {
		schemaStats := SchemaStats{
			SchemaIndex: schemaIndex,
			SeriesCount: st.registry.seriesCount(schemaIndex),
		}
		for tierIndex, r := range st.rings[schemaIndex] {
			oldest, _ := r.oldestTimestamp()
			newest, _ := r.newestTimestamp()
			schemaStats.Tiers = append(schemaStats.Tiers, TierStats{
				TierIndex:       tierIndex,
				SlotsUsed:       r.slotsUsed(),
				SlotCount:       r.s.slotCount(),
				HasWrapped:      r.hasWrappedFlag(),
				OldestTimestamp: oldest,
				NewestTimestamp: newest,
			})
		}
		out.TierStats = append(out.TierStats, schemaStats)
	}

	return out
}

// Close unmaps every slab and releases the store directory lock. A Store
// must not be used after Close returns.
func (st *Store) Close() error {
	var firstErr error
	for _, schemaSlabs := range st.slabs {
		for _, s := range schemaSlabs {
			if err := s.close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	if st.lock != nil {
		if err := st.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
