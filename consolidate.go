package rondo

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/rondo-engine/rondo/internal/fsutil"
)

const cursorsFile = "consolidation_cursors.json"

func cursorKey(schemaIndex, srcTier, dstTier int) string {
	return fmt.Sprintf("%d:%d:%d", schemaIndex, srcTier, dstTier)
}

// persistedCursors is the on-disk shape of consolidation_cursors.json: the
// last source timestamp fully folded into the destination tier, per
// (schema, source tier, destination tier) triple.
type persistedCursors struct {
	Cursors map[string]uint64 `json:"cursors"`
}

func loadCursors(fs fsutil.FS, path string) (map[string]uint64, error) {
	cursorPath := filepath.Join(path, cursorsFile)
	exists, err := fs.Exists(cursorPath)
	if err != nil {
		return nil, newConsolidationError(-1, -1, -1, err.Error(), ErrIO)
	}
	if !exists {
		return make(map[string]uint64), nil
	}
	var persisted persistedCursors
	if err := fsutil.ReadJSON(fs, cursorPath, &persisted); err != nil {
		return nil, newConsolidationError(-1, -1, -1, err.Error(), ErrCorrupt)
	}
	if persisted.Cursors == nil {
		persisted.Cursors = make(map[string]uint64)
	}
	return persisted.Cursors, nil
}

func (st *Store) saveCursors() error {
	path := filepath.Join(st.path, cursorsFile)
	if err := fsutil.WriteJSONAtomic(st.fs, path, persistedCursors{Cursors: st.cursors}); err != nil {
		return newConsolidationError(-1, -1, -1, err.Error(), ErrIO)
	}
	return nil
}

// consolidationWindow accumulates the source samples that fall into one
// destination-tier-aligned bucket, per series column.
type consolidationWindow struct {
	start, end uint64
	data       map[uint32][]float64
}

func newConsolidationWindow(start, end uint64) *consolidationWindow {
	return &consolidationWindow{start: start, end: end, data: make(map[uint32][]float64)}
}

func (w *consolidationWindow) addPoint(column uint32, value float64) {
	if !math.IsNaN(value) {
		w.data[column] = append(w.data[column], value)
	}
}

// Consolidate runs one incremental downsampling pass across every adjacent
// tier pair of every schema, advancing cursors only past data it actually
// saw (§4.6). It is safe to call repeatedly: a pass with no new source data
// is a no-op, and a destination window spanning more than one pass is always
// recomputed from all of its source points, never from just the delta.
// Returns the number of destination points written.
func (st *Store) Consolidate() (int, error) {
	total := 0

	for schemaIndex, schema := range st.schemas {
		if len(schema.Tiers) < 2 {
			continue
		}
		for srcTier := 0; srcTier < len(schema.Tiers)-1; srcTier++ {
			dstTier := srcTier + 1
			n, err := st.consolidateTierPair(schemaIndex, srcTier, dstTier)
			if err != nil {
				return total, err
			}
			total += n
		}
	}

	if err := st.saveCursors(); err != nil {
		return total, err
	}

	return total, nil
}

// consolidateTierPair folds srcTierIndex's new source points into
// dstTierIndex. The cursor records the last raw source timestamp already
// folded in; on resume the scan is realigned down to the start of the
// destination window that timestamp falls in, not just past it, so a window
// split across two Consolidate() calls is recomputed from all of its source
// points and rewritten whole, rather than re-folded from only the delta and
// overwriting the destination slot with a partial reduction.
func (st *Store) consolidateTierPair(schemaIndex, srcTierIndex, dstTierIndex int) (int, error) {
	schema := st.schemas[schemaIndex]
	dstTier := schema.Tiers[dstTierIndex]

	if !dstTier.Reducer.valid() {
		return 0, newConsolidationError(schemaIndex, srcTierIndex, dstTierIndex, "destination tier has no reducer", ErrInvalidInput)
	}

	srcRing := st.rings[schemaIndex][srcTierIndex]
	dstRing := st.rings[schemaIndex][dstTierIndex]

	key := cursorKey(schemaIndex, srcTierIndex, dstTierIndex)
	lastProcessed, ok := st.cursors[key]
	if !ok {
		st.cursors[key] = 0
		lastProcessed = 0
	}

	srcNewest, hasNewest := srcRing.newestTimestamp()
	if !hasNewest || srcNewest <= lastProcessed {
		return 0, nil
	}

	dstIntervalNs := uint64(dstTier.Interval.Nanoseconds())

	var scanStart uint64
	if lastProcessed == 0 {
		if oldest, hasOldest := srcRing.oldestTimestamp(); hasOldest {
			scanStart = (oldest / dstIntervalNs) * dstIntervalNs
		}
	} else {
		resumePoint := lastProcessed + uint64(schema.Tiers[srcTierIndex].Interval.Nanoseconds())
		scanStart = (resumePoint / dstIntervalNs) * dstIntervalNs
	}

	endNs := srcNewest + 1

	if scanStart >= endNs {
		return 0, nil
	}

	operations, err := st.processConsolidationWindows(srcRing, dstRing, dstTier, scanStart, endNs, schema.MaxSeries)
	if err != nil {
		return 0, err
	}

	st.cursors[key] = srcNewest

	return operations, nil
}

func (st *Store) processConsolidationWindows(srcRing, dstRing *ring, dstTier Tier, startNs, endNs uint64, maxSeries uint32) (int, error) {
	dstIntervalNs := uint64(dstTier.Interval.Nanoseconds())
	windows := make(map[uint64]*consolidationWindow)

	for column := uint32(0); column < maxSeries; column++ {
		it, err := srcRing.read(column, startNs, endNs)
		if err != nil {
			return 0, err
		}
		for it.Next() {
			p := it.Point()
			windowStart := (p.Timestamp / dstIntervalNs) * dstIntervalNs
			windowEnd := windowStart + dstIntervalNs
			w, ok := windows[windowStart]
			if !ok {
				w = newConsolidationWindow(windowStart, windowEnd)
				windows[windowStart] = w
			}
			w.addPoint(column, p.Value)
		}
	}

	operations := 0
	for _, w := range windows {
		for column, values := range w.data {
			if len(values) == 0 {
				continue
			}
			consolidated := dstTier.Reducer.apply(values)
			if err := dstRing.write(column, consolidated, w.start); err != nil {
				return operations, err
			}
			operations++
		}
	}

	return operations, nil
}
