package rondo

import (
	"fmt"
	"path/filepath"

	"github.com/rondo-engine/rondo/internal/fsutil"
)

// SeriesExport is one series' worth of newly-drained points (§4.7 drain).
type SeriesExport struct {
	Handle Handle
	Points []Point
}

// exportCursor tracks, per (schema, tier, column) triple, the last
// timestamp handed to one named consumer. Advances only in memory on Drain;
// SaveCursor is what makes progress durable, so a crash between Drain and
// SaveCursor simply redelivers the same points on the next Drain.
type exportCursor struct {
	dirty   bool
	cursors map[string]uint64
}

func exportKey(schemaIndex, tierIndex int, column uint32) string {
	return fmt.Sprintf("%d:%d:%d", schemaIndex, tierIndex, column)
}

func cursorFileName(consumer string) string {
	return "cursor_" + consumer + ".json"
}

type persistedExportCursor struct {
	Cursors map[string]uint64 `json:"cursors"`
}

func (st *Store) exportCursorFor(consumer string) (*exportCursor, error) {
	if c, ok := st.exports[consumer]; ok {
		return c, nil
	}

	path := filepath.Join(st.path, cursorFileName(consumer))
	c := &exportCursor{cursors: make(map[string]uint64)}

	exists, err := st.fs.Exists(path)
	if err != nil {
		return nil, newExportError(consumer, err.Error(), ErrIO)
	}
	if exists {
		var persisted persistedExportCursor
		if err := fsutil.ReadJSON(st.fs, path, &persisted); err != nil {
			return nil, newExportError(consumer, err.Error(), ErrCorrupt)
		}
		if persisted.Cursors != nil {
			c.cursors = persisted.Cursors
		}
	}

	st.exports[consumer] = c
	return c, nil
}

// Drain returns every point newer than consumer's current cursor position
// for every registered series at tierIndex, across all schemas, and
// advances the in-memory cursor to the newest point returned for each
// series (§4.7 drain). The cursor is loaded from cursor_<consumer>.json on
// the consumer's first Drain and is then advanced by each Drain, whether or
// not SaveCursor was called in between. Call SaveCursor after successfully
// delivering the result to make the advance durable.
func (st *Store) Drain(tierIndex int, consumer string) ([]SeriesExport, error) {
	if tierIndex < 0 {
		return nil, newExportError(consumer, fmt.Sprintf("tier index %d must not be negative", tierIndex), ErrInvalidInput)
	}

	cursor, err := st.exportCursorFor(consumer)
	if err != nil {
		return nil, err
	}

	var out []SeriesExport

	for schemaIndex, schemaRings := range st.rings {
		if tierIndex >= len(schemaRings) {
			// Not every schema carries the same number of tiers; one that
			// doesn't reach this far just has nothing to drain at it.
			continue
		}
		r := schemaRings[tierIndex]

		for _, info := range st.registry.allInSchema(schemaIndex) {
			points, err := drainSeries(r, schemaIndex, tierIndex, info.Column, cursor)
			if err != nil {
				return nil, err
			}
			if len(points) > 0 {
				out = append(out, SeriesExport{Handle: info.handle(), Points: points})
			}
		}
	}

	return out, nil
}

// drainSeries returns points newer than cursor's position for one series'
// column and advances cursor to the newest timestamp read.
func drainSeries(r *ring, schemaIndex, tierIndex int, column uint32, cursor *exportCursor) ([]Point, error) {
	oldest, hasOldest := r.oldestTimestamp()
	newest, hasNewest := r.newestTimestamp()
	if !hasOldest || !hasNewest {
		return nil, nil
	}

	key := exportKey(schemaIndex, tierIndex, column)
	last, hasLast := cursor.cursors[key]

	start := oldest
	if hasLast {
		start = last + 1
	}

	if start > newest {
		return nil, nil
	}

	it, err := r.read(column, start, newest+1)
	if err != nil {
		return nil, err
	}

	var points []Point
	for it.Next() {
		points = append(points, it.Point())
	}

	if len(points) > 0 {
		cursor.cursors[key] = points[len(points)-1].Timestamp
		cursor.dirty = true
	}

	return points, nil
}

// SaveCursor persists consumer's current drain progress to
// cursor_<consumer>.json. Only meaningful after a successful Drain for that
// consumer; if Drain was never called for consumer this is a no-op.
func (st *Store) SaveCursor(consumer string) error {
	cursor, ok := st.exports[consumer]
	if !ok || !cursor.dirty {
		return nil
	}

	path := filepath.Join(st.path, cursorFileName(consumer))
	if err := fsutil.WriteJSONAtomic(st.fs, path, persistedExportCursor{Cursors: cursor.cursors}); err != nil {
		return newExportError(consumer, err.Error(), ErrIO)
	}

	cursor.dirty = false
	return nil
}

// RemoteWritePoint is the narrow shape a remote-write style pusher needs
// from a drained SeriesExport: one fully-resolved (labels, timestamp,
// value) sample. rondo does not implement a wire codec; callers adapt
// SeriesExport into whatever protocol their downstream store speaks.
type RemoteWritePoint struct {
	Name      string
	Labels    []Label
	Timestamp uint64
	Value     float64
}

// ToRemoteWritePoints flattens a SeriesExport into one RemoteWritePoint per
// sample, resolving the handle back to its registered name and labels.
func (st *Store) ToRemoteWritePoints(export SeriesExport) ([]RemoteWritePoint, error) {
	info, ok := st.registry.seriesInfo(export.Handle)
	if !ok {
		return nil, newSeriesError("", nil, "handle not found in registry", ErrNotFound)
	}

	out := make([]RemoteWritePoint, len(export.Points))
	for i, p := range export.Points {
		out[i] = RemoteWritePoint{Name: info.Name, Labels: info.Labels, Timestamp: p.Timestamp, Value: p.Value}
	}
	return out, nil
}
