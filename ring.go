package rondo

import "math"

// ring wraps a slab with time-series semantics: timestamp-to-slot mapping,
// wrap-around detection, and chronologically-ordered read iteration (§4.2).
// Grounded directly on original_source/rondo/src/ring.rs.
type ring struct {
	s          *slab
	hasWrapped bool
}

// newRing wraps s, detecting whether it has already wrapped by inspecting
// the slot immediately after the write cursor.
func newRing(s *slab) *ring {
	cursor := s.writeCursor()
	count := s.slotCount()

	var wrapped bool
	if cursor == 0 {
		wrapped = count > 1 && s.readTimestamp(1) != 0
	} else {
		next := (cursor + 1) % count
		wrapped = s.readTimestamp(next) != 0
	}

	return &ring{s: s, hasWrapped: wrapped}
}

func (r *ring) computeSlot(tsNs uint64) uint32 {
	return uint32((tsNs / r.s.intervalNs()) % uint64(r.s.slotCount()))
}

// write stores value for column at tsNs, advancing the cursor when this is
// the newest write (§4.2 write).
func (r *ring) write(column uint32, value float64, tsNs uint64) error {
	if math.IsInf(value, 0) {
		return newRecordError(tsNs, value, "infinite values are not allowed")
	}
	if tsNs == 0 {
		return newRecordError(tsNs, value, "timestamp zero is reserved for empty slots")
	}

	slotIndex := r.computeSlot(tsNs)
	cursor := r.s.writeCursor()

	if slotIndex < cursor && !r.hasWrapped {
		r.hasWrapped = true
	}

	r.s.writeTimestamp(slotIndex, tsNs)
	r.s.writeValue(slotIndex, column, value)

	if r.hasWrapped || slotIndex >= cursor {
		r.s.setWriteCursor(slotIndex)
	}

	return nil
}

// ColumnValue pairs a series column with the value to write at one timestamp.
type ColumnValue struct {
	Column uint32
	Value  float64
}

// writeBatch writes multiple columns at the same timestamp, advancing the
// cursor once and writing the timestamp once (§4.2 write, batch form).
func (r *ring) writeBatch(entries []ColumnValue, tsNs uint64) error {
	if tsNs == 0 {
		return newRecordError(tsNs, 0, "timestamp zero is reserved for empty slots")
	}
	for _, e := range entries {
		if math.IsInf(e.Value, 0) {
			return newRecordError(tsNs, e.Value, "infinite values are not allowed")
		}
	}

	slotIndex := r.computeSlot(tsNs)
	cursor := r.s.writeCursor()

	if slotIndex < cursor && !r.hasWrapped {
		r.hasWrapped = true
	}

	r.s.writeTimestamp(slotIndex, tsNs)
	for _, e := range entries {
		r.s.writeValue(slotIndex, e.Column, e.Value)
	}

	if r.hasWrapped || slotIndex >= cursor {
		r.s.setWriteCursor(slotIndex)
	}

	return nil
}

func (r *ring) isEmpty() bool {
	return r.s.readTimestamp(r.s.writeCursor()) == 0
}

func (r *ring) hasWrappedFlag() bool {
	return r.hasWrapped
}

func (r *ring) oldestTimestamp() (uint64, bool) {
	if r.isEmpty() {
		return 0, false
	}
	if r.hasWrapped {
		oldest := (r.s.writeCursor() + 1) % r.s.slotCount()
		ts := r.s.readTimestamp(oldest)
		if ts == 0 {
			return 0, false
		}
		return ts, true
	}
	for slot := uint32(0); slot < r.s.slotCount(); slot++ {
		ts := r.s.readTimestamp(slot)
		if ts != 0 {
			return ts, true
		}
	}
	return 0, false
}

func (r *ring) newestTimestamp() (uint64, bool) {
	if r.isEmpty() {
		return 0, false
	}
	ts := r.s.readTimestamp(r.s.writeCursor())
	if ts == 0 {
		return 0, false
	}
	return ts, true
}

func (r *ring) slotsUsed() uint32 {
	if r.isEmpty() {
		return 0
	}
	if r.hasWrapped {
		return r.s.slotCount()
	}
	var count uint32
	for slot := uint32(0); slot < r.s.slotCount(); slot++ {
		if r.s.readTimestamp(slot) != 0 {
			count++
		}
	}
	return count
}

// Point is one (timestamp, value) sample.
type Point struct {
	Timestamp uint64
	Value     float64
}

// ringIterator visits slots in chronological order, yielding points whose
// timestamp falls in [start, end) and whose value is not NaN (§4.2 read).
type ringIterator struct {
	r             *ring
	column        uint32
	start, end    uint64
	current       uint32
	remaining     uint32
	next          Point
	hasNext       bool
}

// read builds a lazy iterator over [startNs, endNs) for column.
func (r *ring) read(column uint32, startNs, endNs uint64) (*ringIterator, error) {
	if startNs >= endNs {
		return nil, newQueryError(-1, startNs, endNs, "invalid time range: start >= end")
	}

	it := &ringIterator{r: r, column: column, start: startNs, end: endNs}

	if r.isEmpty() {
		it.remaining = 0
		return it, nil
	}

	if r.hasWrapped {
		it.current = (r.s.writeCursor() + 1) % r.s.slotCount()
		it.remaining = r.s.slotCount()
	} else {
		it.current = 0
		it.remaining = r.s.writeCursor() + 1
	}

	return it, nil
}

// Next advances the iterator. It returns false once exhausted.
func (it *ringIterator) Next() bool {
	for it.remaining > 0 {
		ts := it.r.s.readTimestamp(it.current)
		value := it.r.s.readValue(it.current, it.column)

		it.current = (it.current + 1) % it.r.s.slotCount()
		it.remaining--

		if ts >= it.start && ts < it.end && !math.IsNaN(value) {
			it.next = Point{Timestamp: ts, Value: value}
			it.hasNext = true
			return true
		}
	}
	it.hasNext = false
	return false
}

// Point returns the point produced by the most recent call to Next.
func (it *ringIterator) Point() Point {
	return it.next
}
