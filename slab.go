package rondo

import (
	"encoding/binary"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// slab is a thin typed view over a memory-mapped region laid out per §3/§6.1:
// header, series directory, timestamp column, value columns. It enforces the
// binary layout and nothing else — no time semantics, no ring logic.
type slab struct {
	path   string
	file   *os.File
	data   []byte
	layout slabLayout
}

// createSlab allocates a new slab file of the exact size implied by the
// parameters, mmaps it, and initializes every region (§4.1 create).
func createSlab(path string, schemaHash uint64, slotCount, maxSeries uint32, intervalNs uint64) (*slab, error) {
	layout := computeSlabLayout(slotCount, maxSeries)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, newSlabError(path, "create: "+err.Error(), ErrIO)
	}

	if err := f.Truncate(layout.fileSize); err != nil {
		f.Close()
		os.Remove(path)
		return nil, newSlabError(path, "truncate: "+err.Error(), ErrIO)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(layout.fileSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, newSlabError(path, "mmap: "+err.Error(), ErrIO)
	}

	s := &slab{path: path, file: f, data: data, layout: layout}

	header := slabHeader{
		SchemaHash: schemaHash,
		SlotCount:  slotCount,
		MaxSeries:  maxSeries,
		IntervalNs: intervalNs,
	}
	copy(s.data[:slabHeaderSize], encodeSlabHeader(header))

	for id := uint32(0); id < maxSeries; id++ {
		s.setSeriesColumnRaw(id, unassignedColumn)
	}
	// Timestamp column is already zero from Truncate; value columns need NaN.
	nanBits := math.Float64bits(math.NaN())
	for col := uint32(0); col < maxSeries; col++ {
		base := layout.valueColumnOffset(col)
		for i := int64(0); i < int64(slotCount); i++ {
			binary.LittleEndian.PutUint64(s.data[base+i*valueSize:], nanBits)
		}
	}

	return s, nil
}

// openSlab mmaps an existing slab file, validating header and file size
// (§4.1 open).
func openSlab(path string) (*slab, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, newSlabError(path, "open: "+err.Error(), ErrIO)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newSlabError(path, "stat: "+err.Error(), ErrIO)
	}

	if info.Size() < slabHeaderSize {
		f.Close()
		return nil, newSlabError(path, "file smaller than header", ErrCorrupt)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, newSlabError(path, "mmap: "+err.Error(), ErrIO)
	}

	header, err := decodeSlabHeader(data[:slabHeaderSize])
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	layout := computeSlabLayout(header.SlotCount, header.MaxSeries)
	if layout.fileSize != info.Size() {
		unix.Munmap(data)
		f.Close()
		return nil, newSlabError(path, "file size does not match header-derived layout", ErrCorrupt)
	}

	return &slab{path: path, file: f, data: data, layout: layout}, nil
}

// close unmaps the slab and closes the underlying file descriptor.
func (s *slab) close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	closeErr := s.file.Close()
	if err != nil {
		return newSlabError(s.path, "munmap: "+err.Error(), ErrIO)
	}
	if closeErr != nil {
		return newSlabError(s.path, "close: "+closeErr.Error(), ErrIO)
	}
	return nil
}

// sync flushes the mmap to disk. Best-effort durability barrier; never
// called automatically (§5, §9).
func (s *slab) sync() error {
	if err := unix.Msync(s.data, unix.MS_SYNC); err != nil {
		return newSlabError(s.path, "msync: "+err.Error(), ErrIO)
	}
	return nil
}

func (s *slab) schemaHash() uint64 {
	return binary.LittleEndian.Uint64(s.data[offSchemaHash:])
}

func (s *slab) slotCount() uint32 {
	return binary.LittleEndian.Uint32(s.data[offSlotCount:])
}

func (s *slab) maxSeries() uint32 {
	return binary.LittleEndian.Uint32(s.data[offMaxSeries:])
}

func (s *slab) intervalNs() uint64 {
	return binary.LittleEndian.Uint64(s.data[offIntervalNs:])
}

func (s *slab) writeCursor() uint32 {
	return binary.LittleEndian.Uint32(s.data[offWriteCursor:])
}

func (s *slab) setWriteCursor(pos uint32) {
	binary.LittleEndian.PutUint32(s.data[offWriteCursor:], pos)
}

func (s *slab) seriesCount() uint32 {
	return binary.LittleEndian.Uint32(s.data[offSeriesCount:])
}

func (s *slab) setSeriesCount(count uint32) {
	binary.LittleEndian.PutUint32(s.data[offSeriesCount:], count)
}

// writeTimestamp/readTimestamp, writeValue/readValue are the hot-path typed
// accessors (§4.1). The caller guarantees slotIndex/column are in bounds;
// these do not allocate and do not validate.
func (s *slab) writeTimestamp(slotIndex uint32, ts uint64) {
	off := s.layout.timestampOffset + int64(slotIndex)*timestampSize
	binary.LittleEndian.PutUint64(s.data[off:], ts)
}

func (s *slab) readTimestamp(slotIndex uint32) uint64 {
	off := s.layout.timestampOffset + int64(slotIndex)*timestampSize
	return binary.LittleEndian.Uint64(s.data[off:])
}

func (s *slab) writeValue(slotIndex, column uint32, value float64) {
	off := s.layout.valueColumnOffset(column) + int64(slotIndex)*valueSize
	binary.LittleEndian.PutUint64(s.data[off:], math.Float64bits(value))
}

func (s *slab) readValue(slotIndex, column uint32) float64 {
	off := s.layout.valueColumnOffset(column) + int64(slotIndex)*valueSize
	return math.Float64frombits(binary.LittleEndian.Uint64(s.data[off:]))
}

// getSeriesColumn returns the column assigned to seriesID, or (0, false) if
// unassigned (§4.1 get/set_series_column).
func (s *slab) getSeriesColumn(seriesID uint32) (uint32, bool) {
	if seriesID >= s.maxSeries() {
		return 0, false
	}
	off := s.layout.seriesDirEntryOffset(seriesID)
	col := binary.LittleEndian.Uint32(s.data[off:])
	if col == unassignedColumn {
		return 0, false
	}
	return col, true
}

func (s *slab) setSeriesColumn(seriesID, column uint32) {
	s.setSeriesColumnRaw(seriesID, column)
}

func (s *slab) setSeriesColumnRaw(seriesID, column uint32) {
	off := s.layout.seriesDirEntryOffset(seriesID)
	binary.LittleEndian.PutUint32(s.data[off:], column)
}
