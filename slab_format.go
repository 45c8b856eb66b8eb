package rondo

import "encoding/binary"

// Slab file format constants (§6.1).
const (
	slabMagic      = "RNDO"
	slabVersion    = uint32(1)
	slabHeaderSize = 64

	seriesDirEntrySize = 4
	timestampSize      = 8
	valueSize          = 8

	unassignedColumn = uint32(0xFFFFFFFF)
)

// Header field offsets (bytes from file start). Fixed by §6.1.
const (
	offMagic        = 0  // [4]byte
	offVersion      = 4  // uint32
	offSchemaHash   = 8  // uint64
	offSlotCount    = 16 // uint32
	offMaxSeries    = 20 // uint32
	offIntervalNs   = 24 // uint64
	offWriteCursor  = 32 // uint32
	offSeriesCount  = 36 // uint32
	offReservedZero = 40 // [24]byte, through offset 64
)

// slabHeader is the 64-byte header described in §3/§6.1.
type slabHeader struct {
	SchemaHash  uint64
	SlotCount   uint32
	MaxSeries   uint32
	IntervalNs  uint64
	WriteCursor uint32
	SeriesCount uint32
}

func encodeSlabHeader(h slabHeader) []byte {
	buf := make([]byte, slabHeaderSize)

	copy(buf[offMagic:], slabMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], slabVersion)
	binary.LittleEndian.PutUint64(buf[offSchemaHash:], h.SchemaHash)
	binary.LittleEndian.PutUint32(buf[offSlotCount:], h.SlotCount)
	binary.LittleEndian.PutUint32(buf[offMaxSeries:], h.MaxSeries)
	binary.LittleEndian.PutUint64(buf[offIntervalNs:], h.IntervalNs)
	binary.LittleEndian.PutUint32(buf[offWriteCursor:], h.WriteCursor)
	binary.LittleEndian.PutUint32(buf[offSeriesCount:], h.SeriesCount)
	// Reserved 24 bytes stay zero.

	return buf
}

func decodeSlabHeader(buf []byte) (slabHeader, error) {
	if len(buf) < slabHeaderSize {
		return slabHeader{}, newSlabError("", "header truncated", ErrCorrupt)
	}

	if string(buf[offMagic:offMagic+4]) != slabMagic {
		return slabHeader{}, newSlabError("", "bad magic", ErrCorrupt)
	}

	if binary.LittleEndian.Uint32(buf[offVersion:]) != slabVersion {
		return slabHeader{}, newSlabError("", "unsupported version", ErrIncompatible)
	}

	return slabHeader{
		SchemaHash:  binary.LittleEndian.Uint64(buf[offSchemaHash:]),
		SlotCount:   binary.LittleEndian.Uint32(buf[offSlotCount:]),
		MaxSeries:   binary.LittleEndian.Uint32(buf[offMaxSeries:]),
		IntervalNs:  binary.LittleEndian.Uint64(buf[offIntervalNs:]),
		WriteCursor: binary.LittleEndian.Uint32(buf[offWriteCursor:]),
		SeriesCount: binary.LittleEndian.Uint32(buf[offSeriesCount:]),
	}, nil
}

// slabLayout computes the byte offsets of every region, matching the
// order in §3: header, series directory, timestamp column, value columns.
type slabLayout struct {
	fileSize          int64
	seriesDirOffset   int64
	timestampOffset   int64
	valueColumnsBase  int64
	valueColumnStride int64
}

func computeSlabLayout(slotCount, maxSeries uint32) slabLayout {
	seriesDirSize := int64(maxSeries) * seriesDirEntrySize
	seriesDirOffset := int64(slabHeaderSize)

	timestampOffset := seriesDirOffset + seriesDirSize
	timestampColumnSize := int64(slotCount) * timestampSize

	valueColumnsBase := timestampOffset + timestampColumnSize
	valueColumnStride := int64(slotCount) * valueSize
	totalValueSize := int64(maxSeries) * valueColumnStride

	return slabLayout{
		fileSize:          valueColumnsBase + totalValueSize,
		seriesDirOffset:   seriesDirOffset,
		timestampOffset:   timestampOffset,
		valueColumnsBase:  valueColumnsBase,
		valueColumnStride: valueColumnStride,
	}
}

func (l slabLayout) valueColumnOffset(column uint32) int64 {
	return l.valueColumnsBase + int64(column)*l.valueColumnStride
}

func (l slabLayout) seriesDirEntryOffset(seriesID uint32) int64 {
	return l.seriesDirOffset + int64(seriesID)*seriesDirEntrySize
}
