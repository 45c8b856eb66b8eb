package rondo

import (
	"sort"
	"strconv"
	"strings"
)

// Handle is the opaque identifier returned by registration: schema index,
// series id within the schema, and column within the tier's value region
// (§3 Handle). It is trivially copyable and is the only object permitted on
// the write hot path.
//
// A Handle is valid for the Store that issued it. Reopening a store restores
// the registry counters, so calling Register again for the same
// (name, labels) returns an equal Handle; a Handle kept from before a reopen
// is not checked or invalidated by the new Store.
type Handle struct {
	SchemaIndex int
	SeriesID    uint32
	Column      uint32
}

// SeriesInfo describes a registered series for display and export (§4.4
// series_info).
type SeriesInfo struct {
	Name        string
	Labels      []Label
	SchemaIndex int
	SeriesID    uint32
	Column      uint32
}

func (i SeriesInfo) handle() Handle {
	return Handle{SchemaIndex: i.SchemaIndex, SeriesID: i.SeriesID, Column: i.Column}
}

// seriesKey builds a unique string key for (name, labels). Each component is
// length-prefixed rather than delimiter-separated so that a key or value
// containing what would otherwise look like a delimiter (e.g. "=" or ";")
// can never collide with a different (name, labels) pair.
func seriesKey(name string, labels []Label) string {
	sorted := append([]Label(nil), labels...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	writeLengthPrefixed(&b, name)
	for _, l := range sorted {
		writeLengthPrefixed(&b, l.Key)
		writeLengthPrefixed(&b, l.Value)
	}
	return b.String()
}

func writeLengthPrefixed(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

// seriesRegistry maps (name, labels) to a Handle, persists to series_index.bin,
// and enforces per-schema capacity (§4.4).
type seriesRegistry struct {
	schemas       []Schema
	byKey         map[string]SeriesInfo
	nextSeriesID  []uint32
	nextColumn    []uint32
}

func newSeriesRegistry(schemas []Schema) *seriesRegistry {
	return &seriesRegistry{
		schemas:      schemas,
		byKey:        make(map[string]SeriesInfo),
		nextSeriesID: make([]uint32, len(schemas)),
		nextColumn:   make([]uint32, len(schemas)),
	}
}

func validateLabel(l Label) error {
	if l.Key == "" {
		return newSeriesError("", nil, "label key must not be empty", ErrInvalidInput)
	}
	if l.Value == "" {
		return newSeriesError("", nil, "label value must not be empty", ErrInvalidInput)
	}
	if strings.HasPrefix(l.Key, reservedLabelPrefix) {
		return newSeriesError("", nil, "label key must not use reserved prefix \"__\"", ErrInvalidInput)
	}
	return nil
}

func (r *seriesRegistry) findMatchingSchema(labels []Label) (int, error) {
	for i, s := range r.schemas {
		if s.Matches(labels) {
			return i, nil
		}
	}
	return -1, newSeriesError("", labels, "no schema matches these labels", ErrNotFound)
}

// register implements the in-memory part of §4.4 register: validate and
// find-or-create. Returns the existing handle unchanged if (name, labels)
// was already registered; created reports whether a new entry was added.
// It does not touch the slabs or persist the index: the Store callers do.
func (r *seriesRegistry) register(name string, labels []Label) (Handle, bool, error) {
	if name == "" {
		return Handle{}, false, newSeriesError(name, labels, "series name must not be empty", ErrInvalidInput)
	}
	for _, l := range labels {
		if err := validateLabel(l); err != nil {
			return Handle{}, false, err
		}
	}

	key := seriesKey(name, labels)
	if info, ok := r.byKey[key]; ok {
		return info.handle(), false, nil
	}

	schemaIndex, err := r.findMatchingSchema(labels)
	if err != nil {
		return Handle{}, false, err
	}

	if r.nextSeriesID[schemaIndex] >= r.schemas[schemaIndex].MaxSeries {
		return Handle{}, false, newSeriesError(name, labels, "maximum series count exceeded for schema", ErrCapacity)
	}

	seriesID := r.nextSeriesID[schemaIndex]
	column := r.nextColumn[schemaIndex]

	info := SeriesInfo{
		Name:        name,
		Labels:      append([]Label(nil), labels...),
		SchemaIndex: schemaIndex,
		SeriesID:    seriesID,
		Column:      column,
	}

	r.byKey[key] = info
	r.nextSeriesID[schemaIndex]++
	r.nextColumn[schemaIndex]++

	return info.handle(), true, nil
}

func (r *seriesRegistry) getHandle(name string, labels []Label) (Handle, bool) {
	info, ok := r.byKey[seriesKey(name, labels)]
	if !ok {
		return Handle{}, false
	}
	return info.handle(), true
}

func (r *seriesRegistry) seriesInfo(h Handle) (SeriesInfo, bool) {
	for _, info := range r.byKey {
		if info.SchemaIndex == h.SchemaIndex && info.SeriesID == h.SeriesID && info.Column == h.Column {
			return info, true
		}
	}
	return SeriesInfo{}, false
}

// allInSchema returns every registered series belonging to schemaIndex,
// sorted by series id; Drain uses it to enumerate columns.
func (r *seriesRegistry) allInSchema(schemaIndex int) []SeriesInfo {
	out := make([]SeriesInfo, 0, r.nextSeriesID[schemaIndex])
	for _, info := range r.byKey {
		if info.SchemaIndex == schemaIndex {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeriesID < out[j].SeriesID })
	return out
}

func (r *seriesRegistry) seriesCount(schemaIndex int) uint32 {
	return r.nextSeriesID[schemaIndex]
}

// --- persistence (series_index.bin, JSON despite the name, §6.2/§6.3) ---

type persistedSeriesEntry struct {
	Name        string     `json:"name"`
	Labels      [][2]string `json:"labels"`
	SchemaIndex int        `json:"schema_index"`
	SeriesID    uint32     `json:"series_id"`
	Column      uint32     `json:"column"`
}

type persistedSeriesIndex struct {
	Series       []persistedSeriesEntry `json:"series"`
	NextSeriesID []uint32               `json:"next_series_id"`
	NextColumn   []uint32               `json:"next_column"`
}

func (r *seriesRegistry) toPersisted() persistedSeriesIndex {
	out := persistedSeriesIndex{
		NextSeriesID: append([]uint32(nil), r.nextSeriesID...),
		NextColumn:   append([]uint32(nil), r.nextColumn...),
	}
	for _, info := range r.byKey {
		labels := make([][2]string, len(info.Labels))
		for i, l := range info.Labels {
			labels[i] = [2]string{l.Key, l.Value}
		}
		out.Series = append(out.Series, persistedSeriesEntry{
			Name:        info.Name,
			Labels:      labels,
			SchemaIndex: info.SchemaIndex,
			SeriesID:    info.SeriesID,
			Column:      info.Column,
		})
	}
	sort.Slice(out.Series, func(i, j int) bool {
		if out.Series[i].SchemaIndex != out.Series[j].SchemaIndex {
			return out.Series[i].SchemaIndex < out.Series[j].SchemaIndex
		}
		return out.Series[i].SeriesID < out.Series[j].SeriesID
	})
	return out
}

// loadSeriesRegistry rebuilds a registry from its persisted form. A mismatch
// between the number of counter entries and the configured schema count is
// corruption (§4.4).
func loadSeriesRegistry(schemas []Schema, persisted persistedSeriesIndex) (*seriesRegistry, error) {
	if len(persisted.NextSeriesID) != len(schemas) || len(persisted.NextColumn) != len(schemas) {
		return nil, newStoreError("series_index.bin", "counter vector length does not match schema count", ErrCorrupt)
	}

	r := &seriesRegistry{
		schemas:      schemas,
		byKey:        make(map[string]SeriesInfo, len(persisted.Series)),
		nextSeriesID: append([]uint32(nil), persisted.NextSeriesID...),
		nextColumn:   append([]uint32(nil), persisted.NextColumn...),
	}

	for _, e := range persisted.Series {
		labels := make([]Label, len(e.Labels))
		for i, kv := range e.Labels {
			labels[i] = Label{Key: kv[0], Value: kv[1]}
		}
		info := SeriesInfo{
			Name:        e.Name,
			Labels:      labels,
			SchemaIndex: e.SchemaIndex,
			SeriesID:    e.SeriesID,
			Column:      e.Column,
		}
		r.byKey[seriesKey(e.Name, labels)] = info
	}

	return r, nil
}
