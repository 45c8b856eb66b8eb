package rondo

// QueryResult wraps a ring iterator with the metadata needed to judge
// trustworthiness of the result: which tier served it, the tier's actual
// time coverage, and whether the requested range may extend past retention
// (§4.5 query, grounded on original_source/rondo/src/query.rs).
type QueryResult struct {
	it               *ringIterator
	tierUsed         int
	oldest, newest   uint64
	hasOldest        bool
	hasNewest        bool
	requestedStart   uint64
	requestedEnd     uint64
	fullyCovered     bool
	mayBeIncomplete  bool
}

// TierUsed returns the tier index that served this query.
func (r QueryResult) TierUsed() int { return r.tierUsed }

// AvailableRange returns the oldest/newest timestamps held by the tier that
// served this query. ok is false for an empty tier.
func (r QueryResult) AvailableRange() (oldest, newest uint64, ok bool) {
	return r.oldest, r.newest, r.hasOldest && r.hasNewest
}

// RequestedRange returns the [start, end) range as passed to Query/QueryAuto.
func (r QueryResult) RequestedRange() (start, end uint64) {
	return r.requestedStart, r.requestedEnd
}

// FullyCovered reports whether the requested range lies entirely within the
// serving tier's available data.
func (r QueryResult) FullyCovered() bool { return r.fullyCovered }

// MayBeIncomplete reports whether the requested range starts before the
// oldest timestamp the serving tier holds, meaning some data may have
// already been evicted or consolidated away.
func (r QueryResult) MayBeIncomplete() bool { return r.mayBeIncomplete }

// Next advances to the next point in [start, end), skipping NaN slots.
func (r *QueryResult) Next() bool { return r.it.Next() }

// Point returns the point produced by the most recent call to Next.
func (r *QueryResult) Point() Point { return r.it.Point() }

// Collect drains the remainder of the result into a slice.
func (r *QueryResult) Collect() []Point {
	var out []Point
	for r.Next() {
		out = append(out, r.Point())
	}
	return out
}

// analyzeCoverage reports (fullyCovered, mayBeIncomplete) for a tier whose
// data spans [oldest, newest] against a requested [startNs, endNs) range.
func analyzeCoverage(oldest, newest uint64, hasData bool, startNs, endNs uint64) (fullyCovered, mayBeIncomplete bool) {
	if !hasData {
		return false, true
	}
	fullyCovered = startNs >= oldest && endNs <= newest
	mayBeIncomplete = startNs < oldest
	return fullyCovered, mayBeIncomplete
}

// Query reads handle's data from a specific tier over [startNs, endNs)
// (§4.5 query).
func (st *Store) Query(handle Handle, tierIndex int, startNs, endNs uint64) (*QueryResult, error) {
	rings := st.rings[handle.SchemaIndex]
	if tierIndex < 0 || tierIndex >= len(rings) {
		return nil, newQueryError(tierIndex, startNs, endNs, "tier index out of range")
	}

	r := rings[tierIndex]
	oldest, hasOldest := r.oldestTimestamp()
	newest, hasNewest := r.newestTimestamp()

	it, err := r.read(handle.Column, startNs, endNs)
	if err != nil {
		return nil, err
	}

	fullyCovered, mayBeIncomplete := analyzeCoverage(oldest, newest, hasOldest && hasNewest, startNs, endNs)

	return &QueryResult{
		it:              it,
		tierUsed:        tierIndex,
		oldest:          oldest,
		newest:          newest,
		hasOldest:       hasOldest,
		hasNewest:       hasNewest,
		requestedStart:  startNs,
		requestedEnd:    endNs,
		fullyCovered:    fullyCovered,
		mayBeIncomplete: mayBeIncomplete,
	}, nil
}

// QueryAuto selects the highest-resolution tier whose retention fully
// covers [startNs, endNs). If none fully covers it, the highest-indexed tier
// that has any data is used instead; if no tier has data, tier 0 is used and
// the result is flagged incomplete (§4.5 query_auto).
func (st *Store) QueryAuto(handle Handle, startNs, endNs uint64) (*QueryResult, error) {
	rings := st.rings[handle.SchemaIndex]

	for tierIndex, r := range rings {
		oldest, hasOldest := r.oldestTimestamp()
		newest, hasNewest := r.newestTimestamp()
		fullyCovered, _ := analyzeCoverage(oldest, newest, hasOldest && hasNewest, startNs, endNs)
		if fullyCovered {
			return st.Query(handle, tierIndex, startNs, endNs)
		}
	}

	for tierIndex := len(rings) - 1; tierIndex >= 0; tierIndex-- {
		_, hasOldest := rings[tierIndex].oldestTimestamp()
		_, hasNewest := rings[tierIndex].newestTimestamp()
		if hasOldest && hasNewest {
			return st.Query(handle, tierIndex, startNs, endNs)
		}
	}

	return st.Query(handle, 0, startNs, endNs)
}
