// Package rondo provides an embedded round-robin time-series storage engine.
//
// rondo is a library linked directly into a host process, recording numeric
// samples with dimensional labels into fixed-size, memory-mapped ring
// buffers, downsampling them into lower-resolution tiers, and exposing a
// cursor-based drain for periodic push to an external long-term store. The
// design follows RRDtool: fixed-size files, bounded memory, no background
// threads owned by the library.
//
// # Basic usage
//
//	schema := rondo.Schema{
//	    Name:    "cpu",
//	    Matcher: rondo.LabelMatcher{Required: map[string]string{"metric": "cpu"}},
//	    Tiers: []rondo.Tier{
//	        {Interval: time.Second, Retention: time.Hour},
//	        {Interval: time.Minute, Retention: 24 * time.Hour, Reducer: rondo.Average},
//	    },
//	    MaxSeries: 1000,
//	}
//
//	store, err := rondo.Open("/var/lib/rondo/cpu", []rondo.Schema{schema})
//	if err != nil {
//	    // ErrCorrupt/ErrIncompatible: rebuild the directory from scratch.
//	}
//	defer store.Close()
//
//	handle, err := store.Register("cpu_usage", []rondo.Label{{Key: "host", Value: "a"}})
//	err = store.Record(handle, 85.5, uint64(time.Now().UnixNano()))
//
//	result, err := store.Query(handle, 0, 0, uint64(time.Now().UnixNano()))
//	for result.Next() {
//	    p := result.Point() // p.Timestamp, p.Value
//	}
//
//	windows, err := store.Consolidate()
//	batches, err := store.Drain(0, "prometheus")
//	err = store.SaveCursor("prometheus")
//
// # Concurrency
//
// rondo is single-threaded per Store: every operation on an open Store
// assumes exclusive access, which the host process must enforce (for
// example with an external mutex). The advisory file lock acquired by Open
// only makes a second Open of the same directory fail; it does not
// serialize calls on one Store. There are no internal
// goroutines and no asynchronous suspension points; maintenance
// (Consolidate, Drain) only runs when the caller invokes it.
//
// # Error handling
//
// Errors fall into two categories:
//
// Rebuild errors ([ErrCorrupt], [ErrIncompatible]): the store directory or a
// slab file failed validation. Delete and recreate the store.
//
// Configuration/data errors ([ErrInvalidInput], [ErrCapacity], [ErrNotFound]):
// the caller passed a bad schema, label, handle, or time range. These never
// leave partial state behind; the affected write or registration had no
// side effect on stable state.
package rondo
