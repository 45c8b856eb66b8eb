package rondo_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rondo-engine/rondo"
)

func oneTierSchema(maxSeries uint32) rondo.Schema {
	return rondo.Schema{
		Name:      "raw",
		Matcher:   rondo.AnyLabelMatcher(),
		Tiers:     []rondo.Tier{{Interval: time.Second, Retention: time.Hour}},
		MaxSeries: maxSeries,
	}
}

func twoTierSchema(maxSeries uint32) rondo.Schema {
	return rondo.Schema{
		Name:    "cpu",
		Matcher: rondo.LabelMatcher{Required: map[string]string{"metric": "cpu"}},
		Tiers: []rondo.Tier{
			{Interval: time.Second, Retention: time.Hour},
			{Interval: time.Minute, Retention: 24 * time.Hour, Reducer: rondo.Average},
		},
		MaxSeries: maxSeries,
	}
}

func Test_Open_Creates_A_Fresh_Store_Directory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "store")
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if store.Path() != dir {
		t.Errorf("Path() = %q, want %q", store.Path(), dir)
	}
	if len(store.Schemas()) != 1 {
		t.Fatalf("Schemas() = %v, want 1 entry", store.Schemas())
	}
}

func Test_Open_Reopens_An_Existing_Store_With_Matching_Schemas(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "store")
	schemas := []rondo.Schema{oneTierSchema(10)}

	store1, err := rondo.Open(dir, schemas)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	handle, err := store1.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store1.Record(handle, 1.0, uint64(time.Second)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	store2, err := rondo.Open(dir, schemas)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer store2.Close()

	reopened, err := store2.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register after reopen: %v", err)
	}
	if reopened != handle {
		t.Fatalf("Register after reopen returned %+v, want %+v", reopened, handle)
	}

	result, err := store2.Query(handle, 0, 0, uint64(time.Hour))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !result.Next() {
		t.Fatal("expected the point recorded before the reopen to survive")
	}
}

func Test_Open_Rejects_A_Schema_Mismatch_On_Reopen(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "store")

	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = rondo.Open(dir, []rondo.Schema{oneTierSchema(20)})
	if err == nil {
		t.Fatal("Open with a changed MaxSeries = nil, want ErrIncompatible")
	}
	if !errors.Is(err, rondo.ErrIncompatible) {
		t.Errorf("Open error = %v, want classified as ErrIncompatible", err)
	}
}

func Test_Open_Rejects_Invalid_Schema_Before_Touching_Disk(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "store")
	bad := oneTierSchema(0) // MaxSeries == 0 is invalid

	if _, err := rondo.Open(dir, []rondo.Schema{bad}); err == nil {
		t.Fatal("Open with invalid schema = nil, want error")
	}
}

func Test_Open_Second_Concurrent_Open_Of_Same_Directory_Fails(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "store")
	schemas := []rondo.Schema{oneTierSchema(10)}

	store1, err := rondo.Open(dir, schemas)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer store1.Close()

	_, err = rondo.Open(dir, schemas)
	if err == nil {
		t.Fatal("second concurrent Open = nil, want lock error")
	}
}

func Test_Register_Returns_Same_Handle_For_Repeated_Calls(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	h1, err := store.Register("requests", []rondo.Label{{Key: "host", Value: "a"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	h2, err := store.Register("requests", []rondo.Label{{Key: "host", Value: "a"}})
	if err != nil {
		t.Fatalf("Register again: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("Register returned different handles: %+v != %+v", h1, h2)
	}
}

func Test_RegisterBatch_Registers_Every_Entry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handles, err := store.RegisterBatch([]rondo.RegisterEntry{
		{Name: "a"},
		{Name: "b"},
		{Name: "c"},
	})
	if err != nil {
		t.Fatalf("RegisterBatch: %v", err)
	}
	if len(handles) != 3 {
		t.Fatalf("RegisterBatch returned %d handles, want 3", len(handles))
	}
	if store.SeriesCount() != 3 {
		t.Fatalf("SeriesCount() = %d, want 3", store.SeriesCount())
	}
}

func Test_RegisterBatch_Returns_Partial_Results_When_Some_Entries_Are_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handles, err := store.RegisterBatch([]rondo.RegisterEntry{
		{Name: "a"},
		{Name: ""}, // invalid: empty name
		{Name: "c"},
	})
	if err == nil {
		t.Fatal("RegisterBatch() with an invalid entry = nil error, want non-nil")
	}
	if len(handles) != 3 {
		t.Fatalf("RegisterBatch() returned %d handles, want 3 (one per entry)", len(handles))
	}
	if handles[0] == (rondo.Handle{}) {
		t.Error("handles[0] is zero, want the handle for the valid \"a\" entry")
	}
	if handles[2] == (rondo.Handle{}) {
		t.Error("handles[2] is zero, want the handle for the valid \"c\" entry")
	}
	if handles[0] == handles[2] {
		t.Error("\"a\" and \"c\" were given the same handle")
	}
	if store.SeriesCount() != 2 {
		t.Errorf("SeriesCount() = %d, want 2 (the two valid entries), the invalid entry must not block the others", store.SeriesCount())
	}
}

func Test_Record_Rejects_Zero_Timestamp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := store.Record(handle, 1, 0); err == nil {
		t.Fatal("Record with ts=0 = nil, want error")
	}
}

func Test_RecordBatch_Writes_Every_Handle_At_The_Shared_Timestamp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	schema := twoTierSchema(10)
	store, err := rondo.Open(dir, []rondo.Schema{schema})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	h1, err := store.Register("cpu_usage", []rondo.Label{{Key: "metric", Value: "cpu"}, {Key: "host", Value: "a"}})
	if err != nil {
		t.Fatalf("Register h1: %v", err)
	}
	h2, err := store.Register("cpu_usage", []rondo.Label{{Key: "metric", Value: "cpu"}, {Key: "host", Value: "b"}})
	if err != nil {
		t.Fatalf("Register h2: %v", err)
	}

	ts := uint64(time.Second)
	err = store.RecordBatch([]rondo.RecordEntry{{Handle: h1, Value: 10}, {Handle: h2, Value: 20}}, ts)
	if err != nil {
		t.Fatalf("RecordBatch: %v", err)
	}

	r1, err := store.Query(h1, 0, 0, ts+1)
	if err != nil {
		t.Fatalf("Query h1: %v", err)
	}
	if !r1.Next() || r1.Point().Value != 10 {
		t.Fatalf("h1 value mismatch after RecordBatch")
	}
	r2, err := store.Query(h2, 0, 0, ts+1)
	if err != nil {
		t.Fatalf("Query h2: %v", err)
	}
	if !r2.Next() || r2.Point().Value != 20 {
		t.Fatalf("h2 value mismatch after RecordBatch")
	}
}

func Test_RecordBatch_Rejects_Batch_Exceeding_Entry_Limit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	entries := make([]rondo.RecordEntry, 100_001)
	for i := range entries {
		entries[i] = rondo.RecordEntry{Handle: handle, Value: 1}
	}

	if err := store.RecordBatch(entries, uint64(time.Second)); err == nil {
		t.Fatal("RecordBatch() with more than 100000 entries = nil, want error")
	}
}

func Test_Stats_Reports_SeriesCount_And_Tier_Occupancy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.Record(handle, 1, uint64(time.Second)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	stats := store.Stats()
	if stats.SeriesCount != 1 {
		t.Errorf("Stats().SeriesCount = %d, want 1", stats.SeriesCount)
	}
	if len(stats.TierStats) != 1 || len(stats.TierStats[0].Tiers) != 1 {
		t.Fatalf("Stats().TierStats = %+v, want one schema with one tier", stats.TierStats)
	}
	if stats.TierStats[0].Tiers[0].SlotsUsed != 1 {
		t.Errorf("SlotsUsed = %d, want 1", stats.TierStats[0].Tiers[0].SlotsUsed)
	}
}

func Test_Sync_Returns_No_Error_On_A_Freshly_Opened_Store(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := rondo.Open(dir, []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	if err := store.Sync(); err != nil {
		t.Errorf("Sync: %v", err)
	}
}
