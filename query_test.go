package rondo_test

import (
	"testing"
	"time"

	"github.com/rondo-engine/rondo"
)

func Test_Query_Reports_FullyCovered_When_Range_Is_Within_Available_Data(t *testing.T) {
	t.Parallel()

	store, err := rondo.Open(t.TempDir(), []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	for sec := uint64(1); sec <= 5; sec++ {
		if err := store.Record(handle, float64(sec), sec*uint64(time.Second)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	// endNs == newest: the request is judged fully covered, at the cost of
	// the half-open [start,end) read excluding the point exactly at newest.
	result, err := store.Query(handle, 0, uint64(time.Second), 5*uint64(time.Second))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !result.FullyCovered() {
		t.Error("FullyCovered() = false, want true")
	}
	if result.MayBeIncomplete() {
		t.Error("MayBeIncomplete() = true, want false")
	}

	points := result.Collect()
	if len(points) != 4 {
		t.Fatalf("Collect() returned %d points, want 4", len(points))
	}
}

func Test_Query_Reports_MayBeIncomplete_When_Start_Precedes_Oldest(t *testing.T) {
	t.Parallel()

	store, err := rondo.Open(t.TempDir(), []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := store.Record(handle, 1, 5*uint64(time.Second)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	result, err := store.Query(handle, 0, 0, 10*uint64(time.Second))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !result.MayBeIncomplete() {
		t.Error("MayBeIncomplete() = false, want true when requested start precedes oldest data")
	}
}

func Test_Query_MayBeIncomplete_Is_False_When_Requested_End_Exceeds_Newest(t *testing.T) {
	t.Parallel()

	store, err := rondo.Open(t.TempDir(), []rondo.Schema{oneTierSchema(10)})
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

	// A real-time query's end is always "now", which is normally past newest.
	result, err := store.Query(handle, 0, uint64(time.Second), 100*uint64(time.Second))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if result.MayBeIncomplete() {
		t.Error("MayBeIncomplete() = true for a query ending after the newest sample, want false")
	}
}

func Test_Query_Rejects_OutOfRange_Tier_Index(t *testing.T) {
	t.Parallel()

	store, err := rondo.Open(t.TempDir(), []rondo.Schema{oneTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("requests", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := store.Query(handle, 5, 0, uint64(time.Hour)); err == nil {
		t.Fatal("Query with out-of-range tier = nil, want error")
	}
}

func Test_QueryAuto_Selects_Highest_Resolution_Tier_That_Fully_Covers_Range(t *testing.T) {
	t.Parallel()

	store, err := rondo.Open(t.TempDir(), []rondo.Schema{twoTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("cpu_usage", []rondo.Label{{Key: "metric", Value: "cpu"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	for sec := uint64(1); sec <= 3; sec++ {
		if err := store.Record(handle, float64(sec), sec*uint64(time.Second)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	result, err := store.QueryAuto(handle, uint64(time.Second), 3*uint64(time.Second))
	if err != nil {
		t.Fatalf("QueryAuto: %v", err)
	}
	if result.TierUsed() != 0 {
		t.Errorf("TierUsed() = %d, want 0 (tier 0 fully covers the range)", result.TierUsed())
	}
}

func Test_QueryAuto_Falls_Back_To_HighestIndexed_Tier_That_Has_Data(t *testing.T) {
	t.Parallel()

	store, err := rondo.Open(t.TempDir(), []rondo.Schema{twoTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("cpu_usage", []rondo.Label{{Key: "metric", Value: "cpu"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// 100s, not 1s: the destination tier's 60s-aligned window start must
	// land away from zero, the reserved empty-slot sentinel timestamp.
	if err := store.Record(handle, 1, 100*uint64(time.Second)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if _, err := store.Consolidate(); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}

	// Both tiers now hold one point apiece, but the requested range extends
	// far past either tier's actual data, so neither is fully covered.
	result, err := store.QueryAuto(handle, 0, uint64(2*time.Hour))
	if err != nil {
		t.Fatalf("QueryAuto: %v", err)
	}
	if result.TierUsed() != 1 {
		t.Errorf("TierUsed() = %d, want 1 (highest-indexed tier that has data)", result.TierUsed())
	}
}

func Test_QueryAuto_Falls_Back_To_Tier0_And_Flags_Incomplete_When_No_Tier_Has_Data(t *testing.T) {
	t.Parallel()

	store, err := rondo.Open(t.TempDir(), []rondo.Schema{twoTierSchema(10)})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	handle, err := store.Register("cpu_usage", []rondo.Label{{Key: "metric", Value: "cpu"}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Nothing was ever recorded: neither tier has any data at all.
	result, err := store.QueryAuto(handle, 0, uint64(2*time.Hour))
	if err != nil {
		t.Fatalf("QueryAuto: %v", err)
	}
	if result.TierUsed() != 0 {
		t.Errorf("TierUsed() = %d, want 0 (no tier has data)", result.TierUsed())
	}
	if !result.MayBeIncomplete() {
		t.Error("MayBeIncomplete() = false, want true for an empty series")
	}
}
