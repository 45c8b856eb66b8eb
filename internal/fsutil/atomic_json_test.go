package fsutil

import (
	"path/filepath"
	"testing"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func Test_WriteJSONAtomic_And_ReadJSON_RoundTrip(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "meta.json")

	want := testPayload{Name: "cpu", Count: 3}
	if err := WriteJSONAtomic(fsys, path, want); err != nil {
		t.Fatalf("WriteJSONAtomic: %v", err)
	}

	var got testPayload
	if err := ReadJSON(fsys, path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got != want {
		t.Errorf("ReadJSON() = %+v, want %+v", got, want)
	}
}

func Test_WriteJSONAtomic_Overwrites_Existing_File(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "meta.json")

	if err := WriteJSONAtomic(fsys, path, testPayload{Name: "a", Count: 1}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteJSONAtomic(fsys, path, testPayload{Name: "b", Count: 2}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	var got testPayload
	if err := ReadJSON(fsys, path, &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if want := (testPayload{Name: "b", Count: 2}); got != want {
		t.Errorf("ReadJSON() after overwrite = %+v, want %+v", got, want)
	}
}

func Test_ReadJSON_Fails_On_Missing_File(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	var got testPayload
	if err := ReadJSON(fsys, path, &got); err == nil {
		t.Fatal("ReadJSON(missing file) = nil, want error")
	}
}

func Test_EnsureDir_Creates_Nested_Directories(t *testing.T) {
	t.Parallel()

	fsys := NewReal()
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	if err := EnsureDir(fsys, dir); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	exists, err := fsys.Exists(dir)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("EnsureDir did not create the directory")
	}
}
