package fsutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	natomic "github.com/natefinch/atomic"
)

// ErrDirSync indicates the parent directory could not be synced after an
// atomic rename. The new file content is in place; only the directory entry
// durability is in question.
var ErrDirSync = errors.New("fsutil: dir sync")

// WriteJSONAtomic marshals v and writes it to path atomically: the payload
// lands in a temp file in the same directory, which is then renamed over
// path. The rename itself is delegated to [natefinch/atomic], which already
// performs the fsync-before-rename dance; this function additionally fsyncs
// the parent directory afterward, which natefinch/atomic does not do and
// which is required for the new directory entry to survive a crash.
func WriteJSONAtomic(fsys FS, path string, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsutil: marshal %q: %w", path, err)
	}

	if err := natomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("fsutil: atomic write %q: %w", path, err)
	}

	return fsyncDir(fsys, filepath.Dir(path))
}

// ReadJSON reads and unmarshals the JSON file at path into v.
func ReadJSON(fsys FS, path string, v any) error {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return fmt.Errorf("fsutil: read %q: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("fsutil: unmarshal %q: %w", path, err)
	}

	return nil
}

func fsyncDir(fsys FS, dir string) error {
	if dir == "" {
		dir = "."
	}

	f, err := fsys.Open(dir)
	if err != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("open dir %q: %w", dir, err))
	}

	syncErr := f.Sync()
	closeErr := f.Close()

	if syncErr != nil {
		return errors.Join(ErrDirSync, fmt.Errorf("sync dir %q: %w", dir, syncErr), closeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("fsutil: close dir %q: %w", dir, closeErr)
	}

	return nil
}

// EnsureDir creates dir and all missing parents with mode 0o755.
func EnsureDir(fsys FS, dir string) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsutil: mkdir %q: %w", dir, err)
	}

	return nil
}
