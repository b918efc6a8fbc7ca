package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Load reads the catalog document. A missing file is not an error: it yields a fresh
// catalog and exists=false.
func Load(path string) (*State, bool, error) {
	blob, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewState(), false, nil
	}
	if err != nil {
		return nil, false, err
	}

	state := &State{}
	if err := json.Unmarshal(blob, state); err != nil {
		return nil, true, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	return state, true, nil
}

// Backup copies the catalog over the single backup snapshot. It reports false when there
// is nothing to back up.
func Backup(path, backupPath string) (bool, error) {
	src, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(backupPath), 0o755); err != nil {
		return false, err
	}
	dst, err := os.Create(backupPath)
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return false, err
	}
	return true, dst.Close()
}

// Save writes the whole document to a temp file next to path and renames it into place,
// so a failed write leaves the previous catalog as it was.
func Save(path string, state *State) error {
	blob, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	// CreateTemp makes 0600 files; keep the mode the catalog already had.
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
