// Package store provides durable, write-coalescing persistence of JSON
// documents to a single file.
//
// It implements the atomic replace-with-backup pattern shared by the memory
// ledger and the knowledge index: data is serialized to a temp file, the
// current primary is copied to a backup, and the temp file is renamed onto
// the primary path. The rename is the only state change visible to a
// concurrent reader or a crash.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// BackupSuffix and TempSuffix name the sibling files kept next to the
// primary document.
const (
	BackupSuffix = ".bak"
	TempSuffix   = ".tmp"
)

// WriteAtomic writes data to path using the temp-then-rename pattern.
//
// Steps:
//  1. Write data to path + ".tmp".
//  2. Copy the current primary to path + ".bak" (best-effort; a missing
//     primary is not an error).
//  3. Rename the temp file onto path.
//
// A crash before the rename leaves the previous primary intact; a crash
// after it leaves the new document in place. No intermediate state is
// observable.
func WriteAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + TempSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	// Best-effort backup of the previous generation.
	if current, err := os.ReadFile(path); err == nil && len(current) > 0 {
		_ = os.WriteFile(path+BackupSuffix, current, 0o644)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadJSON reads the document at path into v, falling back to the backup
// when the primary is missing, empty, or unparseable.
//
// Returns:
//   - recovered: true when the backup was used (the caller should log the
//     recovery and rewrite the primary)
//   - err: os.ErrNotExist when neither the primary nor the backup holds a
//     usable document
func LoadJSON(path string, v interface{}) (recovered bool, err error) {
	data, readErr := os.ReadFile(path)
	if readErr == nil && len(data) > 0 {
		if jsonErr := json.Unmarshal(data, v); jsonErr == nil {
			return false, nil
		}
	}

	// Primary unusable: try the backup.
	backup, backupErr := os.ReadFile(path + BackupSuffix)
	if backupErr == nil && len(backup) > 0 {
		if jsonErr := json.Unmarshal(backup, v); jsonErr == nil {
			return true, nil
		}
	}

	if readErr != nil && errors.Is(readErr, os.ErrNotExist) {
		return false, os.ErrNotExist
	}
	if readErr == nil && len(data) == 0 {
		return false, os.ErrNotExist
	}
	return false, fmt.Errorf("load %s: primary and backup both unusable", filepath.Base(path))
}
