package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Commit stages at which a FaultInjector may abort a mutation.
const (
	StageAfterMutate  = "after-mutate"
	StageBeforeAppend = "before-append"
	StageBeforeRename = "before-rename"
)

// FaultInjector is consulted at each commit stage. A non-nil return aborts
// the commit as if the process had failed at that point.
type FaultInjector func(stage string) error

func (l *Ledger) inject(stage string) error {
	if l.injector == nil {
		return nil
	}
	return l.injector(stage)
}

// readState decodes the document at path. Unknown fields are rejected so a
// document written by a different tool is not silently reinterpreted.
func readState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var st State
	if err := dec.Decode(&st); err != nil {
		return State{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if st.Accounts == nil {
		st.Accounts = map[string]Account{}
	}
	return st, nil
}

// writeState replaces the document at path atomically: temp file, fsync,
// rename, directory fsync. On failure the temp file is removed and the
// document is untouched.
func (l *Ledger) writeState(st State) (err error) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	data = append(data, '\n')

	tmp := l.path + ".tmp"
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err = l.inject(StageBeforeRename); err != nil {
		return err
	}
	if err = os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	// The rename is durable once the directory entry is flushed. Some
	// filesystems refuse to fsync a directory; the data itself is already
	// on disk, so that is only logged.
	if derr := syncDir(filepath.Dir(l.path)); derr != nil {
		l.logger.Warn("ledger directory fsync failed", "dir", filepath.Dir(l.path), "error", derr)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
