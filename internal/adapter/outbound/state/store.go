// Package state persists lockout records across restarts in a JSON file.
package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/repclub/gymgate/internal/domain/ratelimit"
)

// SchemaVersion is written to every saved file.
const SchemaVersion = "1"

// Snapshot is the persisted document.
type Snapshot struct {
	Version  string                    `json:"version"`
	SavedAt  time.Time                 `json:"saved_at"`
	Lockouts []ratelimit.LockoutRecord `json:"lockouts"`
}

// FileStore reads and writes a Snapshot file. Writes are atomic
// (temp file, fsync, rename), keep a .bak copy of the previous file and
// hold an exclusive lock on path+".lock" against other processes.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewFileStore creates a store for path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger, now: time.Now}
}

// Path returns the file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. A missing file yields an empty snapshot.
func (s *FileStore) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("no lockout state file yet", "path", s.path)
			return &Snapshot{Version: SchemaVersion}, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	// Permission bits are not meaningful on Windows.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil && info.Mode().Perm()&0o077 != 0 {
			s.logger.Warn("lockout state file is readable by other users, should be 0600",
				"path", s.path, "mode", fmt.Sprintf("%04o", info.Mode().Perm()))
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if snap.Version != SchemaVersion {
		return nil, fmt.Errorf("unsupported state file version %q", snap.Version)
	}
	return &snap, nil
}

// Save writes snap, stamping Version and SavedAt.
func (s *FileStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.Version = SchemaVersion
	snap.SavedAt = s.now().UTC()

	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()
	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if current, readErr := os.ReadFile(s.path); readErr == nil {
		if err := os.WriteFile(s.path+".bak", current, 0o600); err != nil {
			s.logger.Warn("failed to back up lockout state", "error", err)
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.writeAtomic(append(data, '\n')); err != nil {
		return err
	}
	s.logger.Debug("lockout state saved", "path", s.path, "records", len(snap.Lockouts))
	return nil
}

func (s *FileStore) writeAtomic(data []byte) error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	fail := func(step string, err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%s: %w", step, err)
	}
	if _, err := f.Write(data); err != nil {
		return fail("write temp file", err)
	}
	if err := f.Sync(); err != nil {
		return fail("fsync temp file", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
