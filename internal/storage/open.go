package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	logx "newsrelay/pkg/logx"
)

// Open initializes the configured store. File-backed drivers take an
// exclusive lock next to the state file for the lifetime of the store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "memory"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSet
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("unknown storage mode: %q", cfg.Mode)
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	if driver == "memory" {
		return newMemory(cfg.Mode), nil
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("storage.path is required for %s driver", driver)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	lock, err := acquireLock(path + ".lock")
	if err != nil {
		return nil, err
	}

	var st Store
	switch driver {
	case "file":
		st, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	default:
		err = errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	log.Debug("state lock acquired", logx.String("lock", lock.Path()))
	return &lockedStore{Store: st, lock: lock}, nil
}

func acquireLock(path string) (*flock.Flock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire state lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return fl, nil
}

type lockedStore struct {
	Store
	lock *flock.Flock
}

func (s *lockedStore) Close() error {
	err := s.Store.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// ---- memory ----

type memoryStore struct {
	mode Mode
	ids  []string
	seen map[string]struct{}
}

func newMemory(mode Mode) *memoryStore {
	return &memoryStore{mode: mode, seen: map[string]struct{}{}}
}

func (s *memoryStore) Mode() Mode { return s.mode }

func (s *memoryStore) Load(context.Context) ([]string, error) {
	return append([]string(nil), s.ids...), nil
}

func (s *memoryStore) Record(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	if s.mode == ModePointer {
		s.ids = []string{id}
		return nil
	}
	if _, ok := s.seen[id]; ok {
		return nil
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
	return nil
}

func (s *memoryStore) Close() error { return nil }
