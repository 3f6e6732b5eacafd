package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrClosed = errors.New("storage closed")
	ErrLocked = errors.New("state is locked by another process")
)

// Mode selects the persisted shape of the delivery state.
type Mode string

const (
	ModePointer Mode = "pointer"
	ModeSet     Mode = "set"
)

func (m Mode) Valid() bool { return m == ModePointer || m == ModeSet }

// Config configures storage.
type Config struct {
	Driver      string // memory | file | sqlite
	Mode        Mode
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the dedup policies.
type Store interface {
	// Load returns the persisted identities, oldest first. Under ModePointer
	// it returns at most one.
	Load(ctx context.Context) ([]string, error)
	// Record durably stores id. Under ModePointer it replaces the previous value.
	Record(ctx context.Context, id string) error
	Mode() Mode
	Close() error
}
