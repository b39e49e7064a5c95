package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means the driver default
	// Keep caps the number of stored transitions; 0 means DefaultKeep.
	Keep int
}

const DefaultKeep = 1000

// Transition is one row of history.
type Transition struct {
	At      time.Time
	Kind    string // notified, suppressed or dropped
	Unit    string
	Active  string
	Sub     string
	Message string
	Error   string
}

// Store is the history API used by the recorder and the history command.
type Store interface {
	AppendTransition(ctx context.Context, t Transition) error
	// Recent returns up to n transitions, newest first.
	Recent(ctx context.Context, n int) ([]Transition, error)
	Close() error
}
