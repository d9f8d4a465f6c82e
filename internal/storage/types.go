package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Transition records one observed reachability flip for an endpoint.
// Keep it compact and schema-stable.
type Transition struct {
	At       time.Time
	Plugin   string
	Endpoint string
	URL      string
	Up       bool
}
