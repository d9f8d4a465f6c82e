package storage

import (
	"context"
	"errors"
	"strings"

	logx "steamwatch/pkg/logx"
)

// Store is the minimal persistence API used by plugins.
type Store interface {
	AppendTransition(ctx context.Context, t Transition) error
	// RecentTransitions returns up to limit transitions, newest first.
	// Empty plugin matches all plugins.
	RecentTransitions(ctx context.Context, plugin string, limit int) ([]Transition, error)
	Close() error
}

// Open initializes the configured store. Returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
