package storage

// Package storage persists endpoint status transitions so uptime history
// survives restarts.
//
// Backends:
//   - "file": dependency-free JSON Lines append log
//   - "sqlite": SQLite database file (modernc.org/sqlite)
