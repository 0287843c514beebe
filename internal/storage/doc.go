// Package storage persists run history, per-account schedule state and
// notifier dedup windows.
//
// Drivers:
//   - "file": JSON Lines run log, schedule snapshot, dedup snapshot + journal
//   - "sqlite": a single SQLite database (modernc.org/sqlite, no cgo)
//   - "none": storage disabled; Open returns a nil Store
package storage
