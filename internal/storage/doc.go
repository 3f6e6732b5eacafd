// Package storage persists delivery state for the relay.
//
// A Store holds normalized item identities in delivery order. Under ModeSet
// every recorded identity is kept; under ModePointer only the latest one is.
// Record is synchronous: when it returns nil the identity is durable.
//
// Drivers:
//   - "memory": process memory only
//   - "file":   pointer = single-line text file, set = JSONL journal + snapshot
//   - "sqlite": SQLite database file, schema managed by golang-migrate
package storage
