// Package store hands out persistent collections together with the mutex
// that guards them.
//
// A Registry maps a logical path to exactly one (Collection, *sync.Mutex)
// pair for its lifetime, so every component that touches the same file
// shares the same lock. The store does not lock individual operations:
// callers hold the returned mutex for the whole of any read-modify-write
// sequence (sum then append, truncate then insert, ...).
//
// Collections are SQLite files (modernc.org/sqlite, WAL mode) holding named
// tables of JSON documents.
package store
