// Package store provides durable persistence for conversation sessions,
// platform login tokens, and the publish ledger.
//
// # Backends
//
// SQLiteStore (modernc.org/sqlite) is the default and keeps everything in a
// single database file. The redisstore and boltstore subpackages implement
// the same Store interface on Redis and bbolt for deployments that prefer
// them.
//
// # Tokens
//
// Login tokens are sealed with NaCl secretbox before they are written. The
// key is derived from a configured secret with HKDF, so rotating the secret
// makes previously stored tokens unreadable and forces a fresh login rather
// than leaking them.
//
// # Time Format
//
// Timestamps are stored as RFC3339 strings in UTC.
package store
