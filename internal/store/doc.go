// Package store manages access to a relational engine through persistence
// sessions.
//
// A Context owns the connection pool and is opened once per process.
// Sessions are acquired from it per unit of work and come in two flavors:
//
//   - Tracked: keeps an identity map of loaded and saved entities, queues
//     writes until Flush, and detects changes to loaded entities.
//   - Untracked: executes every write immediately and keeps no state.
//
// Each session owns a dedicated connection, so its transaction and its
// queued writes never interleave with another session's.
//
// # Database Configuration
//
// SQLite drivers get these pragmas on every session connection unless the
// configuration lists its own:
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// # Errors
//
// Every failure leaving this package is a *StoreError whose Kind separates
// engine failures from coercion failures and missing rows.
package store
