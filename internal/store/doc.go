// Package store executes rendered SQL against SQLite.
//
// A Store implements querysql.Executor: statements arrive with @name
// placeholders and named arguments, which go-sqlite3 binds natively. Rows
// stream back as maps keyed by result column, so the SQL backend can hand
// them to document descriptors by entry name.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// # Schema
//
// The store owns no schema of its own. Migrate applies caller-supplied
// scripts and records progress in PRAGMA user_version.
//
// # Errors
//
// UNIQUE and PRIMARY KEY violations surface as dserr.CodeConflict, the one
// failure inserts retry with a fresh id.
package store
