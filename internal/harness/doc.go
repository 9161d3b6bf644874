// Package harness runs YAML scenarios of data source operations against a
// fresh backend and checks their outcomes.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: orders_lifecycle
//	description: "Insert, soft delete and restore an order"
//	definitions: defs/orders.cue
//	backend: sqlite
//	schema: |
//	  CREATE TABLE orders (id INTEGER PRIMARY KEY, name TEXT NOT NULL, deleted DATETIME);
//	steps:
//	  - op: insert
//	    datasource: Orders
//	    record: { name: first }
//	    expect: { id: 1 }
//	  - op: delete
//	    datasource: Orders
//	    id: 1
//	  - op: select
//	    datasource: Orders
//	    mode: deleted
//	    expect:
//	      records:
//	        - { id: 1, name: first }
//
// Steps run one data source operation each: insert, get, select, count,
// update, delete or restore. A step without expect must succeed. An expect
// clause may name the error code the step fails with, the inserted id, a
// count, the returned records (subset match per record, in order) or the
// last-page flag of a paged select.
//
// # Deterministic Testing
//
// Every run uses:
//   - A fresh backend: a SQLite file in a temporary directory, or an
//     in-memory pebble document store
//   - A step clock starting at testutil.DefaultStart, one second per reading
//   - Private id counters, so sequential ids start from the store's extreme
//
// The trace records the statements each step issued and its outcome, and
// is compared against golden files with RunWithGolden.
package harness
