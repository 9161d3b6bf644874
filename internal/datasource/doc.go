// Package datasource implements typed CRUD operations over a document type.
//
// A DataSource[T] pairs a document descriptor with a Backend. On creation
// it builds and normalizes one template plan per operation (select,
// select-by-id, insert, update, delete, soft-delete, restore); calls clone
// a template only when they add conditions, so templates stay read-only
// and a DataSource is safe for concurrent use.
//
// Operation contracts:
//
//   - Insert fills the creation and modification dates when zero and
//     generates the id (sequential or UUID), retrying on conflicts.
//   - Update writes the requested fields except the id, read-only and
//     creation entries. With nothing left to write it returns
//     ErrNothingChanged without touching the backend.
//   - Delete soft-deletes when the document has a deletion marker and soft
//     delete is enabled; Restore clears the marker.
//   - Update, Delete and Restore return a NOT_FOUND error when no document
//     matched.
//
// Operations disabled through Options fail with an UNSUPPORTED error.
package datasource
