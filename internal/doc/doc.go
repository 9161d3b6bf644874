// Package doc describes the persisted shape of documents.
//
// A Descriptor lists a document's entries in column order and singles out
// the entries with special roles: the id, the created/modified/updated
// timestamps, the soft-delete marker and foreign ids. Plans, renderers and
// data sources read and write documents only through Entry.Get and
// Entry.Set, so struct-backed documents (described from struct tags) and
// Record-backed documents (described from CUE definitions) are handled the
// same way.
package doc
