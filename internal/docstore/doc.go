// Package docstore executes rendered document requests against pebble.
//
// # Layout
//
// Every document is one key/value pair. The key is the collection name, a
// zero byte, and the encoded id:
//
//	<collection> 0x00 'i' <8-byte big-endian int64, sign bit flipped>
//	<collection> 0x00 's' <raw string bytes>
//
// so integer ids iterate in numeric order and a collection is one key
// range. The value is the document as a JSON object keyed by stored field
// names (entry DB-side names).
//
// # Queries
//
// Filters, sorts and aggregations are evaluated in process over a scan of
// the collection's key range; the store keeps no secondary indexes.
//
// # Errors
//
// Inserting an id that already exists is a dserr.CodeConflict error, the
// one failure inserts retry with a fresh id.
package docstore
