package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/goccy/go-json"

	"github.com/roach88/dsq/internal/dserr"
)

// Store is a pebble database holding document collections.
type Store struct {
	db *pebble.DB

	// writes serializes read-modify-write sequences (insert's existence
	// check, update and delete scans).
	writes sync.Mutex
}

// Open creates or opens a store in the directory at path.
func Open(path string) (*Store, error) {
	return open(path, &pebble.Options{})
}

// OpenInMemory opens a store backed by an in-memory filesystem. Its
// contents are lost on Close.
func OpenInMemory() (*Store, error) {
	return open("dsq", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored document with id, keyed by stored field names.
func (s *Store) Get(collection string, id any) (map[string]any, bool, error) {
	if err := checkCollection(collection); err != nil {
		return nil, false, err
	}
	key, err := docKey(collection, id)
	if err != nil {
		return nil, false, err
	}
	return s.get(key)
}

func (s *Store) get(key []byte) (map[string]any, bool, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	d, err := decodeDocument(value)
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// Insert stores a new document under id. An existing document with the
// same id is a CONFLICT error.
func (s *Store) Insert(collection string, id any, d map[string]any) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	key, err := docKey(collection, id)
	if err != nil {
		return err
	}
	value, err := encodeDocument(d)
	if err != nil {
		return err
	}

	s.writes.Lock()
	defer s.writes.Unlock()

	_, closer, err := s.db.Get(key)
	switch {
	case err == nil:
		closer.Close()
		return dserr.New(dserr.CodeConflict, "insert", "%s already holds a document with id %v", collection, id)
	case !errors.Is(err, pebble.ErrNotFound):
		return fmt.Errorf("pebble get: %w", err)
	}
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

// Scan calls fn with every document of collection in key order, stopping
// at the first error.
func (s *Store) Scan(ctx context.Context, collection string, fn func(id any, d map[string]any) error) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	lower, upper := collectionBounds(collection)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return fmt.Errorf("pebble iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := decodeID(iter.Key(), len(lower))
		if err != nil {
			return err
		}
		d, err := decodeDocument(iter.Value())
		if err != nil {
			return fmt.Errorf("%s document %v: %w", collection, id, err)
		}
		if err := fn(id, d); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Mutate rewrites the documents of collection for which fn reports a
// change, atomically. fn returns the replacement document, or nil to
// delete it. It returns the number of documents changed.
func (s *Store) Mutate(ctx context.Context, collection string, fn func(id any, d map[string]any) (replace map[string]any, changed bool, err error)) (int64, error) {
	s.writes.Lock()
	defer s.writes.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	var n int64
	err := s.Scan(ctx, collection, func(id any, d map[string]any) error {
		replace, changed, err := fn(id, d)
		if err != nil || !changed {
			return err
		}
		key, err := docKey(collection, id)
		if err != nil {
			return err
		}
		n++
		if replace == nil {
			return batch.Delete(key, nil)
		}
		value, err := encodeDocument(replace)
		if err != nil {
			return err
		}
		return batch.Set(key, value, nil)
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("pebble commit batch: %w", err)
	}
	return n, nil
}

// ExtremeID returns the largest (max) or smallest integer id of
// collection, or nil when it holds no integer ids.
func (s *Store) ExtremeID(collection string, max bool) (any, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	lower, upper := intBounds(collection)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	defer iter.Close()

	ok := iter.First()
	if max {
		ok = iter.Last()
	}
	if !ok {
		return nil, iter.Error()
	}
	return decodeID(iter.Key(), len(lower)-1)
}

func encodeDocument(d map[string]any) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

func decodeDocument(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d map[string]any
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for k, v := range d {
		d[k] = plainNumbers(v)
	}
	return d, nil
}

// plainNumbers replaces json.Number with int64 when integral, float64
// otherwise.
func plainNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i := range x {
			x[i] = plainNumbers(x[i])
		}
	case map[string]any:
		for k := range x {
			x[k] = plainNumbers(x[k])
		}
	}
	return v
}
