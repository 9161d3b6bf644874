package docstore

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/roach88/dsq/internal/dserr"
	"github.com/roach88/dsq/internal/ir"
)

const (
	keySep    = 0x00
	intIDTag  = 'i'
	textIDTag = 's'
)

func checkCollection(name string) error {
	if name == "" || strings.IndexByte(name, keySep) >= 0 {
		return dserr.Configuration("docstore", "invalid collection name %q", name)
	}
	return nil
}

// collectionPrefix is the first key byte sequence shared by every document
// of collection.
func collectionPrefix(collection string) []byte {
	return append([]byte(collection), keySep)
}

// collectionBounds returns the [lower, upper) key range of collection.
func collectionBounds(collection string) ([]byte, []byte) {
	lower := collectionPrefix(collection)
	upper := append([]byte(collection), keySep+1)
	return lower, upper
}

// intBounds returns the key range of the integer ids of collection.
func intBounds(collection string) ([]byte, []byte) {
	prefix := collectionPrefix(collection)
	return append(bytes.Clone(prefix), intIDTag), append(prefix, intIDTag+1)
}

// docKey encodes the key of the document id in collection. Ids are
// integers or strings.
func docKey(collection string, id any) ([]byte, error) {
	v, err := ir.FromGo(id)
	if err != nil {
		return nil, dserr.Wrap(dserr.CodeInvalidArgument, "docstore key", err)
	}
	key := collectionPrefix(collection)
	switch x := v.(type) {
	case ir.Int:
		key = append(key, intIDTag)
		return binary.BigEndian.AppendUint64(key, uint64(x)^(1<<63)), nil
	case ir.String:
		key = append(key, textIDTag)
		return append(key, string(x)...), nil
	}
	return nil, dserr.New(dserr.CodeInvalidArgument, "docstore key", "unsupported id %v (%T)", id, id)
}

// decodeID returns the id encoded in key after the collection prefix.
func decodeID(key []byte, prefixLen int) (any, error) {
	if len(key) <= prefixLen {
		return nil, dserr.New(dserr.CodeInvalidArgument, "docstore key", "key %q has no id", key)
	}
	rest := key[prefixLen+1:]
	switch key[prefixLen] {
	case intIDTag:
		if len(rest) != 8 {
			return nil, dserr.New(dserr.CodeInvalidArgument, "docstore key", "integer id of %d bytes", len(rest))
		}
		return int64(binary.BigEndian.Uint64(rest) ^ (1 << 63)), nil
	case textIDTag:
		return string(rest), nil
	}
	return nil, dserr.New(dserr.CodeInvalidArgument, "docstore key", "unknown id tag %q", key[prefixLen])
}
