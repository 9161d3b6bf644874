package doc

import "strings"

// Flags is the bitset of roles a data entry plays in a document.
type Flags uint32

const (
	FlagNone         Flags = 0
	FlagIDField      Flags = 0x01
	FlagReadOnly     Flags = 0x02
	FlagDateCreated  Flags = 0x04
	FlagDateModified Flags = 0x08
	FlagDateUpdated  Flags = 0x10
	FlagDateDeleted  Flags = 0x20
	FlagForeignID    Flags = 0x40
)

// flagNames maps tag/definition spellings to flags. Order matters for String.
var flagNames = []struct {
	name string
	flag Flags
}{
	{"id", FlagIDField},
	{"readonly", FlagReadOnly},
	{"created", FlagDateCreated},
	{"modified", FlagDateModified},
	{"updated", FlagDateUpdated},
	{"deleted", FlagDateDeleted},
	{"foreign", FlagForeignID},
}

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// String renders the flags as a '|'-joined list of names.
func (f Flags) String() string {
	if f == FlagNone {
		return "none"
	}
	var parts []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseFlag returns the flag for a tag spelling such as "id" or "deleted".
func ParseFlag(name string) (Flags, bool) {
	for _, fn := range flagNames {
		if fn.name == name {
			return fn.flag, true
		}
	}
	return FlagNone, false
}
