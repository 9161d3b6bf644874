package compiler

import (
	"fmt"

	"cuelang.org/go/cue"

	"github.com/roach88/dsq/internal/ir"
)

// CompileDocument parses a CUE value into a DocumentSpec. The document
// name is the value's last path label:
//
//	document: Order: {
//		container: "orders"
//		fields: {
//			id:   {type: "int", flags: ["id"]}
//			name: "string"
//		}
//	}
//
// A field given as a type name ("string") or a bare CUE type (string)
// declares only its type. Fields keep their declaration order.
func CompileDocument(v cue.Value) (*ir.DocumentSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.DocumentSpec{Name: lastLabel(v)}

	container, err := requiredString(v, "container")
	if err != nil {
		return nil, err
	}
	spec.Container = container

	if spec.Kind, err = optionalString(v, "kind"); err != nil {
		return nil, err
	}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{
			Field:   "fields",
			Message: "at least one field is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		f, err := compileField(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Fields = append(spec.Fields, f)
	}
	if len(spec.Fields) == 0 {
		return nil, &CompileError{
			Field:   "fields",
			Message: "at least one field is required",
			Pos:     fieldsVal.Pos(),
		}
	}

	return spec, nil
}

// kindTypes maps bare CUE types (name: string) to field types.
var kindTypes = map[cue.Kind]string{
	cue.StringKind: "string",
	cue.IntKind:    "int",
	cue.FloatKind:  "float",
	cue.NumberKind: "float",
	cue.BoolKind:   "bool",
	cue.BytesKind:  "bytes",
}

func compileField(name string, v cue.Value) (ir.FieldSpec, error) {
	f := ir.FieldSpec{Name: name, Column: name}

	if typ, err := v.String(); err == nil {
		f.Type = typ
		return f, nil
	}
	if !v.IsConcrete() {
		if typ, ok := kindTypes[v.IncompleteKind()]; ok {
			f.Type = typ
			return f, nil
		}
	}
	if v.IncompleteKind() != cue.StructKind {
		return f, &CompileError{
			Field:   "fields." + name,
			Message: "must be a type name or a struct with a type",
			Pos:     v.Pos(),
		}
	}

	var err error
	if f.Type, err = requiredString(v, "type"); err != nil {
		return f, err
	}
	column, err := optionalString(v, "column")
	if err != nil {
		return f, err
	}
	if column != "" {
		f.Column = column
	}
	if f.Nullable, err = optionalBool(v, "nullable"); err != nil {
		return f, err
	}
	if f.Flags, err = optionalStrings(v, "flags"); err != nil {
		return f, err
	}
	return f, nil
}

func lastLabel(v cue.Value) string {
	sels := v.Path().Selectors()
	if len(sels) == 0 {
		return ""
	}
	return sels[len(sels)-1].String()
}

func requiredString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   path,
			Message: fmt.Sprintf("%s is required", path),
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optionalInt(v cue.Value, path string) (int64, bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return 0, false, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, false, formatCUEError(err)
	}
	return n, true, nil
}

func optionalStrings(v cue.Value, path string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}
