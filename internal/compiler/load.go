package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/dsq/internal/doc"
	"github.com/roach88/dsq/internal/ir"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Definitions holds everything compiled from a set of CUE files.
type Definitions struct {
	Documents   []ir.DocumentSpec
	DataSources []ir.DataSourceSpec
	CUEValue    cue.Value // The raw CUE value for additional processing
	FileCount   int       // Number of CUE files found
}

// LoadError represents an error that occurred during loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoDefs      = "E008" // No document or datasource definitions
)

// LoadDefinitions loads and compiles the CUE definitions at path, a
// directory holding one CUE package or a single .cue file. Documents live
// under the top-level "document" struct, data sources under "datasource".
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all compile errors.
func LoadDefinitions(path string, mode LoadMode) (*Definitions, []error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing definitions: %v", err)}}
	}

	dir, args := path, []string{"."}
	fileCount := 1
	if info.IsDir() {
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
		}
		if len(files) == 0 {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}}
		}
		fileCount = len(files)
	} else {
		if filepath.Ext(path) != ".cue" {
			return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("not a CUE file: %s", path)}}
		}
		dir, args = filepath.Dir(path), []string{filepath.Base(path)}
	}

	ctx := cuecontext.New()
	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	defs := &Definitions{CUEValue: value, FileCount: fileCount}
	errs := compileAll(defs, value, mode)
	if len(defs.Documents) == 0 && len(defs.DataSources) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoDefs, Message: "no document or datasource definitions found"})
	}
	return defs, errs
}

func compileAll(defs *Definitions, value cue.Value, mode LoadMode) []error {
	var errs []error
	each := func(section string, compile func(cue.Value) error) bool {
		v := value.LookupPath(cue.ParsePath(section))
		if !v.Exists() {
			return true
		}
		iter, err := v.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", section, err)})
			return mode != LoadModeFailFast
		}
		for iter.Next() {
			if err := compile(iter.Value()); err != nil {
				errs = append(errs, convertCompileError(err, section+"."+iter.Label()))
				if mode == LoadModeFailFast {
					return false
				}
			}
		}
		return true
	}

	ok := each("document", func(v cue.Value) error {
		spec, err := CompileDocument(v)
		if err != nil {
			return err
		}
		defs.Documents = append(defs.Documents, *spec)
		return nil
	})
	if !ok {
		return errs
	}
	each("datasource", func(v cue.Value) error {
		spec, err := CompileDataSource(v)
		if err != nil {
			return err
		}
		defs.DataSources = append(defs.DataSources, *spec)
		return nil
	})
	return errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeGeneric,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// DataSource finds a compiled data source by name.
func (d *Definitions) DataSource(name string) (ir.DataSourceSpec, bool) {
	for _, s := range d.DataSources {
		if s.Name == name {
			return s, true
		}
	}
	return ir.DataSourceSpec{}, false
}

// Registry builds Record descriptors for every document.
func (d *Definitions) Registry() (*doc.Registry, error) {
	r := doc.NewRegistry()
	for _, spec := range d.Documents {
		desc, err := doc.FromSpec(spec)
		if err != nil {
			return nil, err
		}
		if err := r.Register(desc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Check validates every definition and the references between them.
func (d *Definitions) Check() []ValidationError {
	var errs []ValidationError
	for _, spec := range d.Documents {
		for _, e := range Validate(spec) {
			e.Field = "document." + spec.Name + "." + e.Field
			errs = append(errs, e)
		}
	}
	for _, spec := range d.DataSources {
		for _, e := range Validate(spec) {
			e.Field = "datasource." + spec.Name + "." + e.Field
			errs = append(errs, e)
		}
	}
	return append(errs, ValidateDefinitions(d.Documents, d.DataSources)...)
}
