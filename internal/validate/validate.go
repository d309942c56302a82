// Package validate checks create input against CUE schemas.
//
// A schema is CUE source holding one definition, for example:
//
//	import "strings"
//
//	#TodoInput: {
//		title: strings.MinRunes(1) & strings.MaxRunes(200)
//	}
//
// Go values are encoded with their json tags and unified with the
// definition. The value must be concrete after unification, so a required
// field left at its zero value fails the bounds it is given.
package validate

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Schema is a compiled CUE definition.
//
// Thread-safety: Validate is safe for concurrent use. A cue.Context is not,
// so calls are serialized.
type Schema struct {
	mu   sync.Mutex
	ctx  *cue.Context
	def  cue.Value
	name string
}

// Compile compiles src and selects the definition named by path ("#TodoInput").
// filename appears in error positions.
func Compile(filename, src, path string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("validate: compile %s: %w", filename, formatCUEError(err))
	}

	def := v.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return nil, fmt.Errorf("validate: %s: definition %s not found", filename, path)
	}
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("validate: %s: %w", filename, formatCUEError(err))
	}

	return &Schema{ctx: ctx, def: def, name: path}, nil
}

// MustCompile is like Compile but panics on error. For schemas embedded in
// the binary.
func MustCompile(filename, src, path string) *Schema {
	s, err := Compile(filename, src, path)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the definition path.
func (s *Schema) Name() string { return s.name }

// Validate checks v against the definition. Returns a *FieldError for the
// first violation.
func (s *Schema) Validate(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	val := s.ctx.Encode(v)
	if err := val.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := s.def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// Func adapts s to a typed validator.
func Func[I any](s *Schema) func(I) error {
	return func(in I) error { return s.Validate(in) }
}

// FieldError reports one schema violation.
type FieldError struct {
	// Field is the dotted path of the offending value, empty for the root.
	Field   string
	Message string
	Pos     token.Pos
}

func (e *FieldError) Error() string {
	field := e.Field
	if field == "" {
		field = "input"
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			field, e.Message)
	}
	return fmt.Sprintf("%s: %s", field, e.Message)
}

// formatCUEError keeps the first CUE error with its path and position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	list := errors.Errors(err)
	if len(list) == 0 {
		return err
	}

	first := list[0]
	fe := &FieldError{
		Field:   fieldPath(first.Path()),
		Message: first.Error(),
	}
	if positions := errors.Positions(first); len(positions) > 0 {
		fe.Pos = positions[0]
	}
	return fe
}

// fieldPath joins a CUE path, dropping the leading definition label.
func fieldPath(path []string) string {
	if len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return strings.Join(path, ".")
}
