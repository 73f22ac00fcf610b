// Package template evaluates mapping templates against a mapping.Context.
//
// The template language is a pluggable capability behind Engine. Templates
// are compiled once when the configuration is loaded and executed once per
// field resolution. The shipped engine uses HCL native template syntax with
// ctx and context bound to the evaluation context.
package template

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hanpama/appsyncsim/internal/mapping"
)

// Engine compiles template sources. Compile errors are configuration errors.
type Engine interface {
	Compile(name, source string) (Template, error)
}

// Template is a compiled mapping template. Implementations must be safe for
// concurrent use.
type Template interface {
	Name() string
	Execute(ctx *mapping.Context) (Output, error)
}

// Output is the result of executing a template.
type Output struct {
	// Value is the rendered text (a string) or, for templates consisting of a
	// single interpolation, the structured value it evaluated to.
	Value any
}

// Resolve interprets the output the way the managed service does: rendered
// text is parsed as JSON, falling back to the raw text when it is not valid
// JSON. Blank text resolves to nil.
func (o Output) Resolve() any {
	s, ok := o.Value.(string)
	if !ok {
		return o.Value
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v, err := ParseJSON([]byte(s)); err == nil {
		return v
	}
	return s
}

// UserError is raised when a template calls error(). It is the template's
// way to fail a field with its own message, type and data.
type UserError struct {
	Message string
	Type    string
	Data    any
}

func (e *UserError) Error() string { return e.Message }

// EvalError reports a template that failed to evaluate.
type EvalError struct {
	Template string
	Err      error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Template, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// ParseJSON decodes JSON keeping integers as int64 and other numbers as
// float64.
func ParseJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected data after top-level value")
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	default:
		return v
	}
}
