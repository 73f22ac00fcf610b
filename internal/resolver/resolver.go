// Package resolver runs resolver-backed fields: it builds the mapping
// context, renders the request template, dispatches the request to the data
// source's loader and renders the response template.
//
// Every resolution walks the same states:
//
//	BUILDING_CONTEXT -> EVALUATING_REQUEST -> DISPATCHING_LOADER
//	                                       \-> SKIPPED_ON_REQUEST_ERROR
//	                 -> EVALUATING_RESPONSE -> DONE
//
// The response template always runs, with ctx.error set when an earlier step
// failed, so it decides how the failure is rendered.
//
// Pipeline resolvers run their before template, then each function as its
// own unit resolution sharing one stash, then their after template. A
// function's response template calling error() halts the pipeline; the
// after template still runs with ctx.error set. Loader failures alone do not
// halt: the function's response template sees them and chooses.
package resolver

import (
	"fmt"

	"github.com/hanpama/appsyncsim/internal/loader"
	"github.com/hanpama/appsyncsim/internal/template"
)

// Kind is the resolver kind.
type Kind string

const (
	KindUnit     Kind = "UNIT"
	KindPipeline Kind = "PIPELINE"
)

// State is a step of the resolution state machine.
type State string

const (
	StateBuildingContext       State = "BUILDING_CONTEXT"
	StateEvaluatingRequest     State = "EVALUATING_REQUEST"
	StateDispatchingLoader     State = "DISPATCHING_LOADER"
	StateSkippedOnRequestError State = "SKIPPED_ON_REQUEST_ERROR"
	StateEvaluatingResponse    State = "EVALUATING_RESPONSE"
	StateDone                  State = "DONE"
)

// Error types assigned by the dispatcher.
const (
	ErrorTypeMappingTemplate = "MappingTemplate"
	ErrorTypeLoaderTimeout   = "LoaderTimeout"
	ErrorTypeLoaderPanic     = "LoaderPanic"
)

// directVersion is the request version used when a Lambda data source is
// called without a request template.
const directVersion = "2018-05-29"

// DataSource is a data source bound to its loader instance.
type DataSource struct {
	Name   string
	Kind   loader.Kind
	Loader loader.Loader
}

// Function is one pipeline stage. Nil templates select direct behavior: a
// Lambda source receives the whole context, and the result (or error) is
// returned as is.
type Function struct {
	Name       string
	DataSource *DataSource
	Request    template.Template
	Response   template.Template
}

// Resolver binds one schema field to its data source or pipeline.
type Resolver struct {
	Kind      Kind
	TypeName  string
	FieldName string
	// DataSource is used by UNIT resolvers.
	DataSource *DataSource
	// Functions are used by PIPELINE resolvers, in order.
	Functions []*Function
	// Request and Response are the unit templates, or the before and after
	// templates of a pipeline.
	Request  template.Template
	Response template.Template
}

func (r *Resolver) key() string { return r.TypeName + "." + r.FieldName }

func (r *Resolver) validate() error {
	if r.TypeName == "" || r.FieldName == "" {
		return fmt.Errorf("resolver: typeName and fieldName are required")
	}
	switch r.Kind {
	case KindUnit:
		if r.DataSource == nil || r.DataSource.Loader == nil {
			return fmt.Errorf("resolver %s: data source is required", r.key())
		}
	case KindPipeline:
		for i, fn := range r.Functions {
			if fn == nil || fn.DataSource == nil || fn.DataSource.Loader == nil {
				return fmt.Errorf("resolver %s: function %d has no data source", r.key(), i)
			}
		}
	default:
		return fmt.Errorf("resolver %s: unknown kind %q", r.key(), r.Kind)
	}
	return nil
}

// FieldError is the user-visible failure of a field. It carries the type and
// data passed to error() in a template.
type FieldError struct {
	Message string
	Type    string
	Data    any
}

func (e *FieldError) Error() string     { return e.Message }
func (e *FieldError) ErrorType() string { return e.Type }
func (e *FieldError) ErrorData() any    { return e.Data }
