// Package loader contains the data loaders a resolver dispatches requests to,
// and the registry that maps a data source kind to the factory building its
// loader.
//
// A loader never returns an error and never panics past Load: every outcome
// is a Result holding either a Response or a Failure.
package loader

import (
	"context"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
)

// Kind identifies a data source type.
type Kind string

const (
	KindLambda Kind = "AWS_LAMBDA"
	KindHTTP   Kind = "HTTP"
	KindNone   Kind = "NONE"
)

// Failure types reported by the built-in loaders.
const (
	FailureLambdaUnhandled = "Lambda:Unhandled"
	FailureHTTPTransport   = "HTTPTransportError"
)

// DataSource is a named, configured backend. It is immutable once loaded.
type DataSource struct {
	Name   string
	Kind   Kind
	Config map[string]any
}

// Request is the normalized request produced by a request mapping template.
type Request struct {
	Version      string `json:"version,omitempty"`
	Operation    string `json:"operation,omitempty"`
	Payload      any    `json:"payload,omitempty"`
	ResourcePath string `json:"resourcePath,omitempty"`
	Method       string `json:"method,omitempty"`
	Params       Params `json:"params"`
}

// Params carries the HTTP specific parts of a Request.
type Params struct {
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]any    `json:"query,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// DecodeRequest converts a rendered request template into a Request.
func DecodeRequest(v any) (Request, error) {
	var req Request
	if v == nil {
		return req, nil
	}
	if _, ok := v.(map[string]any); !ok {
		return req, fmt.Errorf("request must be an object, got %T", v)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &req,
	})
	if err != nil {
		return req, err
	}
	if err := dec.Decode(v); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// Response is a successful loader outcome. Body is JSON text.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
	// Envelope reports whether templates see the whole response as
	// ctx.result instead of the decoded body.
	Envelope bool
}

// Failure is a loader outcome that produced no response.
type Failure struct {
	Type    string
	Message string
	Err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// Result holds exactly one of Response or Failure.
type Result struct {
	Response *Response
	Failure  *Failure
}

// Succeeded returns a Result carrying resp.
func Succeeded(resp *Response) Result { return Result{Response: resp} }

// Failed returns a Result carrying a failure built from err.
func Failed(typ string, err error) Result {
	return Result{Failure: &Failure{Type: typ, Message: err.Error(), Err: err}}
}

// Loader executes normalized requests against one data source.
type Loader interface {
	Load(ctx context.Context, req Request) Result
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, req Request) Result

func (f LoaderFunc) Load(ctx context.Context, req Request) Result { return f(ctx, req) }

// Func is an in-process function served by AWS_LAMBDA data sources.
type Func func(ctx context.Context, payload any) (any, error)

// Deps are the shared dependencies handed to every factory.
type Deps struct {
	Logger    *zap.Logger
	Functions map[string]Func
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Factory builds the loader for one data source. It runs once per data
// source when the simulator is constructed; configuration problems are
// returned as errors.
type Factory func(ds DataSource, deps Deps) (Loader, error)

func decodeConfig(ds DataSource, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(ds.Config); err != nil {
		return fmt.Errorf("data source %s: %w", ds.Name, err)
	}
	return nil
}
