// Package server serves GraphQL over HTTP in the shape the managed service
// answers: a JSON body with data and errors, each error carrying its
// errorType and data next to the message.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	events "github.com/hanpama/appsyncsim/internal/events"
	executor "github.com/hanpama/appsyncsim/internal/executor"
	language "github.com/hanpama/appsyncsim/internal/language"
	mapping "github.com/hanpama/appsyncsim/internal/mapping"
	reqid "github.com/hanpama/appsyncsim/internal/reqid"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

// RequestIDHeader carries the request ID on every response.
const RequestIDHeader = "X-Amzn-Requestid"

// ErrorTypeValidation is the errorType of requests rejected before execution.
const ErrorTypeValidation = "ValidationError"

// Handler is an http.Handler that serves a GraphQL endpoint.
type Handler struct {
	exec   *executor.Executor
	schema *schema.Schema
	opt    Options
}

type Options struct {
	// Timeout bounds a request whose context has no deadline. Zero disables it.
	Timeout time.Duration

	// Pretty indents JSON responses.
	Pretty bool

	// MaxBodyBytes limits the request body. Zero means unlimited.
	MaxBodyBytes int64

	// CORS is disabled when AllowedOrigins is empty.
	CORS CORSOptions

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithLogger(l *zap.Logger) Option    { return func(o *Options) { o.Logger = l } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}

type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a handler executing requests against sch. Queries are
// validated against the source AST of sch when it has one.
func New(runtime executor.Runtime, sch *schema.Schema, opts ...Option) (*Handler, error) {
	if runtime == nil || sch == nil {
		return nil, errors.New("server: runtime and schema are required")
	}
	op := Options{Timeout: 10 * time.Second, Logger: zap.NewNop()}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{exec: executor.NewExecutor(runtime, sch), schema: sch, opt: op}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	r = r.WithContext(ctx)
	w.Header().Set(RequestIDHeader, rid)

	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	switch r.Method {
	case http.MethodOptions:
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	case http.MethodGet, http.MethodPost:
	default:
		status = http.StatusMethodNotAllowed
		h.writeJSON(w, status, errorResult(specError{Message: "method not allowed"}))
		return
	}

	req, batch, err := parseRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		status = http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeJSON(w, status, errorResult(specError{Message: err.Error(), ErrorType: "MalformedHttpRequestException"}))
		return
	}

	ctx = mapping.WithRequest(ctx, mapping.NewRequestInfo(r))
	if batch != nil {
		out := make([]specResult, len(batch))
		for i := range batch {
			out[i] = h.executeOne(ctx, batch[i])
		}
		h.writeJSON(w, status, out)
		return
	}
	h.writeJSON(w, status, h.executeOne(ctx, req))
}

func (h *Handler) executeOne(ctx context.Context, req GraphQLRequest) specResult {
	doc, errs := h.parse(req.Query)
	if len(errs) > 0 {
		h.opt.Logger.Debug("rejected query", zap.String("operation", req.OperationName), zap.Error(errs))
		return validationResult(errs)
	}

	opType := ""
	if op := doc.Operations.ForName(req.OperationName); op != nil {
		opType = string(op.Operation)
	} else if len(doc.Operations) == 1 {
		opType = string(doc.Operations[0].Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.GraphQLStart{Query: req.Query, OperationName: req.OperationName, OperationType: opType})
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	eventbus.Publish(ctx, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        lo.Map(result.Errors, func(e executor.GraphQLError, _ int) error { return e }),
		Duration:      time.Since(start),
	})
	return toSpecResult(result)
}

func (h *Handler) parse(query string) (*language.QueryDocument, language.ErrorList) {
	if h.schema.AST != nil {
		return language.ValidateQuery(h.schema.AST, query)
	}
	doc, err := language.ParseQuery(query)
	if err != nil {
		return nil, language.AsErrorList(err)
	}
	return doc, nil
}

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

var errBodyTooLarge = errors.New("body too large")

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req := GraphQLRequest{Query: q.Get("query"), OperationName: q.Get("operationName"), Variables: map[string]any{}}
		if req.Query == "" {
			return GraphQLRequest{}, nil, errors.New("missing 'query'")
		}
		if v := q.Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
				return GraphQLRequest{}, nil, errors.New("invalid 'variables' JSON")
			}
		}
		return req, nil, nil
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return GraphQLRequest{}, nil, errors.New("unsupported Content-Type")
	}
	defer r.Body.Close()
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return GraphQLRequest{}, nil, errors.New("failed to read body")
	}
	if maxBody > 0 && int64(len(body)) > maxBody {
		return GraphQLRequest{}, nil, errBodyTooLarge
	}

	if len(body) > 0 && body[0] == '[' {
		var batch []GraphQLRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			return GraphQLRequest{}, nil, errors.New("invalid JSON")
		}
		if len(batch) == 0 {
			return GraphQLRequest{}, nil, errors.New("empty batch")
		}
		return GraphQLRequest{}, batch, nil
	}
	var req GraphQLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return GraphQLRequest{}, nil, errors.New("invalid JSON")
	}
	if req.Query == "" {
		return GraphQLRequest{}, nil, errors.New("missing 'query'")
	}
	if req.Variables == nil {
		req.Variables = map[string]any{}
	}
	return req, nil, nil
}

type specLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type specError struct {
	Message    string         `json:"message"`
	ErrorType  string         `json:"errorType,omitempty"`
	Data       any            `json:"data"`
	Path       []any          `json:"path,omitempty"`
	Locations  []specLocation `json:"locations,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type specResult struct {
	Data   any         `json:"data"`
	Errors []specError `json:"errors,omitempty"`
}

func errorResult(errs ...specError) specResult {
	return specResult{Errors: errs}
}

func validationResult(errs language.ErrorList) specResult {
	return errorResult(lo.Map(errs, func(e *language.Error, _ int) specError {
		return specError{
			Message:   e.Message,
			ErrorType: ErrorTypeValidation,
			Locations: lo.Map(e.Locations, func(l language.Location, _ int) specLocation {
				return specLocation{Line: l.Line, Column: l.Column}
			}),
			Extensions: e.Extensions,
		}
	})...)
}

func toSpecResult(res *executor.ExecutionResult) specResult {
	out := specResult{Data: res.Data}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, specError{
			Message:    e.Message,
			ErrorType:  e.ErrorType,
			Data:       e.Data,
			Path:       lo.Map(e.Path, func(p executor.PathElement, _ int) any { return p }),
			Extensions: e.Extensions,
		})
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		h.opt.Logger.Warn("write response", zap.Error(err))
	}
}

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	wildcard := lo.Contains(opts.AllowedOrigins, "*")
	if !wildcard && !lo.Contains(opts.AllowedOrigins, origin) {
		return
	}
	if wildcard {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}
