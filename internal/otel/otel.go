// Package otel turns lifecycle events into OpenTelemetry spans: one span per
// HTTP request, GraphQL operation, resolver invocation and data source call.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	events "github.com/hanpama/appsyncsim/internal/events"
	reqid "github.com/hanpama/appsyncsim/internal/reqid"
)

const tracerName = "github.com/hanpama/appsyncsim"

// Setup exports spans to the OTLP/gRPC collector at endpoint and subscribes
// to the process-wide bus. An empty endpoint disables tracing.
func Setup(ctx context.Context, endpoint, service string) (shutdown func(context.Context) error, err error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unregister := Register(eventbus.Current(), tp)
	return func(ctx context.Context) error {
		unregister()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span recording to b using tracers from tp.
func Register(b *eventbus.Bus, tp trace.TracerProvider) (unregister func()) {
	if b == nil {
		return func() {}
	}
	s := &subscriber{tracer: tp.Tracer(tracerName)}
	stops := []func(){
		eventbus.On(b, s.httpStart),
		eventbus.On(b, s.httpFinish),
		eventbus.On(b, s.graphqlStart),
		eventbus.On(b, s.graphqlFinish),
		eventbus.On(b, s.resolverState),
		eventbus.On(b, s.loaderStart),
		eventbus.On(b, s.loaderFinish),
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

type subscriber struct {
	tracer        trace.Tracer
	httpSpans     sync.Map // request id -> trace.Span
	graphqlSpans  sync.Map // request id -> trace.Span
	resolverSpans sync.Map // invocation id -> trace.Span
	loaderSpans   sync.Map // invocation id -> trace.Span
}

// parent returns ctx carrying the innermost span recorded under key in one
// of maps, searched in order.
func parent(ctx context.Context, key string, maps ...*sync.Map) context.Context {
	for _, m := range maps {
		if v, ok := m.Load(key); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(m *sync.Map, key string) (trace.Span, bool) {
	v, ok := m.LoadAndDelete(key)
	if !ok {
		return nil, false
	}
	return v.(trace.Span), true
}

func (s *subscriber) httpStart(ctx context.Context, e events.HTTPStart) {
	rid, _ := reqid.FromContext(ctx)
	_, span := s.tracer.Start(ctx, "http.request", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		semconv.HTTPMethodKey.String(e.Request.Method),
		attribute.String("http.target", e.Request.URL.Path),
		attribute.String("appsync.request_id", rid),
	)
	s.httpSpans.Store(rid, span)
}

func (s *subscriber) httpFinish(ctx context.Context, e events.HTTPFinish) {
	rid, _ := reqid.FromContext(ctx)
	if span, ok := end(&s.httpSpans, rid); ok {
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	}
}

func (s *subscriber) graphqlStart(ctx context.Context, e events.GraphQLStart) {
	rid, _ := reqid.FromContext(ctx)
	_, span := s.tracer.Start(parent(ctx, rid, &s.httpSpans), "graphql.operation")
	span.SetAttributes(
		attribute.String("graphql.operation.name", e.OperationName),
		attribute.String("graphql.operation.type", e.OperationType),
	)
	s.graphqlSpans.Store(rid, span)
}

func (s *subscriber) graphqlFinish(ctx context.Context, e events.GraphQLFinish) {
	rid, _ := reqid.FromContext(ctx)
	if span, ok := end(&s.graphqlSpans, rid); ok {
		span.SetAttributes(attribute.Int("graphql.error_count", len(e.Errors)))
		if len(e.Errors) > 0 {
			span.SetStatus(codes.Error, e.Errors[0].Error())
		}
		span.End()
	}
}

// resolverState opens a resolver span on the first state of an invocation
// and closes it on DONE. Intermediate states become span events.
func (s *subscriber) resolverState(ctx context.Context, e events.ResolverState) {
	if e.State == "DONE" {
		if span, ok := end(&s.resolverSpans, e.InvocationID); ok {
			span.End()
		}
		return
	}
	if v, ok := s.resolverSpans.Load(e.InvocationID); ok {
		v.(trace.Span).AddEvent(e.State)
		return
	}
	rid, _ := reqid.FromContext(ctx)
	name := "resolve " + e.TypeName + "." + e.FieldName
	_, span := s.tracer.Start(parent(ctx, rid, &s.graphqlSpans, &s.httpSpans), name)
	span.SetAttributes(
		attribute.String("graphql.field.parent", e.TypeName),
		attribute.String("graphql.field.name", e.FieldName),
	)
	if e.Stage != "" {
		span.SetAttributes(attribute.String("appsync.function", e.Stage))
	}
	span.AddEvent(e.State)
	s.resolverSpans.Store(e.InvocationID, span)
}

func (s *subscriber) loaderStart(ctx context.Context, e events.LoaderStart) {
	_, span := s.tracer.Start(parent(ctx, e.InvocationID, &s.resolverSpans), "datasource "+e.DataSource,
		trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("appsync.datasource.name", e.DataSource),
		attribute.String("appsync.datasource.type", e.Kind),
	)
	s.loaderSpans.Store(e.InvocationID, span)
}

func (s *subscriber) loaderFinish(_ context.Context, e events.LoaderFinish) {
	span, ok := end(&s.loaderSpans, e.InvocationID)
	if !ok {
		return
	}
	if e.StatusCode != 0 {
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.StatusCode))
	}
	if e.FailureType != "" {
		span.SetAttributes(attribute.String("appsync.error_type", e.FailureType))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.SetStatus(codes.Error, e.FailureType)
	}
	span.End()
}
