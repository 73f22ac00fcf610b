package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	events "github.com/hanpama/appsyncsim/internal/events"
	executor "github.com/hanpama/appsyncsim/internal/executor"
	"github.com/hanpama/appsyncsim/internal/loader"
	"github.com/hanpama/appsyncsim/internal/mapping"
	"github.com/hanpama/appsyncsim/internal/template"
)

// rethrow renders ctx.error as a field error and otherwise returns expr.
func rethrow(expr string) string {
	return `${ctx.error != null ? error(ctx.error.message, ctx.error.type) : ` + expr + `}`
}

var engine = template.NewHCLEngine()

func tpl(t *testing.T, src string) template.Template {
	t.Helper()
	if src == "" {
		return nil
	}
	c, err := engine.Compile(t.Name(), src)
	require.NoError(t, err)
	return c
}

func buildSource(t *testing.T, name string, kind loader.Kind, cfg map[string]any, deps loader.Deps) *DataSource {
	t.Helper()
	l, err := loader.NewDefaultRegistry().Freeze().Build(loader.DataSource{Name: name, Kind: kind, Config: cfg}, deps)
	require.NoError(t, err)
	return &DataSource{Name: name, Kind: kind, Loader: l}
}

func fakeSource(name string, fn loader.LoaderFunc) *DataSource {
	return &DataSource{Name: name, Kind: "FAKE", Loader: fn}
}

func newDispatcher(t *testing.T, rs []*Resolver, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(rs, opts...)
	require.NoError(t, err)
	return d
}

func resolve(t *testing.T, d *Dispatcher, typeName, field string, in mapping.Input) (any, error) {
	t.Helper()
	r, ok := d.Lookup(typeName, field)
	require.True(t, ok)
	return d.Resolve(context.Background(), r, in)
}

func requireFieldError(t *testing.T, err error, typ, msg string) {
	t.Helper()
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, typ, fe.Type)
	require.Contains(t, fe.Message, msg)
}

func recordStates(t *testing.T) func() []string {
	t.Helper()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })
	var (
		mu     sync.Mutex
		states []string
	)
	eventbus.Subscribe(func(_ context.Context, e events.ResolverState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, e.State)
	})
	return func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), states...)
	}
}

func TestUnit_HTTPPassthrough(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		_, _ = w.Write([]byte(`{"name":"Luke"}`))
	}))
	defer srv.Close()

	ds := buildSource(t, "svc", loader.KindHTTP, map[string]any{"endpoint": srv.URL + "/api/"}, loader.Deps{})
	d := newDispatcher(t, []*Resolver{{
		Kind:       KindUnit,
		TypeName:   "Query",
		FieldName:  "people",
		DataSource: ds,
		Request:    tpl(t, `{"version": "2018-05-29", "method": "GET", "resourcePath": "/people/", "params": {"headers": {}}}`),
		Response:   tpl(t, rethrow(`ctx.result.body`)),
	}})

	v, err := resolve(t, d, "Query", "people", mapping.Input{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Luke"}, v)
	require.Equal(t, "/api/people/", gotPath)
	require.Equal(t, http.MethodGet, gotMethod)
}

func TestUnit_HTTPUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	ds := buildSource(t, "svc", loader.KindHTTP, map[string]any{"endpoint": endpoint}, loader.Deps{})
	d := newDispatcher(t, []*Resolver{{
		Kind:       KindUnit,
		TypeName:   "Query",
		FieldName:  "people",
		DataSource: ds,
		Request:    tpl(t, `{"method": "GET", "resourcePath": "/people"}`),
		Response:   tpl(t, rethrow(`ctx.result.body`)),
	}})

	_, err := resolve(t, d, "Query", "people", mapping.Input{})
	requireFieldError(t, err, loader.FailureHTTPTransport, "")
}

func TestUnit_StatesOnSuccess(t *testing.T) {
	states := recordStates(t)
	d := newDispatcher(t, []*Resolver{{
		Kind:       KindUnit,
		TypeName:   "Query",
		FieldName:  "echo",
		DataSource: buildSource(t, "local", loader.KindNone, nil, loader.Deps{}),
		Request:    tpl(t, `{"payload": ${toJson(ctx.args)}}`),
		Response:   tpl(t, `${ctx.result}`),
	}})

	v, err := resolve(t, d, "Query", "echo", mapping.Input{Arguments: map[string]any{"msg": "hi"}})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"msg": "hi"}, v)
	require.Equal(t, []string{
		string(StateBuildingContext),
		string(StateEvaluatingRequest),
		string(StateDispatchingLoader),
		string(StateEvaluatingResponse),
		string(StateDone),
	}, states())
}

func TestUnit_RequestErrorSkipsLoader(t *testing.T) {
	states := recordStates(t)
	var calls atomic.Int32
	d := newDispatcher(t, []*Resolver{{
		Kind:      KindUnit,
		TypeName:  "Mutation",
		FieldName: "deletePerson",
		DataSource: fakeSource("fake", func(context.Context, loader.Request) loader.Result {
			calls.Add(1)
			return loader.Succeeded(&loader.Response{Body: `true`})
		}),
		Request:  tpl(t, `${error("denied", "Unauthorized")}`),
		Response: tpl(t, rethrow(`ctx.result`)),
	}})

	_, err := resolve(t, d, "Mutation", "deletePerson", mapping.Input{})
	requireFieldError(t, err, "Unauthorized", "denied")
	require.Zero(t, calls.Load())
	require.Equal(t, []string{
		string(StateBuildingContext),
		string(StateEvaluatingRequest),
		string(StateSkippedOnRequestError),
		string(StateEvaluatingResponse),
		string(StateDone),
	}, states())
}

func TestUnit_ResponseSeesLoaderFailure(t *testing.T) {
	d := newDispatcher(t, []*Resolver{{
		Kind:      KindUnit,
		TypeName:  "Query",
		FieldName: "fallback",
		DataSource: fakeSource("fake", func(context.Context, loader.Request) loader.Result {
			return loader.Failed("Boom", errors.New("backend down"))
		}),
		Request:  tpl(t, `{}`),
		Response: tpl(t, `${ctx.error != null ? "fallback: ${ctx.error.message}" : ctx.result}`),
	}})

	v, err := resolve(t, d, "Query", "fallback", mapping.Input{})
	require.NoError(t, err)
	require.Equal(t, "fallback: backend down", v)
}

func TestUnit_MappingTemplateError(t *testing.T) {
	d := newDispatcher(t, []*Resolver{{
		Kind:       KindUnit,
		TypeName:   "Query",
		FieldName:  "bad",
		DataSource: buildSource(t, "local", loader.KindNone, nil, loader.Deps{}),
		Request:    tpl(t, `{"payload": null}`),
		Response:   tpl(t, `${ctx.result.missing}`),
	}})

	_, err := resolve(t, d, "Query", "bad", mapping.Input{})
	requireFieldError(t, err, ErrorTypeMappingTemplate, "")
}

func TestUnit_DirectLambda(t *testing.T) {
	deps := loader.Deps{Functions: map[string]loader.Func{
		"people": func(_ context.Context, payload any) (any, error) {
			ctx := payload.(map[string]any)
			args := ctx["arguments"].(map[string]any)
			if args["id"] == "missing" {
				return nil, errors.New("person not found")
			}
			info := ctx["info"].(map[string]any)
			return map[string]any{"id": args["id"], "field": info["fieldName"]}, nil
		},
	}}
	d := newDispatcher(t, []*Resolver{{
		Kind:       KindUnit,
		TypeName:   "Query",
		FieldName:  "person",
		DataSource: buildSource(t, "fn", loader.KindLambda, map[string]any{"functionName": "people"}, deps),
	}})

	in := mapping.Input{
		Arguments: map[string]any{"id": "1"},
		Info:      mapping.Info{FieldName: "person", ParentTypeName: "Query"},
	}
	v, err := resolve(t, d, "Query", "person", in)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"id": "1", "field": "person"}, v)

	in.Arguments = map[string]any{"id": "missing"}
	_, err = resolve(t, d, "Query", "person", in)
	requireFieldError(t, err, loader.FailureLambdaUnhandled, "person not found")
}

func TestPipeline_StashAndPrev(t *testing.T) {
	none := buildSource(t, "local", loader.KindNone, nil, loader.Deps{})
	d := newDispatcher(t, []*Resolver{{
		Kind:      KindPipeline,
		TypeName:  "Query",
		FieldName: "greet",
		Request:   tpl(t, `{"stash": {"greeting": "hi"}}`),
		Functions: []*Function{
			{
				Name:       "first",
				DataSource: none,
				Request:    tpl(t, `{"payload": {"n": 1, "g": "${ctx.stash.greeting}"}, "stash": {"seen": true}}`),
				Response:   tpl(t, `${ctx.result}`),
			},
			{
				Name:       "second",
				DataSource: none,
				Request:    tpl(t, `{"payload": {"n": ${ctx.prev.result.n + 1}, "g": "${ctx.prev.result.g}", "seen": ${ctx.stash.seen}}}`),
				Response:   tpl(t, `${ctx.result}`),
			},
		},
		Response: tpl(t, rethrow(`ctx.prev.result`)),
	}})

	v, err := resolve(t, d, "Query", "greet", mapping.Input{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"n": int64(2), "g": "hi", "seen": true}, v)
}

func TestPipeline_DirectLambdaSeesStashSnapshot(t *testing.T) {
	var seen map[string]any
	deps := loader.Deps{Functions: map[string]loader.Func{
		"audit": func(_ context.Context, payload any) (any, error) {
			seen = payload.(map[string]any)
			seen["stash"].(map[string]any)["touched"] = true
			return "audited", nil
		},
	}}
	d := newDispatcher(t, []*Resolver{{
		Kind:      KindPipeline,
		TypeName:  "Mutation",
		FieldName: "save",
		Request:   tpl(t, `{"stash": {"user": "luke"}}`),
		Functions: []*Function{
			{
				Name:       "audit",
				DataSource: buildSource(t, "fn", loader.KindLambda, map[string]any{"functionName": "audit"}, deps),
				Response:   tpl(t, `${ctx.result}`),
			},
			{
				Name:       "store",
				DataSource: buildSource(t, "local", loader.KindNone, nil, loader.Deps{}),
				Request:    tpl(t, `{"payload": ${toJson(ctx.stash)}, "stash": {"stored": true}}`),
				Response:   tpl(t, `${ctx.result}`),
			},
		},
		Response: tpl(t, rethrow(`ctx.prev.result`)),
	}})

	v, err := resolve(t, d, "Mutation", "save", mapping.Input{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"user": "luke"}, v)
	require.Equal(t, map[string]any{"user": "luke", "touched": true}, seen["stash"])
}

func TestPipeline_ErrorHalts(t *testing.T) {
	var secondCalls atomic.Int32
	d := newDispatcher(t, []*Resolver{{
		Kind:      KindPipeline,
		TypeName:  "Mutation",
		FieldName: "transfer",
		Functions: []*Function{
			{
				Name:       "check",
				DataSource: buildSource(t, "local", loader.KindNone, nil, loader.Deps{}),
				Request:    tpl(t, `{"payload": {"ok": false}}`),
				Response:   tpl(t, `${ctx.result.ok ? ctx.result : error("insufficient funds", "Halt", {step = "check"})}`),
			},
			{
				Name: "apply",
				DataSource: fakeSource("fake", func(context.Context, loader.Request) loader.Result {
					secondCalls.Add(1)
					return loader.Succeeded(&loader.Response{Body: `{}`})
				}),
				Request:  tpl(t, `{}`),
				Response: tpl(t, `${ctx.result}`),
			},
		},
		Response: tpl(t, `${ctx.error != null ? error(ctx.error.message, ctx.error.type, ctx.error.data) : ctx.prev.result}`),
	}})

	_, err := resolve(t, d, "Mutation", "transfer", mapping.Input{})
	requireFieldError(t, err, "Halt", "insufficient funds")
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, map[string]any{"step": "check"}, fe.Data)
	require.Zero(t, secondCalls.Load())
}

func TestPipeline_BeforeErrorSkipsFunctions(t *testing.T) {
	var calls atomic.Int32
	d := newDispatcher(t, []*Resolver{{
		Kind:      KindPipeline,
		TypeName:  "Query",
		FieldName: "guarded",
		Request:   tpl(t, `${error("no access", "Unauthorized")}`),
		Functions: []*Function{{
			Name: "f",
			DataSource: fakeSource("fake", func(context.Context, loader.Request) loader.Result {
				calls.Add(1)
				return loader.Succeeded(&loader.Response{Body: `1`})
			}),
		}},
	}})

	_, err := resolve(t, d, "Query", "guarded", mapping.Input{})
	requireFieldError(t, err, "Unauthorized", "no access")
	require.Zero(t, calls.Load())
}

func TestPipeline_LoaderFailureContinues(t *testing.T) {
	d := newDispatcher(t, []*Resolver{{
		Kind:      KindPipeline,
		TypeName:  "Query",
		FieldName: "best",
		Functions: []*Function{
			{
				Name: "flaky",
				DataSource: fakeSource("flaky", func(context.Context, loader.Request) loader.Result {
					return loader.Failed("Boom", errors.New("unavailable"))
				}),
				Request:  tpl(t, `{}`),
				Response: tpl(t, `${ctx.result}`),
			},
			{
				Name:       "second",
				DataSource: buildSource(t, "local", loader.KindNone, nil, loader.Deps{}),
				Request:    tpl(t, `{"payload": {"prevWasNull": ${ctx.prev.result == null}}}`),
				Response:   tpl(t, `${ctx.result}`),
			},
		},
		Response: tpl(t, `${ctx.prev.result}`),
	}})

	v, err := resolve(t, d, "Query", "best", mapping.Input{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"prevWasNull": true}, v)
}

func TestBatchResolveAsync_ErrorIsolation(t *testing.T) {
	d := newDispatcher(t, []*Resolver{
		{
			Kind:       KindUnit,
			TypeName:   "Query",
			FieldName:  "ok",
			DataSource: buildSource(t, "local", loader.KindNone, nil, loader.Deps{}),
			Request:    tpl(t, `{"payload": "fine"}`),
		},
		{
			Kind:      KindUnit,
			TypeName:  "Query",
			FieldName: "broken",
			DataSource: fakeSource("fake", func(context.Context, loader.Request) loader.Result {
				return loader.Failed(loader.FailureHTTPTransport, errors.New("connection refused"))
			}),
			Request: tpl(t, `{}`),
		},
	}, WithConcurrency(1))

	results := d.BatchResolveAsync(context.Background(), []executor.AsyncResolveTask{
		{ObjectType: "Query", Field: "broken"},
		{ObjectType: "Query", Field: "ok"},
	})
	require.Len(t, results, 2)
	requireFieldError(t, results[0].Error, loader.FailureHTTPTransport, "connection refused")
	require.NoError(t, results[1].Error)
	require.Equal(t, "fine", results[1].Value)

	var te executor.TypedError
	require.ErrorAs(t, results[0].Error, &te)
	require.Equal(t, loader.FailureHTTPTransport, te.ErrorType())
}

func TestLoaderTimeoutAndPanic(t *testing.T) {
	d := newDispatcher(t, []*Resolver{
		{
			Kind:      KindUnit,
			TypeName:  "Query",
			FieldName: "slow",
			DataSource: fakeSource("slow", func(context.Context, loader.Request) loader.Result {
				time.Sleep(time.Second)
				return loader.Succeeded(&loader.Response{Body: `1`})
			}),
			Request: tpl(t, `{}`),
		},
		{
			Kind:      KindUnit,
			TypeName:  "Query",
			FieldName: "crash",
			DataSource: fakeSource("crash", func(context.Context, loader.Request) loader.Result {
				panic("unexpected")
			}),
			Request: tpl(t, `{}`),
		},
	}, WithLoaderTimeout(20*time.Millisecond))

	_, err := resolve(t, d, "Query", "slow", mapping.Input{})
	requireFieldError(t, err, ErrorTypeLoaderTimeout, "did not respond")

	_, err = resolve(t, d, "Query", "crash", mapping.Input{})
	requireFieldError(t, err, ErrorTypeLoaderPanic, "unexpected")
}

func TestNew_Validation(t *testing.T) {
	ds := fakeSource("fake", func(context.Context, loader.Request) loader.Result { return loader.Result{} })
	r := &Resolver{Kind: KindUnit, TypeName: "Query", FieldName: "a", DataSource: ds}

	_, err := New([]*Resolver{r, r})
	require.ErrorContains(t, err, "defined more than once")

	_, err = New([]*Resolver{{Kind: KindUnit, TypeName: "Query", FieldName: "b"}})
	require.ErrorContains(t, err, "data source is required")

	_, err = New([]*Resolver{{Kind: "BATCH", TypeName: "Query", FieldName: "c"}})
	require.ErrorContains(t, err, "unknown kind")
}

func TestRuntime_SyncAndTypes(t *testing.T) {
	d := newDispatcher(t, nil)
	ctx := context.Background()

	v, err := d.ResolveSync(ctx, "Person", "name", map[string]any{"name": "Leia"}, nil)
	require.NoError(t, err)
	require.Equal(t, "Leia", v)

	v, err = d.ResolveSync(ctx, "Person", "name", nil, nil)
	require.NoError(t, err)
	require.Nil(t, v)

	name, err := d.ResolveType(ctx, "Character", map[string]any{"__typename": "Droid"})
	require.NoError(t, err)
	require.Equal(t, "Droid", name)

	_, err = d.ResolveType(ctx, "Character", map[string]any{})
	require.Error(t, err)
}

func TestSerializeLeafValue(t *testing.T) {
	tests := []struct {
		typ     string
		in      any
		want    any
		wantErr bool
	}{
		{"Int", float64(3), int64(3), false},
		{"Int", 3.5, nil, true},
		{"Int", int64(1) << 40, nil, true},
		{"Float", int64(2), 2.0, false},
		{"String", int64(7), "7", false},
		{"ID", int64(42), "42", false},
		{"ID", "abc", "abc", false},
		{"Boolean", "yes", nil, true},
		{"AWSJSON", map[string]any{"a": 1}, map[string]any{"a": 1}, false},
		{"Episode", "JEDI", "JEDI", false},
		{"String", nil, nil, false},
	}
	d := newDispatcher(t, nil)
	for _, tt := range tests {
		got, err := d.SerializeLeafValue(context.Background(), tt.typ, tt.in)
		if tt.wantErr {
			require.Error(t, err, "%s(%v)", tt.typ, tt.in)
			continue
		}
		require.NoError(t, err, "%s(%v)", tt.typ, tt.in)
		require.Equal(t, tt.want, got, "%s(%v)", tt.typ, tt.in)
	}
}
