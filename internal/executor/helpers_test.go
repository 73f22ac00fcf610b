package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	language "github.com/hanpama/appsyncsim/internal/language"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

// fixture executes queries against a schema built from SDL. Fields listed in
// async ("Type.field") are resolver-backed.
type fixture struct {
	t   *testing.T
	sch *schema.Schema
	rt  *MockRuntime
}

func newFixture(t *testing.T, sdl string, resolvers map[string]MockResolver, async ...string) *fixture {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	for _, key := range async {
		typeName, field, _ := strings.Cut(key, ".")
		require.NoError(t, sch.MarkAsync(typeName, field))
	}
	return &fixture{t: t, sch: sch, rt: NewMockRuntime(resolvers)}
}

func (f *fixture) run(query string, vars map[string]any) *ExecutionResult {
	f.t.Helper()
	return f.runOp("", query, vars)
}

func (f *fixture) runOp(operationName, query string, vars map[string]any) *ExecutionResult {
	f.t.Helper()
	return NewExecutor(f.rt, f.sch).ExecuteRequest(context.Background(), mustParseQuery(f.t, query), operationName, vars, nil)
}

func mustParseQuery(t *testing.T, q string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(q)
	require.NoError(t, err)
	return doc
}

func prop(name string) MockResolver {
	return func(_ context.Context, src any, _ map[string]any) (any, error) {
		m, _ := src.(map[string]any)
		return m[name], nil
	}
}

func syncCall(objectType, field string, source any) Call {
	return Call{Kind: CallKindSync, ObjectType: objectType, Field: field, Source: source, Args: map[string]any{}}
}

func asyncCall(batch int, objectType, field string, source any) Call {
	return Call{Kind: CallKindAsync, ObjectType: objectType, Field: field, Source: source, Args: map[string]any{}, BatchID: batch}
}

func success(data map[string]any) *ExecutionResult {
	return &ExecutionResult{Data: data, Errors: []GraphQLError{}}
}
