package introspection

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/appsyncsim/internal/executor"
	language "github.com/hanpama/appsyncsim/internal/language"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

const sdl = `
"People of the galaxy"
type Person {
  name: String
  nick: String @deprecated(reason: "use name")
  born: AWSDate
}

enum Side { LIGHT DARK }

type Query {
  people(limit: Int = 10): [Person!]!
  side: Side
}
`

func execute(t *testing.T, rt executor.Runtime, query string) *executor.ExecutionResult {
	t.Helper()
	sch, err := schema.BuildFromSDL(sdl)
	require.NoError(t, err)
	w, err := Wrap(rt, sch)
	require.NoError(t, err)
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return executor.NewExecutor(w.Runtime, w.Schema).ExecuteRequest(context.Background(), doc, "", nil, nil)
}

func TestSchemaRoots(t *testing.T) {
	res := execute(t, executor.NewMockRuntime(nil), `{ __schema { queryType { name } mutationType { name } } }`)
	require.Empty(t, res.Errors)
	want := map[string]any{
		"__schema": map[string]any{
			"queryType":    map[string]any{"name": "Query"},
			"mutationType": nil,
		},
	}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("unexpected data (-want +got):\n%s", diff)
	}
}

func TestTypeLookup(t *testing.T) {
	res := execute(t, executor.NewMockRuntime(nil), `{
  __type(name: "Person") {
    kind
    name
    description
    fields { name type { kind name } }
    all: fields(includeDeprecated: true) { name isDeprecated deprecationReason }
  }
}`)
	require.Empty(t, res.Errors)
	typ := res.Data.(map[string]any)["__type"].(map[string]any)
	require.Equal(t, "OBJECT", typ["kind"])
	require.Equal(t, "People of the galaxy", typ["description"])

	fields := typ["fields"].([]any)
	require.Len(t, fields, 2)
	require.Equal(t, map[string]any{
		"name": "born",
		"type": map[string]any{"kind": "SCALAR", "name": "AWSDate"},
	}, fields[1])

	all := typ["all"].([]any)
	require.Len(t, all, 3)
	require.Equal(t, map[string]any{
		"name": "nick", "isDeprecated": true, "deprecationReason": "use name",
	}, all[1])
}

func TestWrappedTypesAndDefaults(t *testing.T) {
	res := execute(t, executor.NewMockRuntime(nil), `{
  __type(name: "Query") {
    fields {
      name
      args { name defaultValue }
      type { kind name ofType { kind ofType { kind name } } }
    }
  }
}`)
	require.Empty(t, res.Errors)
	fields := res.Data.(map[string]any)["__type"].(map[string]any)["fields"].([]any)
	people := fields[0].(map[string]any)
	require.Equal(t, []any{map[string]any{"name": "limit", "defaultValue": "10"}}, people["args"])
	require.Equal(t, map[string]any{
		"kind": "NON_NULL",
		"name": nil,
		"ofType": map[string]any{
			"kind":   "LIST",
			"ofType": map[string]any{"kind": "NON_NULL", "name": nil},
		},
	}, people["type"])
}

func TestUnknownTypeIsNull(t *testing.T) {
	res := execute(t, executor.NewMockRuntime(nil), `{ __type(name: "Nope") { name } }`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"__type": nil}, res.Data)
}

func TestDelegatesOtherFields(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.side": executor.NewMockValueResolver("DARK"),
	})
	res := execute(t, rt, `{ side __typename }`)
	require.Empty(t, res.Errors)
	require.Equal(t, map[string]any{"side": "DARK", "__typename": "Query"}, res.Data)
}

func TestWrapRequiresAST(t *testing.T) {
	_, err := Wrap(executor.NewMockRuntime(nil), schema.NewSchema(""))
	require.Error(t, err)
}
