package template

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/hanpama/appsyncsim/internal/mapping"
)

func compile(t *testing.T, e Engine, src string) Template {
	t.Helper()
	tpl, err := e.Compile("test.tpl", src)
	require.NoError(t, err)
	return tpl
}

func execute(t *testing.T, tpl Template, mc *mapping.Context) any {
	t.Helper()
	out, err := tpl.Execute(mc)
	require.NoError(t, err)
	return out.Resolve()
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := NewHCLEngine().Compile("broken.tpl", `{"id": "${ctx.args.id"}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "broken.tpl")
}

func TestExecute_Bindings(t *testing.T) {
	e := NewHCLEngine()
	mc := mapping.New(mapping.Input{
		Arguments: map[string]any{"id": "1", "n": 2},
		Source:    map[string]any{"name": "Luke"},
		Info:      mapping.Info{FieldName: "person", ParentTypeName: "Query"},
	})

	t.Run("single interpolation keeps structure", func(t *testing.T) {
		got := execute(t, compile(t, e, `${ctx.args}`), mc)
		require.Equal(t, map[string]any{"id": "1", "n": int64(2)}, got)
	})

	t.Run("rendered text is parsed as JSON", func(t *testing.T) {
		src := `{"operation": "Invoke", "payload": {"id": "${ctx.arguments.id}", "field": "${context.info.fieldName}"}}`
		got := execute(t, compile(t, e, src), mc)
		want := map[string]any{
			"operation": "Invoke",
			"payload":   map[string]any{"id": "1", "field": "person"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("output mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("toJson embeds values", func(t *testing.T) {
		got := execute(t, compile(t, e, `{"source": ${toJson(ctx.source)}}`), mc)
		require.Equal(t, map[string]any{"source": map[string]any{"name": "Luke"}}, got)
	})

	t.Run("non JSON text is kept raw", func(t *testing.T) {
		got := execute(t, compile(t, e, `hello ${ctx.source.name}`), mc)
		require.Equal(t, "hello Luke", got)
	})

	t.Run("null helpers", func(t *testing.T) {
		got := execute(t, compile(t, e, `${toJson([isNull(ctx.result), defaultIfNull(ctx.result, "none"), isNullOrEmpty(ctx.stash)])}`), mc)
		require.Equal(t, []any{true, "none", true}, got)
	})

	t.Run("util namespace", func(t *testing.T) {
		got := execute(t, compile(t, e, `${util::toJson([util::isNull(ctx.result), util::defaultIfNull(ctx.result, ctx.args.id)])}`), mc)
		require.Equal(t, []any{true, "1"}, got)
	})
}

func TestExecute_UserError(t *testing.T) {
	e := NewHCLEngine()

	t.Run("type and data", func(t *testing.T) {
		tpl := compile(t, e, `${error("not allowed", "Unauthorized", {code = 403})}`)
		_, err := tpl.Execute(mapping.New(mapping.Input{}))
		var ue *UserError
		require.ErrorAs(t, err, &ue)
		want := &UserError{Message: "not allowed", Type: "Unauthorized", Data: map[string]any{"code": int64(403)}}
		if diff := cmp.Diff(want, ue); diff != "" {
			t.Fatalf("user error mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("guarded call fires only when selected", func(t *testing.T) {
		tpl := compile(t, e, `%{ if ctx.error != null }${error(ctx.error.message, ctx.error.type)}%{ endif }${toJson(ctx.result)}`)

		mc := mapping.New(mapping.Input{})
		mc.SetResult(map[string]any{"id": "1"})
		require.Equal(t, map[string]any{"id": "1"}, execute(t, tpl, mc))

		mc.SetError(&mapping.ErrorInfo{Message: "boom"})
		_, err := tpl.Execute(mc)
		var ue *UserError
		require.ErrorAs(t, err, &ue)
		require.Equal(t, "boom", ue.Message)
		require.Empty(t, ue.Type)
	})
}

func TestExecute_EvalError(t *testing.T) {
	tpl := compile(t, NewHCLEngine(), `${ctx.arguments.missing}`)
	_, err := tpl.Execute(mapping.New(mapping.Input{}))
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, "test.tpl", ee.Template)

	var ue *UserError
	require.False(t, errors.As(err, &ue))
}

func TestExecute_Idempotent(t *testing.T) {
	tpl := compile(t, NewHCLEngine(), `{"args": ${toJson(ctx.args)}, "sel": ${toJson(ctx.info.selectionSetList)}}`)
	mc := mapping.New(mapping.Input{
		Arguments: map[string]any{"limit": 10},
		Info:      mapping.Info{SelectionSetList: []string{"id", "friends", "friends/name"}},
	})
	first := execute(t, tpl, mc)
	second := execute(t, tpl, mc)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated execution differs (-first +second):\n%s", diff)
	}
}

func TestEngineOptions(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	shout := function.New(&function.Spec{
		Params: []function.Parameter{{Name: "s", Type: cty.String}},
		Type:   function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return cty.StringVal(args[0].AsString() + "!"), nil
		},
	})
	e := NewHCLEngine(WithClock(func() time.Time { return fixed }), WithFunction("shout", shout))

	got := execute(t, compile(t, e, `{"at": "${nowISO8601()}", "ms": ${nowEpochMilliSeconds()}, "s": "${shout("hi")}"}`), mapping.New(mapping.Input{}))
	require.Equal(t, map[string]any{
		"at": "2024-03-01T12:30:00.000Z",
		"ms": fixed.UnixMilli(),
		"s":  "hi!",
	}, got)

	got = execute(t, compile(t, e, `${util::time::nowISO8601()}`), mapping.New(mapping.Input{}))
	require.Equal(t, "2024-03-01T12:30:00.000Z", got)
}

func TestOutput_Resolve(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"blank", "  \n ", nil},
		{"json object", ` {"a": 1.5} `, map[string]any{"a": 1.5}},
		{"json string", `"x"`, "x"},
		{"raw text", "plain", "plain"},
		{"structured", map[string]any{"k": "v"}, map[string]any{"k": "v"}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Output{Value: tt.in}.Resolve())
		})
	}
}

func TestParseJSON(t *testing.T) {
	got, err := ParseJSON([]byte(`{"n": 3, "f": 0.5, "l": [1, "a", null]}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"n": int64(3), "f": 0.5, "l": []any{int64(1), "a", nil}}, got)

	_, err = ParseJSON([]byte(`{} {}`))
	require.Error(t, err)
}
