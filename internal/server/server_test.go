package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/appsyncsim/internal/executor"
	mapping "github.com/hanpama/appsyncsim/internal/mapping"
	reqid "github.com/hanpama/appsyncsim/internal/reqid"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

func newTestHandler(t *testing.T, rt executor.Runtime, opts ...Option) *Handler {
	t.Helper()
	sch, err := schema.BuildFromSDL(`type Query { hello: String, fail: String }`)
	require.NoError(t, err)
	h, err := New(rt, sch, opts...)
	require.NoError(t, err)
	return h
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type typedError struct{}

func (typedError) Error() string     { return "denied" }
func (typedError) ErrorType() string { return "Unauthorized" }
func (typedError) ErrorData() any    { return map[string]any{"code": 403} }

func TestRequestInfoReachesResolvers(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	var (
		info mapping.RequestInfo
		rid  string
	)
	rt.SetResolver("Query", "hello", func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		info, _ = mapping.RequestFromContext(ctx)
		rid, _ = reqid.FromContext(ctx)
		return "world", nil
	})
	h := newTestHandler(t, rt)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test", "abc")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, rid)
	require.Equal(t, rid, w.Header().Get(RequestIDHeader))
	require.Equal(t, rid, info.RequestID)
	require.Equal(t, "abc", info.Headers["x-test"])
	require.Equal(t, map[string]any{"data": map[string]any{"hello": "world"}}, decode(t, w))
}

func TestFieldErrorsCarryTypeAndData(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
		"Query.fail": func(context.Context, any, map[string]any) (any, error) {
			return nil, typedError{}
		},
	})
	w := post(t, newTestHandler(t, rt), `{"query":"{ hello fail }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	want := map[string]any{
		"data": map[string]any{"hello": "world", "fail": nil},
		"errors": []any{map[string]any{
			"message":   "denied",
			"errorType": "Unauthorized",
			"data":      map[string]any{"code": float64(403)},
			"path":      []any{"fail"},
		}},
	}
	if diff := cmp.Diff(want, decode(t, w)); diff != "" {
		t.Fatalf("unexpected body (-want +got):\n%s", diff)
	}
}

func TestValidationErrorsCarryLocations(t *testing.T) {
	rt := executor.NewMockRuntime(nil)
	w := post(t, newTestHandler(t, rt), `{"query":"{ hello nope }"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.Nil(t, body["data"])
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	first := errs[0].(map[string]any)
	require.Equal(t, ErrorTypeValidation, first["errorType"])
	require.Contains(t, first["message"], "nope")
	require.Equal(t, []any{map[string]any{"line": float64(1), "column": float64(9)}}, first["locations"])
	require.Empty(t, rt.GetCalls())
}

func TestBatch(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	w := post(t, newTestHandler(t, rt), `[{"query":"{ hello }"},{"query":"{ hello }"}]`)
	require.Equal(t, http.StatusOK, w.Code)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, map[string]any{"hello": "world"}, out[1]["data"])
}

func TestGetRequest(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	req := httptest.NewRequest(http.MethodGet, "/graphql?query=%7B%20hello%20%7D", nil)
	w := httptest.NewRecorder()
	newTestHandler(t, rt).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, map[string]any{"data": map[string]any{"hello": "world"}}, decode(t, w))
}

func TestMalformedRequests(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime(nil), WithMaxBodyBytes(32))
	cases := []struct {
		name   string
		method string
		body   string
		status int
	}{
		{"method", http.MethodPut, `{}`, http.StatusMethodNotAllowed},
		{"json", http.MethodPost, `{"query":`, http.StatusBadRequest},
		{"missing query", http.MethodPost, `{"variables":{}}`, http.StatusBadRequest},
		{"empty batch", http.MethodPost, `[]`, http.StatusBadRequest},
		{"too large", http.MethodPost, `{"query":"{ hello hello hello hello }"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/graphql", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code)
			require.NotEmpty(t, decode(t, w)["errors"])
		})
	}
}

func TestCORSAndPreflight(t *testing.T) {
	rt := executor.NewMockRuntime(map[string]executor.MockResolver{
		"Query.hello": executor.NewMockValueResolver("world"),
	})
	h := newTestHandler(t, rt, WithCORS("*"))

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString(`{"query":"{ hello }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	pre := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Api-Key")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	require.Equal(t, http.StatusNoContent, pw.Code)
	require.Equal(t, "*", pw.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "X-Api-Key", pw.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := newTestHandler(t, executor.NewMockRuntime(nil), WithCORS("http://allowed.test"))
	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	req.Header.Set("Origin", "http://other.test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
