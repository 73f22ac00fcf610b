package mapping

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	reqid "github.com/hanpama/appsyncsim/internal/reqid"
)

func TestNew_ValueHasEveryKey(t *testing.T) {
	c := New(Input{
		Arguments: map[string]any{"id": "1"},
		Info:      Info{FieldName: "person", ParentTypeName: "Query", SelectionSetList: []string{"id"}},
	})

	want := map[string]any{
		"arguments": map[string]any{"id": "1"},
		"args":      map[string]any{"id": "1"},
		"identity":  nil,
		"source":    nil,
		"stash":     map[string]any{},
		"result":    nil,
		"prev":      map[string]any{"result": nil},
		"error":     nil,
		"request": map[string]any{
			"headers":    map[string]any{},
			"domainName": nil,
		},
		"info": map[string]any{
			"fieldName":        "person",
			"parentTypeName":   "Query",
			"variables":        map[string]any{},
			"selectionSetList": []any{"id"},
		},
	}
	if diff := cmp.Diff(want, c.Value()); diff != "" {
		t.Fatalf("context value mismatch (-want +got):\n%s", diff)
	}
}

func TestNew_Deterministic(t *testing.T) {
	in := Input{
		Arguments: map[string]any{"a": 1},
		Source:    map[string]any{"id": "x"},
		Request:   RequestInfo{Headers: map[string]string{"x-api-key": "k"}},
	}
	if diff := cmp.Diff(New(in).Value(), New(in).Value()); diff != "" {
		t.Fatalf("two builds differ (-first +second):\n%s", diff)
	}
}

func TestContext_ResultAndError(t *testing.T) {
	c := New(Input{})
	c.SetError(&ErrorInfo{Message: "boom", Type: "Lambda:Unhandled"})
	require.Equal(t, map[string]any{"message": "boom", "type": "Lambda:Unhandled", "data": nil}, c.Value()["error"])

	c.SetResult(map[string]any{"ok": true})
	require.Nil(t, c.Value()["error"])
	require.Equal(t, map[string]any{"ok": true}, c.Value()["result"])
}

func TestContext_StashIsShared(t *testing.T) {
	stash := map[string]any{}
	first := New(Input{Stash: stash})
	first.MergeStash(map[string]any{"step": 1})

	second := New(Input{Stash: stash})
	require.Equal(t, 1, second.Value()["stash"].(map[string]any)["step"])
}

func TestContext_SnapshotIsDetached(t *testing.T) {
	c := New(Input{
		Arguments: map[string]any{"id": "1"},
		Stash:     map[string]any{"step": 1},
	})
	snap, err := c.Snapshot()
	require.NoError(t, err)

	c.MergeStash(map[string]any{"step": 2, "later": true})
	c.Arguments["id"] = "2"

	require.Equal(t, map[string]any{"step": float64(1)}, snap["stash"])
	require.Equal(t, map[string]any{"id": "1"}, snap["arguments"])
}

func TestNewRequestInfo(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":              "user-1",
		"iss":              "https://issuer.test",
		"cognito:username": "luke",
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	r := httptest.NewRequest("POST", "http://api.test/graphql", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	r.Header.Add("Authorization", "Bearer "+token)
	r.Header.Add("X-Multi", "a")
	r.Header.Add("X-Multi", "b")
	ctx := reqid.WithID(context.Background(), "rid-1")
	r = r.WithContext(ctx)

	info := NewRequestInfo(r)

	require.Equal(t, "api.test", info.DomainName)
	require.Equal(t, "10.0.0.1", info.SourceIP)
	require.Equal(t, "rid-1", info.RequestID)
	require.Equal(t, "a, b", info.Headers["x-multi"])
	require.Equal(t, "user-1", info.Identity["sub"])
	require.Equal(t, "https://issuer.test", info.Identity["issuer"])
	require.Equal(t, "luke", info.Identity["username"])
	require.Equal(t, []any{"10.0.0.1"}, info.Identity["sourceIp"])
}

func TestNewRequestInfo_APIKeyHasNoIdentity(t *testing.T) {
	r := httptest.NewRequest("POST", "/graphql", nil)
	r.Header.Set("X-Api-Key", "da2-fake")
	info := NewRequestInfo(r)
	require.Nil(t, info.Identity)
	require.Equal(t, "da2-fake", info.Headers["x-api-key"])
}

func TestRequestContextRoundTrip(t *testing.T) {
	ctx := WithRequest(context.Background(), RequestInfo{RequestID: "r"})
	got, ok := RequestFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, "r", got.RequestID)

	_, ok = RequestFromContext(context.Background())
	require.False(t, ok)
}
