package executor

import (
	"context"
	"errors"
	"sync"

	schema "github.com/hanpama/appsyncsim/internal/schema"
)

// MockResolver resolves one field of one source value.
type MockResolver func(ctx context.Context, source any, args map[string]any) (any, error)

const (
	CallKindSync  = "sync"
	CallKindAsync = "async"
)

func NewMockValueResolver(val any) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return val, nil }
}

func NewMockErrorResolver(err error) MockResolver {
	return func(context.Context, any, map[string]any) (any, error) { return nil, err }
}

// Call records one field resolution seen by a MockRuntime. Async calls made
// in the same BatchResolveAsync share a BatchID, counted from 1; sync calls
// have BatchID 0.
type Call struct {
	Kind       string
	ObjectType string
	Field      string
	Source     any
	Args       map[string]any
	BatchID    int
}

// MockRuntime is a Runtime backed by per-field resolvers keyed
// "ObjectType.field". Fields without a resolver resolve to null.
type MockRuntime struct {
	mu        sync.Mutex
	resolvers map[string]MockResolver
	calls     []Call
	batches   int

	typeResolver func(value any) (string, error)
	serializer   func(val any, t schema.TypeRef) (any, error)
}

func NewMockRuntime(resolvers map[string]MockResolver) *MockRuntime {
	m := &MockRuntime{resolvers: make(map[string]MockResolver, len(resolvers))}
	for k, r := range resolvers {
		m.resolvers[k] = r
	}
	return m
}

func (m *MockRuntime) SetResolver(objectType, field string, r MockResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolvers[objectType+"."+field] = r
}

// SetTypeResolver replaces the __typename based type resolution of a
// MockRuntime. Other runtimes are left untouched.
func SetTypeResolver(r Runtime, f func(value any) (string, error)) {
	if m, ok := r.(*MockRuntime); ok {
		m.mu.Lock()
		m.typeResolver = f
		m.mu.Unlock()
	}
}

// SetSerializer replaces the identity leaf serialization of a MockRuntime.
func SetSerializer(r Runtime, f func(val any, t schema.TypeRef) (any, error)) {
	if m, ok := r.(*MockRuntime); ok {
		m.mu.Lock()
		m.serializer = f
		m.mu.Unlock()
	}
}

func (m *MockRuntime) call(ctx context.Context, kind, objectType, field string, source any, args map[string]any, batch int) (any, error) {
	m.mu.Lock()
	r := m.resolvers[objectType+"."+field]
	m.calls = append(m.calls, Call{Kind: kind, ObjectType: objectType, Field: field, Source: source, Args: args, BatchID: batch})
	m.mu.Unlock()
	if r == nil {
		return nil, nil
	}
	return r(ctx, source, args)
}

func (m *MockRuntime) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	return m.call(ctx, CallKindSync, objectType, field, source, args, 0)
}

// BatchResolveAsync resolves tasks grouped by field, groups taken in order of
// first appearance, and returns the results in task order.
func (m *MockRuntime) BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult {
	if len(tasks) == 0 {
		return nil
	}
	m.mu.Lock()
	m.batches++
	batch := m.batches
	m.mu.Unlock()

	var order []string
	groups := map[string][]int{}
	for i, t := range tasks {
		key := t.ObjectType + "." + t.Field
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	results := make([]AsyncResolveResult, len(tasks))
	for _, key := range order {
		for _, i := range groups[key] {
			t := tasks[i]
			v, err := m.call(ctx, CallKindAsync, t.ObjectType, t.Field, t.Source, t.Args, batch)
			results[i] = AsyncResolveResult{Value: v, Error: err}
		}
	}
	return results
}

func (m *MockRuntime) ResolveType(_ context.Context, _ string, value any) (string, error) {
	m.mu.Lock()
	f := m.typeResolver
	m.mu.Unlock()
	if f != nil {
		return f(value)
	}
	if obj, ok := value.(map[string]any); ok {
		if name, ok := obj["__typename"].(string); ok {
			return name, nil
		}
	}
	return "", errors.New("cannot resolve type")
}

func (m *MockRuntime) SerializeLeafValue(_ context.Context, typeName string, value any) (any, error) {
	m.mu.Lock()
	f := m.serializer
	m.mu.Unlock()
	if f == nil {
		return value, nil
	}
	return f(value, *schema.NamedType(typeName))
}

// GetCalls returns the recorded calls in order.
func (m *MockRuntime) GetCalls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
