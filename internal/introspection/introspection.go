// Package introspection answers __schema and __type queries on top of any
// executor.Runtime. Every other field is delegated to the wrapped runtime.
package introspection

import (
	"context"
	"errors"
	"fmt"

	executor "github.com/hanpama/appsyncsim/internal/executor"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

// Wrapper pairs the wrapping runtime with the schema it must be executed
// against. Schema is a copy of the source schema extended with the meta
// types and the __schema and __type root fields.
type Wrapper struct {
	Runtime executor.Runtime
	Schema  *schema.Schema
}

// Wrap extends sch with introspection support. sch must have been built
// from SDL so the meta types of the prelude are available.
func Wrap(base executor.Runtime, sch *schema.Schema) (*Wrapper, error) {
	if sch.AST == nil {
		return nil, errors.New("introspection: schema has no source AST")
	}
	rt := &runtime{base: base, source: sch}
	return &Wrapper{Runtime: rt, Schema: extend(sch)}, nil
}

func extend(src *schema.Schema) *schema.Schema {
	ext := &schema.Schema{
		QueryType:        src.QueryType,
		MutationType:     src.MutationType,
		SubscriptionType: src.SubscriptionType,
		Types:            make(map[string]*schema.Type, len(src.Types)+8),
		Directives:       src.Directives,
		Description:      src.Description,
		AST:              src.AST,
	}
	for name, t := range src.Types {
		ext.Types[name] = t
	}
	for _, t := range schema.MetaTypes(src.AST) {
		ext.Types[t.Name] = t
	}

	query := src.GetQueryType()
	if query == nil {
		return ext
	}
	root := *query
	root.Fields = append(append([]*schema.Field(nil), query.Fields...),
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	ext.Types[root.Name] = &root
	return ext
}

type runtime struct {
	base   executor.Runtime
	source *schema.Schema
}

var _ executor.Runtime = (*runtime)(nil)

func (r *runtime) ResolveSync(ctx context.Context, objectType, field string, source any, args map[string]any) (any, error) {
	switch src := source.(type) {
	case *schema.Schema:
		return schemaField(src, field)
	case *schema.Type:
		return r.typeField(src, field, args)
	case *schema.TypeRef:
		return r.typeRefField(src, field, args)
	case *schema.Field:
		return fieldField(src, field, args)
	case *schema.InputValue:
		return inputValueField(src, field)
	case *schema.EnumValue:
		return enumValueField(src, field)
	case *schema.Directive:
		return directiveField(src, field, args)
	}

	if objectType == r.source.QueryType {
		switch field {
		case "__schema":
			return r.source, nil
		case "__type":
			name, _ := args["name"].(string)
			if t, ok := r.source.Types[name]; ok {
				return t, nil
			}
			return nil, nil
		}
	}
	return r.base.ResolveSync(ctx, objectType, field, source, args)
}

func (r *runtime) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	return r.base.BatchResolveAsync(ctx, tasks)
}

func (r *runtime) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	return r.base.ResolveType(ctx, abstractType, value)
}

func (r *runtime) SerializeLeafValue(ctx context.Context, typeName string, value any) (any, error) {
	return r.base.SerializeLeafValue(ctx, typeName, value)
}

func unknownField(owner, field string) error {
	return fmt.Errorf("introspection: %s has no field %q", owner, field)
}
