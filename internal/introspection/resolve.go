package introspection

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"

	schema "github.com/hanpama/appsyncsim/internal/schema"
)

func schemaField(s *schema.Schema, field string) (any, error) {
	switch field {
	case "description":
		return optional(s.Description), nil
	case "types":
		types := lo.Values(s.Types)
		slices.SortFunc(types, func(a, b *schema.Type) int { return strings.Compare(a.Name, b.Name) })
		return types, nil
	case "queryType":
		return s.GetQueryType(), nil
	case "mutationType":
		return s.GetMutationType(), nil
	case "subscriptionType":
		return s.GetSubscriptionType(), nil
	case "directives":
		dirs := lo.Values(s.Directives)
		slices.SortFunc(dirs, func(a, b *schema.Directive) int { return strings.Compare(a.Name, b.Name) })
		return dirs, nil
	}
	return nil, unknownField("__Schema", field)
}

func (r *runtime) typeField(t *schema.Type, field string, args map[string]any) (any, error) {
	switch field {
	case "kind":
		return string(t.Kind), nil
	case "name":
		return t.Name, nil
	case "description":
		return optional(t.Description), nil
	case "specifiedByURL":
		if t.SpecifiedByURL == nil {
			return nil, nil
		}
		return *t.SpecifiedByURL, nil
	case "isOneOf":
		if t.Kind != schema.TypeKindInputObject {
			return nil, nil
		}
		return t.OneOf, nil
	case "ofType":
		return nil, nil
	case "fields":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, nil
		}
		return lo.Filter(t.Fields, func(f *schema.Field, _ int) bool {
			return includeDeprecated(args) || !f.IsDeprecated
		}), nil
	case "interfaces":
		if t.Kind != schema.TypeKindObject && t.Kind != schema.TypeKindInterface {
			return nil, nil
		}
		return r.lookup(t.Interfaces), nil
	case "possibleTypes":
		if t.Kind != schema.TypeKindInterface && t.Kind != schema.TypeKindUnion {
			return nil, nil
		}
		return r.lookup(t.PossibleTypes), nil
	case "enumValues":
		if t.Kind != schema.TypeKindEnum {
			return nil, nil
		}
		return lo.Filter(t.EnumValues, func(v *schema.EnumValue, _ int) bool {
			return includeDeprecated(args) || !v.IsDeprecated
		}), nil
	case "inputFields":
		if t.Kind != schema.TypeKindInputObject {
			return nil, nil
		}
		return inputValues(t.InputFields, args), nil
	}
	return nil, unknownField("__Type", field)
}

// typeRefField resolves __Type fields on a possibly wrapped type reference.
// Named references are answered by the type they point to.
func (r *runtime) typeRefField(ref *schema.TypeRef, field string, args map[string]any) (any, error) {
	if ref.Kind == schema.TypeRefKindNamed {
		t, ok := r.source.Types[ref.Named]
		if !ok {
			return nil, fmt.Errorf("introspection: unknown type %q", ref.Named)
		}
		return r.typeField(t, field, args)
	}
	switch field {
	case "kind":
		return string(ref.Kind), nil
	case "ofType":
		return ref.OfType, nil
	case "fields", "interfaces", "possibleTypes", "enumValues", "inputFields",
		"name", "description", "specifiedByURL", "isOneOf":
		return nil, nil
	}
	return nil, unknownField("__Type", field)
}

func fieldField(f *schema.Field, field string, args map[string]any) (any, error) {
	switch field {
	case "name":
		return f.Name, nil
	case "description":
		return optional(f.Description), nil
	case "args":
		return inputValues(f.Arguments, args), nil
	case "type":
		return f.Type, nil
	case "isDeprecated":
		return f.IsDeprecated, nil
	case "deprecationReason":
		return deprecationReason(f.IsDeprecated, f.DeprecationReason), nil
	}
	return nil, unknownField("__Field", field)
}

func inputValueField(v *schema.InputValue, field string) (any, error) {
	switch field {
	case "name":
		return v.Name, nil
	case "description":
		return optional(v.Description), nil
	case "type":
		return v.Type, nil
	case "defaultValue":
		if v.DefaultValue == nil {
			return nil, nil
		}
		return printValue(v.DefaultValue), nil
	case "isDeprecated":
		return v.IsDeprecated, nil
	case "deprecationReason":
		return deprecationReason(v.IsDeprecated, v.DeprecationReason), nil
	}
	return nil, unknownField("__InputValue", field)
}

func enumValueField(v *schema.EnumValue, field string) (any, error) {
	switch field {
	case "name":
		return v.Name, nil
	case "description":
		return optional(v.Description), nil
	case "isDeprecated":
		return v.IsDeprecated, nil
	case "deprecationReason":
		return deprecationReason(v.IsDeprecated, v.DeprecationReason), nil
	}
	return nil, unknownField("__EnumValue", field)
}

func directiveField(d *schema.Directive, field string, args map[string]any) (any, error) {
	switch field {
	case "name":
		return d.Name, nil
	case "description":
		return optional(d.Description), nil
	case "isRepeatable":
		return d.IsRepeatable, nil
	case "locations":
		return append([]string{}, d.Locations...), nil
	case "args":
		return inputValues(d.Arguments, args), nil
	}
	return nil, unknownField("__Directive", field)
}

func (r *runtime) lookup(names []string) []*schema.Type {
	out := make([]*schema.Type, 0, len(names))
	for _, name := range names {
		if t, ok := r.source.Types[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

func inputValues(values []*schema.InputValue, args map[string]any) []*schema.InputValue {
	out := lo.Filter(values, func(v *schema.InputValue, _ int) bool {
		return includeDeprecated(args) || !v.IsDeprecated
	})
	if out == nil {
		out = []*schema.InputValue{}
	}
	return out
}

func includeDeprecated(args map[string]any) bool {
	b, _ := args["includeDeprecated"].(bool)
	return b
}

func deprecationReason(deprecated bool, reason string) any {
	if !deprecated {
		return nil
	}
	return reason
}

func optional(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// printValue renders a default value in GraphQL literal syntax. Strings keep
// their quotes; everything else is printed as its JSON form.
func printValue(v any) string {
	if s, ok := v.(string); ok {
		b, _ := json.Marshal(s)
		return string(b)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
