package schema

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	language "github.com/hanpama/appsyncsim/internal/language"
)

// BuildFromAST builds an executable GraphQL schema from a validated gqlparser
// schema. Introspection types and AWS-specific directives are left out; every
// field starts as sync and is flagged async later for fields that have a
// resolver attached.
func BuildFromAST(src *ast.Schema) (*Schema, error) {
	s := NewSchema(src.Description)
	s.AST = src
	if src.Query != nil {
		s.SetQueryType(src.Query.Name)
	}
	if src.Mutation != nil {
		s.SetMutationType(src.Mutation.Name)
	}
	if src.Subscription != nil {
		s.SetSubscriptionType(src.Subscription.Name)
	}

	names := make([]string, 0, len(src.Types))
	for name := range src.Types {
		if strings.HasPrefix(name, "__") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := src.Types[name]
		switch def.Kind {
		case ast.Object:
			s.AddType(buildObject(def, TypeKindObject))
		case ast.Interface:
			t := buildObject(def, TypeKindInterface)
			for _, pt := range src.PossibleTypes[name] {
				t.AddPossibleType(pt.Name)
			}
			s.AddType(t)
		case ast.Union:
			t := NewType(def.Name, TypeKindUnion, def.Description)
			for _, member := range def.Types {
				t.AddPossibleType(member)
			}
			s.AddType(t)
		case ast.Enum:
			t := NewType(def.Name, TypeKindEnum, def.Description)
			for _, v := range def.EnumValues {
				t.AddEnumValue(buildEnumValue(v))
			}
			s.AddType(t)
		case ast.InputObject:
			t := NewType(def.Name, TypeKindInputObject, def.Description).
				SetOneOf(def.Directives.ForName("oneOf") != nil)
			for _, f := range def.Fields {
				t.AddInputField(buildInputValue(f.Name, f.Description, f.Type, f.DefaultValue, f.Directives))
			}
			s.AddType(t)
		case ast.Scalar:
			t := NewType(def.Name, TypeKindScalar, def.Description)
			if d := def.Directives.ForName("specifiedBy"); d != nil {
				if arg := d.Arguments.ForName("url"); arg != nil && arg.Value != nil {
					t.SetSpecifiedByURL(arg.Value.Raw)
				}
			}
			s.AddType(t)
		}
	}

	for name, dir := range src.Directives {
		if strings.HasPrefix(name, "aws_") {
			continue
		}
		s.AddDirective(buildDirective(dir))
	}
	return s, nil
}

// MetaTypes builds the introspection types (__Schema, __Type and friends)
// declared by the prelude of src.
func MetaTypes(src *ast.Schema) []*Type {
	var out []*Type
	for name, def := range src.Types {
		if !strings.HasPrefix(name, "__") {
			continue
		}
		switch def.Kind {
		case ast.Object:
			out = append(out, buildObject(def, TypeKindObject))
		case ast.Enum:
			t := NewType(def.Name, TypeKindEnum, def.Description)
			for _, v := range def.EnumValues {
				t.AddEnumValue(buildEnumValue(v))
			}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func buildObject(def *ast.Definition, kind TypeKind) *Type {
	t := NewType(def.Name, kind, def.Description)
	for _, name := range def.Interfaces {
		t.AddInterface(name)
	}
	for _, fd := range def.Fields {
		if strings.HasPrefix(fd.Name, "__") {
			continue
		}
		t.AddField(buildField(fd))
	}
	return t
}

func buildField(def *ast.FieldDefinition) *Field {
	f := NewField(def.Name, def.Description, buildTypeRef(def.Type))
	if reason, ok := deprecation(def.Directives); ok {
		f.Deprecate(reason)
	}
	for _, arg := range def.Arguments {
		f.AddArgument(buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	return f
}

func buildEnumValue(v *ast.EnumValueDefinition) *EnumValue {
	e := NewEnumValue(v.Name, v.Description)
	if reason, ok := deprecation(v.Directives); ok {
		e.Deprecate(reason)
	}
	return e
}

func buildInputValue(name, description string, typ *ast.Type, def *ast.Value, dirs ast.DirectiveList) *InputValue {
	in := NewInputValue(name, description, buildTypeRef(typ))
	if def != nil {
		if v, err := def.Value(nil); err == nil {
			in.SetDefault(v)
		}
	}
	if reason, ok := deprecation(dirs); ok {
		in.Deprecate(reason)
	}
	return in
}

func buildDirective(def *ast.DirectiveDefinition) *Directive {
	d := NewDirective(def.Name, def.Description).SetRepeatable(def.IsRepeatable)
	for _, loc := range def.Locations {
		d.Locations = append(d.Locations, string(loc))
	}
	for _, arg := range def.Arguments {
		d.AddArgument(buildInputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives))
	}
	return d
}

func buildTypeRef(t *ast.Type) *TypeRef {
	if t == nil {
		return nil
	}
	var inner *TypeRef
	if t.Elem != nil {
		inner = ListType(buildTypeRef(t.Elem))
	} else {
		inner = NamedType(t.NamedType)
	}
	if t.NonNull {
		return NonNullType(inner)
	}
	return inner
}

func deprecation(dirs ast.DirectiveList) (string, bool) {
	d := dirs.ForName("deprecated")
	if d == nil {
		return "", false
	}
	reason := "No longer supported"
	if arg := d.Arguments.ForName("reason"); arg != nil && arg.Value != nil {
		reason = arg.Value.Raw
	}
	return reason, true
}

// BuildFromSDL parses SDL, merges it with the AWS prelude and returns the
// corresponding Schema.
func BuildFromSDL(sdl string) (*Schema, error) {
	src, err := language.LoadSchema(
		&ast.Source{Name: "aws.graphql", Input: awsPrelude, BuiltIn: true},
		&ast.Source{Name: "schema.graphql", Input: sdl},
	)
	if err != nil {
		return nil, err
	}
	return BuildFromAST(src)
}
