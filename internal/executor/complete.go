package executor

import (
	"fmt"
	"reflect"

	language "github.com/hanpama/appsyncsim/internal/language"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

// completeValue shapes a raw resolved value by its field type. A nil return
// means null; non-null violations are recorded once, at the innermost path.
func completeValue(state *executionState, fieldType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	if schema.IsNonNull(fieldType) {
		if isNullish(result) {
			if !state.hasErrorAt(path) {
				state.addError(fmt.Sprintf("Cannot return null for non-nullable field %s", pathToString(path)), path)
			}
			return nil
		}
		if v := completeValue(state, schema.Unwrap(fieldType), fields, result, path); !isNullish(v) {
			return v
		}
		return nil
	}
	if isNullish(result) {
		return nil
	}
	if schema.IsList(fieldType) {
		return completeListValue(state, fieldType, fields, result, path)
	}

	named := schema.GetNamedType(fieldType)
	def := state.schema.Types[named]
	if def == nil {
		state.addError(fmt.Sprintf("Unknown type: %s", named), path)
		return nil
	}
	switch def.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		v, err := state.runtime.SerializeLeafValue(state.context, named, result)
		if err != nil {
			state.addError(err.Error(), path)
			return nil
		}
		return v
	case schema.TypeKindObject:
		return completeObjectValue(state, def, fields, result, path)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		return completeAbstractValue(state, named, fields, result, path)
	}
	state.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", def.Kind), path)
	return nil
}

func completeListValue(state *executionState, listType *schema.TypeRef, fields []*language.Field, result any, path Path) any {
	items, ok := listItems(result)
	if !ok {
		state.addError(fmt.Sprintf("Expected list value, got %T", result), path)
		return nil
	}
	itemType := schema.Unwrap(listType)
	itemNullable := !schema.IsNonNull(itemType)
	out := make([]any, len(items))
	for i, item := range items {
		p := appendPath(path, i)
		state.nullable[pathToString(p)] = itemNullable
		v := completeValue(state, itemType, fields, item, p)
		if isNullish(v) {
			if !itemNullable {
				state.markNulled(path)
				return nil
			}
			v = nil
		}
		out[i] = v
	}
	return out
}

func listItems(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func completeObjectValue(state *executionState, objectType *schema.Type, fields []*language.Field, result any, path Path) any {
	if m := executeSelectionSet(state, objectType, mergeSelectionSets(fields), result, path); m != nil {
		return m
	}
	return nil
}

func completeAbstractValue(state *executionState, abstractType string, fields []*language.Field, result any, path Path) any {
	typeName, err := state.runtime.ResolveType(state.context, abstractType, result)
	if err != nil {
		state.addError(err.Error(), path)
		return nil
	}
	def := state.schema.Types[typeName]
	if def == nil || def.Kind != schema.TypeKindObject || !state.schema.Implements(typeName, abstractType) {
		state.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", abstractType, typeName), path)
		return nil
	}
	return completeObjectValue(state, def, fields, result, path)
}

func mergeSelectionSets(fields []*language.Field) language.SelectionSet {
	var merged language.SelectionSet
	for _, f := range fields {
		merged = append(merged, f.SelectionSet...)
	}
	return merged
}

// isNullish reports nil and typed nil values.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
