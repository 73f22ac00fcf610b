package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	language "github.com/hanpama/appsyncsim/internal/language"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

// coerceVariableValues applies defaults and input coercion to the
// variables of operation.
func coerceVariableValues(
	sch *schema.Schema,
	operation *language.OperationDefinition,
	variableValues map[string]any,
) (map[string]any, error) {
	c := coercer{schema: sch}
	coerced := make(map[string]any)
	for _, varDef := range operation.VariableDefinitions {
		name, t := varDef.Variable, varDef.Type
		val, ok := lookupVariable(variableValues, name)
		if !ok {
			switch {
			case varDef.DefaultValue != nil:
				val = astValueToGo(varDef.DefaultValue)
			case t.NonNull:
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, t.String())
			default:
				continue
			}
		}
		if val == nil && t.NonNull {
			return nil, fmt.Errorf("variable $%s of type %s cannot be null", name, t.String())
		}
		cv, err := c.value(val, typeRefFromAST(t))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %v", name, t.String(), err)
		}
		coerced[name] = cv
	}
	return coerced, nil
}

// coerceArgumentValues resolves the arguments of one field, recording
// coercion failures as field errors at path. It reports false when any
// argument failed, in which case the field is not resolved.
func coerceArgumentValues(
	fieldDef *schema.Field,
	arguments language.ArgumentList,
	variableValues map[string]any,
	state *executionState,
	path Path,
) (map[string]any, bool) {
	c := coercer{schema: state.schema}
	coerced := make(map[string]any)
	valid := true
	for _, argDef := range fieldDef.Arguments {
		name := argDef.Name
		arg := arguments.ForName(name)
		if arg == nil {
			if argDef.DefaultValue != nil {
				coerced[name] = c.defaultValue(argDef)
			} else if schema.IsNonNull(argDef.Type) {
				state.addError(fmt.Sprintf("argument '%s' of required type was not provided", name), path)
				valid = false
			}
			continue
		}
		if arg.Value != nil && arg.Value.Kind == language.Variable {
			if _, ok := variableValues[arg.Value.Raw]; !ok && argDef.DefaultValue != nil {
				coerced[name] = c.defaultValue(argDef)
				continue
			}
		}
		cv, err := c.value(valueFromASTWithVars(arg.Value, variableValues), argDef.Type)
		if err != nil {
			state.addError(fmt.Sprintf("argument '%s' cannot be coerced: %v", name, err), path)
			valid = false
			continue
		}
		coerced[name] = cv
	}
	return coerced, valid
}

// valueFromASTWithVars converts a literal, substituting variables. An
// unset variable reads as null.
func valueFromASTWithVars(value *language.Value, variableValues map[string]any) any {
	if value != nil && value.Kind == language.Variable {
		v, _ := lookupVariable(variableValues, value.Raw)
		return v
	}
	return astValueToGo(value)
}

// lookupVariable accepts request variables keyed with or without "$".
func lookupVariable(vars map[string]any, name string) (any, bool) {
	if v, ok := vars[name]; ok {
		return v, true
	}
	v, ok := vars[strings.TrimPrefix(name, "$")]
	return v, ok
}

// astValueToGo converts a literal without variables. Integer literals
// outside the int range are kept as float64 so Int coercion can reject them.
func astValueToGo(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		if n, err := strconv.Atoi(value.Raw); err == nil {
			return n
		}
		f, _ := strconv.ParseFloat(value.Raw, 64)
		return f
	case language.FloatValue:
		f, _ := strconv.ParseFloat(value.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.ListValue:
		items := make([]any, 0, len(value.Children))
		for _, child := range value.Children {
			items = append(items, astValueToGo(child.Value))
		}
		return items
	case language.ObjectValue:
		fields := make(map[string]any, len(value.Children))
		for _, child := range value.Children {
			fields[child.Name] = astValueToGo(child.Value)
		}
		return fields
	}
	return nil
}

// coercer implements input coercion against a schema.
type coercer struct {
	schema *schema.Schema
}

func (c coercer) value(value any, t *schema.TypeRef) (any, error) {
	if schema.IsNonNull(t) {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type")
		}
		return c.value(value, schema.Unwrap(t))
	}
	if value == nil {
		return nil, nil
	}
	if schema.IsList(t) {
		inner := schema.Unwrap(t)
		items, ok := value.([]any)
		if !ok {
			v, err := c.value(value, inner)
			if err != nil {
				return nil, err
			}
			return []any{v}, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := c.value(item, inner)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}

	name := schema.GetNamedType(t)
	switch name {
	case "Int":
		return coerceInt(value)
	case "Float":
		return coerceFloat(value)
	case "String":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to String", value, value)
	case "Boolean":
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot coerce %v (%T) to Boolean", value, value)
	case "ID":
		return coerceID(value)
	}

	var def *schema.Type
	if c.schema != nil {
		def = c.schema.Types[name]
	}
	if def == nil {
		return value, nil
	}
	switch def.Kind {
	case schema.TypeKindEnum:
		s, ok := value.(string)
		if ok {
			for _, ev := range def.EnumValues {
				if ev.Name == s {
					return s, nil
				}
			}
		}
		return nil, fmt.Errorf("%v is not a value of enum %s", value, name)
	case schema.TypeKindInputObject:
		return c.inputObject(value, def)
	default:
		return value, nil
	}
}

// defaultValue normalizes a schema default, e.g. int64 literals to int. A
// default that does not coerce is used as declared.
func (c coercer) defaultValue(iv *schema.InputValue) any {
	if v, err := c.value(iv.DefaultValue, iv.Type); err == nil {
		return v
	}
	return iv.DefaultValue
}

func (c coercer) inputObject(value any, def *schema.Type) (any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("input %s expects an object, got %T", def.Name, value)
	}
	known := make(map[string]struct{}, len(def.InputFields))
	out := make(map[string]any, len(m))
	for _, field := range def.InputFields {
		known[field.Name] = struct{}{}
		v, present := m[field.Name]
		if !present {
			if field.DefaultValue != nil {
				out[field.Name] = c.defaultValue(field)
			} else if schema.IsNonNull(field.Type) {
				return nil, fmt.Errorf("required field '%s' of input %s was not provided", field.Name, def.Name)
			}
			continue
		}
		cv, err := c.value(v, field.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Name, field.Name, err)
		}
		out[field.Name] = cv
	}
	for key := range m {
		if _, ok := known[key]; !ok {
			return nil, fmt.Errorf("field '%s' is not defined by input %s", key, def.Name)
		}
	}
	if def.OneOf && len(out) != 1 {
		return nil, fmt.Errorf("exactly one field of oneOf input %s must be set", def.Name)
	}
	return out, nil
}

// coerceInt accepts integers and integral floats within the signed 32-bit
// range.
func coerceInt(value any) (any, error) {
	var n int64
	switch v := value.(type) {
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("cannot coerce %v to Int: not an integer", v)
		}
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %v to Int", v)
		}
		n = i
	default:
		return nil, fmt.Errorf("cannot coerce %v (%T) to Int", value, value)
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("cannot coerce %d to Int: out of 32-bit range", n)
	}
	return int(n), nil
}

func coerceFloat(value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to Float", value, value)
}

func coerceID(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %v (%T) to ID", value, value)
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	switch {
	case t == nil:
		return nil
	case t.NonNull:
		return schema.NonNullType(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	case t.NamedType != "":
		return schema.NamedType(t.NamedType)
	case t.Elem != nil:
		return schema.ListType(typeRefFromAST(t.Elem))
	}
	return nil
}
