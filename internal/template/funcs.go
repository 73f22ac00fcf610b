package template

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/hcl/v2/ext/tryfunc"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// functions returns the helper set available to every template. Each util
// helper is callable flat, as toJson(v), and namespaced, as util::toJson(v).
// Time helpers are also reachable as util::time::nowISO8601().
func functions(now func() time.Time) map[string]function.Function {
	util := map[string]function.Function{
		"toJson":               toJSONFunc,
		"parseJson":            stdlib.JSONDecodeFunc,
		"error":                errorFunc,
		"isNull":               isNullFunc,
		"isNullOrEmpty":        isNullOrEmptyFunc,
		"isNullOrBlank":        isNullOrEmptyFunc,
		"defaultIfNull":        defaultIfNullFunc(false),
		"defaultIfNullOrEmpty": defaultIfNullFunc(true),
		"autoId":               autoIDFunc,
		"urlEncode":            stringFunc(url.QueryEscape, nil),
		"urlDecode":            stringFunc(nil, url.QueryUnescape),
		"base64Encode":         stringFunc(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }, nil),
		"base64Decode": stringFunc(nil, func(s string) (string, error) {
			b, err := base64.StdEncoding.DecodeString(s)
			return string(b), err
		}),
	}
	clock := map[string]function.Function{
		"nowISO8601":           nowFunc(func() cty.Value { return cty.StringVal(now().UTC().Format("2006-01-02T15:04:05.000Z")) }, cty.String),
		"nowEpochSeconds":      nowFunc(func() cty.Value { return cty.NumberIntVal(now().Unix()) }, cty.Number),
		"nowEpochMilliSeconds": nowFunc(func() cty.Value { return cty.NumberIntVal(now().UnixMilli()) }, cty.Number),
	}

	funcs := map[string]function.Function{
		// hcl
		"try": tryfunc.TryFunc,
		"can": tryfunc.CanFunc,

		// cty stdlib
		"jsonencode": stdlib.JSONEncodeFunc,
		"jsondecode": stdlib.JSONDecodeFunc,
		"upper":      stdlib.UpperFunc,
		"lower":      stdlib.LowerFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"replace":    stdlib.ReplaceFunc,
		"split":      stdlib.SplitFunc,
		"join":       stdlib.JoinFunc,
		"format":     stdlib.FormatFunc,
		"length":     stdlib.LengthFunc,
		"coalesce":   stdlib.CoalesceFunc,
		"concat":     stdlib.ConcatFunc,
		"contains":   stdlib.ContainsFunc,
		"keys":       stdlib.KeysFunc,
		"values":     stdlib.ValuesFunc,
		"lookup":     stdlib.LookupFunc,
		"merge":      stdlib.MergeFunc,
		"tostring":   stdlib.MakeToFunc(cty.String),
		"tonumber":   stdlib.MakeToFunc(cty.Number),
		"tobool":     stdlib.MakeToFunc(cty.Bool),
	}
	for name, f := range util {
		funcs[name] = f
		funcs["util::"+name] = f
	}
	for name, f := range clock {
		funcs[name] = f
		funcs["util::"+name] = f
		funcs["util::time::"+name] = f
	}
	return funcs
}

var toJSONFunc = function.New(&function.Spec{
	Params: []function.Parameter{{
		Name:             "value",
		Type:             cty.DynamicPseudoType,
		AllowNull:        true,
		AllowDynamicType: true,
	}},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		v, err := fromCty(args[0])
		if err != nil {
			return cty.UnknownVal(cty.String), err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return cty.UnknownVal(cty.String), err
		}
		return cty.StringVal(string(b)), nil
	},
})

// errorFunc implements error(message, type, data). It never returns a value;
// the call surfaces as a UserError from Execute.
var errorFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "message", Type: cty.String, AllowNull: true}},
	VarParam: &function.Parameter{
		Name:             "typeAndData",
		Type:             cty.DynamicPseudoType,
		AllowNull:        true,
		AllowDynamicType: true,
	},
	Type: function.StaticReturnType(cty.DynamicPseudoType),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		ue := &UserError{}
		if !args[0].IsNull() {
			ue.Message = args[0].AsString()
		}
		if len(args) > 1 && !args[1].IsNull() {
			typ, err := fromCty(args[1])
			if err != nil {
				return cty.DynamicVal, err
			}
			ue.Type = fmt.Sprint(typ)
		}
		if len(args) > 2 {
			data, err := fromCty(args[2])
			if err != nil {
				return cty.DynamicVal, err
			}
			ue.Data = data
		}
		return cty.DynamicVal, ue
	},
})

var isNullFunc = function.New(&function.Spec{
	Params: []function.Parameter{{
		Name:             "value",
		Type:             cty.DynamicPseudoType,
		AllowNull:        true,
		AllowDynamicType: true,
	}},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.BoolVal(args[0].IsNull()), nil
	},
})

var isNullOrEmptyFunc = function.New(&function.Spec{
	Params: []function.Parameter{{
		Name:             "value",
		Type:             cty.DynamicPseudoType,
		AllowNull:        true,
		AllowDynamicType: true,
	}},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.BoolVal(isEmpty(args[0])), nil
	},
})

func isEmpty(v cty.Value) bool {
	if v.IsNull() {
		return true
	}
	if !v.IsKnown() {
		return false
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString() == ""
	case ty.IsCollectionType() || ty.IsTupleType() || ty.IsObjectType():
		return v.LengthInt() == 0
	}
	return false
}

func defaultIfNullFunc(orEmpty bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "value", Type: cty.DynamicPseudoType, AllowNull: true, AllowDynamicType: true},
			{Name: "default", Type: cty.DynamicPseudoType, AllowNull: true, AllowDynamicType: true},
		},
		Type: function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			if args[0].IsNull() || (orEmpty && isEmpty(args[0])) {
				return args[1], nil
			}
			return args[0], nil
		},
	})
}

var autoIDFunc = function.New(&function.Spec{
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		return cty.StringVal(uuid.NewString()), nil
	},
})

func stringFunc(fn func(string) string, fallible func(string) (string, error)) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "str", Type: cty.String}},
		Type:   function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			in := args[0].AsString()
			if fallible != nil {
				out, err := fallible(in)
				if err != nil {
					return cty.UnknownVal(cty.String), err
				}
				return cty.StringVal(out), nil
			}
			return cty.StringVal(fn(in)), nil
		},
	})
}

func nowFunc(fn func() cty.Value, ty cty.Type) function.Function {
	return function.New(&function.Spec{
		Type: function.StaticReturnType(ty),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			return fn(), nil
		},
	})
}
