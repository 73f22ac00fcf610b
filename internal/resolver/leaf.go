package resolver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// serializeLeaf coerces values of the built-in scalars. Enums and custom
// scalars pass through unchanged.
func serializeLeaf(typeName string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = base64.StdEncoding.EncodeToString(b)
	}
	switch typeName {
	case "Int":
		return coerceInt(v)
	case "Float":
		return coerceFloat(v)
	case "String":
		return coerceString(v)
	case "ID":
		if s, ok := v.(string); ok {
			return s, nil
		}
		if i, err := coerceInt(v); err == nil {
			return strconv.FormatInt(i.(int64), 10), nil
		}
		return nil, fmt.Errorf("ID cannot represent value: %v", v)
	case "Boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("Boolean cannot represent a non boolean value: %v", v)
	default:
		return v, nil
	}
}

func coerceInt(v any) (any, error) {
	var i int64
	switch t := v.(type) {
	case int:
		i = int64(t)
	case int32:
		i = int64(t)
	case int64:
		i = t
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %v", v)
		}
		i = int64(t)
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("Int cannot represent non-integer value: %v", v)
		}
		i = n
	case bool:
		if t {
			i = 1
		}
	default:
		return nil, fmt.Errorf("Int cannot represent non-integer value: %v", v)
	}
	if i > math.MaxInt32 || i < math.MinInt32 {
		return nil, fmt.Errorf("Int cannot represent non 32-bit signed integer value: %v", v)
	}
	return i, nil
}

func coerceFloat(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case float64:
		return t, nil
	case json.Number:
		return t.Float64()
	case bool:
		if t {
			return 1.0, nil
		}
		return 0.0, nil
	}
	return nil, fmt.Errorf("Float cannot represent non numeric value: %v", v)
}

func coerceString(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	}
	return nil, fmt.Errorf("String cannot represent value: %v", v)
}
