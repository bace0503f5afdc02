package dynamo

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

var timeType = reflect.TypeOf(time.Time{})

// ToStore converts an application value to its stored representation.
// Floats go through an arbitrary-precision decimal, times become
// ISO-8601 strings in UTC, string-kinded enums become their tag, and maps
// and slices are converted element-wise.
func ToStore(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case types.AttributeValue:
		return x, nil
	case string:
		return &types.AttributeValueMemberS{Value: x}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, nil
	case int:
		return number(strconv.FormatInt(int64(x), 10)), nil
	case int32:
		return number(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return number(strconv.FormatInt(x, 10)), nil
	case float32:
		return floatToStore(float64(x))
	case float64:
		return floatToStore(x)
	case decimal.Decimal:
		return number(x.String()), nil
	case time.Time:
		return &types.AttributeValueMemberS{Value: x.UTC().Format(TimeLayout)}, nil
	case []byte:
		return &types.AttributeValueMemberB{Value: x}, nil
	case map[string]any:
		m, err := EncodeItem(x)
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case []any:
		return listToStore(len(x), func(i int) any { return x[i] })
	}
	return reflectToStore(reflect.ValueOf(v))
}

func reflectToStore(rv reflect.Value) (types.AttributeValue, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		return ToStore(rv.Elem().Interface())
	case reflect.String:
		return &types.AttributeValueMemberS{Value: rv.String()}, nil
	case reflect.Bool:
		return &types.AttributeValueMemberBOOL{Value: rv.Bool()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return floatToStore(rv.Float())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return &types.AttributeValueMemberL{Value: []types.AttributeValue{}}, nil
		}
		return listToStore(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]types.AttributeValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			av, err := ToStore(iter.Value().Interface())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			m[iter.Key().String()] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return ToStore(rv.Convert(timeType).Interface())
		}
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, rv.Interface())
}

func listToStore(n int, at func(int) any) (types.AttributeValue, error) {
	out := make([]types.AttributeValue, n)
	for i := 0; i < n; i++ {
		av, err := ToStore(at(i))
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = av
	}
	return &types.AttributeValueMemberL{Value: out}, nil
}

func floatToStore(f float64) (types.AttributeValue, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: non-finite float %v", ErrUnsupportedType, f)
	}
	return number(decimal.NewFromFloat(f).String()), nil
}

func number(s string) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: s}
}

// FromStore converts a stored value back to an application value.
// A number with zero fractional part becomes int64, any other number
// float64, so 10.0 written as a float reads back as int64(10).
func FromStore(av types.AttributeValue) (any, error) {
	switch x := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberS:
		return x.Value, nil
	case *types.AttributeValueMemberBOOL:
		return x.Value, nil
	case *types.AttributeValueMemberN:
		return numberFromStore(x.Value)
	case *types.AttributeValueMemberB:
		return x.Value, nil
	case *types.AttributeValueMemberM:
		return DecodeItem(x.Value)
	case *types.AttributeValueMemberL:
		out := make([]any, len(x.Value))
		for i, e := range x.Value {
			v, err := FromStore(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *types.AttributeValueMemberSS:
		return append([]string(nil), x.Value...), nil
	case *types.AttributeValueMemberNS:
		out := make([]any, len(x.Value))
		for i, s := range x.Value {
			v, err := numberFromStore(s)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *types.AttributeValueMemberBS:
		return x.Value, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, av)
}

func numberFromStore(s string) (any, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", s, err)
	}
	if d.Equal(d.Truncate(0)) && d.BigInt().IsInt64() {
		return d.IntPart(), nil
	}
	return d.InexactFloat64(), nil
}

// EncodeItem converts every attribute of an item.
func EncodeItem(item map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		av, err := ToStore(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

// DecodeItem converts every attribute of a stored item.
func DecodeItem(item map[string]types.AttributeValue) (map[string]any, error) {
	out := make(map[string]any, len(item))
	for k, av := range item {
		v, err := FromStore(av)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
