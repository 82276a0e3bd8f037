package message

import (
	"fmt"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ToFloat64 widens any numeric envelope value to float64.
func ToFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case Number32:
		if f, ok := val.Float64(); ok {
			return f, nil
		}
		return 0, fmt.Errorf("number32 is unset")
	case Number64:
		if f, ok := val.Float64(); ok {
			return f, nil
		}
		return 0, fmt.Errorf("number64 is unset")
	case *wrapperspb.DoubleValue:
		return val.GetValue(), nil
	case *wrapperspb.FloatValue:
		return float64(val.GetValue()), nil
	case *wrapperspb.Int32Value:
		return float64(val.GetValue()), nil
	case *wrapperspb.Int64Value:
		return float64(val.GetValue()), nil
	case *wrapperspb.UInt32Value:
		return float64(val.GetValue()), nil
	case *wrapperspb.UInt64Value:
		return float64(val.GetValue()), nil
	case *wrapperspb.BoolValue:
		if val.GetValue() {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", v)
	}
}
