package message

import (
	"fmt"

	"github.com/danmuck/twinctl/internal/protocol/schema"
	"github.com/danmuck/twinctl/internal/protocol/tlv"
)

// NumberKind names the populated alternative of a Number32 or Number64.
type NumberKind uint8

const (
	NumberUnset NumberKind = iota
	NumberFloat
	NumberInt
	NumberUint
)

func (k NumberKind) String() string {
	switch k {
	case NumberFloat:
		return "float"
	case NumberInt:
		return "int"
	case NumberUint:
		return "uint"
	default:
		return "unset"
	}
}

// Number32 holds exactly one of a float32, int32 or uint32. The zero value is unset.
type Number32 struct {
	kind NumberKind
	f    float32
	i    int32
	u    uint32
}

func Float32(v float32) Number32 { return Number32{kind: NumberFloat, f: v} }
func Int32(v int32) Number32     { return Number32{kind: NumberInt, i: v} }
func Uint32(v uint32) Number32   { return Number32{kind: NumberUint, u: v} }

func (n Number32) Kind() NumberKind { return n.kind }
func (n Number32) IsSet() bool      { return n.kind != NumberUnset }
func (n Number32) HasFloat() bool   { return n.kind == NumberFloat }
func (n Number32) HasInt() bool     { return n.kind == NumberInt }
func (n Number32) HasUint() bool    { return n.kind == NumberUint }

func (n Number32) Float() (float32, bool) { return n.f, n.kind == NumberFloat }
func (n Number32) Int() (int32, bool)     { return n.i, n.kind == NumberInt }
func (n Number32) Uint() (uint32, bool)   { return n.u, n.kind == NumberUint }

// Float64 widens whichever alternative is populated.
func (n Number32) Float64() (float64, bool) {
	switch n.kind {
	case NumberFloat:
		return float64(n.f), true
	case NumberInt:
		return float64(n.i), true
	case NumberUint:
		return float64(n.u), true
	}
	return 0, false
}

func (n Number32) String() string {
	switch n.kind {
	case NumberFloat:
		return fmt.Sprintf("%g", n.f)
	case NumberInt:
		return fmt.Sprintf("%d", n.i)
	case NumberUint:
		return fmt.Sprintf("%du", n.u)
	}
	return "<unset>"
}

func (n Number32) TypeURL() string { return typeURL(nameNumber32) }

func (n Number32) MarshalBinary() ([]byte, error) {
	return tlv.EncodeFields(n.fields()), nil
}

func (n Number32) fields() []tlv.Field {
	switch n.kind {
	case NumberFloat:
		return []tlv.Field{tlv.F32(schema.FieldNumberFloat, n.f)}
	case NumberInt:
		return []tlv.Field{tlv.I32(schema.FieldNumberInt, n.i)}
	case NumberUint:
		return []tlv.Field{tlv.U32(schema.FieldNumberUint, n.u)}
	}
	return nil
}

func number32FromFields(fields []tlv.Field) (Number32, error) {
	var out Number32
	for _, f := range fields {
		var next Number32
		switch f.ID {
		case schema.FieldNumberFloat:
			v, err := f.AsF32()
			if err != nil {
				return Number32{}, err
			}
			next = Float32(v)
		case schema.FieldNumberInt:
			v, err := f.AsI32()
			if err != nil {
				return Number32{}, err
			}
			next = Int32(v)
		case schema.FieldNumberUint:
			v, err := f.AsU32()
			if err != nil {
				return Number32{}, err
			}
			next = Uint32(v)
		default:
			continue
		}
		if out.IsSet() {
			return Number32{}, ErrMultipleAlternatives
		}
		out = next
	}
	return out, nil
}

// Number64 holds exactly one of a float64, int64 or uint64. The zero value is unset.
type Number64 struct {
	kind NumberKind
	f    float64
	i    int64
	u    uint64
}

func Float64(v float64) Number64 { return Number64{kind: NumberFloat, f: v} }
func Int64(v int64) Number64     { return Number64{kind: NumberInt, i: v} }
func Uint64(v uint64) Number64   { return Number64{kind: NumberUint, u: v} }

func (n Number64) Kind() NumberKind { return n.kind }
func (n Number64) IsSet() bool      { return n.kind != NumberUnset }
func (n Number64) HasFloat() bool   { return n.kind == NumberFloat }
func (n Number64) HasInt() bool     { return n.kind == NumberInt }
func (n Number64) HasUint() bool    { return n.kind == NumberUint }

func (n Number64) Float() (float64, bool) { return n.f, n.kind == NumberFloat }
func (n Number64) Int() (int64, bool)     { return n.i, n.kind == NumberInt }
func (n Number64) Uint() (uint64, bool)   { return n.u, n.kind == NumberUint }

func (n Number64) Float64() (float64, bool) {
	switch n.kind {
	case NumberFloat:
		return n.f, true
	case NumberInt:
		return float64(n.i), true
	case NumberUint:
		return float64(n.u), true
	}
	return 0, false
}

func (n Number64) String() string {
	switch n.kind {
	case NumberFloat:
		return fmt.Sprintf("%g", n.f)
	case NumberInt:
		return fmt.Sprintf("%d", n.i)
	case NumberUint:
		return fmt.Sprintf("%du", n.u)
	}
	return "<unset>"
}

func (n Number64) TypeURL() string { return typeURL(nameNumber64) }

func (n Number64) MarshalBinary() ([]byte, error) {
	return tlv.EncodeFields(n.fields()), nil
}

func (n Number64) fields() []tlv.Field {
	switch n.kind {
	case NumberFloat:
		return []tlv.Field{tlv.F64(schema.FieldNumberFloat, n.f)}
	case NumberInt:
		return []tlv.Field{tlv.I64(schema.FieldNumberInt, n.i)}
	case NumberUint:
		return []tlv.Field{tlv.U64(schema.FieldNumberUint, n.u)}
	}
	return nil
}

func number64FromFields(fields []tlv.Field) (Number64, error) {
	var out Number64
	for _, f := range fields {
		var next Number64
		switch f.ID {
		case schema.FieldNumberFloat:
			v, err := f.AsF64()
			if err != nil {
				return Number64{}, err
			}
			next = Float64(v)
		case schema.FieldNumberInt:
			v, err := f.AsI64()
			if err != nil {
				return Number64{}, err
			}
			next = Int64(v)
		case schema.FieldNumberUint:
			v, err := f.AsU64()
			if err != nil {
				return Number64{}, err
			}
			next = Uint64(v)
		default:
			continue
		}
		if out.IsSet() {
			return Number64{}, ErrMultipleAlternatives
		}
		out = next
	}
	return out, nil
}
