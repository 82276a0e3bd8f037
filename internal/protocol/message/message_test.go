package message

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/twinctl/internal/protocol/envelope"
	"github.com/danmuck/twinctl/internal/protocol/schema"
	"github.com/danmuck/twinctl/internal/protocol/tlv"
	"github.com/danmuck/twinctl/internal/testutil/testlog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func mustRegistry(t *testing.T) *envelope.Registry {
	t.Helper()
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestNumberOneofInvariant(t *testing.T) {
	testlog.Start(t)

	n32 := []Number32{Float32(1.5), Int32(-3), Uint32(7)}
	for i, n := range n32 {
		flags := []bool{n.HasFloat(), n.HasInt(), n.HasUint()}
		for j, set := range flags {
			if set != (i == j) {
				t.Fatalf("number32 %v: alternative %d presence=%v", n, j, set)
			}
		}
	}
	n64 := []Number64{Float64(1.5), Int64(-3), Uint64(7)}
	for i, n := range n64 {
		flags := []bool{n.HasFloat(), n.HasInt(), n.HasUint()}
		for j, set := range flags {
			if set != (i == j) {
				t.Fatalf("number64 %v: alternative %d presence=%v", n, j, set)
			}
		}
	}

	zero := Int32(0)
	if v, ok := zero.Int(); !ok || v != 0 {
		t.Fatalf("zero int must be present: v=%d ok=%v", v, ok)
	}
	if _, ok := zero.Float(); ok {
		t.Fatalf("float must be absent on int number")
	}
	var unset Number64
	if unset.IsSet() || unset.HasFloat() || unset.HasInt() || unset.HasUint() {
		t.Fatalf("zero value must be unset")
	}
}

func TestNumberRejectsTwoAlternatives(t *testing.T) {
	testlog.Start(t)

	payload := tlv.EncodeFields([]tlv.Field{
		tlv.F32(schema.FieldNumberFloat, 1),
		tlv.I32(schema.FieldNumberInt, 2),
	})
	if _, err := DecodeNumber32(payload); !errors.Is(err, ErrMultipleAlternatives) {
		t.Fatalf("expected ErrMultipleAlternatives, got %v", err)
	}
}

func TestRegistryRoundTripsValueTypes(t *testing.T) {
	testlog.Start(t)
	r := mustRegistry(t)

	values := []any{
		Float32(0.25),
		Int32(-9),
		Uint32(9),
		Float64(1e-9),
		Int64(-1 << 40),
		Uint64(1 << 40),
		NewIdentifiers("a", "b", "c"),
	}
	for _, v := range values {
		env, err := r.Encode(v)
		if err != nil {
			t.Fatalf("encode %T: %v", v, err)
		}
		got, err := r.Decode(env)
		if err != nil {
			t.Fatalf("decode %T: %v", v, err)
		}
		if ids, ok := v.(Identifiers); ok {
			if !ids.Equal(got.(Identifiers)) {
				t.Fatalf("identifiers mismatch: %v vs %v", ids.Names(), got)
			}
			continue
		}
		if got != v {
			t.Fatalf("round trip mismatch: got %v want %v", got, v)
		}
	}

	for _, m := range []proto.Message{wrapperspb.Double(3.5), wrapperspb.Bool(true), wrapperspb.String("x")} {
		env, err := r.Encode(m)
		if err != nil {
			t.Fatalf("encode %T: %v", m, err)
		}
		got, err := r.Decode(env)
		if err != nil {
			t.Fatalf("decode %T: %v", m, err)
		}
		if !proto.Equal(got.(proto.Message), m) {
			t.Fatalf("proto round trip mismatch: %v vs %v", got, m)
		}
	}
}

func TestValueListRoundTrip(t *testing.T) {
	testlog.Start(t)
	r := mustRegistry(t)

	a, _ := r.Encode(Float64(1))
	b, _ := r.Encode(wrapperspb.Int64(2))
	list := ValueList{Identifiers: NewIdentifiers("x", "y"), Values: []envelope.Envelope{a, b}}
	env, err := r.Encode(list)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := r.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	back := got.(ValueList)
	if !back.Identifiers.Equal(list.Identifiers) || len(back.Values) != 2 {
		t.Fatalf("unexpected list: %+v", back)
	}
	for i := range list.Values {
		if back.Values[i].TypeURL != list.Values[i].TypeURL || !bytes.Equal(back.Values[i].Value, list.Values[i].Value) {
			t.Fatalf("value %d mismatch", i)
		}
	}
}

func TestEmptyValueListRoundTripsToNil(t *testing.T) {
	testlog.Start(t)
	r := mustRegistry(t)

	list := NewValueList(NewIdentifiers(), []envelope.Envelope{})
	if list.Values != nil {
		t.Fatalf("expected empty values stored as nil, got %#v", list.Values)
	}
	env, err := r.Encode(list)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := r.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(got, list) {
		t.Fatalf("round trip mismatch: %#v vs %#v", got, list)
	}
	literal := ValueList{Values: []envelope.Envelope{}}
	if !got.(ValueList).Equal(literal) {
		t.Fatalf("expected nil and empty value lists to compare equal")
	}
}

func TestValueListLengthMismatch(t *testing.T) {
	testlog.Start(t)

	list := ValueList{Identifiers: NewIdentifiers("x", "y"), Values: []envelope.Envelope{{TypeURL: TypeURLNumber32}}}
	if _, err := list.MarshalBinary(); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch on marshal, got %v", err)
	}
	payload := tlv.EncodeFields(list.fields())
	r := mustRegistry(t)
	_, err := r.Decode(envelope.Envelope{TypeURL: TypeURLValueList, Value: payload})
	if !errors.Is(err, envelope.ErrMalformed) || !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected malformed length mismatch, got %v", err)
	}
}

func TestIdentifiersAreImmutable(t *testing.T) {
	testlog.Start(t)

	names := []string{"a", "b"}
	ids := NewIdentifiers(names...)
	names[0] = "z"
	out := ids.Names()
	out[1] = "z"
	if ids.At(0) != "a" || ids.At(1) != "b" {
		t.Fatalf("identifiers mutated: %v", ids.Names())
	}
}

func TestRequestRoundTrip(t *testing.T) {
	testlog.Start(t)

	ids := NewIdentifiers("out.x", "out.v")
	requests := []Request{
		{},
		{Initialize: &Initialize{ModelName: "spring"}},
		{Initialize: &Initialize{}},
		{Start: &Start{StartTime: Float32(0), StepSize: Float32(0.1), RunMode: RunModeStepped}},
		{Start: &Start{StartTime: Int32(5), StopTime: Int32(10)}},
		{Stop: &Stop{Mode: StopModeClean}},
		{Stop: &Stop{}},
		{Advance: &Advance{Step: Step32(Float32(0.5))}},
		{Advance: &Advance{Step: Step64(Uint64(3))}},
		{SetInput: &ValueList{
			Identifiers: NewIdentifiers("in.f"),
			Values:      []envelope.Envelope{{TypeURL: TypeURLNumber64, Value: []byte{1, 2}}},
		}},
		{GetOutput: &ids},
		{SetParameter: &SetParameter{Name: "k", Value: envelope.Envelope{TypeURL: "t/x", Value: []byte("v")}}},
		{GetParameter: &ids},
	}
	for _, req := range requests {
		wantKind, err := req.Kind()
		if err != nil {
			t.Fatalf("kind: %v", err)
		}
		payload, err := EncodeRequest(req)
		if err != nil {
			t.Fatalf("encode %s: %v", wantKind, err)
		}
		if len(payload) == 0 {
			t.Fatalf("encoded %s request is empty", wantKind)
		}
		got, err := DecodeRequest(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", wantKind, err)
		}
		again, err := EncodeRequest(got)
		if err != nil {
			t.Fatalf("re-encode %s: %v", wantKind, err)
		}
		if !bytes.Equal(payload, again) {
			t.Fatalf("%s not stable across round trip", wantKind)
		}
		if kind, _ := got.Kind(); kind != wantKind {
			t.Fatalf("kind changed: got %s want %s", kind, wantKind)
		}
	}
}

func TestRequestDecodedFields(t *testing.T) {
	testlog.Start(t)

	payload, err := EncodeRequest(Request{Start: &Start{StartTime: Float32(1), StepSize: Float32(0.25), RunMode: RunModeContinuous}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Start == nil || got.Start.StartTime != Float32(1) || got.Start.StepSize != Float32(0.25) {
		t.Fatalf("unexpected start: %+v", got.Start)
	}
	if got.Start.StopTime.IsSet() || got.Start.RunMode != RunModeContinuous {
		t.Fatalf("unexpected optional fields: %+v", got.Start)
	}
}

func TestDecodeRequestFailures(t *testing.T) {
	testlog.Start(t)

	version := tlv.U8(schema.FieldVersion, schema.Version)
	cases := map[string][]byte{
		"empty":     nil,
		"truncated": {0x00, 0x01, 0x01},
		"no version": tlv.EncodeFields([]tlv.Field{
			tlv.Nested(schema.FieldStop, nil),
		}),
		"bad version": tlv.EncodeFields([]tlv.Field{
			tlv.U8(schema.FieldVersion, 9),
		}),
		"two variants": tlv.EncodeFields([]tlv.Field{
			version,
			tlv.Nested(schema.FieldStop, nil),
			tlv.Nested(schema.FieldStart, []tlv.Field{tlv.Nested(schema.FieldStartTime, nil)}),
		}),
		"advance without step": tlv.EncodeFields([]tlv.Field{
			version,
			tlv.Nested(schema.FieldAdvance, nil),
		}),
		"variant not nested": tlv.EncodeFields([]tlv.Field{
			version,
			tlv.U32(schema.FieldStop, 1),
		}),
	}
	for name, payload := range cases {
		_, err := DecodeRequest(payload)
		if err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
		var de *DecodeError
		if !errors.As(err, &de) || !errors.Is(err, envelope.ErrMalformed) {
			t.Fatalf("%s: expected *DecodeError, got %T %v", name, err, err)
		}
	}
}

func TestDecodeRequestIgnoresUnknownFields(t *testing.T) {
	testlog.Start(t)

	payload := tlv.EncodeFields([]tlv.Field{
		tlv.U8(schema.FieldVersion, schema.Version),
		tlv.String(999, "future"),
	})
	req, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if kind, _ := req.Kind(); kind != KindModelInfo {
		t.Fatalf("expected model info, got %s", kind)
	}
}

func TestEncodeRequestRejectsInvalid(t *testing.T) {
	testlog.Start(t)

	if _, err := EncodeRequest(Request{Stop: &Stop{}, Start: &Start{}}); !errors.Is(err, ErrMultipleVariants) {
		t.Fatalf("expected ErrMultipleVariants, got %v", err)
	}
	if _, err := EncodeRequest(Request{Advance: &Advance{}}); !errors.Is(err, ErrMissingStep) {
		t.Fatalf("expected ErrMissingStep, got %v", err)
	}
	bad := ValueList{Identifiers: NewIdentifiers("a")}
	if _, err := EncodeRequest(Request{SetInput: &bad}); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	testlog.Start(t)

	payload := envelope.Envelope{TypeURL: TypeURLNumber32, Value: []byte{9}}
	cases := []Response{
		Success(nil),
		Success(&payload),
		Failure(CodeInvalidState, "advance not legal in %s", "idle"),
		{Code: CodeInvalidOption, Message: "bad run mode", Payload: &payload},
	}
	for _, resp := range cases {
		raw, err := EncodeResponse(resp)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := DecodeResponse(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Code != resp.Code || got.Message != resp.Message {
			t.Fatalf("unexpected response: %+v want %+v", got, resp)
		}
		if (got.Payload == nil) != (resp.Payload == nil) {
			t.Fatalf("payload presence mismatch")
		}
		if got.Payload != nil && (got.Payload.TypeURL != resp.Payload.TypeURL || !bytes.Equal(got.Payload.Value, resp.Payload.Value)) {
			t.Fatalf("payload mismatch: %+v", got.Payload)
		}
	}
	if _, err := EncodeResponse(Response{Code: 77}); !errors.Is(err, ErrUnknownReturnCode) {
		t.Fatalf("expected ErrUnknownReturnCode, got %v", err)
	}
	if _, err := DecodeResponse(nil); !errors.Is(err, ErrEmptyBuffer) {
		t.Fatalf("expected ErrEmptyBuffer, got %v", err)
	}
}

func TestModelInfoStructRoundTrip(t *testing.T) {
	testlog.Start(t)
	r := mustRegistry(t)

	info := ModelInfo{
		Name:       "spring",
		Phase:      "idle",
		Time:       1.5,
		Inputs:     []VariableInfo{{Name: "force", Type: "float64", Unit: "N"}},
		Outputs:    []VariableInfo{{Name: "x", Type: "float64", Unit: "m"}},
		Parameters: []VariableInfo{{Name: "k", Type: "float64"}},
	}
	s, err := info.Struct()
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	env, err := r.Encode(s)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	v, err := r.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	back, err := ModelInfoFromStruct(v.(*structpb.Struct))
	if err != nil {
		t.Fatalf("from struct: %v", err)
	}
	if back.Name != "spring" || back.Phase != "idle" || back.Time != 1.5 {
		t.Fatalf("unexpected info: %+v", back)
	}
	if len(back.Inputs) != 1 || back.Inputs[0] != info.Inputs[0] || back.Parameters[0].Name != "k" {
		t.Fatalf("unexpected variables: %+v", back)
	}
}

func TestToFloat64(t *testing.T) {
	cases := map[string]struct {
		in   any
		want float64
	}{
		"number32": {Int32(-2), -2},
		"number64": {Uint64(5), 5},
		"double":   {wrapperspb.Double(0.5), 0.5},
		"int64":    {wrapperspb.Int64(7), 7},
		"bool":     {wrapperspb.Bool(true), 1},
	}
	for name, tc := range cases {
		got, err := ToFloat64(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("%s: got %v err %v", name, got, err)
		}
	}
	if _, err := ToFloat64(wrapperspb.String("x")); err == nil {
		t.Fatalf("expected error for string value")
	}
	if _, err := ToFloat64(Number32{}); err == nil {
		t.Fatalf("expected error for unset number")
	}
}
