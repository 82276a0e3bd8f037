package envelope

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type label string

func (l label) TypeURL() string                { return TypeURLPrefix + "test.Label" }
func (l label) MarshalBinary() ([]byte, error) { return []byte(l), nil }

func labelEntry() Entry {
	return Entry{
		TypeURL: TypeURLPrefix + "test.Label",
		Decode: func(b []byte) (any, error) {
			if len(b) == 0 {
				return nil, errors.New("empty label")
			}
			return label(b), nil
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(ProtoEntry(&wrapperspb.DoubleValue{}), labelEntry())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return r
}

func TestEncodeDecodeProtoValue(t *testing.T) {
	r := newTestRegistry(t)
	env, err := r.Encode(wrapperspb.Double(2.5))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if env.TypeURL != "type.googleapis.com/google.protobuf.DoubleValue" {
		t.Fatalf("unexpected type url: %q", env.TypeURL)
	}
	v, err := r.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := v.(*wrapperspb.DoubleValue)
	if !ok || got.GetValue() != 2.5 {
		t.Fatalf("unexpected decoded value: %#v", v)
	}
}

func TestEncodeDecodeCustomValue(t *testing.T) {
	r := newTestRegistry(t)
	env, err := r.Encode(label("spring.k"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	v, err := r.Decode(env)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.(label) != "spring.k" {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestDecodeUnknownTypeIsValueNotPanic(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Decode(Envelope{TypeURL: TypeURLPrefix + "never.Registered", Value: []byte{1}})
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Kind != KindUnknownType {
		t.Fatalf("expected DecodeError kind unknown_type, got %v", err)
	}
	if errors.Is(err, ErrMalformed) {
		t.Fatalf("unknown type must not match ErrMalformed")
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Decode(Envelope{TypeURL: TypeURLPrefix + "google.protobuf.DoubleValue", Value: []byte{0x09, 0x01}})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	_, err = r.Decode(Envelope{TypeURL: TypeURLPrefix + "test.Label"})
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty label, got %v", err)
	}
}

func TestDecodePanickingDecoderIsMalformed(t *testing.T) {
	r, err := NewRegistry(Entry{
		TypeURL: "x/boom",
		Decode:  func([]byte) (any, error) { panic("boom") },
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := r.Decode(Envelope{TypeURL: "x/boom"}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestEncodeUnregisteredType(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Encode(wrapperspb.String("x")); !errors.Is(err, ErrUnregistered) {
		t.Fatalf("expected ErrUnregistered, got %v", err)
	}
	if _, err := r.Encode(42); !errors.Is(err, ErrUnregistered) {
		t.Fatalf("expected ErrUnregistered for plain int, got %v", err)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(labelEntry(), labelEntry())
	if !errors.Is(err, ErrDuplicateTag) {
		t.Fatalf("expected ErrDuplicateTag, got %v", err)
	}
	if _, err := NewRegistry(Entry{TypeURL: "x"}); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestAnyInterop(t *testing.T) {
	r := newTestRegistry(t)
	packed, err := anypb.New(wrapperspb.Double(-1))
	if err != nil {
		t.Fatalf("anypb.New: %v", err)
	}
	v, err := r.Decode(FromAny(packed))
	if err != nil {
		t.Fatalf("decode from any: %v", err)
	}
	if !proto.Equal(v.(proto.Message), wrapperspb.Double(-1)) {
		t.Fatalf("unexpected value %v", v)
	}
	env, _ := r.Encode(wrapperspb.Double(3))
	back := env.Any()
	var dv wrapperspb.DoubleValue
	if err := back.UnmarshalTo(&dv); err != nil || dv.GetValue() != 3 {
		t.Fatalf("any round trip failed: v=%v err=%v", dv.GetValue(), err)
	}
}

func TestKnownIsSorted(t *testing.T) {
	r := newTestRegistry(t)
	known := r.Known()
	if len(known) != 2 || known[0] > known[1] {
		t.Fatalf("unexpected known list: %v", known)
	}
}
