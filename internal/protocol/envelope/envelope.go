// Package envelope owns the typed-value container and the closed tag registry.
//
// An Envelope carries a type URL plus the encoded bytes of one value. A Registry is built
// once at process start from an explicit list of entries; decoding never consults any
// other source of types.
package envelope

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

// TypeURLPrefix follows the google.protobuf.Any convention.
const TypeURLPrefix = "type.googleapis.com/"

var (
	ErrUnknownType  = errors.New("envelope: unknown type")
	ErrMalformed    = errors.New("envelope: malformed payload")
	ErrUnregistered = errors.New("envelope: value type not registered")
	ErrDuplicateTag = errors.New("envelope: duplicate type url")
	ErrInvalidEntry = errors.New("envelope: invalid registry entry")
)

// Envelope is a type-tagged encoded value.
type Envelope struct {
	TypeURL string
	Value   []byte
}

// Any converts e to its protobuf Any form.
func (e Envelope) Any() *anypb.Any {
	return &anypb.Any{TypeUrl: e.TypeURL, Value: append([]byte(nil), e.Value...)}
}

// FromAny converts a protobuf Any into an Envelope.
func FromAny(a *anypb.Any) Envelope {
	if a == nil {
		return Envelope{}
	}
	return Envelope{TypeURL: a.GetTypeUrl(), Value: append([]byte(nil), a.GetValue()...)}
}

// Value is implemented by non-protobuf types that travel inside envelopes.
type Value interface {
	TypeURL() string
	MarshalBinary() ([]byte, error)
}

// Decoder turns payload bytes into a value for one type URL.
type Decoder func(payload []byte) (any, error)

// Entry binds one type URL to its decoder.
type Entry struct {
	TypeURL string
	Decode  Decoder
}

// ProtoEntry registers a protobuf message type. The prototype is only used to derive
// the type URL and to allocate fresh messages.
func ProtoEntry(prototype proto.Message) Entry {
	name := string(prototype.ProtoReflect().Descriptor().FullName())
	return Entry{
		TypeURL: TypeURLPrefix + name,
		Decode: func(payload []byte) (any, error) {
			msg := prototype.ProtoReflect().New().Interface()
			if err := proto.Unmarshal(payload, msg); err != nil {
				return nil, err
			}
			return msg, nil
		},
	}
}

// DecodeErrorKind classifies envelope decode failures.
type DecodeErrorKind int

const (
	KindUnknownType DecodeErrorKind = iota + 1
	KindMalformed
)

func (k DecodeErrorKind) String() string {
	switch k {
	case KindUnknownType:
		return "unknown_type"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// DecodeError is returned by Registry.Decode. It matches ErrUnknownType or ErrMalformed
// through errors.Is.
type DecodeError struct {
	Kind    DecodeErrorKind
	TypeURL string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("envelope: %s type_url=%q", e.Kind, e.TypeURL)
	}
	return fmt.Sprintf("envelope: %s type_url=%q: %v", e.Kind, e.TypeURL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrUnknownType:
		return e.Kind == KindUnknownType
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	return false
}

// Registry maps type URLs to decoders. It is immutable after construction and safe for
// concurrent use.
type Registry struct {
	decoders map[string]Decoder
}

// NewRegistry builds a closed registry from entries.
func NewRegistry(entries ...Entry) (*Registry, error) {
	decoders := make(map[string]Decoder, len(entries))
	for _, e := range entries {
		url := strings.TrimSpace(e.TypeURL)
		if url == "" || e.Decode == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEntry, e.TypeURL)
		}
		if _, ok := decoders[url]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, url)
		}
		decoders[url] = e.Decode
	}
	return &Registry{decoders: decoders}, nil
}

// MustRegistry is NewRegistry for static entry lists known to be valid.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// Has reports whether typeURL is registered.
func (r *Registry) Has(typeURL string) bool {
	_, ok := r.decoders[typeURL]
	return ok
}

// Known returns registered type URLs in sorted order.
func (r *Registry) Known() []string {
	out := make([]string, 0, len(r.decoders))
	for url := range r.decoders {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}

// Encode packs v into an envelope. v must be a protobuf message or a Value whose type URL
// is registered.
func (r *Registry) Encode(v any) (Envelope, error) {
	switch val := v.(type) {
	case nil:
		return Envelope{}, fmt.Errorf("%w: nil value", ErrUnregistered)
	case proto.Message:
		a, err := anypb.New(val)
		if err != nil {
			return Envelope{}, err
		}
		if !r.Has(a.GetTypeUrl()) {
			return Envelope{}, fmt.Errorf("%w: %s", ErrUnregistered, a.GetTypeUrl())
		}
		return FromAny(a), nil
	case Value:
		url := val.TypeURL()
		if !r.Has(url) {
			return Envelope{}, fmt.Errorf("%w: %s", ErrUnregistered, url)
		}
		payload, err := val.MarshalBinary()
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{TypeURL: url, Value: payload}, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %T", ErrUnregistered, v)
	}
}

// Decode resolves env through the registry. Failures are returned as *DecodeError.
func (r *Registry) Decode(env Envelope) (v any, err error) {
	dec, ok := r.decoders[env.TypeURL]
	if !ok {
		return nil, &DecodeError{Kind: KindUnknownType, TypeURL: env.TypeURL}
	}
	defer func() {
		if p := recover(); p != nil {
			v = nil
			err = &DecodeError{Kind: KindMalformed, TypeURL: env.TypeURL, Err: fmt.Errorf("decoder panic: %v", p)}
		}
	}()
	out, err := dec(env.Value)
	if err != nil {
		return nil, &DecodeError{Kind: KindMalformed, TypeURL: env.TypeURL, Err: err}
	}
	return out, nil
}
