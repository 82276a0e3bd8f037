package message

import (
	"github.com/danmuck/twinctl/internal/protocol/envelope"
	"github.com/danmuck/twinctl/internal/protocol/tlv"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Entries is the closed set of envelope types this binary understands.
func Entries() []envelope.Entry {
	return []envelope.Entry{
		{TypeURL: TypeURLNumber32, Decode: func(b []byte) (any, error) { return DecodeNumber32(b) }},
		{TypeURL: TypeURLNumber64, Decode: func(b []byte) (any, error) { return DecodeNumber64(b) }},
		{TypeURL: TypeURLIdentifiers, Decode: func(b []byte) (any, error) { return DecodeIdentifiers(b) }},
		{TypeURL: TypeURLValueList, Decode: func(b []byte) (any, error) { return DecodeValueList(b) }},
		envelope.ProtoEntry(&wrapperspb.DoubleValue{}),
		envelope.ProtoEntry(&wrapperspb.FloatValue{}),
		envelope.ProtoEntry(&wrapperspb.Int32Value{}),
		envelope.ProtoEntry(&wrapperspb.Int64Value{}),
		envelope.ProtoEntry(&wrapperspb.UInt32Value{}),
		envelope.ProtoEntry(&wrapperspb.UInt64Value{}),
		envelope.ProtoEntry(&wrapperspb.BoolValue{}),
		envelope.ProtoEntry(&wrapperspb.StringValue{}),
		envelope.ProtoEntry(&wrapperspb.BytesValue{}),
		envelope.ProtoEntry(&structpb.Struct{}),
	}
}

// NewRegistry builds the process registry from Entries plus any extra entries.
func NewRegistry(extra ...envelope.Entry) (*envelope.Registry, error) {
	return envelope.NewRegistry(append(Entries(), extra...)...)
}

func DecodeNumber32(payload []byte) (Number32, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return Number32{}, err
	}
	return number32FromFields(fields)
}

func DecodeNumber64(payload []byte) (Number64, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return Number64{}, err
	}
	return number64FromFields(fields)
}

func DecodeIdentifiers(payload []byte) (Identifiers, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return Identifiers{}, err
	}
	return identifiersFromFields(fields)
}

func DecodeValueList(payload []byte) (ValueList, error) {
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return ValueList{}, err
	}
	return valueListFromFields(fields)
}
