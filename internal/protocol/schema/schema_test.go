package schema

import (
	"testing"

	"github.com/danmuck/twinctl/internal/protocol/tlv"
	"github.com/danmuck/twinctl/internal/testutil/testlog"
)

func TestValidateRequestRequiresVersion(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgRequest, []tlv.Field{tlv.U8(FieldVersion, Version)}); err != nil {
		t.Fatalf("validate request: %v", err)
	}
	err := Validate(MsgRequest, nil)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldVersion || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U8(FieldVersion, Version),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgRequest, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateEnvelopeTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldTypeURL, "type.googleapis.com/google.protobuf.DoubleValue"),
		tlv.String(FieldPayload, "not bytes"),
	}
	err := Validate(ShapeEnvelope, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldPayload || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateOptionalFieldTypeChecked(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U8(FieldVersion, Version),
		tlv.String(FieldStart, "not nested"),
	}
	err := Validate(MsgRequest, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldStart || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	err := Validate(999, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}
