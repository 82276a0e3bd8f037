package schema

import (
	"fmt"

	"github.com/danmuck/twinctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Version is written as the first field of every request and response payload.
const Version uint8 = 1

// Message type IDs carried in the frame header.
const (
	MsgRequest  uint32 = 1
	MsgResponse uint32 = 2
)

// Nested shapes validated with the same requirement table as message types.
const (
	ShapeStart        uint32 = 100
	ShapeAdvance      uint32 = 101
	ShapeEnvelope     uint32 = 102
	ShapeSetParameter uint32 = 103
	ShapeValueList    uint32 = 104
	ShapeInitialize   uint32 = 105
	ShapeStop         uint32 = 106
	ShapeIdentifiers  uint32 = 107
)

// Field IDs from tlv contract.
const (
	FieldVersion uint16 = 1

	// request discriminants
	FieldInitialize   uint16 = 10
	FieldStart        uint16 = 11
	FieldStop         uint16 = 12
	FieldAdvance      uint16 = 13
	FieldSetInput     uint16 = 14
	FieldGetOutput    uint16 = 15
	FieldSetParameter uint16 = 16
	FieldGetParameter uint16 = 17

	FieldModelName uint16 = 100

	FieldStartTime uint16 = 110
	FieldStopTime  uint16 = 111
	FieldStepSize  uint16 = 112
	FieldRunMode   uint16 = 113

	FieldStopMode uint16 = 120

	FieldStep32 uint16 = 130
	FieldStep64 uint16 = 131

	FieldIdentifier uint16 = 140
	FieldValue      uint16 = 141

	FieldTypeURL uint16 = 150
	FieldPayload uint16 = 151

	FieldNumberFloat uint16 = 160
	FieldNumberInt   uint16 = 161
	FieldNumberUint  uint16 = 162

	FieldParameterName  uint16 = 170
	FieldParameterValue uint16 = 171

	FieldReturnCode    uint16 = 200
	FieldErrorMessage  uint16 = 201
	FieldResultPayload uint16 = 202
)

// Discriminants lists the request variant fields in dispatch order.
var Discriminants = []uint16{
	FieldInitialize,
	FieldStart,
	FieldStop,
	FieldAdvance,
	FieldSetInput,
	FieldGetOutput,
	FieldSetParameter,
	FieldGetParameter,
}

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgRequest: {
		{FieldVersion, tlv.TypeU8},
	},
	MsgResponse: {
		{FieldVersion, tlv.TypeU8},
		{FieldReturnCode, tlv.TypeU32},
	},
	ShapeInitialize: {},
	ShapeStart: {
		{FieldStartTime, tlv.TypeNested},
	},
	ShapeStop: {},
	ShapeAdvance: {},
	ShapeEnvelope: {
		{FieldTypeURL, tlv.TypeString},
		{FieldPayload, tlv.TypeBytes},
	},
	ShapeSetParameter: {
		{FieldParameterName, tlv.TypeString},
		{FieldParameterValue, tlv.TypeNested},
	},
	ShapeValueList:   {},
	ShapeIdentifiers: {},
}

// optional lists fields that are not required but must carry the given type when present.
var optional = map[uint32][]Requirement{
	MsgRequest: {
		{FieldInitialize, tlv.TypeNested},
		{FieldStart, tlv.TypeNested},
		{FieldStop, tlv.TypeNested},
		{FieldAdvance, tlv.TypeNested},
		{FieldSetInput, tlv.TypeNested},
		{FieldGetOutput, tlv.TypeNested},
		{FieldSetParameter, tlv.TypeNested},
		{FieldGetParameter, tlv.TypeNested},
	},
	MsgResponse: {
		{FieldErrorMessage, tlv.TypeString},
		{FieldResultPayload, tlv.TypeNested},
	},
	ShapeInitialize: {
		{FieldModelName, tlv.TypeString},
	},
	ShapeStart: {
		{FieldStopTime, tlv.TypeNested},
		{FieldStepSize, tlv.TypeNested},
		{FieldRunMode, tlv.TypeU32},
	},
	ShapeStop: {
		{FieldStopMode, tlv.TypeU32},
	},
	ShapeAdvance: {
		{FieldStep32, tlv.TypeNested},
		{FieldStep64, tlv.TypeNested},
	},
	ShapeValueList: {
		{FieldIdentifier, tlv.TypeString},
		{FieldValue, tlv.TypeNested},
	},
	ShapeIdentifiers: {
		{FieldIdentifier, tlv.TypeString},
	},
}

// Validate enforces required fields and field types for a message type or nested shape.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, opt := range optional[messageType] {
		for _, f := range tlv.GetFields(fields, opt.ID) {
			if f.Type != opt.Type {
				return ValidationError{MessageType: messageType, FieldID: opt.ID, Reason: "type mismatch"}
			}
		}
	}
	return nil
}
