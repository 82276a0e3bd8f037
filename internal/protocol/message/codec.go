package message

import (
	"fmt"

	"github.com/danmuck/twinctl/internal/protocol/schema"
	"github.com/danmuck/twinctl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// EncodeRequest renders req as a request payload. The version field is always written, so
// the result is never empty.
func EncodeRequest(req Request) ([]byte, error) {
	kind, err := req.Kind()
	if err != nil {
		return nil, err
	}
	fields := []tlv.Field{tlv.U8(schema.FieldVersion, schema.Version)}
	switch kind {
	case KindInitialize:
		var inner []tlv.Field
		if req.Initialize.ModelName != "" {
			inner = append(inner, tlv.String(schema.FieldModelName, req.Initialize.ModelName))
		}
		fields = append(fields, tlv.Nested(schema.FieldInitialize, inner))
	case KindStart:
		fields = append(fields, tlv.Nested(schema.FieldStart, startFields(*req.Start)))
	case KindStop:
		var inner []tlv.Field
		if req.Stop.Mode != StopModeUnknown {
			inner = append(inner, tlv.U32(schema.FieldStopMode, uint32(req.Stop.Mode)))
		}
		fields = append(fields, tlv.Nested(schema.FieldStop, inner))
	case KindAdvance:
		inner, err := advanceFields(*req.Advance)
		if err != nil {
			return nil, err
		}
		fields = append(fields, tlv.Nested(schema.FieldAdvance, inner))
	case KindSetInput:
		if err := req.SetInput.Validate(); err != nil {
			return nil, err
		}
		fields = append(fields, tlv.Nested(schema.FieldSetInput, req.SetInput.fields()))
	case KindGetOutput:
		fields = append(fields, tlv.Nested(schema.FieldGetOutput, req.GetOutput.fields()))
	case KindSetParameter:
		fields = append(fields, tlv.Nested(schema.FieldSetParameter, []tlv.Field{
			tlv.String(schema.FieldParameterName, req.SetParameter.Name),
			tlv.Nested(schema.FieldParameterValue, envelopeFields(req.SetParameter.Value)),
		}))
	case KindGetParameter:
		fields = append(fields, tlv.Nested(schema.FieldGetParameter, req.GetParameter.fields()))
	}
	return tlv.EncodeFields(fields), nil
}

func startFields(s Start) []tlv.Field {
	fields := []tlv.Field{tlv.Nested(schema.FieldStartTime, s.StartTime.fields())}
	if s.StopTime.IsSet() {
		fields = append(fields, tlv.Nested(schema.FieldStopTime, s.StopTime.fields()))
	}
	if s.StepSize.IsSet() {
		fields = append(fields, tlv.Nested(schema.FieldStepSize, s.StepSize.fields()))
	}
	if s.RunMode != RunModeUnknown {
		fields = append(fields, tlv.U32(schema.FieldRunMode, uint32(s.RunMode)))
	}
	return fields
}

func advanceFields(a Advance) ([]tlv.Field, error) {
	if n, ok := a.Step.Number64(); ok {
		return []tlv.Field{tlv.Nested(schema.FieldStep64, n.fields())}, nil
	}
	if n, ok := a.Step.Number32(); ok {
		return []tlv.Field{tlv.Nested(schema.FieldStep32, n.fields())}, nil
	}
	return nil, ErrMissingStep
}

// DecodeRequest parses a request payload. Every failure is a *DecodeError.
func DecodeRequest(payload []byte) (Request, error) {
	req, err := decodeRequest(payload)
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(payload)).Msg("message.DecodeRequest failed")
		return Request{}, decodeErr("request", err)
	}
	return req, nil
}

func decodeRequest(payload []byte) (Request, error) {
	fields, err := decodeVersioned(schema.MsgRequest, payload)
	if err != nil {
		return Request{}, err
	}
	var (
		variant tlv.Field
		count   int
	)
	for _, id := range schema.Discriminants {
		for _, f := range tlv.GetFields(fields, id) {
			variant = f
			count++
		}
	}
	if count == 0 {
		return Request{}, nil
	}
	if count > 1 {
		return Request{}, ErrMultipleVariants
	}
	inner, err := variant.AsNested()
	if err != nil {
		return Request{}, err
	}

	var req Request
	switch variant.ID {
	case schema.FieldInitialize:
		v, err := initializeFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.Initialize = &v
	case schema.FieldStart:
		v, err := startFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.Start = &v
	case schema.FieldStop:
		v, err := stopFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.Stop = &v
	case schema.FieldAdvance:
		v, err := advanceFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.Advance = &v
	case schema.FieldSetInput:
		v, err := valueListFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.SetInput = &v
	case schema.FieldGetOutput:
		v, err := identifiersFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.GetOutput = &v
	case schema.FieldSetParameter:
		v, err := setParameterFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.SetParameter = &v
	case schema.FieldGetParameter:
		v, err := identifiersFromFields(inner)
		if err != nil {
			return Request{}, err
		}
		req.GetParameter = &v
	}
	return req, nil
}

func decodeVersioned(messageType uint32, payload []byte) ([]tlv.Field, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyBuffer
	}
	fields, err := tlv.DecodeFields(payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(messageType, fields); err != nil {
		return nil, err
	}
	vf, _ := tlv.GetField(fields, schema.FieldVersion)
	version, err := vf.AsU8()
	if err != nil {
		return nil, err
	}
	if version != schema.Version {
		return nil, fmt.Errorf("%w: got %d want %d", ErrUnsupportedVersion, version, schema.Version)
	}
	return fields, nil
}

func initializeFromFields(fields []tlv.Field) (Initialize, error) {
	if err := schema.Validate(schema.ShapeInitialize, fields); err != nil {
		return Initialize{}, err
	}
	var out Initialize
	if f, ok := tlv.GetField(fields, schema.FieldModelName); ok {
		name, err := f.AsString()
		if err != nil {
			return Initialize{}, err
		}
		out.ModelName = name
	}
	return out, nil
}

func startFromFields(fields []tlv.Field) (Start, error) {
	if err := schema.Validate(schema.ShapeStart, fields); err != nil {
		return Start{}, err
	}
	var out Start
	var err error
	if out.StartTime, err = nested32(fields, schema.FieldStartTime); err != nil {
		return Start{}, err
	}
	if out.StopTime, err = nested32(fields, schema.FieldStopTime); err != nil {
		return Start{}, err
	}
	if out.StepSize, err = nested32(fields, schema.FieldStepSize); err != nil {
		return Start{}, err
	}
	if f, ok := tlv.GetField(fields, schema.FieldRunMode); ok {
		mode, err := f.AsU32()
		if err != nil {
			return Start{}, err
		}
		out.RunMode = RunMode(mode)
	}
	return out, nil
}

func nested32(fields []tlv.Field, id uint16) (Number32, error) {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return Number32{}, nil
	}
	inner, err := f.AsNested()
	if err != nil {
		return Number32{}, err
	}
	return number32FromFields(inner)
}

func stopFromFields(fields []tlv.Field) (Stop, error) {
	if err := schema.Validate(schema.ShapeStop, fields); err != nil {
		return Stop{}, err
	}
	var out Stop
	if f, ok := tlv.GetField(fields, schema.FieldStopMode); ok {
		mode, err := f.AsU32()
		if err != nil {
			return Stop{}, err
		}
		out.Mode = StopMode(mode)
	}
	return out, nil
}

func advanceFromFields(fields []tlv.Field) (Advance, error) {
	if err := schema.Validate(schema.ShapeAdvance, fields); err != nil {
		return Advance{}, err
	}
	f32, has32 := tlv.GetField(fields, schema.FieldStep32)
	f64, has64 := tlv.GetField(fields, schema.FieldStep64)
	switch {
	case has32 && has64:
		return Advance{}, ErrMultipleAlternatives
	case has64:
		inner, err := f64.AsNested()
		if err != nil {
			return Advance{}, err
		}
		n, err := number64FromFields(inner)
		if err != nil {
			return Advance{}, err
		}
		if !n.IsSet() {
			return Advance{}, ErrMissingStep
		}
		return Advance{Step: Step64(n)}, nil
	case has32:
		inner, err := f32.AsNested()
		if err != nil {
			return Advance{}, err
		}
		n, err := number32FromFields(inner)
		if err != nil {
			return Advance{}, err
		}
		if !n.IsSet() {
			return Advance{}, ErrMissingStep
		}
		return Advance{Step: Step32(n)}, nil
	}
	return Advance{}, ErrMissingStep
}

func setParameterFromFields(fields []tlv.Field) (SetParameter, error) {
	if err := schema.Validate(schema.ShapeSetParameter, fields); err != nil {
		return SetParameter{}, err
	}
	nameField, _ := tlv.GetField(fields, schema.FieldParameterName)
	name, err := nameField.AsString()
	if err != nil {
		return SetParameter{}, err
	}
	valueField, _ := tlv.GetField(fields, schema.FieldParameterValue)
	inner, err := valueField.AsNested()
	if err != nil {
		return SetParameter{}, err
	}
	env, err := envelopeFromFields(inner)
	if err != nil {
		return SetParameter{}, err
	}
	return SetParameter{Name: name, Value: env}, nil
}

// EncodeResponse renders resp as a response payload.
func EncodeResponse(resp Response) ([]byte, error) {
	if !resp.Code.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownReturnCode, uint32(resp.Code))
	}
	fields := []tlv.Field{
		tlv.U8(schema.FieldVersion, schema.Version),
		tlv.U32(schema.FieldReturnCode, uint32(resp.Code)),
	}
	if resp.Message != "" {
		fields = append(fields, tlv.String(schema.FieldErrorMessage, resp.Message))
	}
	if resp.Payload != nil {
		fields = append(fields, tlv.Nested(schema.FieldResultPayload, envelopeFields(*resp.Payload)))
	}
	return tlv.EncodeFields(fields), nil
}

// DecodeResponse parses a response payload. Every failure is a *DecodeError.
func DecodeResponse(payload []byte) (Response, error) {
	resp, err := decodeResponse(payload)
	if err != nil {
		return Response{}, decodeErr("response", err)
	}
	return resp, nil
}

func decodeResponse(payload []byte) (Response, error) {
	fields, err := decodeVersioned(schema.MsgResponse, payload)
	if err != nil {
		return Response{}, err
	}
	cf, _ := tlv.GetField(fields, schema.FieldReturnCode)
	raw, err := cf.AsU32()
	if err != nil {
		return Response{}, err
	}
	code := ReturnCode(raw)
	if !code.Valid() {
		return Response{}, fmt.Errorf("%w: %d", ErrUnknownReturnCode, raw)
	}
	resp := Response{Code: code}
	if f, ok := tlv.GetField(fields, schema.FieldErrorMessage); ok {
		if resp.Message, err = f.AsString(); err != nil {
			return Response{}, err
		}
	}
	if f, ok := tlv.GetField(fields, schema.FieldResultPayload); ok {
		inner, err := f.AsNested()
		if err != nil {
			return Response{}, err
		}
		env, err := envelopeFromFields(inner)
		if err != nil {
			return Response{}, err
		}
		resp.Payload = &env
	}
	return resp, nil
}
