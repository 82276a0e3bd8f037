package message

import (
	"bytes"
	"fmt"

	"github.com/danmuck/twinctl/internal/protocol/envelope"
	"github.com/danmuck/twinctl/internal/protocol/schema"
	"github.com/danmuck/twinctl/internal/protocol/tlv"
)

// Identifiers is an immutable ordered list of variable names.
type Identifiers struct {
	names []string
}

func NewIdentifiers(names ...string) Identifiers {
	if len(names) == 0 {
		return Identifiers{}
	}
	out := make([]string, len(names))
	copy(out, names)
	return Identifiers{names: out}
}

func (ids Identifiers) Len() int { return len(ids.names) }

func (ids Identifiers) At(i int) string { return ids.names[i] }

func (ids Identifiers) TypeURL() string { return typeURL(nameIdentifiers) }

func (ids Identifiers) Equal(o Identifiers) bool {
	if len(ids.names) != len(o.names) {
		return false
	}
	for i := range ids.names {
		if ids.names[i] != o.names[i] {
			return false
		}
	}
	return true
}

// Names returns a copy of the identifier list.
func (ids Identifiers) Names() []string {
	out := make([]string, len(ids.names))
	copy(out, ids.names)
	return out
}

func (ids Identifiers) MarshalBinary() ([]byte, error) {
	return tlv.EncodeFields(ids.fields()), nil
}

func (ids Identifiers) fields() []tlv.Field {
	fields := make([]tlv.Field, 0, len(ids.names))
	for _, name := range ids.names {
		fields = append(fields, tlv.String(schema.FieldIdentifier, name))
	}
	return fields
}

func identifiersFromFields(fields []tlv.Field) (Identifiers, error) {
	if err := schema.Validate(schema.ShapeIdentifiers, fields); err != nil {
		return Identifiers{}, err
	}
	raw := tlv.GetFields(fields, schema.FieldIdentifier)
	if len(raw) == 0 {
		return Identifiers{}, nil
	}
	names := make([]string, 0, len(raw))
	for _, f := range raw {
		name, err := f.AsString()
		if err != nil {
			return Identifiers{}, err
		}
		names = append(names, name)
	}
	return Identifiers{names: names}, nil
}

// ValueList pairs identifiers with one envelope each, in matching order. An empty
// Values slice is carried as nil; decoding never yields a non-nil empty slice.
type ValueList struct {
	Identifiers Identifiers
	Values      []envelope.Envelope
}

// NewValueList copies values, storing an empty list as nil so it matches its decoded form.
func NewValueList(ids Identifiers, values []envelope.Envelope) ValueList {
	if len(values) == 0 {
		return ValueList{Identifiers: ids}
	}
	out := make([]envelope.Envelope, len(values))
	copy(out, values)
	return ValueList{Identifiers: ids, Values: out}
}

// Equal compares names and envelopes; nil and empty value slices are equal.
func (v ValueList) Equal(o ValueList) bool {
	if !v.Identifiers.Equal(o.Identifiers) || len(v.Values) != len(o.Values) {
		return false
	}
	for i := range v.Values {
		if v.Values[i].TypeURL != o.Values[i].TypeURL || !bytes.Equal(v.Values[i].Value, o.Values[i].Value) {
			return false
		}
	}
	return true
}

// Validate enforces positional correspondence between names and values.
func (v ValueList) Validate() error {
	if v.Identifiers.Len() != len(v.Values) {
		return fmt.Errorf("%w: %d identifiers, %d values", ErrLengthMismatch, v.Identifiers.Len(), len(v.Values))
	}
	return nil
}

func (v ValueList) Len() int { return v.Identifiers.Len() }

func (v ValueList) TypeURL() string { return typeURL(nameValueList) }

func (v ValueList) MarshalBinary() ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return tlv.EncodeFields(v.fields()), nil
}

func (v ValueList) fields() []tlv.Field {
	fields := v.Identifiers.fields()
	for _, env := range v.Values {
		fields = append(fields, tlv.Nested(schema.FieldValue, envelopeFields(env)))
	}
	return fields
}

func valueListFromFields(fields []tlv.Field) (ValueList, error) {
	if err := schema.Validate(schema.ShapeValueList, fields); err != nil {
		return ValueList{}, err
	}
	ids, err := identifiersFromFields(fields)
	if err != nil {
		return ValueList{}, err
	}
	raw := tlv.GetFields(fields, schema.FieldValue)
	var values []envelope.Envelope
	for _, f := range raw {
		nested, err := f.AsNested()
		if err != nil {
			return ValueList{}, err
		}
		env, err := envelopeFromFields(nested)
		if err != nil {
			return ValueList{}, err
		}
		values = append(values, env)
	}
	out := ValueList{Identifiers: ids, Values: values}
	if err := out.Validate(); err != nil {
		return ValueList{}, err
	}
	return out, nil
}

func envelopeFields(env envelope.Envelope) []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldTypeURL, env.TypeURL),
		tlv.Bytes(schema.FieldPayload, env.Value),
	}
}

func envelopeFromFields(fields []tlv.Field) (envelope.Envelope, error) {
	if err := schema.Validate(schema.ShapeEnvelope, fields); err != nil {
		return envelope.Envelope{}, err
	}
	urlField, _ := tlv.GetField(fields, schema.FieldTypeURL)
	payloadField, _ := tlv.GetField(fields, schema.FieldPayload)
	url, err := urlField.AsString()
	if err != nil {
		return envelope.Envelope{}, err
	}
	payload, err := payloadField.AsBytes()
	if err != nil {
		return envelope.Envelope{}, err
	}
	if len(payload) == 0 {
		payload = nil
	}
	return envelope.Envelope{TypeURL: url, Value: payload}, nil
}
