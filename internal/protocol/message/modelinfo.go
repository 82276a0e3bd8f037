package message

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// VariableInfo describes one model input, output or parameter.
type VariableInfo struct {
	Name string
	Type string
	Unit string
}

// ModelInfo answers the model-info query. It travels as a google.protobuf.Struct so peers
// without this package can still read it.
type ModelInfo struct {
	Name        string
	Description string
	Phase       string
	Time        float64
	Inputs      []VariableInfo
	Outputs     []VariableInfo
	Parameters  []VariableInfo
}

func (m ModelInfo) Struct() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"name":        m.Name,
		"description": m.Description,
		"phase":       m.Phase,
		"time":        m.Time,
		"inputs":      variablesToList(m.Inputs),
		"outputs":     variablesToList(m.Outputs),
		"parameters":  variablesToList(m.Parameters),
	})
}

func variablesToList(vars []VariableInfo) []any {
	out := make([]any, 0, len(vars))
	for _, v := range vars {
		out = append(out, map[string]any{
			"name": v.Name,
			"type": v.Type,
			"unit": v.Unit,
		})
	}
	return out
}

// ModelInfoFromStruct is the inverse of ModelInfo.Struct.
func ModelInfoFromStruct(s *structpb.Struct) (ModelInfo, error) {
	if s == nil {
		return ModelInfo{}, fmt.Errorf("model info: nil struct")
	}
	fields := s.GetFields()
	info := ModelInfo{
		Name:        fields["name"].GetStringValue(),
		Description: fields["description"].GetStringValue(),
		Phase:       fields["phase"].GetStringValue(),
		Time:        fields["time"].GetNumberValue(),
	}
	var err error
	if info.Inputs, err = variablesFromValue(fields["inputs"]); err != nil {
		return ModelInfo{}, fmt.Errorf("model info inputs: %w", err)
	}
	if info.Outputs, err = variablesFromValue(fields["outputs"]); err != nil {
		return ModelInfo{}, fmt.Errorf("model info outputs: %w", err)
	}
	if info.Parameters, err = variablesFromValue(fields["parameters"]); err != nil {
		return ModelInfo{}, fmt.Errorf("model info parameters: %w", err)
	}
	return info, nil
}

func variablesFromValue(v *structpb.Value) ([]VariableInfo, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, nil
	}
	out := make([]VariableInfo, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		obj := item.GetStructValue()
		if obj == nil {
			return nil, fmt.Errorf("entry %d is not an object", i)
		}
		f := obj.GetFields()
		out = append(out, VariableInfo{
			Name: f["name"].GetStringValue(),
			Type: f["type"].GetStringValue(),
			Unit: f["unit"].GetStringValue(),
		})
	}
	return out, nil
}
