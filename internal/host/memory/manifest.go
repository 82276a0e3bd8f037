package memory

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed default.toml
var defaultManifest []byte

var ErrInvalidManifest = errors.New("memory: invalid manifest")

const (
	sourceTime      = "time"
	prefixInput     = "input."
	prefixParameter = "parameter."
)

// Manifest declares the variables of an in-memory model.
type Manifest struct {
	Name        string     `toml:"name"`
	Description string     `toml:"description"`
	StepSize    float64    `toml:"step_size"`
	Inputs      []Variable `toml:"inputs"`
	Parameters  []Variable `toml:"parameters"`
	Outputs     []Output   `toml:"outputs"`
}

type Variable struct {
	Name    string  `toml:"name"`
	Unit    string  `toml:"unit"`
	Default float64 `toml:"default"`
}

// Output derives a value from Source ("time", "input.<name>", "parameter.<name>"),
// scaled by Gain, a reference of the same form where empty means 1. With
// Integrate the scaled source is accumulated over each Advance step.
type Output struct {
	Name      string `toml:"name"`
	Unit      string `toml:"unit"`
	Source    string `toml:"source"`
	Gain      string `toml:"gain"`
	Integrate bool   `toml:"integrate"`
}

func DefaultManifest() Manifest {
	m, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(err)
	}
	return m
}

func LoadManifest(path string) (Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", path, err)
	}
	m, err := ParseManifest(b)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %q: %w", path, err)
	}
	return m, nil
}

func ParseManifest(b []byte) (Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidManifest)
	}
	if m.StepSize < 0 {
		return fmt.Errorf("%w: negative step_size", ErrInvalidManifest)
	}
	seen := make(map[string]struct{})
	inputs := make(map[string]struct{})
	params := make(map[string]struct{})
	add := func(kind, name string, into map[string]struct{}) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: %s with empty name", ErrInvalidManifest, kind)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate variable %q", ErrInvalidManifest, name)
		}
		seen[name] = struct{}{}
		if into != nil {
			into[name] = struct{}{}
		}
		return nil
	}
	for _, v := range m.Inputs {
		if err := add("input", v.Name, inputs); err != nil {
			return err
		}
	}
	for _, v := range m.Parameters {
		if err := add("parameter", v.Name, params); err != nil {
			return err
		}
	}
	for _, o := range m.Outputs {
		if err := add("output", o.Name, nil); err != nil {
			return err
		}
		if err := checkRef(o.Source, inputs, params, false); err != nil {
			return fmt.Errorf("%w: output %q source: %v", ErrInvalidManifest, o.Name, err)
		}
		if err := checkRef(o.Gain, inputs, params, true); err != nil {
			return fmt.Errorf("%w: output %q gain: %v", ErrInvalidManifest, o.Name, err)
		}
	}
	return nil
}

func checkRef(ref string, inputs, params map[string]struct{}, allowEmpty bool) error {
	switch {
	case ref == "":
		if allowEmpty {
			return nil
		}
		return errors.New("empty reference")
	case ref == sourceTime:
		return nil
	case strings.HasPrefix(ref, prefixInput):
		if _, ok := inputs[strings.TrimPrefix(ref, prefixInput)]; !ok {
			return fmt.Errorf("unknown input in %q", ref)
		}
		return nil
	case strings.HasPrefix(ref, prefixParameter):
		if _, ok := params[strings.TrimPrefix(ref, prefixParameter)]; !ok {
			return fmt.Errorf("unknown parameter in %q", ref)
		}
		return nil
	}
	return fmt.Errorf("unsupported reference %q", ref)
}
