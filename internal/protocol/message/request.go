package message

import "github.com/danmuck/twinctl/internal/protocol/envelope"

// Kind is the request discriminant. KindModelInfo is the request with no variant set.
type Kind uint8

const (
	KindModelInfo Kind = iota
	KindInitialize
	KindStart
	KindStop
	KindAdvance
	KindSetInput
	KindGetOutput
	KindSetParameter
	KindGetParameter
)

var kindNames = map[Kind]string{
	KindModelInfo:    "model_info",
	KindInitialize:   "initialize",
	KindStart:        "start",
	KindStop:         "stop",
	KindAdvance:      "advance",
	KindSetInput:     "set_input",
	KindGetOutput:    "get_output",
	KindSetParameter: "set_parameter",
	KindGetParameter: "get_parameter",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Kinds returns every request kind in discriminant order.
func Kinds() []Kind {
	return []Kind{
		KindModelInfo,
		KindInitialize,
		KindStart,
		KindStop,
		KindAdvance,
		KindSetInput,
		KindGetOutput,
		KindSetParameter,
		KindGetParameter,
	}
}

type RunMode uint32

const (
	RunModeUnknown RunMode = iota
	RunModeStepped
	RunModeContinuous
)

func (m RunMode) String() string {
	switch m {
	case RunModeStepped:
		return "stepped"
	case RunModeContinuous:
		return "continuous"
	default:
		return "unknown"
	}
}

type StopMode uint32

const (
	StopModeUnknown StopMode = iota
	StopModeClean
	StopModeAbort
)

func (m StopMode) String() string {
	switch m {
	case StopModeClean:
		return "clean"
	case StopModeAbort:
		return "abort"
	default:
		return "unknown"
	}
}

type Initialize struct {
	ModelName string
}

// Start carries the simulation window. StopTime and StepSize are optional and unset when zero.
type Start struct {
	StartTime Number32
	StopTime  Number32
	StepSize  Number32
	RunMode   RunMode
}

type Stop struct {
	Mode StopMode
}

// Step is the Advance step size at either precision. Exactly one of the two is set.
type Step struct {
	n32 Number32
	n64 Number64
}

func Step32(n Number32) Step { return Step{n32: n} }
func Step64(n Number64) Step { return Step{n64: n} }

func (s Step) Is64() bool { return s.n64.IsSet() }

func (s Step) IsSet() bool { return s.n32.IsSet() || s.n64.IsSet() }

func (s Step) Number32() (Number32, bool) { return s.n32, s.n32.IsSet() }

func (s Step) Number64() (Number64, bool) { return s.n64, s.n64.IsSet() }

// Seconds widens the step to float64 regardless of precision.
func (s Step) Seconds() (float64, bool) {
	if s.n64.IsSet() {
		return s.n64.Float64()
	}
	return s.n32.Float64()
}

func (s Step) String() string {
	if s.n64.IsSet() {
		return s.n64.String()
	}
	return s.n32.String()
}

type Advance struct {
	Step Step
}

type SetParameter struct {
	Name  string
	Value envelope.Envelope
}

// Request is the discriminated request union. At most one pointer may be non-nil; with
// none set the request is a model-info query.
type Request struct {
	Initialize   *Initialize
	Start        *Start
	Stop         *Stop
	Advance      *Advance
	SetInput     *ValueList
	GetOutput    *Identifiers
	SetParameter *SetParameter
	GetParameter *Identifiers
}

// Kind classifies r. It fails with ErrMultipleVariants when more than one variant is set.
func (r Request) Kind() (Kind, error) {
	set := []struct {
		on   bool
		kind Kind
	}{
		{r.Initialize != nil, KindInitialize},
		{r.Start != nil, KindStart},
		{r.Stop != nil, KindStop},
		{r.Advance != nil, KindAdvance},
		{r.SetInput != nil, KindSetInput},
		{r.GetOutput != nil, KindGetOutput},
		{r.SetParameter != nil, KindSetParameter},
		{r.GetParameter != nil, KindGetParameter},
	}
	kind := KindModelInfo
	for _, s := range set {
		if !s.on {
			continue
		}
		if kind != KindModelInfo {
			return KindModelInfo, ErrMultipleVariants
		}
		kind = s.kind
	}
	return kind, nil
}
