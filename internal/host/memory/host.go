package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/danmuck/twinctl/internal/twin"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Host is an in-process execution host driven entirely by a Manifest. Outputs are read
// as message.Number64 floats and parameters as google.protobuf.DoubleValue.
type Host struct {
	mu sync.Mutex

	manifest Manifest

	inputs   map[string]float64
	params   map[string]float64
	integral map[string]float64

	time     float64
	stopTime float64
	hasStop  bool
	stepSize float64
	mode     message.RunMode
	steps    uint64
}

var _ twin.Host = (*Host)(nil)

func New(m Manifest) *Host {
	h := &Host{manifest: m}
	h.reset()
	return h
}

func (h *Host) reset() {
	h.inputs = make(map[string]float64, len(h.manifest.Inputs))
	for _, v := range h.manifest.Inputs {
		h.inputs[v.Name] = v.Default
	}
	h.params = make(map[string]float64, len(h.manifest.Parameters))
	for _, v := range h.manifest.Parameters {
		h.params[v.Name] = v.Default
	}
	h.integral = make(map[string]float64)
	h.time = 0
	h.stopTime = 0
	h.hasStop = false
	h.stepSize = h.manifest.StepSize
	h.mode = message.RunModeUnknown
	h.steps = 0
}

func (h *Host) Initialize(_ context.Context, req message.Initialize) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if name := strings.TrimSpace(req.ModelName); name != "" && name != h.manifest.Name {
		return twin.NewHostError(message.CodeInvalidOption, "unknown model %q", name)
	}
	h.reset()
	log.Debug().Str("model", h.manifest.Name).Msg("memory.Host initialized")
	return nil
}

func (h *Host) Start(_ context.Context, req message.Start) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	mode := req.RunMode
	if mode == message.RunModeUnknown {
		mode = message.RunModeStepped
	}
	if mode != message.RunModeStepped && mode != message.RunModeContinuous {
		return twin.NewHostError(message.CodeInvalidOption, "unknown run mode %d", uint32(req.RunMode))
	}
	if t, ok := req.StartTime.Float64(); ok {
		h.time = t
	}
	if t, ok := req.StopTime.Float64(); ok {
		if t < h.time {
			return twin.NewHostError(message.CodeInvalidOption, "stop time %g before start time %g", t, h.time)
		}
		h.stopTime, h.hasStop = t, true
	}
	if s, ok := req.StepSize.Float64(); ok {
		if s <= 0 {
			return twin.NewHostError(message.CodeInvalidOption, "step size must be positive, got %g", s)
		}
		h.stepSize = s
	}
	h.mode = mode
	log.Debug().Float64("time", h.time).Float64("step_size", h.stepSize).Str("mode", h.mode.String()).Msg("memory.Host started")
	return nil
}

func (h *Host) Stop(_ context.Context, req message.Stop) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	log.Debug().Str("mode", req.Mode.String()).Uint64("steps", h.steps).Float64("time", h.time).Msg("memory.Host stopped")
	h.mode = message.RunModeUnknown
	return nil
}

// Advance moves time forward by step, integrating outputs that ask for it.
func (h *Host) Advance(_ context.Context, step message.Step) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	dt, ok := step.Seconds()
	if !ok || dt <= 0 {
		return twin.NewHostError(message.CodeInvalidOption, "step must be positive, got %s", step)
	}
	if h.hasStop && h.time >= h.stopTime {
		return twin.NewHostError(message.CodeError, "stop time %g reached", h.stopTime)
	}
	for _, o := range h.manifest.Outputs {
		if o.Integrate {
			h.integral[o.Name] += h.ref(o.Source) * h.gain(o.Gain) * dt
		}
	}
	h.time += dt
	h.steps++
	return nil
}

func (h *Host) SetInput(_ context.Context, name string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inputs[name]; !ok {
		return twin.NewHostError(message.CodeUnknownOption, "unknown input %q", name)
	}
	v, err := message.ToFloat64(value)
	if err != nil {
		return twin.NewHostError(message.CodeInvalidOption, "input %q: %v", name, err)
	}
	h.inputs[name] = v
	return nil
}

func (h *Host) GetOutput(_ context.Context, name string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range h.manifest.Outputs {
		if o.Name != name {
			continue
		}
		if o.Integrate {
			return message.Float64(h.integral[name]), nil
		}
		return message.Float64(h.ref(o.Source) * h.gain(o.Gain)), nil
	}
	return nil, twin.NewHostError(message.CodeUnknownOption, "unknown output %q", name)
}

func (h *Host) SetParameter(_ context.Context, name string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.params[name]; !ok {
		return twin.NewHostError(message.CodeUnknownOption, "unknown parameter %q", name)
	}
	v, err := message.ToFloat64(value)
	if err != nil {
		return twin.NewHostError(message.CodeInvalidOption, "parameter %q: %v", name, err)
	}
	h.params[name] = v
	return nil
}

func (h *Host) GetParameter(_ context.Context, name string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.params[name]
	if !ok {
		return nil, twin.NewHostError(message.CodeUnknownOption, "unknown parameter %q", name)
	}
	return wrapperspb.Double(v), nil
}

func (h *Host) Describe(context.Context) (message.ModelInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := message.ModelInfo{
		Name:        h.manifest.Name,
		Description: h.manifest.Description,
		Time:        h.time,
	}
	for _, v := range h.manifest.Inputs {
		info.Inputs = append(info.Inputs, message.VariableInfo{Name: v.Name, Type: "float64", Unit: v.Unit})
	}
	for _, o := range h.manifest.Outputs {
		info.Outputs = append(info.Outputs, message.VariableInfo{Name: o.Name, Type: "float64", Unit: o.Unit})
	}
	for _, v := range h.manifest.Parameters {
		info.Parameters = append(info.Parameters, message.VariableInfo{Name: v.Name, Type: "float64", Unit: v.Unit})
	}
	return info, nil
}

// Time returns the current simulation time.
func (h *Host) Time() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.time
}

func (h *Host) ref(ref string) float64 {
	switch {
	case ref == sourceTime:
		return h.time
	case strings.HasPrefix(ref, prefixInput):
		return h.inputs[strings.TrimPrefix(ref, prefixInput)]
	case strings.HasPrefix(ref, prefixParameter):
		return h.params[strings.TrimPrefix(ref, prefixParameter)]
	}
	return 0
}

func (h *Host) gain(ref string) float64 {
	if ref == "" {
		return 1
	}
	return h.ref(ref)
}
