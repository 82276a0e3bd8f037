package twin

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/twinctl/internal/observability"
	"github.com/danmuck/twinctl/internal/protocol/envelope"
	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/danmuck/twinctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// Dispatcher applies decoded requests to a session machine and the host. It holds no
// per-session state and may be shared by every session of a process.
type Dispatcher struct {
	node        string
	host        Host
	registry    *envelope.Registry
	hostTimeout time.Duration
}

func NewDispatcher(node string, host Host, registry *envelope.Registry, hostTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		node:        node,
		host:        host,
		registry:    registry,
		hostTimeout: hostTimeout,
	}
}

func (d *Dispatcher) Registry() *envelope.Registry {
	return d.registry
}

// Handle produces exactly one response for req. It never returns a transport error: every
// failure is expressed as a response code.
func (d *Dispatcher) Handle(ctx context.Context, m *session.Machine, req message.Request) message.Response {
	start := time.Now()
	kind, err := req.Kind()
	var resp message.Response
	if err != nil {
		resp = message.Failure(message.CodeDecodeFailure, "%v", err)
	} else {
		resp = d.handle(ctx, m, kind, req)
	}
	observability.RecordProtocolRequest(d.node, kind.String(), resp.Code.String(), time.Since(start))
	event := log.Debug()
	if !resp.OK() {
		event = log.Info()
	}
	event.
		Str("kind", kind.String()).
		Str("code", resp.Code.String()).
		Str("phase", string(m.Phase())).
		Str("detail", resp.Message).
		Dur("duration", time.Since(start)).
		Msg("twin.Dispatch")
	return resp
}

func (d *Dispatcher) handle(ctx context.Context, m *session.Machine, kind message.Kind, req message.Request) message.Response {
	tr, err := m.Begin(kind)
	if err != nil {
		var se *session.StateError
		if errors.As(err, &se) {
			return message.Failure(message.CodeInvalidState, "%s not legal in phase %s", se.Kind, se.Phase)
		}
		return message.Failure(message.CodeError, "%v", err)
	}

	resp := d.apply(ctx, m, kind, req)
	if resp.OK() {
		_ = tr.Commit()
	} else {
		_ = tr.Abort()
	}
	return resp
}

func (d *Dispatcher) hostContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.hostTimeout > 0 {
		return context.WithTimeout(ctx, d.hostTimeout)
	}
	return context.WithCancel(ctx)
}

// apply runs the host call for kind. A panicking host yields a CodeError response so the
// caller aborts the transition.
func (d *Dispatcher) apply(ctx context.Context, m *session.Machine, kind message.Kind, req message.Request) (resp message.Response) {
	hctx, cancel := d.hostContext(ctx)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Str("node", d.node).Str("kind", kind.String()).Interface("panic", p).Msg("twin.Dispatch host panic")
			resp = message.Failure(message.CodeError, "host panic: %v", p)
		}
	}()

	switch kind {
	case message.KindModelInfo:
		return d.modelInfo(hctx, m)
	case message.KindInitialize:
		return d.ack(d.host.Initialize(hctx, *req.Initialize))
	case message.KindStart:
		return d.ack(d.host.Start(hctx, *req.Start))
	case message.KindStop:
		return d.ack(d.host.Stop(hctx, *req.Stop))
	case message.KindAdvance:
		return d.ack(d.host.Advance(hctx, req.Advance.Step))
	case message.KindSetInput:
		return d.setInput(hctx, *req.SetInput)
	case message.KindGetOutput:
		return d.query(*req.GetOutput, func(name string) (any, error) { return d.host.GetOutput(hctx, name) })
	case message.KindSetParameter:
		return d.setParameter(hctx, *req.SetParameter)
	case message.KindGetParameter:
		return d.query(*req.GetParameter, func(name string) (any, error) { return d.host.GetParameter(hctx, name) })
	}
	return message.Failure(message.CodeError, "unhandled request kind %s", kind)
}

func (d *Dispatcher) ack(err error) message.Response {
	if err != nil {
		return hostFailure(err)
	}
	return message.Success(nil)
}

// setInput resolves every envelope before the first host call so a bad value leaves
// the host untouched.
func (d *Dispatcher) setInput(ctx context.Context, list message.ValueList) message.Response {
	if err := list.Validate(); err != nil {
		return message.Failure(message.CodeDecodeFailure, "%v", err)
	}
	values := make([]any, list.Len())
	for i, env := range list.Values {
		v, err := d.registry.Decode(env)
		if err != nil {
			return decodeFailure(list.Identifiers.At(i), err)
		}
		values[i] = v
	}
	for i, v := range values {
		if err := d.host.SetInput(ctx, list.Identifiers.At(i), v); err != nil {
			return hostFailure(err)
		}
	}
	return message.Success(nil)
}

func (d *Dispatcher) setParameter(ctx context.Context, req message.SetParameter) message.Response {
	v, err := d.registry.Decode(req.Value)
	if err != nil {
		return decodeFailure(req.Name, err)
	}
	if err := d.host.SetParameter(ctx, req.Name, v); err != nil {
		return hostFailure(err)
	}
	return message.Success(nil)
}

// query collects one value per identifier into a ValueList payload.
func (d *Dispatcher) query(ids message.Identifiers, get func(string) (any, error)) message.Response {
	values := make([]envelope.Envelope, 0, ids.Len())
	for i := 0; i < ids.Len(); i++ {
		v, err := get(ids.At(i))
		if err != nil {
			return hostFailure(err)
		}
		env, err := d.registry.Encode(v)
		if err != nil {
			return message.Failure(message.CodeError, "encode %q: %v", ids.At(i), err)
		}
		values = append(values, env)
	}
	payload, err := d.registry.Encode(message.ValueList{Identifiers: ids, Values: values})
	if err != nil {
		return message.Failure(message.CodeError, "encode value list: %v", err)
	}
	return message.Success(&payload)
}

func (d *Dispatcher) modelInfo(ctx context.Context, m *session.Machine) message.Response {
	info, err := d.host.Describe(ctx)
	if err != nil {
		return hostFailure(err)
	}
	info.Phase = string(m.Phase())
	s, err := info.Struct()
	if err != nil {
		return message.Failure(message.CodeError, "model info: %v", err)
	}
	payload, err := d.registry.Encode(s)
	if err != nil {
		return message.Failure(message.CodeError, "encode model info: %v", err)
	}
	return message.Success(&payload)
}

func decodeFailure(name string, err error) message.Response {
	var de *envelope.DecodeError
	if errors.As(err, &de) && de.Kind == envelope.KindUnknownType {
		return message.Failure(message.CodeDecodeFailure, "%q: unknown value type %s", name, de.TypeURL)
	}
	return message.Failure(message.CodeDecodeFailure, "%q: %v", name, err)
}
