package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/twinctl/internal/protocol/envelope"
	"github.com/danmuck/twinctl/internal/protocol/frame"
	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/danmuck/twinctl/internal/protocol/schema"
	"github.com/danmuck/twinctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	ErrAddressRequired   = errors.New("client: address required")
	ErrClosed            = errors.New("client: connection closed")
	ErrResponseMismatch  = errors.New("client: response does not match request")
	ErrUnexpectedPayload = errors.New("client: unexpected response payload")
)

// ResponseError is returned for any response whose code is not Success.
type ResponseError struct {
	Code    message.ReturnCode
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("client: %s", e.Code)
	}
	return fmt.Sprintf("client: %s: %s", e.Code, e.Message)
}

type Config struct {
	Address string
	Session session.Config
	Limits  frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Session: session.DefaultConfig(),
		Limits:  frame.DefaultLimits(),
	}
}

// Client drives one protocol session. Requests are strictly sequential; concurrent
// callers are serialized.
type Client struct {
	cfg      Config
	registry *envelope.Registry

	mu     sync.Mutex
	conn   net.Conn
	nextID uint64
	closed bool
}

// Dial connects to cfg.Address, retrying with the configured backoff.
func Dial(ctx context.Context, cfg Config, registry *envelope.Registry) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if registry == nil {
		r, err := message.NewRegistry()
		if err != nil {
			return nil, err
		}
		registry = r
	}
	backoff := session.NewBackoff(cfg.Session.Backoff, rand.New(rand.NewSource(time.Now().UnixNano())))
	for {
		dialer := net.Dialer{Timeout: cfg.Session.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
		if err == nil {
			return New(conn, cfg, registry), nil
		}
		delay, ok := backoff.Next()
		log.Warn().Err(err).Int("attempt", backoff.Attempts()).Str("addr", cfg.Address).Msg("client.Dial failed")
		if !ok || ctx.Err() != nil {
			return nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// New wraps an established connection.
func New(conn net.Conn, cfg Config, registry *envelope.Registry) *Client {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Client{cfg: cfg, registry: registry, conn: conn}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) Registry() *envelope.Registry {
	return c.registry
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Do sends req and waits for its response. A non-success code is returned as a response,
// not as an error; transport and decode failures are errors.
func (c *Client) Do(ctx context.Context, req message.Request) (message.Response, error) {
	payload, err := message.EncodeRequest(req)
	if err != nil {
		return message.Response{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return message.Response{}, ErrClosed
	}
	c.nextID++
	id := c.nextID

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Now()) })
	defer stop()

	out := frame.Frame{Header: frame.Header{MessageID: id, MessageType: schema.MsgRequest}, Payload: payload}
	if err := frame.WriteFrame(c.conn, out, c.cfg.Limits); err != nil {
		return message.Response{}, c.ioErr(ctx, err)
	}
	in, err := frame.ReadFrame(c.conn, c.cfg.Limits)
	if err != nil {
		return message.Response{}, c.ioErr(ctx, err)
	}
	if in.Header.MessageID != id || in.Header.MessageType != schema.MsgResponse {
		return message.Response{}, fmt.Errorf("%w: id=%d type=%d", ErrResponseMismatch, in.Header.MessageID, in.Header.MessageType)
	}
	return message.DecodeResponse(in.Payload)
}

func (c *Client) ioErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// call runs req and converts a non-success code into a *ResponseError.
func (c *Client) call(ctx context.Context, req message.Request) (message.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return message.Response{}, err
	}
	if !resp.OK() {
		return resp, &ResponseError{Code: resp.Code, Message: resp.Message}
	}
	return resp, nil
}

func (c *Client) ModelInfo(ctx context.Context) (message.ModelInfo, error) {
	resp, err := c.call(ctx, message.Request{})
	if err != nil {
		return message.ModelInfo{}, err
	}
	v, err := c.payload(resp)
	if err != nil {
		return message.ModelInfo{}, err
	}
	s, ok := v.(*structpb.Struct)
	if !ok {
		return message.ModelInfo{}, fmt.Errorf("%w: %T", ErrUnexpectedPayload, v)
	}
	return message.ModelInfoFromStruct(s)
}

func (c *Client) Initialize(ctx context.Context, model string) error {
	_, err := c.call(ctx, message.Request{Initialize: &message.Initialize{ModelName: model}})
	return err
}

func (c *Client) Start(ctx context.Context, start message.Start) error {
	_, err := c.call(ctx, message.Request{Start: &start})
	return err
}

func (c *Client) Stop(ctx context.Context, mode message.StopMode) error {
	_, err := c.call(ctx, message.Request{Stop: &message.Stop{Mode: mode}})
	return err
}

func (c *Client) Advance(ctx context.Context, step message.Step) error {
	_, err := c.call(ctx, message.Request{Advance: &message.Advance{Step: step}})
	return err
}

// SetInputs encodes values through the registry; names and values pair by position.
func (c *Client) SetInputs(ctx context.Context, names []string, values []any) error {
	list, err := c.valueList(names, values)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, message.Request{SetInput: &list})
	return err
}

func (c *Client) GetOutputs(ctx context.Context, names ...string) ([]any, error) {
	ids := message.NewIdentifiers(names...)
	resp, err := c.call(ctx, message.Request{GetOutput: &ids})
	if err != nil {
		return nil, err
	}
	return c.values(resp, ids)
}

func (c *Client) SetParameter(ctx context.Context, name string, value any) error {
	env, err := c.registry.Encode(value)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, message.Request{SetParameter: &message.SetParameter{Name: name, Value: env}})
	return err
}

func (c *Client) GetParameters(ctx context.Context, names ...string) ([]any, error) {
	ids := message.NewIdentifiers(names...)
	resp, err := c.call(ctx, message.Request{GetParameter: &ids})
	if err != nil {
		return nil, err
	}
	return c.values(resp, ids)
}

func (c *Client) valueList(names []string, values []any) (message.ValueList, error) {
	envs := make([]envelope.Envelope, 0, len(values))
	for _, v := range values {
		env, err := c.registry.Encode(v)
		if err != nil {
			return message.ValueList{}, err
		}
		envs = append(envs, env)
	}
	list := message.ValueList{Identifiers: message.NewIdentifiers(names...), Values: envs}
	return list, list.Validate()
}

func (c *Client) payload(resp message.Response) (any, error) {
	if resp.Payload == nil {
		return nil, fmt.Errorf("%w: missing", ErrUnexpectedPayload)
	}
	return c.registry.Decode(*resp.Payload)
}

func (c *Client) values(resp message.Response, ids message.Identifiers) ([]any, error) {
	v, err := c.payload(resp)
	if err != nil {
		return nil, err
	}
	list, ok := v.(message.ValueList)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedPayload, v)
	}
	if !list.Identifiers.Equal(ids) {
		return nil, fmt.Errorf("%w: identifiers %v", ErrResponseMismatch, list.Identifiers.Names())
	}
	out := make([]any, 0, list.Len())
	for _, env := range list.Values {
		val, err := c.registry.Decode(env)
		if err != nil {
			return nil, err
		}
		out = append(out, val)
	}
	return out, nil
}
