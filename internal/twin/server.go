package twin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/twinctl/internal/observability"
	"github.com/danmuck/twinctl/internal/protocol/frame"
	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/danmuck/twinctl/internal/protocol/schema"
	"github.com/danmuck/twinctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

// ServerConfig configures the protocol endpoint.
type ServerConfig struct {
	Node       string
	QueueDepth int
	OneShot    bool
	Session    session.Config
	Limits     frame.Limits
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Node:       "twin.local",
		QueueDepth: 4,
		Session:    session.DefaultConfig(),
		Limits:     frame.DefaultLimits(),
	}
}

// SessionSnapshot describes the active session, if any, and the wait queue.
type SessionSnapshot struct {
	Active   bool      `json:"active"`
	Remote   string    `json:"remote,omitempty"`
	Since    time.Time `json:"since,omitempty"`
	Phase    string    `json:"phase,omitempty"`
	Accepted uint64    `json:"accepted"`
	Rejected uint64    `json:"rejected"`
	Queued   int       `json:"queued"`
	Served   uint64    `json:"served"`
}

type activeSession struct {
	remote  string
	since   time.Time
	machine *session.Machine
}

// Server owns the accept loop and serves one session at a time.
type Server struct {
	cfg        ServerConfig
	dispatcher *Dispatcher

	mu     sync.RWMutex
	active *activeSession
	queued int

	served atomic.Uint64
}

func NewServer(cfg ServerConfig, dispatcher *Dispatcher) *Server {
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	if cfg.QueueDepth < 0 {
		cfg.QueueDepth = 0
	}
	return &Server{cfg: cfg, dispatcher: dispatcher}
}

func (s *Server) Dispatcher() *Dispatcher {
	return s.dispatcher
}

func (s *Server) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := SessionSnapshot{Queued: s.queued, Served: s.served.Load()}
	if s.active != nil {
		st := s.active.machine.Status()
		snap.Active = true
		snap.Remote = s.active.remote
		snap.Since = s.active.since
		snap.Phase = string(st.Phase)
		snap.Accepted = st.Accepted
		snap.Rejected = st.Rejected
	}
	return snap
}

// Serve accepts connections on ln until ctx is cancelled. Connections that arrive while
// a session is active wait in a queue of QueueDepth and are closed when it is full.
// With OneShot, Serve returns after the first session ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer ln.Close()

	queue := make(chan net.Conn, s.cfg.QueueDepth)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.work(ctx, cancel, queue)
	}()
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Info().Str("node", s.cfg.Node).Str("addr", ln.Addr().String()).Msg("twin.Server.Serve listening")
	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}
		select {
		case queue <- conn:
			s.setQueued(len(queue))
		default:
			s.reject(conn)
		}
	}
	cancel()
	<-done
	drain(queue)
	return acceptErr
}

func (s *Server) work(ctx context.Context, cancel context.CancelFunc, queue chan net.Conn) {
	defer drain(queue)
	for {
		select {
		case <-ctx.Done():
			return
		case conn := <-queue:
			s.setQueued(len(queue))
			if err := s.ServeConn(ctx, conn); err != nil {
				log.Warn().Err(err).Str("node", s.cfg.Node).Msg("twin.Server session ended with error")
			}
			if s.cfg.OneShot {
				cancel()
				return
			}
		}
	}
}

func drain(queue chan net.Conn) {
	for {
		select {
		case conn := <-queue:
			_ = conn.Close()
		default:
			return
		}
	}
}

func (s *Server) reject(conn net.Conn) {
	observability.RecordSession(s.cfg.Node, "rejected")
	log.Warn().Str("remote", remoteAddr(conn)).Int("queue_depth", s.cfg.QueueDepth).Msg("twin.Server rejected connection: session busy")
	_ = conn.Close()
}

func (s *Server) setQueued(n int) {
	s.mu.Lock()
	s.queued = n
	s.mu.Unlock()
	observability.SetSessionsQueued(s.cfg.Node, n)
}

func (s *Server) begin(remote string, m *session.Machine) {
	s.mu.Lock()
	s.active = &activeSession{remote: remote, since: time.Now(), machine: m}
	s.mu.Unlock()
	observability.SetSessionsActive(s.cfg.Node, 1)
	log.Info().Str("node", s.cfg.Node).Str("remote", remote).Msg("twin.session opened")
}

func (s *Server) end(remote string, requests int) {
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	s.served.Add(1)
	observability.SetSessionsActive(s.cfg.Node, 0)
	observability.RecordSession(s.cfg.Node, "served")
	log.Info().Str("node", s.cfg.Node).Str("remote", remote).Int("requests", requests).Msg("twin.session closed")
}

// ServeConn runs the dispatch loop for one peer until it disconnects, a frame is
// malformed, the transport fails or ctx is cancelled. A fresh session machine is created
// for the connection and discarded with it. Clean shutdown returns nil.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	remote := remoteAddr(conn)
	m := session.NewMachine()
	requests := 0
	s.begin(remote, m)
	defer func() { s.end(remote, requests) }()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		if d := s.cfg.Session.ReadTimeout; d > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(d))
		}
		in, err := frame.ReadFrame(conn, s.cfg.Limits)
		if err != nil {
			return s.closeErr(ctx, remote, err)
		}
		requests++

		out, err := s.reply(in.Header.MessageID, s.respond(ctx, m, in))
		if err != nil {
			return err
		}
		if d := s.cfg.Session.WriteTimeout; d > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(d))
		}
		if err := frame.WriteFrame(conn, out, s.cfg.Limits); err != nil {
			return s.closeErr(ctx, remote, err)
		}
	}
}

func (s *Server) respond(ctx context.Context, m *session.Machine, in frame.Frame) message.Response {
	if in.Header.MessageType != schema.MsgRequest {
		return message.Failure(message.CodeDecodeFailure, "unexpected message type %d", in.Header.MessageType)
	}
	req, err := message.DecodeRequest(in.Payload)
	if err != nil {
		observability.RecordProtocolRequest(s.cfg.Node, "undecodable", message.CodeDecodeFailure.String(), 0)
		return message.Failure(message.CodeDecodeFailure, "%v", err)
	}
	return s.dispatcher.Handle(ctx, m, req)
}

// reply encodes resp for messageID. A response that cannot be encoded or exceeds the
// payload limit is replaced by a CodeError response so the request still gets its answer.
func (s *Server) reply(messageID uint64, resp message.Response) (frame.Frame, error) {
	out, err := responseFrame(messageID, resp)
	if err != nil {
		log.Error().Err(err).Str("node", s.cfg.Node).Str("code", resp.Code.String()).Msg("twin.session response not encodable")
		return responseFrame(messageID, message.Failure(message.CodeError, "%v", err))
	}
	if size := uint64(len(out.Payload)); size > s.cfg.Limits.MaxPayloadBytes {
		log.Warn().Str("node", s.cfg.Node).Uint64("bytes", size).Uint64("limit", s.cfg.Limits.MaxPayloadBytes).Msg("twin.session response too large")
		return responseFrame(messageID, message.Failure(message.CodeError, "response too large: %d bytes exceeds limit %d", size, s.cfg.Limits.MaxPayloadBytes))
	}
	return out, nil
}

func responseFrame(messageID uint64, resp message.Response) (frame.Frame, error) {
	payload, err := message.EncodeResponse(resp)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("encode response: %w", err)
	}
	flags := frame.FlagIsResponse
	if !resp.OK() {
		flags |= frame.FlagIsError
	}
	return frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: schema.MsgResponse,
			Flags:       flags,
		},
		Payload: payload,
	}, nil
}

// closeErr classifies why the loop stopped. Peer close and cancellation are clean.
func (s *Server) closeErr(ctx context.Context, remote string, err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case ctx.Err() != nil:
		return nil
	case frame.IsFramingError(err):
		observability.RecordFrameError(s.cfg.Node, frameErrorReason(err))
		log.Warn().Err(err).Str("remote", remote).Msg("twin.session framing error")
		return fmt.Errorf("framing: %w", err)
	default:
		observability.RecordFrameError(s.cfg.Node, "transport")
		return fmt.Errorf("transport: %w", err)
	}
}

func frameErrorReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrInvalidMagic):
		return "invalid_magic"
	case errors.Is(err, frame.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, frame.ErrHeaderLenMismatch):
		return "header_len"
	case errors.Is(err, frame.ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, frame.ErrShortHeader), errors.Is(err, frame.ErrShortPayload):
		return "truncated"
	}
	return "unknown"
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
