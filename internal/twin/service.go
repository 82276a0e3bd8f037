package twin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/twinctl/internal/protocol/envelope"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig configures the protocol endpoint and the optional admin HTTP endpoint.
type ServiceConfig struct {
	ListenAddr      string
	AdminListenAddr string
	CORSOrigins     []string
	Server          ServerConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:      "127.0.0.1:9100",
		AdminListenAddr: "",
		Server:          DefaultServerConfig(),
	}
}

// Service wires a host to the protocol server and admin surface.
type Service struct {
	cfg    ServiceConfig
	server *Server
	admin  *Admin
}

func NewService(cfg ServiceConfig, host Host, registry *envelope.Registry) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	dispatcher := NewDispatcher(cfg.Server.Node, host, registry, cfg.Server.Session.HostTimeout)
	server := NewServer(cfg.Server, dispatcher)
	return &Service{
		cfg:    cfg,
		server: server,
		admin:  NewAdmin(cfg.Server.Node, server, cfg.CORSOrigins),
	}
}

func (s *Service) Server() *Server {
	return s.server
}

func (s *Service) Admin() *Admin {
	return s.admin
}

// Run blocks until SIGINT/SIGTERM or until a one-shot session ends.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext binds the protocol listener (a bind failure is returned immediately) and
// serves until ctx is cancelled.
func (s *Service) RunContext(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the protocol server on ln and, when configured, the admin endpoint.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var adminLn net.Listener
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		var err error
		adminLn, err = net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("admin listen %s: %w", addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// a one-shot server returning ends the process
		defer cancel()
		return s.server.Serve(gctx, ln)
	})
	if adminLn != nil {
		httpSrv := &http.Server{Handler: s.admin.Handler(), ReadHeaderTimeout: 5 * time.Second}
		log.Info().Str("addr", adminLn.Addr().String()).Msg("twin.Service admin listening")
		g.Go(func() error {
			if err := httpSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}
	s.admin.SetReady(true)
	defer s.admin.SetReady(false)
	return g.Wait()
}
