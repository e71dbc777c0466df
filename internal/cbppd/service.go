// Package cbppd assembles a runnable CBPP server process: a listener
// accepting sessions, the job pool they dispatch into, the module
// loader, and the system HTTP control surface, all wired from one
// Config.
package cbppd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/arcflux/cbppcore/internal/admin"
	"github.com/arcflux/cbppcore/internal/cbpp"
	"github.com/arcflux/cbppcore/internal/cbppsession"
	"github.com/arcflux/cbppcore/internal/config"
	"github.com/arcflux/cbppcore/internal/job"
	"github.com/arcflux/cbppcore/internal/module"
	"github.com/arcflux/cbppcore/internal/obslog"
)

// Service owns every long-lived subsystem for one CBPP process.
type Service struct {
	cfg     config.Config
	handler cbppsession.Handler

	pool     *job.Pool
	modules  *module.Manager
	builtins *module.BuiltinRegistry
	conns    *admin.ConnectionTracker
	admin    *admin.Server

	log zerolog.Logger

	listenAddr string

	mu       sync.Mutex
	sessions map[*cbppsession.Session]struct{}
}

// New builds a Service. handler processes every dispatched data message
// across every accepted session; listenAddr is the CBPP listener's bind
// address (e.g. ":9100"), independent of the admin surface's own bind
// address carried in cfg.
func New(cfg config.Config, listenAddr string, handler cbppsession.Handler) *Service {
	s := &Service{
		cfg:        cfg,
		handler:    handler,
		pool:       job.NewPool(64),
		modules:    module.NewManager(),
		builtins:   module.NewBuiltinRegistry(),
		conns:      admin.NewConnectionTracker(),
		log:        obslog.With("cbppd"),
		listenAddr: listenAddr,
		sessions:   make(map[*cbppsession.Session]struct{}),
	}
	registerBuiltins(s.builtins, s.pool)
	s.admin = admin.New(cfg.SystemHTTPPath, admin.Dependencies{
		Modules:      s.modules,
		Builtins:     s.builtins,
		Connections:  s.conns,
		AuthUserPass: cfg.SystemHTTPAuthUserPass,
		OnShutdown:   s.Shutdown,
		OnSetLogMask: func(toDisable, toEnable uint64) {
			s.log.Info().Uint64("to_disable", toDisable).Uint64("to_enable", toEnable).Msg("log mask change requested")
		},
	})
	return s
}

// Run starts the CBPP listener and the admin HTTP server, blocking until
// ctx is canceled or a SIGINT/SIGTERM arrives.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("cbppd: listen %s: %w", s.listenAddr, err)
	}
	defer ln.Close()

	adminAddr := fmt.Sprintf("%s:%d", s.cfg.SystemHTTPBind, s.cfg.SystemHTTPPort)
	adminSrv := &http.Server{Addr: adminAddr, Handler: s.admin.Handler()}

	go func() {
		s.log.Info().Str("addr", adminAddr).Msg("system http control surface listening")
		var err error
		if s.cfg.SystemHTTPCertificate != "" && s.cfg.SystemHTTPPrivateKey != "" {
			err = adminSrv.ListenAndServeTLS(s.cfg.SystemHTTPCertificate, s.cfg.SystemHTTPPrivateKey)
		} else {
			err = adminSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("admin http server exited")
		}
	}()

	go s.acceptLoop(ctx, ln)

	s.log.Info().Str("addr", s.listenAddr).Msg("cbpp listener started")
	<-ctx.Done()

	s.log.Info().Msg("shutting down")
	_ = ln.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adminSrv.Shutdown(shutdownCtx)

	s.modules.Stop(func() { time.Sleep(100 * time.Millisecond) })
	return nil
}

// Shutdown is wired to the admin surface's /sys/shutdown endpoint.
func (s *Service) Shutdown() {
	s.log.Warn().Msg("admin-triggered shutdown")
	p, err := os.FindProcess(os.Getpid())
	if err == nil {
		_ = p.Signal(syscall.SIGTERM)
	}
}

func (s *Service) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Info().Err(err).Msg("accept failed")
			continue
		}
		go s.serve(conn)
	}
}

func (s *Service) serve(conn net.Conn) {
	unregister := s.conns.Register(conn)
	defer unregister()

	sess := cbppsession.New(conn, s.handler, s.pool, cbppsession.Config{
		KeepAliveTimeout: s.cfg.KeepAliveTimeout,
		Limits:           cbpp.DefaultLimits(),
	})

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	if err := sess.Serve(); err != nil {
		s.log.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("session ended")
	}
}
