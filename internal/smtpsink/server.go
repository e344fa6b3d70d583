// Package smtpsink runs a local SMTP relay that accepts authenticated
// submissions and hands them to a transport. It can inject auth refusals
// and throttling replies so relay failover can be rehearsed end to end.
package smtpsink

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shineum/mail-dispatch/internal/transport"
)

// shutdownTimeout bounds the wait for in-flight sessions on shutdown.
const shutdownTimeout = 30 * time.Second

// defaultMaxMessageSize is advertised with the SIZE extension.
const defaultMaxMessageSize = 10 * 1024 * 1024

// Config holds the configuration for a sink.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:2525").
	ListenAddr string

	// Hostname is used in the greeting and EHLO responses.
	Hostname string

	// Transport receives every accepted message.
	Transport transport.Transport

	// TLSConfig enables STARTTLS when set.
	TLSConfig *tls.Config

	// Username and Password configure SMTP AUTH. Both empty disables AUTH.
	Username string
	Password string

	// RejectAuth refuses every AUTH attempt with 535.
	RejectAuth bool

	// ThrottleEvery answers every Nth message with 451 instead of accepting it.
	ThrottleEvery int

	MaxMessageSize int

	Logger *slog.Logger
}

// Server is the relay sink.
type Server struct {
	config Config
	creds  *credentials
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener

	messages atomic.Int64
	accepted atomic.Int64

	// wg tracks in-flight session goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a sink with the given configuration.
func New(cfg Config) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		config: cfg,
		creds: &credentials{
			username:  cfg.Username,
			password:  cfg.Password,
			rejectAll: cfg.RejectAuth,
		},
		logger: logger,
	}
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then waits up to
// 30 seconds for in-flight sessions to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	transportName := ""
	if s.config.Transport != nil {
		transportName = s.config.Transport.Name()
	}
	s.logger.Info("relay sink listening",
		"addr", ln.Addr().String(),
		"transport", transportName,
		"auth_enabled", s.creds.enabled(),
		"tls_enabled", s.config.TLSConfig != nil,
		"reject_auth", s.config.RejectAuth,
		"throttle_every", s.config.ThrottleEvery,
	)

	stop := context.AfterFunc(ctx, func() {
		s.logger.Info("shutting down relay sink")
		ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.waitForSessions()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				s.waitForSessions()
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s).handle(ctx)
		}()
	}
}

// waitForSessions waits for in-flight sessions, giving up after shutdownTimeout.
func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all sessions completed")
	case <-time.After(shutdownTimeout):
		s.logger.Warn("shutdown timeout reached, forcing close")
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Accepted returns the number of messages handed to the transport.
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// throttleNext counts a DATA submission and reports whether it should be
// refused under the ThrottleEvery setting.
func (s *Server) throttleNext() bool {
	n := s.messages.Add(1)
	every := int64(s.config.ThrottleEvery)
	return every > 0 && n%every == 0
}
