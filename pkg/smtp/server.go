package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/Notifuse/dispatch/pkg/logger"
)

// Server is an in-process SMTP server capturing every message it receives
type Server struct {
	server  *smtp.Server
	backend *Backend
	logger  logger.Logger
	addr    string

	mu       sync.Mutex
	listener net.Listener
	closing  bool
}

// ServerConfig holds the configuration for the SMTP server
type ServerConfig struct {
	Host      string
	Port      int
	Domain    string
	TLSConfig *tls.Config
	Logger    logger.Logger
}

// NewServer creates a new SMTP server with the given configuration. Port 0 picks a free port.
func NewServer(cfg ServerConfig, backend *Backend) *Server {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))

	s := smtp.NewServer(backend)
	s.Addr = addr
	s.Domain = cfg.Domain
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	s.MaxMessageBytes = 10 * 1024 * 1024
	s.MaxRecipients = 50
	s.TLSConfig = cfg.TLSConfig
	s.AllowInsecureAuth = cfg.TLSConfig == nil

	return &Server{
		server:  s,
		backend: backend,
		logger:  cfg.Logger,
		addr:    addr,
	}
}

// Backend returns the capture backend
func (s *Server) Backend() *Backend {
	return s.backend
}

// Listen binds the server address and returns the bound address
func (s *Server) Listen() (net.Addr, error) {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"addr": listener.Addr().String(),
		"tls":  s.server.TLSConfig != nil,
	}).Info("SMTP capture server listening")
	return listener.Addr(), nil
}

// Serve accepts connections until Shutdown, Listen must have been called
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("SMTP capture server is not listening")
	}

	err := s.server.Serve(listener)

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	// Serve reports the closed listener after Shutdown
	if err != nil && !closing {
		return fmt.Errorf("SMTP server error: %w", err)
	}
	return nil
}

// Start listens and serves, it blocks until Shutdown
func (s *Server) Start() error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown closes the listener and every open connection
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.server.Close()
	}()

	select {
	case err := <-done:
		s.mu.Lock()
		s.listener = nil
		s.mu.Unlock()
		if err != nil {
			s.logger.WithField("error", err.Error()).Warn("SMTP capture server closed with an error")
			return err
		}
		s.logger.Info("SMTP capture server shut down")
		return nil
	case <-ctx.Done():
		s.logger.Warn("SMTP server shutdown timeout exceeded")
		return ctx.Err()
	}
}
