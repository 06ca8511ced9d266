package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/molident/pkg/errors"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// Server runs the operations endpoint in the background of a command.
type Server struct {
	srv *http.Server
	log logging.Logger

	mu   sync.Mutex
	addr net.Addr
	done chan struct{}
}

// NewServer creates a server for addr. Port 0 picks a free port; Addr
// reports it once Start returned.
func NewServer(addr string, handler http.Handler, log logging.Logger) *Server {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// Start binds the listener and serves in a new goroutine. Bind errors are
// returned; serve errors are logged.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.ErrCodeServiceUnavailable, "listen on %s", s.srv.Addr)
	}

	s.mu.Lock()
	s.addr = lis.Addr()
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("operations server error", logging.Err(err))
		}
	}()
	s.log.Info("operations server listening", logging.String("addr", lis.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Stop shuts the server down, waiting at most the default shutdown timeout
// for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "operations server shutdown")
	}
	<-done
	s.log.Info("operations server stopped")
	return nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}
