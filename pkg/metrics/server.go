package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbihost/dbihost/internal/logger"
)

// Server exposes the registered metrics over HTTP at /metrics. It mirrors
// the storage server's auxiliary-HTTP-server lifecycle: Start blocks until
// the context is cancelled or the listener fails, Stop shuts it down
// gracefully.
type Server struct {
	addr   string
	srv    *http.Server
	listen net.Listener
}

// NewServer creates a metrics server bound to addr (e.g. ":9090").
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(GetRegistry(), promhttp.HandlerOpts{}))

	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start binds the listener and serves until ctx is cancelled or the server
// fails. It blocks.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics: listen on %s: %w", s.addr, err)
	}
	s.listen = ln

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Port returns the TCP port the listener is bound to, or 0 if not started.
func (s *Server) Port() int {
	if s.listen == nil {
		return 0
	}
	if tcpAddr, ok := s.listen.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}
