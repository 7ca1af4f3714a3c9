package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kompomir/servicebot/core/logger"
)

// Server exposes the metrics handler and a health endpoint over HTTP.
type Server struct {
	listen  string
	path    string
	metrics *Metrics

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewServer creates a metrics server; an empty path selects /metrics.
func NewServer(listen, path string, m *Metrics) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{listen: listen, path: path, metrics: m}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("metrics: server already running")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", s.listen, err)
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.server = srv
	s.addr = ln.Addr()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), logger.Metrics, "serve.error", slog.String("err", err.Error()))
		}
	}()
	logger.Info(context.Background(), logger.Metrics, "serve.start",
		slog.String("listen", s.addr.String()),
		slog.String("path", s.path),
	)
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
