package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a Prometheus gatherer on its own port, apart from the API
// listener.
type Server struct {
	http     *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// StartServer binds port and serves /metrics from the default gatherer. A
// bind failure is returned immediately; port 0 picks a free port.
func StartServer(port int) (*Server, error) {
	return StartServerFor(prometheus.DefaultGatherer, port)
}

// StartServerFor is StartServer for a specific gatherer.
func StartServerFor(g prometheus.Gatherer, port int) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("binding metrics port %d: %w", port, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "library catalog metrics: GET /metrics")
	})

	s := &Server{
		http: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		listener: ln,
		logger:   slog.Default().With("component", "metrics-server"),
	}
	go func() {
		s.logger.Info("metrics server listening", "addr", ln.Addr().String())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return s, nil
}

// Addr is the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
