package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perpbot/internal/ports"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusFunc returns a JSON-encodable view of the engine.
type StatusFunc func() interface{}

// Server serves /metrics and /healthz.
type Server struct {
	addr   string
	status StatusFunc
	logger ports.Logger
	router *mux.Router
}

// NewServer creates the metrics server.
func NewServer(addr string, status StatusFunc, logger ports.Logger) *Server {
	s := &Server{addr: addr, status: status, logger: logger}
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var body interface{} = map[string]string{"status": "ok"}
	if s.status != nil {
		body = s.status()
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(r.Context(), err, "Failed to encode health response")
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": s.addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
