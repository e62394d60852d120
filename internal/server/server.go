// Package server exposes the executor over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/engine"
	"github.com/harshithgowdakt/partdb/internal/metrics"
)

// Server is the partdb HTTP server.
type Server struct {
	addr    string
	handler *QueryHandler
	router  *httprouter.Router
	log     *logrus.Entry
}

// NewServer creates a new server. gatherer is served on /metrics when it
// is not nil.
func NewServer(exec *engine.Executor, addr string, m *metrics.Metrics, gatherer prometheus.Gatherer, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		addr:    addr,
		handler: NewQueryHandler(exec, m, log),
		router:  httprouter.New(),
		log:     log,
	}
	s.router.GET("/", s.handler.HandleQuery)
	s.router.POST("/", s.handler.HandleQuery)
	s.router.GET("/ping", s.handler.HandlePing)
	s.router.GET("/tables/:name/partitions", s.handler.HandlePartitions)
	if gatherer != nil {
		s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve serves on l until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{Handler: s, ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("http shutdown")
		}
	}()

	s.log.Infof("partdb server listening on %s", l.Addr())
	err := srv.Serve(l)
	if err == http.ErrServerClosed {
		<-done
		return nil
	}
	return err
}
