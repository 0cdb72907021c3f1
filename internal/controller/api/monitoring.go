package api

import (
	"context"
	"net/http"
	_ "net/http/pprof"

	"github.com/syncstack/crm-connector/internal/config"
	"github.com/syncstack/crm-connector/internal/platform/logger"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck reports whether the service can currently do useful
// work.  A nil check means always ready.
type ReadinessCheck func(ctx context.Context) error

type MonitoringServer struct {
	router    *mux.Router
	config    *config.Config
	readiness ReadinessCheck
}

func NewMonitoringServer(r *mux.Router, cfg *config.Config, readiness ReadinessCheck) *MonitoringServer {
	return &MonitoringServer{
		router:    r,
		config:    cfg,
		readiness: readiness,
	}
}

func (s *MonitoringServer) Routes() {
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/liveness", s.handleLiveness()).Methods(http.MethodGet)
	s.router.HandleFunc("/readiness", s.handleReadiness()).Methods(http.MethodGet)

	if s.config.Profile {
		logger.Log.Warn("WARNING: Enabling the profiler endpoint!!")
		s.router.PathPrefix("/debug").Handler(http.DefaultServeMux)
	}
}

func (s *MonitoringServer) handleLiveness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

func (s *MonitoringServer) handleReadiness() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if s.readiness != nil {
			if err := s.readiness(req.Context()); err != nil {
				logger.Log.Warn("Readiness check failed: ", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
