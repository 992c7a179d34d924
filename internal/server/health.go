package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/leslieo2/go-template-reload/internal/constants"
	"github.com/leslieo2/go-template-reload/internal/observability"
)

// healthHandler reports liveness along with the state of the watcher and
// the template snapshot.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.StartSpan(r.Context(), "health_check")
	defer span.End()

	env := s.reloader.Current()
	health := observability.NewHealthStatus(Version, s.startTime, map[string]bool{
		"watcher":   s.manager.IsRunning(),
		"templates": env != nil && s.reloader.LastError() == nil,
	})

	metrics := map[string]interface{}{
		"open_streams": s.OpenStreams(),
		"subscribers":  s.manager.Hub().SubscriberCount(),
		"listeners":    s.manager.Hub().ListenerCount(),
	}
	if env != nil {
		metrics["generation"] = env.Generation()
		metrics["templates"] = env.Len()
		metrics["built_at"] = env.BuiltAt().Format(time.RFC3339Nano)
	}
	if reloadErr := s.reloader.LastError(); reloadErr != nil {
		metrics["last_error"] = reloadErr.Error()
	}
	health.Metrics = metrics

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(health)

	s.logger.Debug("Health check completed",
		zap.String("status", health.Status),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// readinessHandler reports ready once a template snapshot is being served.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.StartSpan(r.Context(), "readiness_check")
	defer span.End()

	ready := s.reloader.Current() != nil

	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	if ready {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
	}

	s.logger.Debug("Readiness check completed", zap.Bool("ready", ready))
}
