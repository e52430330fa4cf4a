package handlers

import (
	"context"
	"net/http"

	"certd/internal/logger"
	"certd/middleware"
)

// HealthCheck reports that the process is serving.
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadinessProbe reports whether a dependency can serve requests.
type ReadinessProbe func(ctx context.Context) error

// ReadinessCheck answers 503 naming the first probe that fails.
func ReadinessCheck(probes map[string]ReadinessProbe) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetRequestID(r.Context())
		for name, probe := range probes {
			if err := probe(r.Context()); err != nil {
				logger.HTTPError(r.Method, r.URL.Path, http.StatusServiceUnavailable, err).
					Str("request_id", requestID).
					Str("dependency", name).
					Msg("readiness check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "dependency": name})
				return
			}
		}
		logger.HTTPEvent(r.Method, r.URL.Path, http.StatusOK, 0).
			Str("request_id", requestID).
			Msg("readiness check")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
