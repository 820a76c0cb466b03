package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/meridianerp/meridian/pkg/contextkeys"
	"github.com/meridianerp/meridian/pkg/observability"
)

// RequestMiddleware assigns each request an ID, attaches a contextual
// logger, and records latency and status metrics.
type RequestMiddleware struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRequestMiddleware creates request logging middleware
func NewRequestMiddleware(logger *observability.Logger, metrics *observability.Metrics) *RequestMiddleware {
	return &RequestMiddleware{logger: logger, metrics: metrics}
}

// Handle wraps the next handler with request ID propagation, structured
// access logging, and request metrics.
func (m *RequestMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		logger := m.logger.WithFields(map[string]interface{}{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
		})

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		ctx = observability.WithLogger(ctx, logger)

		w.Header().Set("X-Request-ID", requestID)
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(recorder, r.WithContext(ctx))
		duration := time.Since(start)

		if m.metrics != nil {
			m.metrics.ObserveRequest(r.Method, routeTemplate(r), recorder.status, duration)
		}

		logger.WithFields(map[string]interface{}{
			"status":      recorder.status,
			"duration_ms": duration.Milliseconds(),
		}).Info("request completed")
	})
}

// routeTemplate returns the mux route pattern so metrics labels stay
// low-cardinality, falling back to the raw path outside the router.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
