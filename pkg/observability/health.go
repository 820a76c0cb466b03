package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// HealthChecker provides liveness and readiness probes backed by the
// service's two runtime dependencies: the membership database and the
// permission cache.
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{
		db:    db,
		redis: redis,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns 200 whenever the process is serving requests.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	})
}

// Readiness checks dependencies. A failing database marks the service
// unhealthy; a failing cache only degrades it because permission checks
// fall back to direct database queries.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	dbStatus := h.checkDatabase(ctx)
	status.Dependencies["database"] = dbStatus
	if dbStatus.Status != StatusHealthy {
		status.Status = StatusUnhealthy
	}

	redisStatus := h.checkRedis(ctx)
	status.Dependencies["redis"] = redisStatus
	if redisStatus.Status != StatusHealthy && status.Status == StatusHealthy {
		status.Status = StatusDegraded
	}

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	if h.db == nil {
		return DependencyStatus{Status: StatusUnhealthy, Message: "not configured"}
	}

	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return DependencyStatus{Status: StatusUnhealthy, Message: err.Error(), Latency: latency}
	}
	return DependencyStatus{Status: StatusHealthy, Latency: latency}
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	if h.redis == nil {
		return DependencyStatus{Status: StatusUnhealthy, Message: "not configured"}
	}

	start := time.Now()
	err := h.redis.Ping(ctx).Err()
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return DependencyStatus{Status: StatusUnhealthy, Message: err.Error(), Latency: latency}
	}
	return DependencyStatus{Status: StatusHealthy, Latency: latency}
}
