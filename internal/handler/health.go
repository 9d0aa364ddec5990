package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/client"
)

var startTime = time.Now()

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// CheckResult represents an individual dependency check
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Latency string       `json:"latency,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// HealthResponse is the health check payload
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthHandler reports liveness and dependency readiness
type HealthHandler struct {
	db      *sql.DB
	redis   *client.RedisClient
	version string
}

func NewHealthHandler(db *sql.DB, redis *client.RedisClient, version string) *HealthHandler {
	return &HealthHandler{db: db, redis: redis, version: version}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]CheckResult{
		"database": h.checkDatabase(ctx),
		"redis":    h.checkRedis(ctx),
	}

	overall := HealthStatusHealthy
	status := http.StatusOK
	for _, c := range checks {
		if c.Status == HealthStatusUnhealthy {
			overall = HealthStatusUnhealthy
			status = http.StatusServiceUnavailable
			break
		}
		if c.Status == HealthStatusDegraded {
			overall = HealthStatusDegraded
		}
	}

	writeJSON(w, status, HealthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Checks:    checks,
	})
}

func (h *HealthHandler) checkDatabase(ctx context.Context) CheckResult {
	start := time.Now()
	if err := h.db.PingContext(ctx); err != nil {
		return CheckResult{Status: HealthStatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).String()}
}

// checkRedis reports degraded rather than unhealthy: the rate limiter fails
// open and risk lookups error per delivery, so the service still ingests.
func (h *HealthHandler) checkRedis(ctx context.Context) CheckResult {
	start := time.Now()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: HealthStatusDegraded, Error: err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start).String()}
}
