package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/cr4wler/internal/logging"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

const healthCheckTimeout = 5 * time.Second

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// RuntimeStats exposes process uptime and the last system metrics refresh.
type RuntimeStats interface {
	GetUptime() time.Duration
	GetLastUpdate() time.Time
}

// HealthHandler handles health, liveness and version endpoints.
type HealthHandler struct {
	database  DatabasePinger
	stats     RuntimeStats
	logger    *logging.Logger
	startTime time.Time
}

// NewHealthHandler creates a new health handler. database may be nil.
func NewHealthHandler(database DatabasePinger, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		database:  database,
		logger:    logger.WithFields("handler", "health"),
		startTime: time.Now(),
	}
}

// WithRuntimeStats reports uptime and metrics freshness from stats.
func (h *HealthHandler) WithRuntimeStats(stats RuntimeStats) *HealthHandler {
	h.stats = stats
	return h
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status         string            `json:"status"`
	Timestamp      time.Time         `json:"timestamp"`
	Uptime         string            `json:"uptime"`
	MetricsUpdated *time.Time        `json:"metrics_updated,omitempty"`
	Checks         map[string]string `json:"checks"`
}

// LivenessResponse represents a simple liveness check response.
type LivenessResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health reports whether the store is reachable. An unreachable store
// answers 503.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    h.uptime().String(),
		Checks:    make(map[string]string),
	}

	if h.stats != nil {
		if last := h.stats.GetLastUpdate(); !last.IsZero() {
			last = last.UTC()
			response.MetricsUpdated = &last
			response.Checks["metrics"] = "ok"
		} else {
			response.Checks["metrics"] = "pending"
		}
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			response.Status = StatusUnhealthy
			response.Checks["database"] = "failed: " + err.Error()
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = StatusNotConfigured
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}

// Liveness performs a simple liveness check without dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC(),
		Uptime:    h.uptime().String(),
	})
}

func (h *HealthHandler) uptime() time.Duration {
	if h.stats != nil {
		return h.stats.GetUptime()
	}
	return time.Since(h.startTime)
}

// Version returns build information.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}

// Build information, set via SetBuildInfo from ldflags values.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// SetBuildInfo sets build information (called by main package).
func SetBuildInfo(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}
