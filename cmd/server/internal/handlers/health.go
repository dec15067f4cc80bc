package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// HealthHandler reports service health including backing dependencies.
type HealthHandler struct {
	db     *sqlx.DB
	redis  *redis.Client
	logger *zap.Logger
}

// NewHealthHandler creates the health handler. redis may be nil.
func NewHealthHandler(db *sqlx.DB, rdb *redis.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, redis: rdb, logger: logger}
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "healthy", Services: map[string]string{}}

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Warn("Health check: database unreachable", zap.Error(err))
		resp.Services["database"] = "unhealthy"
		resp.Status = "degraded"
	} else {
		resp.Services["database"] = "healthy"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			h.logger.Warn("Health check: redis unreachable", zap.Error(err))
			resp.Services["redis"] = "unhealthy"
			resp.Status = "degraded"
		} else {
			resp.Services["redis"] = "healthy"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
