package api

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/audiobooks/authd/internal/db"
)

// HealthHandler reports whether the store backing the service is reachable.
type HealthHandler struct {
	database *gorm.DB
	logger   *zap.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(database *gorm.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{database: database, logger: logger.Named("health_handler")}
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// Health handles GET /health. It never requires a session — a load balancer
// or orchestrator is expected to poll it unauthenticated. It reports only
// whether db.Ping succeeds; the schema version and user count from
// db.Verify are not included.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), h.database); err != nil {
		h.logger.Warn("health check: store unreachable", zap.Error(err))
		JSON(w, http.StatusServiceUnavailable, envelope{"data": healthResponse{Status: "unavailable", Store: "unreachable"}})
		return
	}
	Ok(w, healthResponse{Status: "ok", Store: "reachable"})
}
