package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gaiageo/gaia/internal/storage"
)

// HealthHandler reports the health of the service dependencies.
type HealthHandler struct {
	db    *gorm.DB
	store storage.ObjectStorage
}

// NewHealthHandler creates a new health handler.
// Parameters:
//   - db: database handle to ping.
//   - store: object storage to probe.
// Returns:
//   - *HealthHandler: initialized handler.
func NewHealthHandler(db *gorm.DB, store storage.ObjectStorage) *HealthHandler {
	return &HealthHandler{db: db, store: store}
}

// Health handles GET /health. Reports per-dependency status; 503 when any
// dependency is down.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbOK := false
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			dbOK = sqlDB.PingContext(ctx) == nil
		}
	}

	storageOK := false
	if h.store != nil {
		_, err := h.store.Exists(ctx, "healthcheck")
		storageOK = err == nil
	}

	status := "healthy"
	code := http.StatusOK
	if !dbOK || !storageOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"database":  dbOK,
		"storage":   storageOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
