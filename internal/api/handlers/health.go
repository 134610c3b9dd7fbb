package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/internal/storage"
)

type Health struct {
	checks storage.CheckStore
	logger *zap.Logger
}

func NewHealth(checks storage.CheckStore, logger *zap.Logger) *Health {
	return &Health{checks: checks, logger: logger.Named("health")}
}

// Check records one health-check row per accepted request.
func (h *Health) Check(c *gin.Context) {
	ev, err := h.checks.CreateCheck(c.Request.Context())
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		Unavailable(c)
		return
	}

	h.logger.Debug("health check recorded", zap.Int64("check_id", ev.ID))
	NoStore(c)
	c.Status(http.StatusOK)
}
