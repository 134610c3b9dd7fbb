package file

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/internal/api/handlers"
	"github.com/csye6225/webapp/internal/models"
	"github.com/csye6225/webapp/internal/storage"
)

// Get returns a file's metadata with a short-lived download URL.
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")
	if !validID(id) {
		h.logger.Warn("file not found", zap.String("file_id", id))
		handlers.NotFound(c)
		return
	}
	ctx := c.Request.Context()

	record, err := h.files.GetFile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("file not found", zap.String("file_id", id))
		handlers.NotFound(c)
		return
	}
	if err != nil {
		h.logger.Error("failed to get file metadata", zap.String("file_id", id), zap.Error(err))
		handlers.Unavailable(c)
		return
	}

	url, err := h.blobs.PresignGet(ctx, record.ObjectKey(), h.presignTTL)
	if err != nil {
		h.logger.Error("failed to presign download", zap.String("file_id", id), zap.Error(err))
		handlers.Unavailable(c)
		return
	}

	h.logger.Info("file metadata retrieved", zap.String("file_id", id))
	c.JSON(http.StatusOK, models.NewFileResponse(record, url))
}
