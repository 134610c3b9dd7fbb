package file

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/internal/api/handlers"
	"github.com/csye6225/webapp/internal/nats"
	"github.com/csye6225/webapp/internal/storage"
)

// Delete removes the blob first and the metadata row second.
func (h *Handler) Delete(c *gin.Context) {
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

	if err := h.blobs.Delete(ctx, record.ObjectKey()); err != nil {
		h.logger.Error("failed to delete blob", zap.String("file_id", id), zap.Error(err))
		handlers.Unavailable(c)
		return
	}

	err = h.files.DeleteFile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		// a concurrent delete removed the row first
		h.logger.Warn("file already deleted", zap.String("file_id", id))
		handlers.NotFound(c)
		return
	}
	if err != nil {
		h.logger.Error("failed to delete file metadata", zap.String("file_id", id), zap.Error(err))
		handlers.Unavailable(c)
		return
	}

	h.logger.Info("file deleted", zap.String("file_id", id))
	h.publish(ctx, nats.SubjectDeleted, record)
	c.Status(http.StatusNoContent)
}
