package file

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/cmd/middleware"
	"github.com/csye6225/webapp/internal/api/handlers"
	"github.com/csye6225/webapp/internal/models"
	"github.com/csye6225/webapp/internal/nats"
	"github.com/csye6225/webapp/internal/services"
)

// Upload stores the accepted file in the blob store and then records its
// metadata. If the metadata write fails the blob is deleted again.
func (h *Handler) Upload(c *gin.Context) {
	fh, ok := middleware.UploadedFile(c)
	if !ok {
		handlers.BadRequest(c)
		return
	}
	ctx := c.Request.Context()

	if err := h.scan(ctx, fh); err != nil {
		if errors.Is(err, services.ErrInfected) {
			h.logger.Warn("rejected infected upload", zap.String("filename", fh.Filename), zap.Error(err))
			handlers.BadRequest(c)
			return
		}
		h.logger.Error("failed to scan upload", zap.String("filename", fh.Filename), zap.Error(err))
		handlers.Unavailable(c)
		return
	}

	id := uuid.NewString()
	key := models.ObjectKey(id, fh.Filename)

	location, err := h.put(ctx, key, fh)
	if err != nil {
		h.logger.Error("failed to store blob", zap.String("key", key), zap.Error(err))
		handlers.Unavailable(c)
		return
	}

	record := models.FileRecord{
		ID:         id,
		Filename:   fh.Filename,
		S3Path:     location,
		UploadDate: models.Today(h.now()),
	}
	if err := h.files.CreateFile(ctx, record); err != nil {
		h.logger.Error("failed to save file metadata", zap.String("file_id", id), zap.Error(err))
		h.compensate(ctx, key)
		handlers.Unavailable(c)
		return
	}

	h.logger.Info("file uploaded", zap.String("file_id", id), zap.Int64("size", fh.Size))
	h.publish(ctx, nats.SubjectUploaded, record)
	c.JSON(http.StatusCreated, models.NewUploadResponse(record))
}

func (h *Handler) scan(ctx context.Context, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	return h.scanner.Scan(ctx, src)
}

func (h *Handler) put(ctx context.Context, key string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return h.blobs.Put(ctx, key, src, fh.Size, contentType)
}

// compensate removes a blob whose metadata row could not be written. It
// runs detached from request cancellation; a failure leaves an orphan that
// is logged with its key.
func (h *Handler) compensate(ctx context.Context, key string) {
	if err := h.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		h.logger.Error("orphaned blob after failed upload", zap.String("key", key), zap.Error(err))
		return
	}
	h.logger.Info("removed blob after failed upload", zap.String("key", key))
}
