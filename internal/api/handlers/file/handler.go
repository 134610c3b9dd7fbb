// Package file serves the /v1/file routes: upload, retrieve and delete.
package file

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/internal/models"
	"github.com/csye6225/webapp/internal/nats"
	"github.com/csye6225/webapp/internal/services"
	"github.com/csye6225/webapp/internal/storage"
)

const defaultPresignTTL = 60 * time.Second

// Deps are the collaborators a Handler is built from. Scanner, Events and
// Now are optional.
type Deps struct {
	Files      storage.FileStore
	Blobs      services.BlobStore
	Scanner    services.Scanner
	Events     nats.Publisher
	Logger     *zap.Logger
	PresignTTL time.Duration
	Now        func() time.Time
}

type Handler struct {
	files      storage.FileStore
	blobs      services.BlobStore
	scanner    services.Scanner
	events     nats.Publisher
	logger     *zap.Logger
	presignTTL time.Duration
	now        func() time.Time
}

func New(d Deps) *Handler {
	h := &Handler{
		files:      d.Files,
		blobs:      d.Blobs,
		scanner:    d.Scanner,
		events:     d.Events,
		logger:     d.Logger,
		presignTTL: d.PresignTTL,
		now:        d.Now,
	}
	if h.scanner == nil {
		h.scanner = services.NopScanner{}
	}
	if h.events == nil {
		h.events = nats.Nop{}
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.presignTTL <= 0 {
		h.presignTTL = defaultPresignTTL
	}
	if h.now == nil {
		h.now = time.Now
	}
	h.logger = h.logger.Named("file")
	return h
}

// validID reports whether id could have been generated by an upload.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (h *Handler) publish(ctx context.Context, subject string, f models.FileRecord) {
	ev := nats.Event{
		FileID:     f.ID,
		ObjectKey:  f.ObjectKey(),
		Filename:   f.Filename,
		OccurredAt: h.now().UTC(),
	}
	if err := h.events.Publish(ctx, subject, ev); err != nil {
		h.logger.Warn("failed to publish event", zap.String("subject", subject), zap.String("file_id", f.ID), zap.Error(err))
	}
}
