package storage

import (
	"context"
	"time"

	"github.com/csye6225/webapp/internal/metrics"
	"github.com/csye6225/webapp/internal/models"
)

// Instrumented times every call on the wrapped Store as a DB metric.
type Instrumented struct {
	next     Store
	recorder metrics.Recorder
}

func NewInstrumented(next Store, recorder metrics.Recorder) *Instrumented {
	return &Instrumented{next: next, recorder: recorder}
}

func (s *Instrumented) CreateCheck(ctx context.Context) (models.HealthCheckEvent, error) {
	defer metrics.ObserveDB(s.recorder, QueryInsert, time.Now())
	return s.next.CreateCheck(ctx)
}

func (s *Instrumented) CreateFile(ctx context.Context, f models.FileRecord) error {
	defer metrics.ObserveDB(s.recorder, QueryInsert, time.Now())
	return s.next.CreateFile(ctx, f)
}

func (s *Instrumented) GetFile(ctx context.Context, id string) (models.FileRecord, error) {
	defer metrics.ObserveDB(s.recorder, QuerySelect, time.Now())
	return s.next.GetFile(ctx, id)
}

func (s *Instrumented) DeleteFile(ctx context.Context, id string) error {
	defer metrics.ObserveDB(s.recorder, QueryDelete, time.Now())
	return s.next.DeleteFile(ctx, id)
}

func (s *Instrumented) Close() error {
	return s.next.Close()
}
