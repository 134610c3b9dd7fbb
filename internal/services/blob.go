package services

import (
	"context"
	"io"
	"time"

	"github.com/csye6225/webapp/internal/metrics"
)

// BlobStore holds uploaded file bytes keyed by object key.
type BlobStore interface {
	// Put stores r under key and returns the location recorded as s3Path.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Blob operation names used for timing metrics.
const (
	OpUpload  = "upload"
	OpDelete  = "delete"
	OpPresign = "presign"
)

// InstrumentedBlobStore times every call on the wrapped BlobStore.
type InstrumentedBlobStore struct {
	next     BlobStore
	recorder metrics.Recorder
}

func NewInstrumentedBlobStore(next BlobStore, recorder metrics.Recorder) *InstrumentedBlobStore {
	return &InstrumentedBlobStore{next: next, recorder: recorder}
}

func (b *InstrumentedBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	defer metrics.ObserveBlob(b.recorder, OpUpload, time.Now())
	return b.next.Put(ctx, key, r, size, contentType)
}

func (b *InstrumentedBlobStore) Delete(ctx context.Context, key string) error {
	defer metrics.ObserveBlob(b.recorder, OpDelete, time.Now())
	return b.next.Delete(ctx, key)
}

func (b *InstrumentedBlobStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	defer metrics.ObserveBlob(b.recorder, OpPresign, time.Now())
	return b.next.PresignGet(ctx, key, ttl)
}
