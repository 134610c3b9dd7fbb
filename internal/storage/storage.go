package storage

import (
	"context"
	"errors"

	"github.com/csye6225/webapp/internal/models"
)

// ErrNotFound is returned by lookups and deletes that match no row.
var ErrNotFound = errors.New("record not found")

// CheckStore persists health-check events.
type CheckStore interface {
	CreateCheck(ctx context.Context) (models.HealthCheckEvent, error)
}

// FileStore persists file metadata. There is no update.
type FileStore interface {
	CreateFile(ctx context.Context, f models.FileRecord) error
	GetFile(ctx context.Context, id string) (models.FileRecord, error)
	DeleteFile(ctx context.Context, id string) error
}

// Store is what a storage backend provides to the process.
type Store interface {
	CheckStore
	FileStore
	Close() error
}

// Query types used for DB timing metrics.
const (
	QueryInsert = "INSERT"
	QuerySelect = "SELECT"
	QueryDelete = "DELETE"
)
