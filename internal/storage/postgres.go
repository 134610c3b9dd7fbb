package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStorage keeps checks and file metadata in PostgreSQL.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// Connect opens a pooled connection to dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger = logger.Named("postgres")
	logger.Info("connected to PostgreSQL")
	return &PostgresStorage{db: db, logger: logger}, nil
}

// Migrate applies the embedded schema migrations to dsn.
func Migrate(dsn string, logger *zap.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func (p *PostgresStorage) CreateCheck(ctx context.Context) (models.HealthCheckEvent, error) {
	var ev models.HealthCheckEvent
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO checks DEFAULT VALUES RETURNING check_id, datetime`,
	).Scan(&ev.ID, &ev.DateTime)
	if err != nil {
		return models.HealthCheckEvent{}, fmt.Errorf("failed to insert check: %w", err)
	}
	return ev, nil
}

func (p *PostgresStorage) CreateFile(ctx context.Context, f models.FileRecord) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO files (file_id, filename, s3_path, upload_date) VALUES ($1, $2, $3, $4)`,
		f.ID, f.Filename, f.S3Path, f.UploadDate,
	)
	if err != nil {
		return fmt.Errorf("failed to insert file %s: %w", f.ID, err)
	}
	return nil
}

func (p *PostgresStorage) GetFile(ctx context.Context, id string) (models.FileRecord, error) {
	var f models.FileRecord
	err := p.db.QueryRowContext(ctx,
		`SELECT file_id, filename, s3_path, upload_date FROM files WHERE file_id = $1`, id,
	).Scan(&f.ID, &f.Filename, &f.S3Path, &f.UploadDate)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FileRecord{}, ErrNotFound
	}
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to get file %s: %w", id, err)
	}
	f.UploadDate = models.Today(f.UploadDate)
	return f, nil
}

func (p *PostgresStorage) DeleteFile(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM files WHERE file_id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStorage) Close() error {
	return p.db.Close()
}
