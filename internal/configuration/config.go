package configuration

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Blob      BlobConfig
	MinIO     MinIOConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
	NATSURL   string
	CLAMAVURL string
}

type ServerConfig struct {
	Port            string        `validate:"required,numeric"`
	MetricsPort     string        `validate:"omitempty,numeric,nefield=Port"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	MaxUploadBytes  int64         `validate:"gt=0"`
}

type StorageConfig struct {
	Backend  string `validate:"oneof=postgres memory"`
	Snapshot string
}

type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	User     string `validate:"required"`
	Password string
	DBName   string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

type BlobConfig struct {
	Backend    string        `validate:"oneof=s3 minio"`
	Bucket     string        `validate:"required"`
	Region     string        `validate:"required"`
	Endpoint   string        `validate:"omitempty,url"`
	PresignTTL time.Duration `validate:"gt=0"`
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type MetricsConfig struct {
	StatsDAddr          string
	CloudWatchEnabled   bool
	CloudWatchNamespace string `validate:"required_if=CloudWatchEnabled true"`
}

type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn error"`
	File  string
}

type TracingConfig struct {
	Enabled bool
	Service string
	Env     string
}

// Load reads the process environment, after merging any .env file found in
// the working directory, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	shutdownTimeout, err := getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	presignTTL, err := getEnvDuration("PRESIGN_TTL", 60*time.Second)
	if err != nil {
		return nil, err
	}
	maxUpload, err := getEnvInt64("MAX_UPLOAD_BYTES", 32<<20)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			MetricsPort:     getEnv("METRICS_PORT", "9090"),
			ShutdownTimeout: shutdownTimeout,
			MaxUploadBytes:  maxUpload,
		},
		Storage: StorageConfig{
			Backend:  getEnv("STORAGE_BACKEND", "postgres"),
			Snapshot: getEnv("STORAGE_SNAPSHOT", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "webapp"),
			Password: getEnv("DB_PASSWORD", "webapp"),
			DBName:   getEnv("DB_NAME", "webapp"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Blob: BlobConfig{
			Backend:    getEnv("BLOB_BACKEND", "s3"),
			Bucket:     getEnv("S3_BUCKET", "webapp-files"),
			Region:     getEnv("AWS_REGION", "us-east-1"),
			Endpoint:   getEnv("S3_ENDPOINT", ""),
			PresignTTL: presignTTL,
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
			UseSSL:    getEnv("MINIO_USE_SSL", "false") == "true",
		},
		Metrics: MetricsConfig{
			StatsDAddr:          getEnv("STATSD_ADDR", "localhost:8125"),
			CloudWatchEnabled:   getEnv("CLOUDWATCH_ENABLED", "false") == "true",
			CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "CSYE6225/WebApp"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		Tracing: TracingConfig{
			Enabled: getEnv("DD_TRACE_ENABLED", "false") == "true",
			Service: getEnv("DD_SERVICE", "webapp"),
			Env:     getEnv("DD_ENV", ""),
		},
		NATSURL:   getEnv("NATS_URL", ""),
		CLAMAVURL: getEnv("CLAMAV_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags on every section.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ConnectionString renders a postgres URL with the credentials escaped.
func (c *DatabaseConfig) ConnectionString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// getEnv returns defaultValue only when key is unset, so an explicitly empty
// value can switch an optional integration off.
func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
