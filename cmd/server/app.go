package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/csye6225/webapp/internal/api"
	"github.com/csye6225/webapp/internal/api/handlers"
	"github.com/csye6225/webapp/internal/api/handlers/file"
	"github.com/csye6225/webapp/internal/configuration"
	"github.com/csye6225/webapp/internal/metrics"
	"github.com/csye6225/webapp/internal/nats"
	"github.com/csye6225/webapp/internal/services"
	"github.com/csye6225/webapp/internal/storage"
)

// app owns every long-lived collaborator so shutdown can release them in
// order: listeners first, then publishers and metrics, then storage.
type app struct {
	cfg    *configuration.Config
	logger *zap.Logger

	server        *http.Server
	metricsServer *http.Server

	store    storage.Store
	events   *nats.Client
	recorder metrics.Recorder
	closers  []func(context.Context) error
	tracing  bool
}

func newApp(ctx context.Context, cfg *configuration.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Blob.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	recorder, closers, err := newRecorder(cfg.Metrics, reg, loadAWS, logger)
	if err != nil {
		return nil, err
	}
	a.recorder = recorder
	a.closers = append(a.closers, closers...)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = storage.NewInstrumented(store, recorder)

	blobs, err := newBlobStore(ctx, cfg, loadAWS, logger)
	if err != nil {
		return nil, err
	}

	var publisher nats.Publisher = nats.Nop{}
	if cfg.NATSURL != "" {
		client, err := nats.Connect(cfg.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		a.events = client
		publisher = client
	}

	var scanner services.Scanner = services.NopScanner{}
	if cfg.CLAMAVURL != "" {
		scanner = services.NewClamAVScanner(cfg.CLAMAVURL, logger)
	}

	if cfg.Tracing.Enabled {
		tracer.Start(tracer.WithService(cfg.Tracing.Service), tracer.WithEnv(cfg.Tracing.Env))
		a.tracing = true
	}

	router := newRouter(cfg, a.tracing, api.Routes{
		Health: handlers.NewHealth(a.store, logger),
		Files: file.New(file.Deps{
			Files:      a.store,
			Blobs:      services.NewInstrumentedBlobStore(blobs, recorder),
			Scanner:    scanner,
			Events:     publisher,
			Logger:     logger,
			PresignTTL: cfg.Blob.PresignTTL,
		}),
		Recorder:       recorder,
		Logger:         logger,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if cfg.Server.MetricsPort != "" {
		a.metricsServer = &http.Server{
			Addr:              ":" + cfg.Server.MetricsPort,
			Handler:           newMetricsRouter(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return a, nil
}

func newRouter(cfg *configuration.Config, tracing bool, routes api.Routes) *gin.Engine {
	r := gin.New()
	if tracing {
		r.Use(gintrace.Middleware(cfg.Tracing.Service))
	}
	api.RegisterRoutes(r, routes)
	return r
}

func newMetricsRouter(reg *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	return r
}

func openStore(ctx context.Context, cfg *configuration.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		logger.Info("using in-memory storage", zap.String("snapshot", cfg.Storage.Snapshot))
		return storage.NewMemoryStorage(cfg.Storage.Snapshot)
	case "postgres":
		dsn := cfg.Database.ConnectionString()
		if err := storage.Migrate(dsn, logger); err != nil {
			return nil, err
		}
		return storage.Connect(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newBlobStore(ctx context.Context, cfg *configuration.Config, loadAWS func() (aws.Config, error), logger *zap.Logger) (services.BlobStore, error) {
	switch cfg.Blob.Backend {
	case "minio":
		return services.NewMinioStore(ctx, services.MinioConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			Region:    cfg.Blob.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
	case "s3":
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return services.NewS3Store(awsCfg, cfg.Blob.Bucket, cfg.Blob.Endpoint, logger), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}

// newRecorder fans metrics out to Prometheus and to whichever of StatsD and
// CloudWatch are configured.
func newRecorder(cfg configuration.MetricsConfig, reg prometheus.Registerer, loadAWS func() (aws.Config, error), logger *zap.Logger) (metrics.Recorder, []func(context.Context) error, error) {
	recorders := metrics.Multi{metrics.NewPrometheus(reg)}
	var closers []func(context.Context) error

	if cfg.StatsDAddr != "" {
		s, err := metrics.DialStatsD(cfg.StatsDAddr, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create statsd client: %w", err)
		}
		recorders = append(recorders, s)
		closers = append(closers, func(context.Context) error { return s.Close() })
	}

	if cfg.CloudWatchEnabled {
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, nil, err
		}
		cw := metrics.NewCloudWatch(cloudwatch.NewFromConfig(awsCfg), cfg.CloudWatchNamespace, logger)
		recorders = append(recorders, cw)
		closers = append(closers, cw.Close)
	}
	return recorders, closers, nil
}

func (a *app) start() {
	go func() {
		a.logger.Info("server starting", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server failed", zap.Error(err))
		}
	}()
	if a.metricsServer != nil {
		go func() {
			a.logger.Info("metrics server starting", zap.String("addr", a.metricsServer.Addr))
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Fatal("metrics server failed", zap.Error(err))
			}
		}()
	}
}

// shutdown drains the public listener and then releases collaborators.
func (a *app) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.events != nil {
		if err := a.events.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("nats: %w", err))
		}
	}
	for _, closeFn := range a.closers {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if a.tracing {
		tracer.Stop()
	}
	return errors.Join(errs...)
}

func (a *app) shutdownMetrics(ctx context.Context) error {
	if a.metricsServer == nil {
		return nil
	}
	return a.metricsServer.Shutdown(ctx)
}
