package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/csye6225/webapp/cmd/middleware"
	"github.com/csye6225/webapp/internal/api/handlers"
	"github.com/csye6225/webapp/internal/api/handlers/file"
	"github.com/csye6225/webapp/internal/metrics"
)

// Methods every route answers, allowed or not.
var allMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodOptions,
	http.MethodTrace,
}

type Routes struct {
	Health         *handlers.Health
	Files          *file.Handler
	Recorder       metrics.Recorder
	Logger         *zap.Logger
	MaxUploadBytes int64
}

// RegisterRoutes installs request telemetry, panic recovery and the route
// table on r. Every
// method a route does not serve, and every unknown path, answers 405.
func RegisterRoutes(r *gin.Engine, rt Routes) {
	logger := rt.Logger.Named("router")
	r.HandleMethodNotAllowed = true
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.Telemetry(rt.Recorder, rt.Logger))
	// inside telemetry so a recovered panic is still measured and logged
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		handlers.Unavailable(c)
	}))

	health := middleware.HealthzGuard(rt.Logger)
	upload := middleware.UploadGuard(rt.MaxUploadBytes, rt.Logger)
	item := middleware.FileItemGuard(rt.Logger)

	route(r, "/healthz", map[string][]gin.HandlerFunc{
		http.MethodGet: {health, rt.Health.Check},
	}, health)
	route(r, "/v1/file", map[string][]gin.HandlerFunc{
		http.MethodPost: {upload, rt.Files.Upload},
	}, upload)
	route(r, "/v1/file/:id", map[string][]gin.HandlerFunc{
		http.MethodGet:    {item, rt.Files.Get},
		http.MethodDelete: {item, rt.Files.Delete},
	}, item)

	notDefined := func(c *gin.Context) {
		logger.Warn("route not defined", zap.String("method", c.Request.Method), zap.String("path", c.Request.URL.Path))
		handlers.MethodNotAllowed(c)
	}
	r.NoRoute(notDefined)
	r.NoMethod(notDefined)
}

// route registers allowed methods with their chains and every other method
// with reject, a guard that answers 405 for methods it does not admit.
func route(r *gin.Engine, path string, allowed map[string][]gin.HandlerFunc, reject gin.HandlerFunc) {
	for _, method := range allMethods {
		if chain, ok := allowed[method]; ok {
			r.Handle(method, path, chain...)
			continue
		}
		r.Handle(method, path, reject)
	}
}
