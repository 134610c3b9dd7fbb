package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NoCache marks a client-error response as uncacheable.
func NoCache(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
}

// NoStore sets the stronger header set used on health responses and every 503.
func NoStore(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
}

func BadRequest(c *gin.Context) {
	NoCache(c)
	c.AbortWithStatus(http.StatusBadRequest)
}

func MethodNotAllowed(c *gin.Context) {
	NoCache(c)
	c.AbortWithStatus(http.StatusMethodNotAllowed)
}

func NotFound(c *gin.Context) {
	NoCache(c)
	c.AbortWithStatus(http.StatusNotFound)
}

// Unavailable is the only response a dependency failure ever produces. The
// cause stays in the logs.
func Unavailable(c *gin.Context) {
	NoStore(c)
	c.AbortWithStatus(http.StatusServiceUnavailable)
}
