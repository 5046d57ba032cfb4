package api

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stepmesh/proof-engine/internal/config"
	"github.com/stepmesh/proof-engine/internal/db"
	"github.com/stepmesh/proof-engine/internal/engine"
)

// Handler carries the shared dependencies of every HTTP endpoint.
type Handler struct {
	store  *db.Store
	engine *engine.Engine
	hub    *Hub
	cfg    *config.Config
}

// SetupRouter wires middleware and routes. hub may be nil; the stream
// endpoint then returns 503.
func SetupRouter(store *db.Store, eng *engine.Engine, hub *Hub, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(deadlineMiddleware(cfg.RequestTimeout))

	h := &Handler{store: store, engine: eng, hub: hub, cfg: cfg}
	limiter := NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)

	proofGroup := r.Group("/proof")
	proofGroup.Use(limiter.Middleware())
	{
		proofGroup.POST("/submit", h.handleSubmit)
		proofGroup.GET("/config", h.handleProofConfig)
		proofGroup.GET("/stream", h.handleStream)
	}

	meshGroup := r.Group("/mesh")
	{
		meshGroup.GET("/triangleAt", h.handleTriangleAt)
		meshGroup.GET("/polygon/:id", h.handlePolygon)
		meshGroup.GET("/children/:id", h.handleChildren)
		meshGroup.GET("/parent/:id", h.handleParent)
		meshGroup.GET("/search", h.handleSearch)
		meshGroup.GET("/nearest", h.handleNearest)
		meshGroup.GET("/info/:id", h.handleInfo)
		meshGroup.GET("/stats", h.handleStats)
	}

	r.GET("/account/:address", h.handleAccount)
	r.GET("/health", h.handleHealth)

	return r
}

// corsMiddleware reflects the request origin when it is in the allow list.
// An empty or "*" list allows everything.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// deadlineMiddleware bounds every request so a stalled verifier or database
// call cannot hold the handler forever.
func deadlineMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
