package twin

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/danmuck/twinctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Admin is the read-only HTTP surface next to the protocol endpoint.
type Admin struct {
	node     string
	server   *Server
	router   *gin.Engine
	ready    atomic.Bool
	appeared time.Time
}

func NewAdmin(node string, server *Server, corsOrigins []string) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{node: node, server: server, router: r, appeared: time.Now()}
	a.registerRoutes()
	return a
}

func (a *Admin) Handler() http.Handler {
	return a.router
}

// SetReady flips /ready once the protocol listener is bound.
func (a *Admin) SetReady(ready bool) {
	a.ready.Store(ready)
}

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"node":    a.node,
			"service": "twinctl",
			"uptime":  time.Since(a.appeared).Round(time.Second).String(),
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		if !a.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting", "node": a.node})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "node": a.node})
	})

	a.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, a.server.Snapshot())
	})

	a.router.GET("/registry", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"node":  a.node,
			"types": a.server.Dispatcher().Registry().Known(),
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
