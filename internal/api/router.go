package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/policyagent/internal/api/middleware"
	"github.com/liliang-cn/policyagent/internal/api/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Version is reported by the service descriptor
const Version = "1.0.0"

// RouterConfig holds configuration for the router
type RouterConfig struct {
	AllowOrigins []string
	Environment  string
	Provider     string
	VectorStore  string
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(queryHandler *query.Handler, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":     "policyagent",
			"version":     Version,
			"environment": cfg.Environment,
			"endpoints": []string{
				"POST /ask", "POST /ask/detailed", "POST /ask/stream",
				"GET /session/:id", "DELETE /session/:id",
				"GET /stats", "GET /health", "GET /ready", "GET /metrics",
			},
		})
	})

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "healthy",
			"environment":  cfg.Environment,
			"llm_provider": cfg.Provider,
			"vector_store": cfg.VectorStore,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	queryHandler.RegisterRoutes(r)

	return r
}
