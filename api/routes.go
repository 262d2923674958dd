package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the HTTP surface. metrics may be nil.
func NewRouter(resolver Resolver, metrics http.Handler, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))
	SetupRoutes(router, resolver, metrics, logger)
	return router
}

func SetupRoutes(router *gin.Engine, resolver Resolver, metrics http.Handler, logger *zap.Logger) {
	router.GET("/health", HealthCheck)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	v1 := router.Group("/api/v1")
	{
		complaints := v1.Group("/complaints")
		{
			complaints.POST("", CreateComplaint(resolver, logger))
			complaints.GET("", ListComplaints(resolver, logger))
			complaints.GET("/:id", GetComplaint(resolver, logger))
			complaints.PATCH("/:id", UpdateComplaint(resolver, logger))
			complaints.GET("/:id/audit", GetComplaintAudit(resolver, logger))
		}
		customers := v1.Group("/customers")
		{
			customers.POST("", CreateCustomer(resolver, logger))
			customers.GET("/:id", GetCustomer(resolver, logger))
		}
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
