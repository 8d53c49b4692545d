package payment_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardpay-pipeline/internal/payment_gateway/handler"
	"github.com/cardpay-pipeline/internal/payment_gateway/middleware"
)

// setupRouter configures API routes and middleware for the application
func setupRouter(
	logger *slog.Logger,
	r *gin.Engine,
	paymentHandler *handler.PaymentHandler,
) {
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CorrelationID())

	// API v1 endpoints
	v1 := r.Group("/api/v1")
	{
		// Payment operations
		payments := v1.Group("/payments")
		{
			payments.POST("/validate", paymentHandler.Validate)
			payments.POST("/process", paymentHandler.Process)
			payments.POST("/sign", paymentHandler.Sign)
			payments.POST("/complete", paymentHandler.Complete)
			payments.POST("/:id/cancel", paymentHandler.Cancel)
			payments.GET("/:id", paymentHandler.GetByID)
		}
	}

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
}
