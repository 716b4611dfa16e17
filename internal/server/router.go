package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eternisai/enchanted-chat/internal/errors"
	"github.com/eternisai/enchanted-chat/internal/ratelimit"
)

// NewRouter builds the HTTP surface: the socket.io mount plus the REST
// observability endpoints.
func NewRouter(sock *Socket, limiter *ratelimit.Limiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())

	// A panicking handler must answer with the JSON error envelope, not
	// gin's bare 500.
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		errors.AbortWithInternal(c, "internal server error", nil)
	}))

	// Add CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Socket.IO transport (polling + websocket upgrades).
	router.GET("/socket.io/*any", gin.WrapH(sock.Handler()))
	router.POST("/socket.io/*any", gin.WrapH(sock.Handler()))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": sock.ConnectionCount(),
		})
	})

	// Prometheus metrics.
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		rateLimit := api.Group("/rate-limit")
		{
			rateLimit.GET("/status", rateLimitStatusHandler(limiter))
			rateLimit.POST("/check", rateLimitCheckHandler(limiter))
			rateLimit.GET("/stats", func(c *gin.Context) {
				c.JSON(http.StatusOK, limiter.Stats())
			})
		}
	}

	return router
}

// rateLimitStatusHandler reports a user's current windows without consuming
// a token.
func rateLimitStatusHandler(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("userId")
		if userID == "" {
			errors.AbortWithBadRequest(c, "userId query parameter is required", nil)
			return
		}
		c.JSON(http.StatusOK, limiter.GetStatus(userID))
	}
}

// rateLimitCheckHandler consumes one token on the user's behalf, answering
// 429 when a window is exhausted. Used by REST consumers that gate work
// outside the socket path.
func rateLimitCheckHandler(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			UserID string `json:"userId"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.UserID == "" {
			errors.AbortWithBadRequest(c, "userId is required", nil)
			return
		}

		decision := limiter.CheckLimit(body.UserID)
		if !decision.Allowed {
			limit := decision.Limit.Minute
			remaining := decision.Remaining.Minute
			resetsAt := decision.ResetAt.Minute
			if decision.LimitType == ratelimit.LimitTypeHour {
				limit = decision.Limit.Hour
				remaining = decision.Remaining.Hour
				resetsAt = decision.ResetAt.Hour
			}
			errors.AbortWithRateLimit(c, errors.LimitExceeded(
				string(decision.LimitType), limit, remaining, decision.RetryAfter, resetsAt))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"allowed":   true,
			"remaining": decision.Remaining,
			"limit":     decision.Limit,
		})
	}
}
