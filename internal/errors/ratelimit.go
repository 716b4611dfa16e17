package errors

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitError represents a standardized 429 Too Many Requests response.
type RateLimitError struct {
	Error        string    `json:"error"`
	LimitType    string    `json:"limit_type"` // "minute" or "hour"
	Limit        int       `json:"limit"`
	Remaining    int       `json:"remaining"`
	RetryAfterMs int64     `json:"retry_after_ms"`
	ResetsAt     time.Time `json:"resets_at"`
}

// AbortWithRateLimit sends a 429 response with the RateLimitError and aborts the request.
func AbortWithRateLimit(c *gin.Context, err *RateLimitError) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, err)
}

// LimitExceeded creates a RateLimitError for an exhausted window.
func LimitExceeded(limitType string, limit, remaining int, retryAfter time.Duration, resetsAt time.Time) *RateLimitError {
	return &RateLimitError{
		Error:        "message rate limit exceeded",
		LimitType:    limitType,
		Limit:        limit,
		Remaining:    remaining,
		RetryAfterMs: retryAfter.Milliseconds(),
		ResetsAt:     resetsAt,
	}
}
