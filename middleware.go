package msgrate

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/parkerroan/msgrate/limiter"
)

// HTTPMiddleware creates a new middleware function for rate limiting.
// This function is compatible with both standard net/http and mux handlers.
func HTTPMiddleware(g *Guard, keyGetter func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyGetter(r) // get the unique identifier for the requester

			allowed, info := g.Allow(r.Context(), key)
			setRateLimitHeaders(w.Header(), info)
			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(ceilSeconds(info.RetryAfter), 10))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			// Proceed to the next handler if not rate-limited
			next.ServeHTTP(w, r)
		})
	}
}

// GinMiddleware is HTTPMiddleware for gin. A nil keyGetter keys requests by client IP.
func GinMiddleware(g *Guard, keyGetter func(c *gin.Context) string) gin.HandlerFunc {
	if keyGetter == nil {
		keyGetter = func(c *gin.Context) string {
			return c.ClientIP()
		}
	}

	return func(c *gin.Context) {
		allowed, info := g.Allow(c.Request.Context(), keyGetter(c))
		setRateLimitHeaders(c.Writer.Header(), info)
		if !allowed {
			c.Header("Retry-After", strconv.FormatInt(ceilSeconds(info.RetryAfter), 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests. Please try again later.",
				"retry_after": info.RetryAfter.Seconds(),
			})
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(h http.Header, info limiter.Info) {
	h.Set("RateLimit-Limit", strconv.Itoa(info.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(info.Remaining))
	h.Set("RateLimit-Reset", strconv.FormatInt(ceilSeconds(info.RetryAfter), 10))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", info.Limit, ceilSeconds(info.Window)))
}

// ceilSeconds rounds d up to whole seconds, as HTTP headers want them.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	if d == limiter.Never {
		return math.MaxInt64 / int64(time.Second)
	}
	return int64((d + time.Second - 1) / time.Second)
}
