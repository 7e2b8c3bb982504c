package msgrate_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/parkerroan/msgrate"
	"github.com/parkerroan/msgrate/limiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddleware(t *testing.T) {
	clock := newTestClock()
	sw, err := limiter.NewSlidingWindow(10*time.Second, 2, limiter.WithClock(clock.Now))
	require.NoError(t, err)
	guard := msgrate.NewGuard(sw)

	keyGetter := func(r *http.Request) string {
		return r.Header.Get("X-User-ID")
	}

	r := mux.NewRouter()
	r.Use(msgrate.HTTPMiddleware(guard, keyGetter))
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello, World!"))
	})

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User-ID", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := do("alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello, World!", rec.Body.String())
	assert.Equal(t, "2", rec.Header().Get("RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("RateLimit-Remaining"))
	assert.Equal(t, "2;w=10", rec.Header().Get("RateLimit-Policy"))

	clock.Advance(1500 * time.Millisecond)
	rec = do("alice")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("RateLimit-Remaining"))

	rec = do("alice")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	// 8.5s left, rounded up
	assert.Equal(t, "9", rec.Header().Get("Retry-After"))
	assert.Equal(t, "9", rec.Header().Get("RateLimit-Reset"))

	// Other users are not affected.
	rec = do("bob")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	clock := newTestClock()
	th, err := limiter.NewThrottle(3*time.Second, limiter.WithClock(clock.Now))
	require.NoError(t, err)
	guard := msgrate.NewGuard(th)

	router := gin.New()
	router.Use(msgrate.GinMiddleware(guard, nil))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	do := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:4242"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	clock.Advance(time.Second)
	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Too many requests")

	clock.Advance(2 * time.Second)
	rec = do()
	assert.Equal(t, http.StatusOK, rec.Code)
}
