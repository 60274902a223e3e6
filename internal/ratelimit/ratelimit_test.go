package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testLimiter(rpm, burst int) (*Limiter, *clock) {
	clk := &clock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	return newLimiter(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Minute}, clk.now), clk
}

func TestLimiterAllowsBurstThenDenies(t *testing.T) {
	l, _ := testLimiter(60, 5)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("10.0.0.1"), "request %d is within burst", i)
	}
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := testLimiter(60, 1)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiterReplenishes(t *testing.T) {
	l, clk := testLimiter(60, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	clk.advance(1100 * time.Millisecond)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	clk.advance(time.Hour)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"), "refill is capped at burst")
}

func TestLimiterEvictsIdleClients(t *testing.T) {
	l, clk := testLimiter(60, 1)
	l.Allow("a")
	clk.advance(5 * time.Minute)
	l.evict(clk.now().Add(-2 * time.Minute))
	assert.Empty(t, l.clients)
}

func TestMiddlewareRejects(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := testLimiter(30, 1)
	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/v1/badges", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/badges", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/badges", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestStopIsIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}
