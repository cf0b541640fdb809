package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func rateLimitedEngine(cfg RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(RateLimit(cfg))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func get(engine *gin.Engine, remoteAddr string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remoteAddr
	engine.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitRejectsAfterBurst(t *testing.T) {
	engine := rateLimitedEngine(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})

	assert.Equal(t, http.StatusOK, get(engine, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, get(engine, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, get(engine, "10.0.0.1:1234"))
}

func TestRateLimitIsPerAddress(t *testing.T) {
	engine := rateLimitedEngine(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	assert.Equal(t, http.StatusOK, get(engine, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusTooManyRequests, get(engine, "10.0.0.1:1234"))
	assert.Equal(t, http.StatusOK, get(engine, "10.0.0.2:1234"), "a fresh address gets its own limiter")
}

func TestRateLimitZeroBurstStillAdmits(t *testing.T) {
	engine := rateLimitedEngine(RateLimitConfig{RequestsPerSecond: 5})

	assert.Equal(t, http.StatusOK, get(engine, "10.0.0.1:1234"))
}

func TestCORSAllowsPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(CORS(DefaultCORSConfig()))
	engine.POST("/messages/:id", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/messages/m1", nil)
	req.Header.Set("Origin", "https://chat.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}
