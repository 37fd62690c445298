package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/signalpipe/signalpipe/internal/audit"
)

func TestRateLimiterBasic(t *testing.T) {
	rl := NewRateLimiter("test", 3, 1*time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, rl.allow("192.168.1.1"), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.allow("192.168.1.1"), "4th request should be blocked")
}

func TestRateLimiterDifferentIPs(t *testing.T) {
	rl := NewRateLimiter("test", 2, 1*time.Second)

	assert.True(t, rl.allow("192.168.1.1"))
	assert.True(t, rl.allow("192.168.1.1"))
	assert.False(t, rl.allow("192.168.1.1"))

	assert.True(t, rl.allow("192.168.1.2"))
	assert.True(t, rl.allow("192.168.1.2"))
	assert.False(t, rl.allow("192.168.1.2"))
}

func TestRateLimiterExpiration(t *testing.T) {
	rl := NewRateLimiter("test", 2, 100*time.Millisecond)

	assert.True(t, rl.allow("192.168.1.1"))
	assert.True(t, rl.allow("192.168.1.1"))
	assert.False(t, rl.allow("192.168.1.1"))

	time.Sleep(150 * time.Millisecond)
	assert.True(t, rl.allow("192.168.1.1"))
}

func TestRateLimiterMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter("test", 2, time.Second)

	router := gin.New()
	router.Use(rl.Middleware())
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	successCount, rateLimitedCount := 0, 0
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(w, req)

		switch w.Code {
		case http.StatusOK:
			successCount++
		case http.StatusTooManyRequests:
			rateLimitedCount++

			var body map[string]interface{}
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body, "error")
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, 2, successCount)
	assert.Equal(t, 3, rateLimitedCount)
}

func TestRateLimiterMiddlewareDisabled(t *testing.T) {
	rlm := NewRateLimiterMiddleware(&RateLimiterConfig{Enabled: false})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(rlm.GlobalMiddleware())
	router.GET("/test", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestCleanupOldEntries(t *testing.T) {
	rlm := NewRateLimiterMiddleware(&RateLimiterConfig{
		GlobalMaxRequests: 5, GlobalWindow: 50 * time.Millisecond,
		ControlMaxRequests: 5, ControlWindow: 50 * time.Millisecond,
		OrderMaxRequests: 5, OrderWindow: 50 * time.Millisecond,
		ReadMaxRequests: 5, ReadWindow: 50 * time.Millisecond,
		Enabled: true,
	})

	rlm.global.allow("1.2.3.4")
	time.Sleep(150 * time.Millisecond)
	rlm.CleanupOldEntries()

	_, stillPresent := rlm.global.entries.Load("1.2.3.4")
	assert.False(t, stillPresent, "stale entries should be evicted")
}

func TestStartAndStopCleanupWorker(t *testing.T) {
	rlm := NewRateLimiterMiddleware(DefaultRateLimiterConfig())
	rlm.StartCleanupWorker(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	rlm.Stop()
}

func TestDetermineEventType(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		path     string
		expected audit.EventType
	}{
		{"execute trading", http.MethodPost, "/api/v1/trading/execute", audit.EventTypeOrderPlaced},
		{"account states", http.MethodGet, "/api/v1/execution/account-states", audit.EventTypeDataExport},
		{"signal reads are non-critical", http.MethodGet, "/api/signals/latest", ""},
		{"health checks are non-critical", http.MethodGet, "/health", ""},
		{"wrong method on execute", http.MethodGet, "/api/v1/trading/execute", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, determineEventType(tt.method, tt.path))
		})
	}
}
