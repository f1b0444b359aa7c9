package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// codeRateLimited is only produced by the HTTP layer.
const codeRateLimited = "RATE_LIMITED"

// RateLimiter 固定窗口限流器
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string]*bucket
	limit    int
	window   time.Duration
	now      func() time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter 创建限流器，limit <= 0 表示不限流
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*bucket),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Run 定期清理过期桶，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanupOnce(rl.now())
		}
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.requests[key]
	if !exists || now.After(b.resetAt) {
		rl.requests[key] = &bucket{count: 1, resetAt: now.Add(rl.window)}
		return true
	}
	if b.count >= rl.limit {
		return false
	}
	b.count++
	return true
}

func (rl *RateLimiter) cleanupOnce(now time.Time) {
	rl.mu.Lock()
	for key, b := range rl.requests {
		if now.After(b.resetAt) {
			delete(rl.requests, key)
		}
	}
	rl.mu.Unlock()
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}

// RateLimit 限流中间件
func RateLimit(rl *RateLimiter, keyFunc func(*http.Request) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(keyFunc(c.Request)) {
			c.Header("Retry-After", "1")
			WriteStatusError(c, http.StatusTooManyRequests, codeRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}

// IPKeyFunc 使用客户端 IP 作为限流 key
func IPKeyFunc(r *http.Request) string {
	remoteIP := remoteIPFromAddr(r.RemoteAddr)

	// 只有来自内网代理时才信任 X-Forwarded-For
	if remoteIP != "" && isLikelyTrustedProxyIP(remoteIP) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			if idx := strings.IndexByte(xff, ','); idx >= 0 {
				if ip := strings.TrimSpace(xff[:idx]); ip != "" {
					return ip
				}
			}
			return xff
		}
	}

	if remoteIP != "" {
		return remoteIP
	}
	return r.RemoteAddr
}

func remoteIPFromAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(remoteAddr)
}

func isLikelyTrustedProxyIP(ipStr string) bool {
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
