package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRateWindow             = 30 * time.Second
	defaultMaxRequestsPerIPWindow = 20
)

// RequestLogger logs one line per handled request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

// RateLimiter counts requests per client IP in fixed windows.
type RateLimiter struct {
	window           time.Duration
	maxPerWindow     int
	now              func() time.Time
	countersMutex    sync.Mutex
	currentBucket    int64
	countersByClient map[string]int
}

// NewRateLimiter builds a RateLimiter; non-positive values select the defaults.
func NewRateLimiter(window time.Duration, maxPerWindow int) *RateLimiter {
	if window < time.Second {
		window = defaultRateWindow
	}
	if maxPerWindow <= 0 {
		maxPerWindow = defaultMaxRequestsPerIPWindow
	}
	return &RateLimiter{
		window:           window,
		maxPerWindow:     maxPerWindow,
		now:              time.Now,
		countersByClient: make(map[string]int),
	}
}

// Middleware rejects requests over the limit with 429.
func (limiter *RateLimiter) Middleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		if limiter.isRateLimited(context.ClientIP()) {
			context.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{jsonKeyError: errorValueRateLimited})
			return
		}
		context.Next()
	}
}

func (limiter *RateLimiter) isRateLimited(ip string) bool {
	nowBucket := limiter.now().Unix() / int64(limiter.window.Seconds())

	limiter.countersMutex.Lock()
	defer limiter.countersMutex.Unlock()

	if nowBucket != limiter.currentBucket {
		limiter.currentBucket = nowBucket
		limiter.countersByClient = make(map[string]int)
	}
	limiter.countersByClient[ip]++
	return limiter.countersByClient[ip] > limiter.maxPerWindow
}
