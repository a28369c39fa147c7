package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/ignatzorin/yodo-backend/internal/logger"
)

// KeyFunc ключ, по которому считаются запросы.
type KeyFunc func(c *gin.Context) string

// ByClientIP считает запросы по адресу клиента.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByUser считает запросы по пользователю, без авторизации по адресу.
func ByUser(c *gin.Context) string {
	if v, ok := c.Get(ContextUserIDKey); ok {
		return fmt.Sprint(v)
	}
	return c.ClientIP()
}

// NewLimiterStore хранилище счётчиков. С Redis лимит общий для всех
// инстансов, без него считается в памяти процесса.
func NewLimiterStore(client *redis.Client) limiter.Store {
	if client != nil {
		store, err := sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "yodo:ratelimit"})
		if err == nil {
			return store
		}
		logger.Log.WithError(err).Warn("redis rate limit store unavailable, falling back to memory")
	}
	return memory.NewStore()
}

// RateLimitMiddleware создаёт middleware для ограничения количества запросов.
// По умолчанию: 10 запросов в минуту.
func RateLimitMiddleware(store limiter.Store, limit int64, period time.Duration, keyFn KeyFunc) gin.HandlerFunc {
	if limit <= 0 {
		limit = 10
	}
	if period <= 0 {
		period = time.Minute
	}
	if keyFn == nil {
		keyFn = ByClientIP
	}
	if store == nil {
		store = memory.NewStore()
	}

	instance := limiter.New(store, limiter.Rate{Period: period, Limit: limit})

	return func(c *gin.Context) {
		context, err := instance.Get(c, keyFn(c))
		if err != nil {
			logger.Log.WithError(err).Error("rate limiter failed")
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", context.Limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", context.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", context.Reset))

		if context.Reached {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "слишком много запросов, попробуйте позже",
				"code":  "RATE_LIMITED",
			})
			return
		}

		c.Next()
	}
}
