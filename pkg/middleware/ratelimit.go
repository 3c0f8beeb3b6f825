package middleware

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GouravKumar06/social-media-microserver/pkg/ratelimit"
)

// Limiter はアドミッション判定の抽象。
// ratelimit.FixedWindowとratelimit.Blockingの両方がこれを満たす。
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// FailurePolicy は共有ストアに到達できないときのアドミッション方針。
type FailurePolicy int

const (
	// FailOpen はストア障害時にリクエストを許可する（警告ログ付き）。
	// 一般トラフィック向け。完全なアドミッション精度より読み取りの可用性を優先する。
	FailOpen FailurePolicy = iota
	// FailClosed はストア障害時にリクエストを拒否する。機微なエンドポイント向け。
	FailClosed
)

// RateLimit はアドミッション制御を行うGinミドルウェアを返す。
// クライアントの識別キーは認証済みであればユーザーID、そうでなければクライアントIP。
// 拒否時は429と統一形式のボディ、Retry-Afterヘッダを返す。
func RateLimit(limiter Limiter, policy FailurePolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c)

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			if policy == FailOpen {
				log.Printf("レート制限ストアに到達できないため許可します（fail-open）: key=%s, error=%v", key, err)
				c.Next()
				return
			}
			log.Printf("レート制限ストアに到達できないため拒否します（fail-closed）: key=%s, error=%v", key, err)
			rejectRateLimited(c, 0)
			return
		}

		if !decision.Allowed {
			log.Printf("レート制限超過: key=%s, retry_after=%v", key, decision.RetryAfter)
			rejectRateLimited(c, decision.RetryAfter.Seconds())
			return
		}

		c.Next()
	}
}

// clientKey はレート制限の識別キーを返す。
// 認証済みリクエストはユーザーID、未認証はクライアントIPで識別する。
func clientKey(c *gin.Context) string {
	if userID := GetUserID(c); userID != "" {
		return userID
	}
	return c.ClientIP()
}

// rejectRateLimited は429と統一形式のレスポンスを返す。
func rejectRateLimited(c *gin.Context, retryAfterSeconds float64) {
	if retryAfterSeconds > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", int64(math.Ceil(retryAfterSeconds))))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"message": "Rate limit exceeded..... to many requests",
	})
}
