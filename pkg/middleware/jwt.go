package middleware

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// ユーザーIDとロールをサービス間で伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Role はユーザーのロール（"user" または "admin"）。
	Role string `json:"role"`
}

// headerKeyUserID はサービス間でユーザーIDを伝播するためのHTTPヘッダーキー。
const headerKeyUserID = "X-User-ID"

// accessTokenTTL はアクセストークンの有効期間。
const accessTokenTTL = time.Hour

// GenerateJWT はユーザー情報からJWTアクセストークンを生成する。
// identityサービスが登録・ログイン成功後に呼び出す。
func GenerateJWT(secret, userID, role string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "identity-service",
		},
		UserID: userID,
		Role:   role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はBearerトークンを検証するGinミドルウェアを返す。
//
// 検証は共有シークレットによる自己完結型で、発行元サービスへの問い合わせは行わない
// （中央失効の能力と引き換えに、レイテンシと発行元の可用性への依存を避ける）。
// 欠落・不正形式・署名不正・期限切れはログ上では区別されるが、
// 外部へはどの検査で落ちたかを漏らさない統一の401レスポンスを返す。
// 検証に成功した場合、コンテキストに "user_id" と "role" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Printf("認証拒否: トークンがありません: %s %s", c.Request.Method, c.Request.URL.Path)
			rejectUnauthorized(c)
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			log.Printf("認証拒否: Bearer形式ではありません: %s %s", c.Request.Method, c.Request.URL.Path)
			rejectUnauthorized(c)
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			log.Printf("認証拒否: %s: %s %s", rejectReason(err), c.Request.Method, c.Request.URL.Path)
			rejectUnauthorized(c)
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Header(headerKeyUserID, claims.UserID)
		c.Next()
	}
}

// rejectUnauthorized は検査内容を漏らさない統一の401レスポンスを返す。
func rejectUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": "Invalid or missing token",
	})
}

// rejectReason は検証エラーをログ用の区別可能な理由に変換する。
func rejectReason(err error) string {
	switch {
	case err == nil:
		return "トークンが無効です"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "トークンの有効期限が切れています"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "トークンの署名が不正です"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "トークンの形式が不正です"
	default:
		return fmt.Sprintf("トークンの検証に失敗: %v", err)
	}
}

// GetUserID はGinコンテキストから認証済みユーザーのIDを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

// GetRole はGinコンテキストから認証済みユーザーのロールを取得する。
func GetRole(c *gin.Context) string {
	role, _ := c.Get("role")
	if r, ok := role.(string); ok {
		return r
	}
	return ""
}
