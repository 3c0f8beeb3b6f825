package gateway

import (
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GouravKumar06/social-media-microserver/pkg/middleware"
	"github.com/GouravKumar06/social-media-microserver/pkg/ratelimit"
)

// defaultProxyTimeout は内部サービスへのリクエストに適用する既定のタイムアウト。
// PROXY_TIMEOUT環境変数（time.ParseDuration形式）で上書きできる。
const defaultProxyTimeout = 10 * time.Second

// publicPrefix は外部公開APIのパス接頭辞。
// 内部サービスは /api 接頭辞で同じパスを公開しており、転送時に書き換える。
const (
	publicPrefix   = "/v1"
	internalPrefix = "/api"
)

// Server はAPI GatewayのHTTPサーバー。
// 受信リクエストに対してレート制限と認証の審査を行い、
// 通過したリクエストをパス接頭辞に基づいて内部サービスへ転送する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// jwtSecret はJWT検証用の秘密鍵。
	jwtSecret string
	// upstreams はパス接頭辞ごとの転送先サービスURL。
	upstreams upstreamConfig
	// client は内部サービスへのHTTPクライアント。
	client *http.Client
}

// upstreamConfig は内部サービスのURL設定。
type upstreamConfig struct {
	Identity string
	Post     string
	Media    string
	Search   string
}

// NewServer は新しいGatewayサーバーを生成する。
// generalLimiterは全リクエストに、sensitiveLimiterは認証系エンドポイントに適用される。
func NewServer(port string, generalLimiter, sensitiveLimiter middleware.Limiter) (*Server, error) {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	upstreams := upstreamConfig{
		Identity: getEnvOr("IDENTITY_SERVICE_URL", "http://localhost:3001"),
		Post:     getEnvOr("POST_SERVICE_URL", "http://localhost:3002"),
		Media:    getEnvOr("MEDIA_SERVICE_URL", "http://localhost:3003"),
		Search:   getEnvOr("SEARCH_SERVICE_URL", "http://localhost:3004"),
	}

	frontendURL := getEnvOr("FRONTEND_URL", "http://localhost:3000")

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{frontendURL}))
	// 全リクエストに適用する一般レート制限。
	// 制限ストアの障害でゲートウェイ全体を止めないため、失敗時は通す。
	router.Use(middleware.RateLimit(generalLimiter, middleware.FailOpen))

	s := &Server{
		router:    router,
		port:      port,
		jwtSecret: jwtSecret,
		upstreams: upstreams,
		client:    &http.Client{Timeout: proxyTimeout()},
	}
	s.setupRoutes(sensitiveLimiter)

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(":" + s.port)
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(sensitiveLimiter middleware.Limiter) {
	// 認証エンドポイント。認証不要だが、総当たり対策の厳格なレート制限を課す。
	// こちらは制限ストアの障害時に拒否へ倒す。
	auth := s.router.Group(publicPrefix + "/auth")
	auth.Use(middleware.RateLimit(sensitiveLimiter, middleware.FailClosed))
	{
		auth.Any("/*path", s.handleProxy(s.upstreams.Identity))
	}

	// 認証必須のエンドポイント。
	posts := s.router.Group(publicPrefix + "/posts")
	posts.Use(middleware.JWTAuth(s.jwtSecret))
	{
		posts.Any("", s.handleProxy(s.upstreams.Post))
		posts.Any("/*path", s.handleProxy(s.upstreams.Post))
	}

	media := s.router.Group(publicPrefix + "/media")
	media.Use(middleware.JWTAuth(s.jwtSecret))
	{
		media.Any("/*path", s.handleProxy(s.upstreams.Media))
	}

	search := s.router.Group(publicPrefix + "/search")
	search.Use(middleware.JWTAuth(s.jwtSecret))
	{
		search.Any("", s.handleProxy(s.upstreams.Search))
		search.Any("/*path", s.handleProxy(s.upstreams.Search))
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "gateway"})
	})
}

// handleProxy は指定されたサービスにリクエストを転送するハンドラを返す。
// 公開パスの /v1 接頭辞を内部サービスの /api 接頭辞に書き換える。
func (s *Server) handleProxy(baseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := internalPrefix + strings.TrimPrefix(c.Request.URL.Path, publicPrefix)
		proxyURL := baseURL + path
		if c.Request.URL.RawQuery != "" {
			proxyURL += "?" + c.Request.URL.RawQuery
		}
		s.doProxy(c, proxyURL)
	}
}

// doProxy はリクエストを内部サービスに転送する共通処理。
// 認可ヘッダーと検証済みユーザーIDを転送し、レスポンスのステータスと
// ボディはそのままクライアントへ返す。リトライはしない。
func (s *Server) doProxy(c *gin.Context, url string) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, url, c.Request.Body)
	if err != nil {
		log.Printf("プロキシリクエストの作成に失敗: url=%s, error=%v", url, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
		return
	}

	req.Header.Set("Content-Type", c.GetHeader("Content-Type"))
	req.Header.Set("Authorization", c.GetHeader("Authorization"))
	if userID := middleware.GetUserID(c); userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("プロキシエラー: url=%s, error=%v", url, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "Bad Gateway..... Service Unavailable",
			"error":   err.Error(),
		})
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("レスポンスの読み取りに失敗: url=%s, error=%v", url, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "Bad Gateway..... Service Unavailable",
			"error":   err.Error(),
		})
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, body)
}

// NewGeneralLimiter は全リクエスト向けの固定ウィンドウレートリミッタを生成する。
func NewGeneralLimiter(store ratelimit.Store) *ratelimit.FixedWindow {
	return ratelimit.NewFixedWindow(store, 100, 15*time.Minute, "rl:general")
}

// NewSensitiveLimiter は認証系エンドポイント向けのブロック付きレートリミッタを生成する。
// ウィンドウ超過後は一定時間すべてのリクエストを拒否する。
func NewSensitiveLimiter(store ratelimit.Store) *ratelimit.Blocking {
	return ratelimit.NewBlocking(store, 15, time.Second, 180*time.Second, "rl:sensitive")
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

// proxyTimeout は転送タイムアウトを返す。PROXY_TIMEOUT環境変数で調整できる。
// 解釈できない値はデフォルトに落とし、起動は妨げない。
func proxyTimeout() time.Duration {
	v := os.Getenv("PROXY_TIMEOUT")
	if v == "" {
		return defaultProxyTimeout
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("PROXY_TIMEOUTの値が不正なためデフォルトを使用します: value=%q, error=%v", v, err)
		return defaultProxyTimeout
	}
	return d
}
