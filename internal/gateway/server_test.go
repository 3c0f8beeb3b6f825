package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GouravKumar06/social-media-microserver/pkg/middleware"
	"github.com/GouravKumar06/social-media-microserver/pkg/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// echoUpstream は受信したパス・メソッド・ヘッダーをJSONで返すモックサービスを生成する。
func echoUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q,"method":%q,"user_id":%q}`, r.URL.Path, r.Method, r.Header.Get("X-User-ID"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupTestServer はテスト用のGatewayサーバーを構築する。
// 全上流をechoUpstreamに向け、レート制限はインメモリストアを使用する。
func setupTestServer(t *testing.T, general, sensitive middleware.Limiter) (*gin.Engine, *httptest.Server) {
	t.Helper()

	upstream := echoUpstream(t)

	if general == nil {
		general = ratelimit.NewFixedWindow(ratelimit.NewMemoryStore(), 1000, time.Minute, "rl:general")
	}
	if sensitive == nil {
		sensitive = ratelimit.NewBlocking(ratelimit.NewMemoryStore(), 1000, time.Minute, time.Minute, "rl:sensitive")
	}

	router := gin.New()
	router.Use(middleware.RateLimit(general, middleware.FailOpen))

	s := &Server{
		router:    router,
		port:      "0",
		jwtSecret: "test-secret",
		upstreams: upstreamConfig{
			Identity: upstream.URL,
			Post:     upstream.URL,
			Media:    upstream.URL,
			Search:   upstream.URL,
		},
		client: &http.Client{Timeout: 2 * time.Second},
	}
	s.setupRoutes(sensitive)

	return router, upstream
}

// doRequest はテスト用のHTTPリクエストを実行するヘルパー関数。
func doRequest(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("JSONのデコードに失敗: %v, body=%s", err, w.Body.String())
	}
	return result
}

// TestHealthCheck はヘルスチェックエンドポイントの正常動作を検証する。
func TestHealthCheck(t *testing.T) {
	t.Parallel()

	router, _ := setupTestServer(t, nil, nil)

	w := doRequest(router, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}

	result := parseJSON(t, w)
	if result["service"] != "gateway" {
		t.Errorf("service: got %v, want gateway", result["service"])
	}
}

// TestProxyPathRewrite はパス接頭辞の書き換えのテスト。
func TestProxyPathRewrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		path     string
		wantPath string
	}{
		{"認証エンドポイント", "/v1/auth/login", "/api/auth/login"},
		{"登録エンドポイント", "/v1/auth/register", "/api/auth/register"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router, _ := setupTestServer(t, nil, nil)

			w := doRequest(router, http.MethodPost, tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
			}

			result := parseJSON(t, w)
			if result["path"] != tt.wantPath {
				t.Errorf("転送先パス: got %v, want %s", result["path"], tt.wantPath)
			}
		})
	}
}

// TestProxyAuthentication は認証必須ルートのテスト。
func TestProxyAuthentication(t *testing.T) {
	t.Parallel()

	t.Run("トークンなしの投稿ルートはUnauthorized", func(t *testing.T) {
		t.Parallel()
		router, _ := setupTestServer(t, nil, nil)

		w := doRequest(router, http.MethodGet, "/v1/posts", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}

		result := parseJSON(t, w)
		if result["message"] != "Invalid or missing token" {
			t.Errorf("message: got %v, want Invalid or missing token", result["message"])
		}
	})

	t.Run("不正なトークンはUnauthorized", func(t *testing.T) {
		t.Parallel()
		router, _ := setupTestServer(t, nil, nil)

		w := doRequest(router, http.MethodGet, "/v1/posts", "not-a-jwt")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("有効なトークンで転送され、ユーザーIDが付与される", func(t *testing.T) {
		t.Parallel()
		router, _ := setupTestServer(t, nil, nil)

		token, err := middleware.GenerateJWT("test-secret", "user-1", "user")
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}

		w := doRequest(router, http.MethodGet, "/v1/posts", token)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		if result["path"] != "/api/posts" {
			t.Errorf("転送先パス: got %v, want /api/posts", result["path"])
		}
		if result["user_id"] != "user-1" {
			t.Errorf("user_id: got %v, want user-1", result["user_id"])
		}
	})

	t.Run("別の秘密鍵で署名されたトークンはUnauthorized", func(t *testing.T) {
		t.Parallel()
		router, _ := setupTestServer(t, nil, nil)

		token, err := middleware.GenerateJWT("other-secret", "user-1", "user")
		if err != nil {
			t.Fatalf("トークンの生成に失敗: %v", err)
		}

		w := doRequest(router, http.MethodGet, "/v1/search", token)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestProxyUpstreamDown は上流サービス停止時のテスト。
func TestProxyUpstreamDown(t *testing.T) {
	t.Parallel()

	router, upstream := setupTestServer(t, nil, nil)
	upstream.Close()

	w := doRequest(router, http.MethodPost, "/v1/auth/login", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadGateway)
	}

	result := parseJSON(t, w)
	if result["message"] != "Bad Gateway..... Service Unavailable" {
		t.Errorf("message: got %v, want Bad Gateway..... Service Unavailable", result["message"])
	}
	if result["error"] == nil {
		t.Error("errorフィールドが含まれていません")
	}
}

// TestSensitiveRateLimit は認証系エンドポイントのレート制限のテスト。
func TestSensitiveRateLimit(t *testing.T) {
	t.Parallel()

	sensitive := ratelimit.NewBlocking(ratelimit.NewMemoryStore(), 3, time.Minute, time.Minute, "rl:sensitive")
	router, _ := setupTestServer(t, nil, sensitive)

	for i := 0; i < 3; i++ {
		if w := doRequest(router, http.MethodPost, "/v1/auth/login", ""); w.Code != http.StatusOK {
			t.Fatalf("%d回目のリクエストが拒否されました: status=%d", i+1, w.Code)
		}
	}

	w := doRequest(router, http.MethodPost, "/v1/auth/login", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	result := parseJSON(t, w)
	if result["message"] != "Rate limit exceeded..... to many requests" {
		t.Errorf("message: got %v, want Rate limit exceeded..... to many requests", result["message"])
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-Afterヘッダーがありません")
	}

	// ブロック中はウィンドウが回復しても拒否が続く
	w = doRequest(router, http.MethodPost, "/v1/auth/login", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("ブロック中のステータスコード: got %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

// TestGeneralRateLimit は一般レート制限のテスト。
func TestGeneralRateLimit(t *testing.T) {
	t.Parallel()

	general := ratelimit.NewFixedWindow(ratelimit.NewMemoryStore(), 2, time.Minute, "rl:general")
	router, _ := setupTestServer(t, general, nil)

	for i := 0; i < 2; i++ {
		if w := doRequest(router, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
			t.Fatalf("%d回目のリクエストが拒否されました: status=%d", i+1, w.Code)
		}
	}

	w := doRequest(router, http.MethodGet, "/health", "")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusTooManyRequests)
	}
}

func TestProxyTimeout(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "PROXY_TIMEOUTで転送タイムアウトを調整できる", value: "2s", want: 2 * time.Second},
		{name: "未設定の場合はデフォルトを使用する", value: "", want: defaultProxyTimeout},
		{name: "解釈できない値はデフォルトに落とす", value: "soon", want: defaultProxyTimeout},
		{name: "負の値はデフォルトに落とす", value: "-1s", want: defaultProxyTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PROXY_TIMEOUT", tt.value)

			if got := proxyTimeout(); got != tt.want {
				t.Errorf("転送タイムアウト: got %v, want %v", got, tt.want)
			}
		})
	}
}
