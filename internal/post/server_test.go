package post

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	postdb "github.com/GouravKumar06/social-media-microserver/internal/post/db"
	"github.com/GouravKumar06/social-media-microserver/pkg/cache"
	"github.com/GouravKumar06/social-media-microserver/pkg/event"
	"github.com/GouravKumar06/social-media-microserver/pkg/eventbus"
	"github.com/GouravKumar06/social-media-microserver/pkg/httpclient"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestServer はテスト用のpostサーバーをインメモリSQLiteで構築する。
// identityサービスのモックサーバーも生成し、テスト終了時にクリーンアップする。
func setupTestServer(t *testing.T) (*Server, *gin.Engine, *eventbus.MemoryBus) {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}

	// identityサービスのモックサーバーを作成する
	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"user-1","username":"tester"}`)
	}))
	t.Cleanup(func() { identity.Close() })

	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	router := gin.New()
	s := &Server{
		router:         router,
		port:           "0",
		queries:        postdb.New(sqlDB),
		db:             sqlDB,
		cache:          cache.NewMemoryCache(),
		bus:            bus,
		identityClient: httpclient.New(identity.URL),
	}

	// JWTミドルウェアの代わりにテスト用のユーザーID設定ミドルウェアを使用する
	api := router.Group("/api/posts")
	api.Use(func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	})
	{
		api.POST("", s.handleCreate())
		api.GET("", s.handleList())
		api.GET("/:id", s.handleGetByID())
		api.PUT("/:id", s.handleUpdate())
		api.DELETE("/:id", s.handleDelete())
	}

	return s, router, bus
}

// doRequest はテスト用のHTTPリクエストを実行し、レスポンスを返すヘルパー関数。
func doRequest(router *gin.Engine, method, path, userID string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
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

// subscribeEvents は指定ルーティングキーのイベントを受信するチャネルを返すヘルパー関数。
func subscribeEvents(t *testing.T, bus *eventbus.MemoryBus, routingKey string) <-chan *event.Envelope {
	t.Helper()

	ch := make(chan *event.Envelope, 8)
	err := bus.Subscribe(t.Context(), routingKey, func(_ context.Context, env *event.Envelope) error {
		ch <- env
		return nil
	})
	if err != nil {
		t.Fatalf("イベントの購読に失敗: %v", err)
	}
	return ch
}

// waitForEvent はイベントの到着を待つヘルパー関数。
func waitForEvent(t *testing.T, ch <-chan *event.Envelope) *event.Envelope {
	t.Helper()

	select {
	case env := <-ch:
		return env
	case <-time.After(3 * time.Second):
		t.Fatal("イベントが到着しませんでした")
		return nil
	}
}

// createTestPost はテスト用に投稿をDBに直接挿入するヘルパー関数。
func createTestPost(t *testing.T, s *Server, id, userID, content string, mediaIDs []string) {
	t.Helper()

	if mediaIDs == nil {
		mediaIDs = []string{}
	}
	encoded, _ := json.Marshal(mediaIDs)
	err := s.queries.CreatePost(t.Context(), postdb.CreatePostParams{
		ID:       id,
		UserID:   userID,
		Content:  content,
		MediaIds: string(encoded),
	})
	if err != nil {
		t.Fatalf("テスト用投稿の作成に失敗: %v", err)
	}
}

// TestHandleCreatePost は投稿作成ハンドラのテスト。
func TestHandleCreatePost(t *testing.T) {
	t.Parallel()

	t.Run("正常に投稿を作成できる", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{
			"content":  "はじめての投稿",
			"mediaIds": []string{"media-1"},
		}
		w := doRequest(router, http.MethodPost, "/api/posts", "user-1", body)

		if w.Code != http.StatusCreated {
			t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
		}

		result := parseJSON(t, w)
		post, ok := result["post"].(map[string]any)
		if !ok {
			t.Fatalf("postが含まれていません: %v", result)
		}
		if post["content"] != "はじめての投稿" {
			t.Errorf("content: got %v, want はじめての投稿", post["content"])
		}
		if post["user_id"] != "user-1" {
			t.Errorf("user_id: got %v, want user-1", post["user_id"])
		}
	})

	t.Run("作成時にpost.createdイベントが発行される", func(t *testing.T) {
		t.Parallel()
		_, router, bus := setupTestServer(t)

		events := subscribeEvents(t, bus, string(event.RoutingKeyPostCreated))

		body := map[string]any{"content": "イベント検証用の投稿"}
		w := doRequest(router, http.MethodPost, "/api/posts", "user-1", body)
		if w.Code != http.StatusCreated {
			t.Fatalf("投稿の作成に失敗: status=%d", w.Code)
		}

		env := waitForEvent(t, events)
		data, err := event.DecodeData[event.PostCreatedData](env)
		if err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		if data.Content != "イベント検証用の投稿" {
			t.Errorf("content: got %s, want イベント検証用の投稿", data.Content)
		}
		if data.UserID != "user-1" {
			t.Errorf("user_id: got %s, want user-1", data.UserID)
		}
	})

	t.Run("本文が未指定の場合はBadRequest", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodPost, "/api/posts", "user-1", map[string]any{})

		if w.Code != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("ユーザーIDが未設定の場合はUnauthorized", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"content": "認証なし"}
		w := doRequest(router, http.MethodPost, "/api/posts", "", body)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

// TestHandleListPosts は投稿一覧取得ハンドラのテスト。
func TestHandleListPosts(t *testing.T) {
	t.Parallel()

	t.Run("投稿が存在しない場合は空配列を返す", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/posts", "user-1", nil)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		result := parseJSON(t, w)
		posts, ok := result["posts"].([]any)
		if !ok {
			t.Fatalf("postsが配列ではありません: %v", result["posts"])
		}
		if len(posts) != 0 {
			t.Errorf("件数: got %d, want 0", len(posts))
		}
		if result["total"] != float64(0) {
			t.Errorf("total: got %v, want 0", result["total"])
		}
	})

	t.Run("ページネーションが機能する", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		for i := 0; i < 5; i++ {
			createTestPost(t, s, fmt.Sprintf("post-%d", i), "user-1", fmt.Sprintf("投稿 %d", i), nil)
		}

		w := doRequest(router, http.MethodGet, "/api/posts?page=1&limit=2", "user-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		result := parseJSON(t, w)
		posts := result["posts"].([]any)
		if len(posts) != 2 {
			t.Errorf("件数: got %d, want 2", len(posts))
		}
		if result["total"] != float64(5) {
			t.Errorf("total: got %v, want 5", result["total"])
		}
	})

	t.Run("2回目の取得はキャッシュから返る", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestPost(t, s, "post-cached", "user-1", "キャッシュされる投稿", nil)

		w := doRequest(router, http.MethodGet, "/api/posts", "user-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("1回目の取得に失敗: status=%d", w.Code)
		}

		// キャッシュ無効化を経由せずにDBへ直接追加する
		createTestPost(t, s, "post-uncached", "user-1", "キャッシュに反映されない投稿", nil)

		w = doRequest(router, http.MethodGet, "/api/posts", "user-1", nil)
		result := parseJSON(t, w)
		posts := result["posts"].([]any)
		if len(posts) != 1 {
			t.Errorf("キャッシュが効いていません: 件数 got %d, want 1", len(posts))
		}
	})

	t.Run("投稿作成で一覧キャッシュが無効化される", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		if w := doRequest(router, http.MethodGet, "/api/posts", "user-1", nil); w.Code != http.StatusOK {
			t.Fatalf("1回目の取得に失敗: status=%d", w.Code)
		}

		body := map[string]any{"content": "キャッシュを無効化する投稿"}
		if w := doRequest(router, http.MethodPost, "/api/posts", "user-1", body); w.Code != http.StatusCreated {
			t.Fatalf("投稿の作成に失敗: status=%d", w.Code)
		}

		w := doRequest(router, http.MethodGet, "/api/posts", "user-1", nil)
		result := parseJSON(t, w)
		posts := result["posts"].([]any)
		if len(posts) != 1 {
			t.Errorf("無効化後の件数: got %d, want 1", len(posts))
		}
	})
}

// TestHandleGetPostByID は単一投稿取得ハンドラのテスト。
func TestHandleGetPostByID(t *testing.T) {
	t.Parallel()

	t.Run("投稿を取得できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestPost(t, s, "post-1", "user-1", "単一取得テスト", []string{"media-1"})

		w := doRequest(router, http.MethodGet, "/api/posts/post-1", "user-1", nil)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
		}

		result := parseJSON(t, w)
		post := result["post"].(map[string]any)
		if post["content"] != "単一取得テスト" {
			t.Errorf("content: got %v, want 単一取得テスト", post["content"])
		}
		if post["username"] != "tester" {
			t.Errorf("username: got %v, want tester", post["username"])
		}
	})

	t.Run("存在しない投稿はNotFound", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodGet, "/api/posts/no-such-post", "user-1", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleUpdatePost は投稿更新ハンドラのテスト。
func TestHandleUpdatePost(t *testing.T) {
	t.Parallel()

	t.Run("所有者は投稿を更新できる", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestPost(t, s, "post-1", "user-1", "更新前", nil)

		body := map[string]any{"content": "更新後"}
		w := doRequest(router, http.MethodPut, "/api/posts/post-1", "user-1", body)

		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		result := parseJSON(t, w)
		post := result["post"].(map[string]any)
		if post["content"] != "更新後" {
			t.Errorf("content: got %v, want 更新後", post["content"])
		}
	})

	t.Run("所有者以外の更新はForbidden", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestPost(t, s, "post-1", "user-1", "他人の投稿", nil)

		body := map[string]any{"content": "乗っ取り"}
		w := doRequest(router, http.MethodPut, "/api/posts/post-1", "user-2", body)

		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}

		// 本文が変わっていないことを確認する
		p, err := s.queries.GetPostByID(t.Context(), "post-1")
		if err != nil {
			t.Fatalf("投稿の取得に失敗: %v", err)
		}
		if p.Content != "他人の投稿" {
			t.Errorf("content: got %s, want 他人の投稿", p.Content)
		}
	})

	t.Run("存在しない投稿の更新はNotFound", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		body := map[string]any{"content": "更新"}
		w := doRequest(router, http.MethodPut, "/api/posts/no-such-post", "user-1", body)

		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestHandleDeletePost は投稿削除ハンドラのテスト。
func TestHandleDeletePost(t *testing.T) {
	t.Parallel()

	t.Run("所有者は投稿を削除でき、post.deletedイベントが発行される", func(t *testing.T) {
		t.Parallel()
		s, router, bus := setupTestServer(t)

		createTestPost(t, s, "post-1", "user-1", "削除される投稿", []string{"media-1", "media-2"})
		events := subscribeEvents(t, bus, string(event.RoutingKeyPostDeleted))

		w := doRequest(router, http.MethodDelete, "/api/posts/post-1", "user-1", nil)
		if w.Code != http.StatusOK {
			t.Errorf("ステータスコード: got %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		env := waitForEvent(t, events)
		data, err := event.DecodeData[event.PostDeletedData](env)
		if err != nil {
			t.Fatalf("ペイロードのデコードに失敗: %v", err)
		}
		if data.PostID != "post-1" {
			t.Errorf("post_id: got %s, want post-1", data.PostID)
		}
		if len(data.MediaIDs) != 2 {
			t.Errorf("media_ids: got %d件, want 2件", len(data.MediaIDs))
		}

		if _, err := s.queries.GetPostByID(t.Context(), "post-1"); err != sql.ErrNoRows {
			t.Errorf("投稿が削除されていません: %v", err)
		}
	})

	t.Run("所有者以外の削除はForbidden", func(t *testing.T) {
		t.Parallel()
		s, router, _ := setupTestServer(t)

		createTestPost(t, s, "post-1", "user-1", "他人の投稿", nil)

		w := doRequest(router, http.MethodDelete, "/api/posts/post-1", "user-2", nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusForbidden)
		}
	})

	t.Run("存在しない投稿の削除はNotFound", func(t *testing.T) {
		t.Parallel()
		_, router, _ := setupTestServer(t)

		w := doRequest(router, http.MethodDelete, "/api/posts/no-such-post", "user-1", nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("ステータスコード: got %d, want %d", w.Code, http.StatusNotFound)
		}
	})
}

// TestFetchUsernameCallerPropagation はidentityサービスへの問い合わせに
// 呼び出し元ユーザーのIDが伝播されることのテスト。
func TestFetchUsernameCallerPropagation(t *testing.T) {
	t.Parallel()

	s, router, _ := setupTestServer(t)

	var gotUserID string
	identity := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID = r.Header.Get("X-User-ID")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"user-2","username":"author"}`)
	}))
	t.Cleanup(identity.Close)
	s.identityClient = httpclient.New(identity.URL)

	createTestPost(t, s, "post-1", "user-2", "本文", nil)

	w := doRequest(router, http.MethodGet, "/api/posts/post-1", "user-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != "user-1" {
		t.Errorf("X-User-ID: got %q, want %q", gotUserID, "user-1")
	}
}
