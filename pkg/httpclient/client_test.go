package httpclient

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestGetJSON はGETリクエストとデシリアライズのテスト。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("レスポンスをデシリアライズできる", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/auth/users/user-1" {
				t.Errorf("パス: got %s, want /api/auth/users/user-1", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"user-1","username":"tester"}`)
		}))
		t.Cleanup(srv.Close)

		var result struct {
			Username string `json:"username"`
		}
		if err := New(srv.URL).GetJSON(t.Context(), "/api/auth/users/user-1", &result); err != nil {
			t.Fatalf("リクエストに失敗: %v", err)
		}
		if result.Username != "tester" {
			t.Errorf("username: got %s, want tester", result.Username)
		}
	})

	t.Run("2xx以外のステータスはエラー", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "not found", http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)

		var result map[string]any
		if err := New(srv.URL).GetJSON(t.Context(), "/missing", &result); err == nil {
			t.Error("エラーが返りませんでした")
		}
	})

	t.Run("接続できない場合はエラー", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		srv.Close()

		var result map[string]any
		if err := New(srv.URL).GetJSON(t.Context(), "/", &result); err == nil {
			t.Error("エラーが返りませんでした")
		}
	})
}

// TestWithUserID はコンテキスト経由のユーザーID伝播のテスト。
func TestWithUserID(t *testing.T) {
	t.Parallel()

	t.Run("ユーザーIDヘッダーが送信される", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("X-User-ID"); got != "user-1" {
				t.Errorf("X-User-ID: got %s, want user-1", got)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"ok":true}`)
		}))
		t.Cleanup(srv.Close)

		ctx := WithUserID(t.Context(), "user-1")
		var result map[string]any
		if err := New(srv.URL).GetJSON(ctx, "/api/auth/users/user-2", &result); err != nil {
			t.Fatalf("リクエストに失敗: %v", err)
		}
	})

	t.Run("ユーザーIDがないコンテキストではヘッダーを付けない", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("X-User-ID"); got != "" {
				t.Errorf("X-User-ID: got %s, want 空", got)
			}
			fmt.Fprint(w, `{}`)
		}))
		t.Cleanup(srv.Close)

		var result map[string]any
		if err := New(srv.URL).GetJSON(t.Context(), "/api/auth/users/user-2", &result); err != nil {
			t.Fatalf("リクエストに失敗: %v", err)
		}
	})
}
