package search

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	searchdb "github.com/GouravKumar06/social-media-microserver/internal/search/db"
	"github.com/GouravKumar06/social-media-microserver/pkg/cache"
	"github.com/GouravKumar06/social-media-microserver/pkg/event"
	"github.com/GouravKumar06/social-media-microserver/pkg/eventbus"
	"github.com/GouravKumar06/social-media-microserver/pkg/middleware"
)

// searchCacheTTL は検索結果キャッシュのTTL。
// インデックスはイベント駆動で随時更新されるため短めに保つ。
const searchCacheTTL = 2 * time.Minute

// maxSearchResults は1回の検索で返す件数の上限。
const maxSearchResults = 25

// Server はsearchサービスのHTTPサーバー。
// post.created/post.deletedイベントから検索インデックスを構築し、全文検索APIを提供する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *searchdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// cache は検索結果のキャッシュ。
	cache cache.Cache
	// bus はイベントの購読元。
	bus eventbus.Bus
}

// NewServer は新しいsearchサーバーを生成する。
func NewServer(port string, c cache.Cache, bus eventbus.Bus) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/search.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:  router,
		port:    port,
		queries: searchdb.New(sqlDB),
		db:      sqlDB,
		cache:   c,
		bus:     bus,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// StartConsumers は検索インデックスを更新するコンシューマループを開始する。
func (s *Server) StartConsumers(ctx context.Context) error {
	if err := s.bus.Subscribe(ctx, string(event.RoutingKeyPostCreated), s.handlePostCreated); err != nil {
		return fmt.Errorf("post.createdの購読に失敗: %w", err)
	}
	if err := s.bus.Subscribe(ctx, string(event.RoutingKeyPostDeleted), s.handlePostDeleted); err != nil {
		return fmt.Errorf("post.deletedの購読に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	api := s.router.Group("/api/search")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		// 投稿の全文検索
		api.GET("", s.handleSearch())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "search"})
	})
}

// searchResult は検索結果1件のJSONレスポンス構造。
type searchResult struct {
	// PostID は一致した投稿のID。
	PostID string `json:"post_id"`
	// UserID は投稿者のユーザーID。
	UserID string `json:"user_id"`
	// Content は投稿本文。
	Content string `json:"content"`
	// CreatedAt は投稿の作成日時。
	CreatedAt string `json:"created_at"`
}

// handleSearch は投稿の検索を処理するハンドラを返す。
func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Query parameter q is required"})
			return
		}

		key := "search:q=" + query
		var cached []searchResult
		hit, err := s.cache.Get(c.Request.Context(), key, &cached)
		if err != nil {
			log.Printf("検索キャッシュの取得に失敗: %v", err)
		}
		if hit {
			c.JSON(http.StatusOK, gin.H{"success": true, "results": cached})
			return
		}

		rows, err := s.queries.SearchPosts(c.Request.Context(), searchdb.SearchPostsParams{
			Content: "%" + escapeLike(query) + "%",
			Limit:   maxSearchResults,
		})
		if err != nil {
			log.Printf("検索の実行に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
			return
		}

		results := make([]searchResult, 0, len(rows))
		for _, row := range rows {
			results = append(results, searchResult{
				PostID:    row.PostID,
				UserID:    row.UserID,
				Content:   row.Content,
				CreatedAt: row.CreatedAt.Format(time.RFC3339),
			})
		}

		if err := s.cache.Set(c.Request.Context(), key, results, searchCacheTTL); err != nil {
			log.Printf("検索キャッシュの保存に失敗: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
	}
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// handlePostCreated はpost.createdイベントを処理し、投稿を検索インデックスに登録する。
// post_idに対するupsertのため、同じイベントの再配送は単なる上書きになる。
func (s *Server) handlePostCreated(ctx context.Context, env *event.Envelope) error {
	data, err := event.DecodeData[event.PostCreatedData](env)
	if err != nil {
		// 壊れたペイロードは再配送しても成功しない。
		log.Printf("post.createdペイロードの解釈に失敗: id=%s, error=%v", env.ID, err)
		return nil
	}

	createdAt, err := time.Parse(time.RFC3339, data.CreatedAt)
	if err != nil {
		createdAt = env.OccurredAt
	}

	if err := s.queries.UpsertSearchPost(ctx, searchdb.UpsertSearchPostParams{
		ID:        uuid.New().String(),
		PostID:    data.PostID,
		UserID:    data.UserID,
		Content:   data.Content,
		CreatedAt: createdAt,
	}); err != nil {
		return fmt.Errorf("検索インデックスの登録に失敗 (post=%s): %w", data.PostID, err)
	}

	s.invalidateSearchCaches(ctx)
	log.Printf("検索インデックスに登録しました: post=%s", data.PostID)
	return nil
}

// handlePostDeleted はpost.deletedイベントを処理し、投稿を検索インデックスから除去する。
// 存在しないpost_idの削除はno-opであり冪等。
func (s *Server) handlePostDeleted(ctx context.Context, env *event.Envelope) error {
	data, err := event.DecodeData[event.PostDeletedData](env)
	if err != nil {
		log.Printf("post.deletedペイロードの解釈に失敗: id=%s, error=%v", env.ID, err)
		return nil
	}

	if err := s.queries.DeleteSearchPost(ctx, data.PostID); err != nil {
		return fmt.Errorf("検索インデックスの削除に失敗 (post=%s): %w", data.PostID, err)
	}

	s.invalidateSearchCaches(ctx)
	log.Printf("検索インデックスから削除しました: post=%s", data.PostID)
	return nil
}

// invalidateSearchCaches は全検索結果キャッシュを無効化する。
// どのクエリに一致するキャッシュが影響を受けるか判定できないため一括で破棄する。
func (s *Server) invalidateSearchCaches(ctx context.Context) {
	if err := s.cache.DeletePattern(ctx, "search:*"); err != nil {
		log.Printf("検索キャッシュの無効化に失敗: %v", err)
	}
}
