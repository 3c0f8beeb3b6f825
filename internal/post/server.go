package post

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	postdb "github.com/GouravKumar06/social-media-microserver/internal/post/db"
	"github.com/GouravKumar06/social-media-microserver/pkg/cache"
	"github.com/GouravKumar06/social-media-microserver/pkg/event"
	"github.com/GouravKumar06/social-media-microserver/pkg/eventbus"
	"github.com/GouravKumar06/social-media-microserver/pkg/httpclient"
	"github.com/GouravKumar06/social-media-microserver/pkg/middleware"
)

// キャッシュのTTL。一覧・単一投稿とも、書き込み時の無効化が主な整合性手段であり、
// TTLは無効化漏れに対する安全網にすぎない。
const (
	listCacheTTL = 5 * time.Minute
	postCacheTTL = 5 * time.Minute
)

// publishTimeout はバックグラウンドでのイベント発行に適用するタイムアウト。
const publishTimeout = 5 * time.Second

// Server はpostサービスのHTTPサーバー。
// 投稿のCRUD、一覧キャッシュ、状態変更イベントの発行を担当する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *postdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// cache は一覧・単一投稿クエリのキャッシュ。
	cache cache.Cache
	// bus は状態変更イベントの発行先。
	bus eventbus.Bus
	// identityClient はユーザー名取得用のidentityサービスクライアント。
	identityClient *httpclient.Client
}

// NewServer は新しいpostサーバーを生成する。
// キャッシュとイベントバスは呼び出し側が構築して注入する。
func NewServer(port string, c cache.Cache, bus eventbus.Bus) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/post.db?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3001"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:         router,
		port:           port,
		queries:        postdb.New(sqlDB),
		db:             sqlDB,
		cache:          c,
		bus:            bus,
		identityClient: httpclient.New(identityURL),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	api := s.router.Group("/api/posts")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		// 投稿作成
		api.POST("", s.handleCreate())
		// 投稿一覧取得（ページネーション・キャッシュあり）
		api.GET("", s.handleList())
		// 単一投稿取得
		api.GET("/:id", s.handleGetByID())
		// 投稿更新
		api.PUT("/:id", s.handleUpdate())
		// 投稿削除
		api.DELETE("/:id", s.handleDelete())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "post"})
	})
}

// createPostRequest は投稿作成リクエストのJSON構造。
type createPostRequest struct {
	// Content は投稿の本文。
	Content string `json:"content" binding:"required"`
	// MediaIDs は添付メディアのID一覧。
	MediaIDs []string `json:"mediaIds"`
}

// updatePostRequest は投稿更新リクエストのJSON構造。
type updatePostRequest struct {
	// Content は投稿の本文。
	Content string `json:"content" binding:"required"`
}

// postResponse は投稿のJSONレスポンス構造。
type postResponse struct {
	// ID は投稿の一意識別子。
	ID string `json:"id"`
	// UserID は投稿を作成したユーザーのID。
	UserID string `json:"user_id"`
	// Username は投稿者のユーザー名。identityサービスから取得できない場合は空。
	Username string `json:"username,omitempty"`
	// Content は投稿の本文。
	Content string `json:"content"`
	// MediaIDs は添付メディアのID一覧。
	MediaIDs []string `json:"media_ids"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
	// UpdatedAt は更新日時。
	UpdatedAt string `json:"updated_at"`
}

// postListing は一覧レスポンスのキャッシュ単位。
type postListing struct {
	// Posts はページ内の投稿一覧。
	Posts []postResponse `json:"posts"`
	// Page は現在のページ番号（1始まり）。
	Page int64 `json:"page"`
	// Limit は1ページあたりの件数。
	Limit int64 `json:"limit"`
	// Total は全投稿数。
	Total int64 `json:"total"`
}

// toPostResponse はDB行をJSONレスポンスに変換する。
func toPostResponse(p postdb.Post, username string) postResponse {
	return postResponse{
		ID:        p.ID,
		UserID:    p.UserID,
		Username:  username,
		Content:   p.Content,
		MediaIDs:  decodeMediaIDs(p.MediaIds),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

// decodeMediaIDs はDBに格納されたJSON配列をデコードする。壊れている場合は空とみなす。
func decodeMediaIDs(raw string) []string {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return []string{}
	}
	if ids == nil {
		return []string{}
	}
	return ids
}

// 投稿キャッシュのキー。単一投稿はID、一覧はページ・件数ごとに分かれる。
func postCacheKey(id string) string {
	return "posts:id:" + id
}

func listCacheKey(page, limit int64) string {
	return fmt.Sprintf("posts:list:page=%d:limit=%d", page, limit)
}

// invalidatePostCaches は投稿の書き込みに伴うキャッシュ無効化を行う。
// 一覧キャッシュはどのページに影響したかを計算せず、名前空間ごと掃引する。
func (s *Server) invalidatePostCaches(ctx context.Context, postID string) {
	if err := s.cache.Delete(ctx, postCacheKey(postID)); err != nil {
		log.Printf("投稿キャッシュの削除に失敗: id=%s, error=%v", postID, err)
	}
	if err := s.cache.DeletePattern(ctx, "posts:list:*"); err != nil {
		log.Printf("一覧キャッシュの掃引に失敗: %v", err)
	}
}

// publishAsync はイベントをバックグラウンドで発行する。
// クライアントへのレスポンスをバスの接続性に依存させない。
// 発行失敗はログに記録されるのみで、購読側の冪等性が再配送・欠落を吸収する。
func (s *Server) publishAsync(key event.RoutingKey, data any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		env, err := event.New(key, data)
		if err != nil {
			log.Printf("イベントの生成に失敗: key=%s, error=%v", key, err)
			return
		}
		if err := s.bus.Publish(ctx, env); err != nil {
			log.Printf("イベントの発行に失敗: key=%s, error=%v", key, err)
		}
	}()
}

// handleCreate は投稿作成を処理するハンドラを返す。
// 作成後、一覧キャッシュを無効化し、post.createdイベントを発行する。
func (s *Server) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid or missing token"})
			return
		}

		var req createPostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "content is required"})
			return
		}

		mediaIDs := req.MediaIDs
		if mediaIDs == nil {
			mediaIDs = []string{}
		}
		encodedMediaIDs, err := json.Marshal(mediaIDs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid mediaIds"})
			return
		}

		postID := uuid.New().String()
		if err := s.queries.CreatePost(c.Request.Context(), postdb.CreatePostParams{
			ID:       postID,
			UserID:   userID,
			Content:  req.Content,
			MediaIds: string(encodedMediaIDs),
		}); err != nil {
			log.Printf("投稿の作成に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Post creation error"})
			return
		}

		created, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if err != nil {
			log.Printf("作成した投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Post creation error"})
			return
		}

		s.invalidatePostCaches(c.Request.Context(), postID)
		s.publishAsync(event.RoutingKeyPostCreated, event.PostCreatedData{
			PostID:    postID,
			UserID:    userID,
			Content:   req.Content,
			CreatedAt: created.CreatedAt.Format(time.RFC3339),
		})

		log.Printf("投稿を作成しました: id=%s", postID)
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Post created successfully",
			"post":    toPostResponse(created, ""),
		})
	}
}

// handleList は投稿一覧取得を処理するハンドラを返す。
// ページ単位でキャッシュし、ヒット時はDBへ問い合わせない。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		page := parsePositiveInt(c.Query("page"), 1)
		limit := parsePositiveInt(c.Query("limit"), 10)
		if limit > 50 {
			limit = 50
		}

		key := listCacheKey(page, limit)
		var cached postListing
		hit, err := s.cache.Get(c.Request.Context(), key, &cached)
		if err != nil {
			log.Printf("一覧キャッシュの取得に失敗: %v", err)
		}
		if hit {
			c.JSON(http.StatusOK, gin.H{
				"success": true,
				"message": "Posts retrieved successfully",
				"posts":   cached.Posts,
				"page":    cached.Page,
				"limit":   cached.Limit,
				"total":   cached.Total,
			})
			return
		}

		posts, err := s.queries.ListPosts(c.Request.Context(), postdb.ListPostsParams{
			Limit:  limit,
			Offset: (page - 1) * limit,
		})
		if err != nil {
			log.Printf("投稿一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Get all posts error"})
			return
		}

		total, err := s.queries.CountPosts(c.Request.Context())
		if err != nil {
			log.Printf("投稿数の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Get all posts error"})
			return
		}

		// identityサービスへの問い合わせに呼び出し元ユーザーのIDを伝播する
		ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
		usernames := s.fetchUsernames(ctx, posts)
		responses := make([]postResponse, 0, len(posts))
		for _, p := range posts {
			responses = append(responses, toPostResponse(p, usernames[p.UserID]))
		}

		listing := postListing{Posts: responses, Page: page, Limit: limit, Total: total}
		if err := s.cache.Set(c.Request.Context(), key, listing, listCacheTTL); err != nil {
			log.Printf("一覧キャッシュの保存に失敗: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Posts retrieved successfully",
			"posts":   listing.Posts,
			"page":    listing.Page,
			"limit":   listing.Limit,
			"total":   listing.Total,
		})
	}
}

// handleGetByID は単一投稿取得を処理するハンドラを返す。
func (s *Server) handleGetByID() gin.HandlerFunc {
	return func(c *gin.Context) {
		postID := c.Param("id")
		key := postCacheKey(postID)

		var cached postResponse
		hit, err := s.cache.Get(c.Request.Context(), key, &cached)
		if err != nil {
			log.Printf("投稿キャッシュの取得に失敗: %v", err)
		}
		if hit {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Post retrieved successfully", "post": cached})
			return
		}

		p, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Post not found"})
			return
		}
		if err != nil {
			log.Printf("投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Get single post error"})
			return
		}

		ctx := httpclient.WithUserID(c.Request.Context(), middleware.GetUserID(c))
		resp := toPostResponse(p, s.fetchUsername(ctx, p.UserID))
		if err := s.cache.Set(c.Request.Context(), key, resp, postCacheTTL); err != nil {
			log.Printf("投稿キャッシュの保存に失敗: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Post retrieved successfully", "post": resp})
	}
}

// handleUpdate は投稿更新を処理するハンドラを返す。
// 所有者以外からの更新は拒否する。更新後は単一・一覧キャッシュを無効化する。
func (s *Server) handleUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		postID := c.Param("id")

		var req updatePostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "content is required"})
			return
		}

		p, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Post not found"})
			return
		}
		if err != nil {
			log.Printf("投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Update post error"})
			return
		}

		if p.UserID != userID {
			log.Printf("投稿の更新を拒否: 所有者ではありません: post=%s user=%s", postID, userID)
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "You are not authorized to update this post"})
			return
		}

		if err := s.queries.UpdatePost(c.Request.Context(), postdb.UpdatePostParams{
			Content: req.Content,
			ID:      postID,
		}); err != nil {
			log.Printf("投稿の更新に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Update post error"})
			return
		}

		s.invalidatePostCaches(c.Request.Context(), postID)

		updated, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if err != nil {
			log.Printf("更新した投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Update post error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Post updated successfully",
			"post":    toPostResponse(updated, ""),
		})
	}
}

// handleDelete は投稿削除を処理するハンドラを返す。
// 削除後、キャッシュを無効化し、添付メディアID付きのpost.deletedイベントを発行する。
// mediaサービスはこのイベントを受けてメディアの削除カスケードを実行する。
func (s *Server) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		postID := c.Param("id")

		p, err := s.queries.GetPostByID(c.Request.Context(), postID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Post not found"})
			return
		}
		if err != nil {
			log.Printf("投稿の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Delete post error"})
			return
		}

		if p.UserID != userID {
			log.Printf("投稿の削除を拒否: 所有者ではありません: post=%s user=%s", postID, userID)
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "You are not authorized to delete this post"})
			return
		}

		if err := s.queries.DeletePost(c.Request.Context(), postID); err != nil {
			log.Printf("投稿の削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Delete post error"})
			return
		}

		s.invalidatePostCaches(c.Request.Context(), postID)
		s.publishAsync(event.RoutingKeyPostDeleted, event.PostDeletedData{
			PostID:   postID,
			UserID:   userID,
			MediaIDs: decodeMediaIDs(p.MediaIds),
		})

		log.Printf("投稿を削除しました: id=%s", postID)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "Post deleted successfully",
		})
	}
}

// fetchUsername はidentityサービスからユーザー名を取得する。
// 取得できない場合は空文字を返し、投稿の取得自体は失敗させない。
func (s *Server) fetchUsername(ctx context.Context, userID string) string {
	var result struct {
		Username string `json:"username"`
	}
	if err := s.identityClient.GetJSON(ctx, "/api/auth/users/"+userID, &result); err != nil {
		log.Printf("ユーザー名の取得に失敗: user=%s, error=%v", userID, err)
		return ""
	}
	return result.Username
}

// fetchUsernames は一覧内の投稿者のユーザー名をまとめて取得する。
// 同一ユーザーへの重複問い合わせは行わない。
func (s *Server) fetchUsernames(ctx context.Context, posts []postdb.Post) map[string]string {
	usernames := make(map[string]string)
	for _, p := range posts {
		if _, ok := usernames[p.UserID]; ok {
			continue
		}
		usernames[p.UserID] = s.fetchUsername(ctx, p.UserID)
	}
	return usernames
}

// parsePositiveInt は文字列を正の整数として解釈する。不正な値はfallbackを返す。
func parsePositiveInt(s string, fallback int64) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
