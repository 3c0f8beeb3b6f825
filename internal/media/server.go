package media

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	mediadb "github.com/GouravKumar06/social-media-microserver/internal/media/db"
	"github.com/GouravKumar06/social-media-microserver/pkg/cache"
	"github.com/GouravKumar06/social-media-microserver/pkg/event"
	"github.com/GouravKumar06/social-media-microserver/pkg/eventbus"
	"github.com/GouravKumar06/social-media-microserver/pkg/middleware"
)

// maxUploadSize はアップロードを受け付けるファイルサイズの上限。
const maxUploadSize = 5 * 1024 * 1024

// listCacheTTL はメディア一覧キャッシュのTTL。
const listCacheTTL = 5 * time.Minute

// publishTimeout はバックグラウンドでのイベント発行に適用するタイムアウト。
const publishTimeout = 5 * time.Second

// Server はmediaサービスのHTTPサーバー。
// メディアのアップロード・一覧取得と、post.deletedイベントによる削除カスケードを担当する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *mediadb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// cache はメディア一覧クエリのキャッシュ。
	cache cache.Cache
	// bus はイベントの発行・購読先。
	bus eventbus.Bus
	// storage はメディアファイル本体の保存先。
	storage BlobStorage
}

// NewServer は新しいmediaサーバーを生成する。
// キャッシュ・イベントバス・ブロブストレージは呼び出し側が構築して注入する。
func NewServer(port string, c cache.Cache, bus eventbus.Bus, storage BlobStorage) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/media.db?_journal_mode=WAL&_busy_timeout=5000")
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
		queries: mediadb.New(sqlDB),
		db:      sqlDB,
		cache:   c,
		bus:     bus,
		storage: storage,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// StartConsumers はこのサービスが関心を持つルーティングキーのコンシューマループを開始する。
// 起動時にバスへ到達できない場合はエラーを返し、プロセスを起動させない。
func (s *Server) StartConsumers(ctx context.Context) error {
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

	api := s.router.Group("/api/media")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		// メディアのアップロード
		api.POST("/upload", s.handleUpload())
		// ユーザーのメディア一覧取得
		api.GET("/all-media", s.handleListByUser())
	}

	// ローカルディスクストレージ使用時のファイル配信
	if dir := os.Getenv("MEDIA_STORAGE_DIR"); dir != "" {
		s.router.Static("/files", dir)
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "media"})
	})
}

// mediaResponse はメディアのJSONレスポンス構造。
type mediaResponse struct {
	// ID はメディアの一意識別子。
	ID string `json:"id"`
	// UserID はアップロードしたユーザーのID。
	UserID string `json:"user_id"`
	// URL はメディアの取得先アドレス。
	URL string `json:"url"`
	// MimeType はファイルのMIMEタイプ。
	MimeType string `json:"mime_type"`
	// OriginalName はアップロード時の元ファイル名。
	OriginalName string `json:"original_name"`
	// CreatedAt は作成日時。
	CreatedAt string `json:"created_at"`
}

// toMediaResponse はDB行をJSONレスポンスに変換する。
func toMediaResponse(m mediadb.Media) mediaResponse {
	return mediaResponse{
		ID:           m.ID,
		UserID:       m.UserID,
		URL:          m.Url,
		MimeType:     m.MimeType,
		OriginalName: m.OriginalName,
		CreatedAt:    m.CreatedAt.Format(time.RFC3339),
	}
}

// listCacheKey はユーザーごとのメディア一覧キャッシュキーを返す。
func listCacheKey(userID string) string {
	return "media:list:user=" + userID
}

// handleUpload はメディアのアップロードを処理するハンドラを返す。
// ファイルをブロブストレージに保存し、メタデータをDBに記録する。
func (s *Server) handleUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid or missing token"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			log.Printf("ファイルが見つかりません: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No file found please try again"})
			return
		}
		if fileHeader.Size > maxUploadSize {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "File too large"})
			return
		}

		f, err := fileHeader.Open()
		if err != nil {
			log.Printf("ファイルのオープンに失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxUploadSize))
		if err != nil {
			log.Printf("ファイルの読み取りに失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
			return
		}

		mimeType := fileHeader.Header.Get("Content-Type")
		log.Printf("ファイルをアップロードします: name=%s type=%s size=%d", fileHeader.Filename, mimeType, fileHeader.Size)

		publicID, url, err := s.storage.Save(c.Request.Context(), fileHeader.Filename, data)
		if err != nil {
			log.Printf("ブロブストレージへの保存に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
			return
		}

		mediaID := uuid.New().String()
		if err := s.queries.CreateMedia(c.Request.Context(), mediadb.CreateMediaParams{
			ID:           mediaID,
			UserID:       userID,
			PublicID:     publicID,
			Url:          url,
			MimeType:     mimeType,
			OriginalName: fileHeader.Filename,
		}); err != nil {
			log.Printf("メディアの保存に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
			return
		}

		if err := s.cache.Delete(c.Request.Context(), listCacheKey(userID)); err != nil {
			log.Printf("メディア一覧キャッシュの削除に失敗: %v", err)
		}

		s.publishAsync(event.RoutingKeyMediaUploaded, event.MediaUploadedData{
			MediaID:  mediaID,
			UserID:   userID,
			URL:      url,
			MimeType: mimeType,
		})

		log.Printf("ファイルをアップロードしました: id=%s public_id=%s", mediaID, publicID)
		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "File uploaded successfully",
			"mediaId": mediaID,
			"url":     url,
		})
	}
}

// handleListByUser は認証済みユーザーのメディア一覧取得を処理するハンドラを返す。
func (s *Server) handleListByUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid or missing token"})
			return
		}

		key := listCacheKey(userID)
		var cached []mediaResponse
		hit, err := s.cache.Get(c.Request.Context(), key, &cached)
		if err != nil {
			log.Printf("メディア一覧キャッシュの取得に失敗: %v", err)
		}
		if hit {
			c.JSON(http.StatusOK, gin.H{"success": true, "media": cached})
			return
		}

		items, err := s.queries.ListMediaByUserID(c.Request.Context(), userID)
		if err != nil {
			log.Printf("メディア一覧の取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal server error"})
			return
		}

		responses := make([]mediaResponse, 0, len(items))
		for _, m := range items {
			responses = append(responses, toMediaResponse(m))
		}

		if err := s.cache.Set(c.Request.Context(), key, responses, listCacheTTL); err != nil {
			log.Printf("メディア一覧キャッシュの保存に失敗: %v", err)
		}

		c.JSON(http.StatusOK, gin.H{"success": true, "media": responses})
	}
}

// handlePostDeleted はpost.deletedイベントを処理し、投稿に紐づくメディアを削除する。
//
// このハンドラは冪等である。既に削除済みのメディアIDはスキップされ、
// 同じイベントが再配送されても最終状態は変わらない。
// DBエラー等の一時的な失敗ではエラーを返し、バスに再配送させる。
func (s *Server) handlePostDeleted(ctx context.Context, env *event.Envelope) error {
	data, err := event.DecodeData[event.PostDeletedData](env)
	if err != nil {
		// ペイロードの形が壊れているイベントは再配送しても成功しないため、
		// ログに記録したうえで処理済みとして扱う。
		log.Printf("post.deletedペイロードの解釈に失敗: id=%s, error=%v", env.ID, err)
		return nil
	}

	log.Printf("post.deletedを受信しました: post=%s media_count=%d", data.PostID, len(data.MediaIDs))

	var affectedUsers []string
	for _, mediaID := range data.MediaIDs {
		m, err := s.queries.GetMediaByID(ctx, mediaID)
		if errors.Is(err, sql.ErrNoRows) {
			// 既に削除済み。再配送や重複IDに対するno-op。
			continue
		}
		if err != nil {
			return fmt.Errorf("メディアの取得に失敗 (id=%s): %w", mediaID, err)
		}

		if err := s.storage.Delete(ctx, m.PublicID); err != nil {
			return fmt.Errorf("ブロブの削除に失敗 (public_id=%s): %w", m.PublicID, err)
		}
		if err := s.queries.DeleteMedia(ctx, mediaID); err != nil {
			return fmt.Errorf("メディアの削除に失敗 (id=%s): %w", mediaID, err)
		}

		affectedUsers = append(affectedUsers, m.UserID)
		log.Printf("メディアを削除しました: id=%s post=%s", mediaID, data.PostID)
	}

	for _, userID := range affectedUsers {
		if err := s.cache.Delete(ctx, listCacheKey(userID)); err != nil {
			log.Printf("メディア一覧キャッシュの削除に失敗: user=%s, error=%v", userID, err)
		}
	}

	return nil
}

// publishAsync はイベントをバックグラウンドで発行する。
// クライアントへのレスポンスをバスの接続性に依存させない。
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
