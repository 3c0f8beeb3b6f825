package identity

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	identitydb "github.com/GouravKumar06/social-media-microserver/internal/identity/db"
	"github.com/GouravKumar06/social-media-microserver/pkg/middleware"
)

// refreshTokenTTL はリフレッシュトークンの有効期間。
const refreshTokenTTL = 7 * 24 * time.Hour

// Server はidentityサービスのHTTPサーバー。
// ユーザー登録・ログイン・トークン更新・ログアウトを担当する。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *identitydb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// jwtSecret はJWT署名用の秘密鍵。
	jwtSecret string
}

// NewServer は新しいidentityサーバーを生成する。
// SQLiteデータベースの初期化とスキーマ作成を行う。
func NewServer(port string) (*Server, error) {
	sqlDB, err := sql.Open("sqlite", "/data/identity.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := initSchema(sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())

	s := &Server{
		router:    router,
		port:      port,
		queries:   identitydb.New(sqlDB),
		db:        sqlDB,
		jwtSecret: jwtSecret,
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
	auth := s.router.Group("/api/auth")
	{
		// ユーザー登録
		auth.POST("/register", s.handleRegister())
		// ログイン
		auth.POST("/login", s.handleLogin())
		// リフレッシュトークンによるトークン更新
		auth.POST("/refresh-token", s.handleRefreshToken())
		// ログアウト（リフレッシュトークンの失効）
		auth.POST("/logout", s.handleLogout())
		// サービス間連携用のユーザー情報取得
		auth.GET("/users/:id", s.handleGetUser())
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "identity"})
	})
}

// registerRequest はユーザー登録リクエストのJSON構造。
type registerRequest struct {
	// Username はユーザー名（5〜40文字）。
	Username string `json:"username" binding:"required,min=5,max=40"`
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password はパスワード（6文字以上）。
	Password string `json:"password" binding:"required,min=6,max=1024"`
	// Role はロール。省略時は "user"。
	Role string `json:"role" binding:"omitempty,oneof=user admin"`
}

// loginRequest はログインリクエストのJSON構造。
type loginRequest struct {
	// Email はメールアドレス。
	Email string `json:"email" binding:"required,email"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
}

// refreshRequest はトークン更新・ログアウトリクエストのJSON構造。
type refreshRequest struct {
	// RefreshToken は対象のリフレッシュトークン。
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// handleRegister はユーザー登録を処理するハンドラを返す。
// ユーザー名・メールアドレスの重複を確認し、パスワードをargon2idでハッシュ化して保存する。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Printf("登録リクエストの検証に失敗: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprintf("Validation error: %v", err)})
			return
		}

		count, err := s.queries.CountUsersByUsernameOrEmail(c.Request.Context(), identitydb.CountUsersByUsernameOrEmailParams{
			Username: req.Username,
			Email:    req.Email,
		})
		if err != nil {
			log.Printf("ユーザーの重複確認に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}
		if count > 0 {
			log.Printf("ユーザーは既に存在します: username=%s", req.Username)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User already exists"})
			return
		}

		hash, err := hashPassword(req.Password)
		if err != nil {
			log.Printf("パスワードのハッシュ化に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		role := req.Role
		if role == "" {
			role = "user"
		}

		userID := uuid.New().String()
		if err := s.queries.CreateUser(c.Request.Context(), identitydb.CreateUserParams{
			ID:           userID,
			Username:     req.Username,
			Email:        req.Email,
			PasswordHash: hash,
			Role:         role,
		}); err != nil {
			log.Printf("ユーザーの作成に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		accessToken, refreshToken, err := s.issueTokens(c, userID, role)
		if err != nil {
			log.Printf("トークンの発行に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		log.Printf("ユーザーを登録しました: id=%s", userID)
		c.JSON(http.StatusCreated, gin.H{
			"success":      true,
			"message":      "User registered successfully",
			"accessToken":  accessToken,
			"refreshToken": refreshToken,
		})
	}
}

// handleLogin はログインを処理するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			log.Printf("ログインリクエストの検証に失敗: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprintf("Validation error: %v", err)})
			return
		}

		user, err := s.queries.GetUserByEmail(c.Request.Context(), req.Email)
		if errors.Is(err, sql.ErrNoRows) {
			log.Printf("ログイン失敗: ユーザーが見つかりません: email=%s", req.Email)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User not found"})
			return
		}
		if err != nil {
			log.Printf("ユーザーの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		if err := verifyPassword(user.PasswordHash, req.Password); err != nil {
			log.Printf("ログイン失敗: パスワードが一致しません: id=%s", user.ID)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid credentials"})
			return
		}

		accessToken, refreshToken, err := s.issueTokens(c, user.ID, user.Role)
		if err != nil {
			log.Printf("トークンの発行に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		log.Printf("ユーザーがログインしました: id=%s", user.ID)
		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"message":      "User logged in successfully",
			"accessToken":  accessToken,
			"refreshToken": refreshToken,
			"userId":       user.ID,
		})
	}
}

// handleRefreshToken はリフレッシュトークンによるトークン更新を処理するハンドラを返す。
// 古いリフレッシュトークンは失効させ、新しいトークンの組を発行する（ローテーション）。
func (s *Server) handleRefreshToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Refresh token not found"})
			return
		}

		stored, err := s.queries.GetRefreshToken(c.Request.Context(), req.RefreshToken)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && stored.ExpiresAt.Before(time.Now())) {
			log.Printf("無効なリフレッシュトークンです")
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid refresh token"})
			return
		}
		if err != nil {
			log.Printf("リフレッシュトークンの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		user, err := s.queries.GetUserByID(c.Request.Context(), stored.UserID)
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "User not found"})
			return
		}
		if err != nil {
			log.Printf("ユーザーの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		// 古いリフレッシュトークンを失効させてから新しい組を発行する
		if err := s.queries.DeleteRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
			log.Printf("リフレッシュトークンの削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		accessToken, refreshToken, err := s.issueTokens(c, user.ID, user.Role)
		if err != nil {
			log.Printf("トークンの発行に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":      true,
			"message":      "Tokens generated successfully",
			"accessToken":  accessToken,
			"refreshToken": refreshToken,
		})
	}
}

// handleLogout はログアウトを処理するハンドラを返す。
// リフレッシュトークンを削除する。既に存在しないトークンの削除は成功として扱う。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Refresh token not found"})
			return
		}

		if err := s.queries.DeleteRefreshToken(c.Request.Context(), req.RefreshToken); err != nil {
			log.Printf("リフレッシュトークンの削除に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		log.Printf("ユーザーがログアウトしました")
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "User logged out successfully",
		})
	}
}

// handleGetUser はサービス間連携用のユーザー情報取得ハンドラを返す。
// postサービスが投稿一覧にユーザー名を付与するために使用する。
// 内部ネットワークからのみ到達可能で、ゲートウェイにはルーティングされない。
func (s *Server) handleGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := s.queries.GetUserByID(c.Request.Context(), c.Param("id"))
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found"})
			return
		}
		if err != nil {
			log.Printf("ユーザーの取得に失敗: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Internal Server Error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":       user.ID,
			"username": user.Username,
		})
	}
}

// issueTokens はアクセストークンとリフレッシュトークンの組を発行する。
// リフレッシュトークンは失効日時付きでDBに永続化される。
func (s *Server) issueTokens(c *gin.Context, userID, role string) (string, string, error) {
	accessToken, err := middleware.GenerateJWT(s.jwtSecret, userID, role)
	if err != nil {
		return "", "", err
	}

	refreshToken := uuid.New().String()
	if err := s.queries.CreateRefreshToken(c.Request.Context(), identitydb.CreateRefreshTokenParams{
		Token:     refreshToken,
		UserID:    userID,
		ExpiresAt: time.Now().Add(refreshTokenTTL),
	}); err != nil {
		return "", "", fmt.Errorf("リフレッシュトークンの保存に失敗: %w", err)
	}

	return accessToken, refreshToken, nil
}
