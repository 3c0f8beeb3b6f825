package identity

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。db/identity/schema.sql と同期すること。
const schema = `
CREATE TABLE IF NOT EXISTS users (
    -- ユーザーの一意識別子
    id TEXT PRIMARY KEY,
    -- ユーザー名（一意）
    username TEXT NOT NULL UNIQUE,
    -- メールアドレス（一意・小文字）
    email TEXT NOT NULL UNIQUE,
    -- argon2idでエンコードされたパスワードハッシュ
    password_hash TEXT NOT NULL,
    -- ロール（"user" または "admin"）
    role TEXT NOT NULL DEFAULT 'user',
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    -- リフレッシュトークン本体
    token TEXT PRIMARY KEY,
    -- トークンの所有者
    user_id TEXT NOT NULL,
    -- 失効日時
    expires_at DATETIME NOT NULL,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- ユーザーIDでのトークン検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user_id
    ON refresh_tokens(user_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
