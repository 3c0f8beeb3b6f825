package post

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。db/post/schema.sql と同期すること。
const schema = `
CREATE TABLE IF NOT EXISTS posts (
    -- 投稿の一意識別子
    id TEXT PRIMARY KEY,
    -- 投稿を作成したユーザーのID
    user_id TEXT NOT NULL,
    -- 投稿の本文
    content TEXT NOT NULL,
    -- 添付メディアIDのJSON配列（例: ["id1","id2"]）
    media_ids TEXT NOT NULL DEFAULT '[]',
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    -- 更新日時
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- ユーザーIDでの検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_posts_user_id
    ON posts(user_id);

-- 新着順の一覧取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_posts_created_at
    ON posts(created_at DESC);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
