package search

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。db/search/schema.sql と同期すること。
const schema = `
CREATE TABLE IF NOT EXISTS search_posts (
    -- インデックスエントリの一意識別子
    id TEXT PRIMARY KEY,
    -- 元の投稿ID
    post_id TEXT NOT NULL UNIQUE,
    -- 投稿者のユーザーID
    user_id TEXT NOT NULL,
    -- 検索対象の本文
    content TEXT NOT NULL,
    -- 投稿の作成日時
    created_at DATETIME NOT NULL,
    -- インデックス登録日時
    indexed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- 新着順の検索結果取得を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_search_posts_created_at
    ON search_posts(created_at DESC);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
