package media

import (
	"database/sql"
	"fmt"
)

// スキーマ定義。db/media/schema.sql と同期すること。
const schema = `
CREATE TABLE IF NOT EXISTS media (
    -- メディアの一意識別子
    id TEXT PRIMARY KEY,
    -- アップロードしたユーザーのID
    user_id TEXT NOT NULL,
    -- ブロブストレージ上の識別子
    public_id TEXT NOT NULL,
    -- メディアの取得先アドレス
    url TEXT NOT NULL,
    -- ファイルのMIMEタイプ
    mime_type TEXT NOT NULL,
    -- アップロード時の元ファイル名
    original_name TEXT NOT NULL,
    -- 作成日時
    created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

-- ユーザーIDでの検索を高速化するインデックス。
CREATE INDEX IF NOT EXISTS idx_media_user_id
    ON media(user_id);
`

// initSchema はSQLiteデータベースにスキーマを適用する。
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("スキーマの適用に失敗: %w", err)
	}
	return nil
}
