// Package cache は高コストなクエリ結果のキャッシュと無効化を提供する。
//
// キャッシュエントリは、それが表すデータへの次の書き込みまでに必ず削除される。
// 書き込みがローカルの変更かリモート発のイベントかは問わない。
// ページネーションされた一覧キーの部分無効化は行わず、影響を受ける
// 名前空間全体をパターン掃引で丸ごと削除する（再計算コストより正しさを優先する）。
package cache

import (
	"context"
	"time"
)

// Cache はキー付きキャッシュの抽象。
// 本番ではRedisCache、テストではMemoryCacheを注入する。
// 値はJSON形式でシリアライズして格納される。
type Cache interface {
	// Get はキーの値をdestにデシリアライズする。ヒットした場合trueを返す。
	// ミスはエラーではなく(false, nil)として報告される。
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set はキーに値をTTL付きで格納する。
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Delete は指定されたキーを削除する。存在しないキーの削除は何もしない。
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern はグロブパターン（例: "posts:list:*"）に一致する全キーを削除する。
	DeletePattern(ctx context.Context, pattern string) error
	// Close はキャッシュストアとの接続を閉じる。
	Close() error
}
