// Package ratelimit は共有ストアを用いた分散レート制限を提供する。
//
// すべてのゲートウェイインスタンスが同じストアのカウンタを原子的に更新するため、
// 並行リクエストが同時に制限未満を観測して両方通過する競合は起きない。
// カウンタのローカルキャッシュは分散保証を壊すため行わない。
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Decision はアドミッション判定の結果。
type Decision struct {
	// Allowed はリクエストを受け入れるかどうか。
	Allowed bool
	// Remaining はウィンドウ内の残り許容回数。拒否時は0。
	Remaining int64
	// RetryAfter は拒否された呼び出し側が再試行できるまでの時間。許可時は0。
	RetryAfter time.Duration
}

// Store はレート制限状態を保持する共有キーバリューストアの抽象。
// 本番ではRedisStore、テストおよび単一プロセス実行ではMemoryStoreを注入する。
type Store interface {
	// Increment はキーのカウンタを1増やし、現在値とウィンドウの残り時間を返す。
	// カウンタの作成・増分・期限設定は単一の原子的操作として実行されること。
	// 期限はキー作成時にのみ設定され、ウィンドウ経過でカウンタはストア側で消滅する。
	Increment(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
	// BlockedFor はキーがブロック状態にある場合、解除までの残り時間を返す。
	// ブロックされていない場合は0を返す。
	BlockedFor(ctx context.Context, key string) (time.Duration, error)
	// Block はキーを指定時間ブロック状態に置く。
	Block(ctx context.Context, key string, d time.Duration) error
	// Close はストアとの接続を閉じる。
	Close() error
}

// FixedWindow は固定ウィンドウ方式のカウンタ制限。
// 一般トラフィック向け（例: 15分あたり100リクエスト）。
type FixedWindow struct {
	store  Store
	limit  int64
	window time.Duration
	prefix string
}

// NewFixedWindow は新しい固定ウィンドウ制限を生成する。
// prefixはストア上のキー名前空間（例: "rl:general"）。
func NewFixedWindow(store Store, limit int64, window time.Duration, prefix string) *FixedWindow {
	return &FixedWindow{store: store, limit: limit, window: window, prefix: prefix}
}

// Allow はキーに対するアドミッション判定を行う。
// カウンタが上限を超えた場合、ウィンドウの残り時間をRetryAfterとして返す。
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	count, remaining, err := f.store.Increment(ctx, f.prefix+":"+key, f.window)
	if err != nil {
		return Decision{}, fmt.Errorf("カウンタの更新に失敗: %w", err)
	}

	if count > f.limit {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true, Remaining: f.limit - count}, nil
}

// Blocking は短いローリングウィンドウと明示的なブロック状態を持つ制限。
// 機微なエンドポイント向け（例: 1秒あたり15ポイント、超過で180秒ブロック）。
// ブロック中のリクエストはポイントを消費せずに即座に拒否される。
type Blocking struct {
	store    Store
	points   int64
	window   time.Duration
	blockFor time.Duration
	prefix   string
}

// NewBlocking は新しいブロック型制限を生成する。
func NewBlocking(store Store, points int64, window, blockFor time.Duration, prefix string) *Blocking {
	return &Blocking{store: store, points: points, window: window, blockFor: blockFor, prefix: prefix}
}

// Allow はキーに対するアドミッション判定を行う。
// ブロック状態のキーは、ウィンドウ内のカウントが予算内に戻っていても
// ブロック解除まですべて拒否される。
func (b *Blocking) Allow(ctx context.Context, key string) (Decision, error) {
	blockKey := b.prefix + ":block:" + key

	blocked, err := b.store.BlockedFor(ctx, blockKey)
	if err != nil {
		return Decision{}, fmt.Errorf("ブロック状態の確認に失敗: %w", err)
	}
	if blocked > 0 {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: blocked}, nil
	}

	count, _, err := b.store.Increment(ctx, b.prefix+":count:"+key, b.window)
	if err != nil {
		return Decision{}, fmt.Errorf("カウンタの更新に失敗: %w", err)
	}

	if count > b.points {
		if err := b.store.Block(ctx, blockKey, b.blockFor); err != nil {
			return Decision{}, fmt.Errorf("ブロック状態の設定に失敗: %w", err)
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: b.blockFor}, nil
	}

	return Decision{Allowed: true, Remaining: b.points - count}, nil
}
