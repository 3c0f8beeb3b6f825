// Package eventbus はトピックエクスチェンジ上のイベント発行・購読クライアントを提供する。
//
// 発行側は送信後の確認を待たないfire-and-forget方式であり、配送はバスの責務とする。
// 購読側はルーティングキーごとに匿名の排他キューを束縛し、購読プロセスごとに
// 同一イベントの独立したコピーを受信する（ブロードキャスト方式）。
// 配送保証はat-least-onceであり、ハンドラは冪等でなければならない。
package eventbus

import (
	"context"

	"github.com/GouravKumar06/social-media-microserver/pkg/event"
)

// Handler は配送された1件のイベントを処理する関数。
// エラーを返した場合、メッセージは確認応答されず再配送の対象となる。
// 同一イベントが複数回配送されうるため、ハンドラは冪等であること。
type Handler func(ctx context.Context, env *event.Envelope) error

// Bus はイベントの発行と購読の抽象。
// 本番ではAMQPBus、テストおよび単一プロセス実行ではMemoryBusを注入する。
type Bus interface {
	// Publish はイベントを指定されたルーティングキーで発行する。
	// 発行者は配送結果を待たない。エラーは接続・シリアライズ失敗のみを表す。
	Publish(ctx context.Context, env *event.Envelope) error
	// Subscribe はルーティングキーに束縛されたコンシューマループを開始する。
	// ハンドラが正常終了したメッセージのみ確認応答される。
	// ループはctxがキャンセルされるかバスが閉じられるまで動作し続ける。
	Subscribe(ctx context.Context, routingKey string, handler Handler) error
	// Close はバスとの接続を閉じ、すべてのコンシューマループを停止する。
	Close() error
}
