package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/GouravKumar06/social-media-microserver/pkg/event"
)

func TestConsumeLoop(t *testing.T) {
	t.Parallel()

	t.Run("再束縛に失敗した後の周回でもループが継続する", func(t *testing.T) {
		t.Parallel()

		// 到達不能なブローカー。再束縛の試行は常に失敗する。
		bus := NewAMQPBus("amqp://127.0.0.1:1")
		t.Cleanup(func() { bus.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		handler := func(context.Context, *event.Envelope) error { return nil }

		// 再束縛失敗直後と同じ状態（配送チャネルは閉じられ、AMQPチャネルはない）から
		// ループを駆動する。ここでパニックするとコンシューマは二度と再接続できない。
		done := make(chan struct{})
		go func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("コンシューマループがパニックしました: %v", r)
				}
				close(done)
			}()
			bus.consumeLoop(ctx, "post.deleted", handler, closedDeliveries(), nil)
		}()

		// 再接続待ちに入るまで待ってからキャンセルし、ループを終了させる
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("コンシューマループが終了しません")
		}
	})
}
