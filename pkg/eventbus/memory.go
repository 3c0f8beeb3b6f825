package eventbus

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/GouravKumar06/social-media-microserver/pkg/event"
)

// MemoryBus はプロセス内で完結するイベントバス。
// AMQPBusと同じトピックマッチング（"*"と"#"）とブロードキャスト配送の意味論を持ち、
// テストおよびブローカーなしの単一プロセス実行で使用する。
// 再配送はブローカーの責務のためここでは模倣せず、ハンドラのエラーはログに記録する。
type MemoryBus struct {
	// mu は購読一覧への並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// subs は現在アクティブな購読の一覧。
	subs []*memorySubscription
	// closed はCloseが呼ばれたかどうか。
	closed bool
	// wg は全購読ゴルーチンの終了待ちに使用する。
	wg sync.WaitGroup
}

// memorySubscription は1件の購読。専用のゴルーチンが配送チャネルを処理する。
type memorySubscription struct {
	// pattern は束縛されたルーティングキーパターン。
	pattern string
	// ch はこの購読への配送チャネル。
	ch chan *event.Envelope
}

// memoryBusBuffer は購読ごとの配送チャネルのバッファ長。
const memoryBusBuffer = 64

// NewMemoryBus は新しいプロセス内イベントバスを生成する。
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish はパターンが一致するすべての購読へイベントを配送する。
// 各購読は独立したコピーを受け取る（ブロードキャスト方式）。
func (b *MemoryBus) Publish(_ context.Context, env *event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.subs {
		if !topicMatch(sub.pattern, string(env.RoutingKey)) {
			continue
		}
		clone := *env
		select {
		case sub.ch <- &clone:
		default:
			log.Printf("eventbus: 購読バッファが満杯のためイベントを破棄します: key=%s pattern=%s", env.RoutingKey, sub.pattern)
		}
	}
	return nil
}

// Subscribe はルーティングキーパターンに束縛された購読を開始する。
// 購読ごとに専用のゴルーチンがハンドラを順番に呼び出す。
func (b *MemoryBus) Subscribe(ctx context.Context, routingKey string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	sub := &memorySubscription{
		pattern: routingKey,
		ch:      make(chan *event.Envelope, memoryBusBuffer),
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-sub.ch:
				if !ok {
					return
				}
				if err := env.Validate(); err != nil {
					log.Printf("eventbus: 不正なイベントを破棄します: error=%v", err)
					continue
				}
				if err := handler(ctx, env); err != nil {
					log.Printf("eventbus: ハンドラがエラーを返しました: key=%s id=%s, error=%v", env.RoutingKey, env.ID, err)
				}
			}
		}
	}()

	return nil
}

// Close はすべての購読を停止する。
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

// topicMatch はAMQPトピックエクスチェンジの束縛規則でパターンとキーを照合する。
// "*"はちょうど1語、"#"は0語以上に一致する。語区切りはドット。
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

// matchWords はパターン語列とキー語列を再帰的に照合する。
func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		// "#"は0語以上に一致する。キーを1語ずつ消費しながら残りを試す。
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
