package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/GouravKumar06/social-media-microserver/pkg/event"
)

// exchangeName はイベント配送に使用する共有トピックエクスチェンジ名。
const exchangeName = "social_events"

// ErrBusClosed は閉じられたバスに対する操作を表す。
var ErrBusClosed = errors.New("イベントバスは既に閉じられています")

// 再接続バックオフの範囲。失敗のたびに倍化し、成功でリセットする。
const (
	reconnectInitialDelay = 1 * time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// AMQPBus はRabbitMQをバックエンドとするイベントバスクライアント。
// 接続とチャネルは初回利用時に遅延確立され、以降の呼び出しで再利用される。
// チャネルが失われた場合は次の操作時に再確立されるため、
// 呼び出し側が接続のライフサイクルを管理する必要はない。
type AMQPBus struct {
	// url はRabbitMQの接続先URL。
	url string
	// mu は接続とチャネルへの並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// conn はRabbitMQへのTCP接続。全コンシューマ・発行者で共有する。
	conn *amqp.Connection
	// pubCh はイベント発行専用のチャネル。コンシューマとは共有しない。
	pubCh *amqp.Channel
	// closed はCloseが呼ばれたかどうか。
	closed bool
}

// NewAMQPBus は新しいAMQPバスクライアントを生成する。
// この時点では接続せず、最初のPublish/Subscribeで接続を確立する。
func NewAMQPBus(url string) *AMQPBus {
	return &AMQPBus{url: url}
}

// connection は共有TCP接続を返す。未確立または失われている場合は再確立する。
// 呼び出し側はb.muを保持していること。
func (b *AMQPBus) connection() (*amqp.Connection, error) {
	if b.closed {
		return nil, ErrBusClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	conn, err := amqp.Dial(b.url)
	if err != nil {
		return nil, fmt.Errorf("RabbitMQへの接続に失敗: %w", err)
	}
	b.conn = conn
	b.pubCh = nil
	log.Printf("eventbus: RabbitMQに接続しました: %s", exchangeName)
	return conn, nil
}

// publishChannel は発行用チャネルを返す。未確立の場合は接続から新規に開き、
// トピックエクスチェンジを宣言する。
func (b *AMQPBus) publishChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubCh != nil && !b.pubCh.IsClosed() {
		return b.pubCh, nil
	}

	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("チャネルの作成に失敗: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		ch.Close()
		return nil, err
	}
	b.pubCh = ch
	return ch, nil
}

// consumerChannel はコンシューマ専用の新しいチャネルを開く。
// コンシューマループごとに独立したチャネルを持たせ、互いの障害を波及させない。
func (b *AMQPBus) consumerChannel() (*amqp.Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := b.connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("チャネルの作成に失敗: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

// declareExchange は共有トピックエクスチェンジを宣言する。
// durable=trueのため、ブローカー再起動後もエクスチェンジは維持される。
func declareExchange(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		exchangeName, // name
		"topic",      // kind
		true,         // durable
		false,        // autoDelete
		false,        // internal
		false,        // noWait
		nil,          // args
	); err != nil {
		return fmt.Errorf("エクスチェンジの宣言に失敗: %w", err)
	}
	return nil
}

// Publish はイベントをトピックエクスチェンジに発行する。
// ペイロードは決定的にJSONへシリアライズされ、確認応答は待たない。
func (b *AMQPBus) Publish(ctx context.Context, env *event.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}

	ch, err := b.publishChannel()
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx,
		exchangeName,
		string(env.RoutingKey),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			MessageId:   env.ID,
			Timestamp:   env.OccurredAt,
			Body:        body,
		},
	); err != nil {
		return fmt.Errorf("イベントの発行に失敗 (key=%s): %w", env.RoutingKey, err)
	}

	log.Printf("eventbus: イベントを発行しました: key=%s id=%s", env.RoutingKey, env.ID)
	return nil
}

// Subscribe は指定されたルーティングキーのコンシューマループを開始する。
// 初回の束縛は同期的に行い、失敗した場合はエラーを返す（起動時に検知させるため）。
// 束縛成功後は、トランスポート障害が起きてもバックオフ付きで再接続を試み続ける。
func (b *AMQPBus) Subscribe(ctx context.Context, routingKey string, handler Handler) error {
	deliveries, ch, err := b.bind(routingKey)
	if err != nil {
		return err
	}

	go b.consumeLoop(ctx, routingKey, handler, deliveries, ch)
	return nil
}

// bind はコンシューマの状態遷移 Connecting → Bound → Consuming を1回実行する。
// 匿名の排他キューを作成してルーティングキーで束縛し、配送チャネルを返す。
func (b *AMQPBus) bind(routingKey string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	ch, err := b.consumerChannel()
	if err != nil {
		return nil, nil, err
	}

	// 匿名・排他・自動削除のキュー。購読プロセスごとに独立したコピーを受信する。
	q, err := ch.QueueDeclare(
		"",    // name（ブローカーが採番する）
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("キューの宣言に失敗: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, exchangeName, false, nil); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("キューの束縛に失敗 (key=%s): %w", routingKey, err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		false, // autoAck（ハンドラ成功後に手動でAckする）
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("コンシュームの開始に失敗 (key=%s): %w", routingKey, err)
	}

	log.Printf("eventbus: ルーティングキーの購読を開始しました: key=%s queue=%s", routingKey, q.Name)
	return deliveries, ch, nil
}

// consumeLoop はプロセスの生存期間中動作するコンシューマループ。
// 配送チャネルが閉じられた場合（トランスポート障害）はDisconnected状態に戻り、
// バックオフ付きで再束縛を試みる。黙って停止することはない。
func (b *AMQPBus) consumeLoop(ctx context.Context, routingKey string, handler Handler, deliveries <-chan amqp.Delivery, ch *amqp.Channel) {
	delay := reconnectInitialDelay

	for {
		for d := range deliveries {
			b.dispatch(ctx, routingKey, handler, d)
		}
		// 再束縛に失敗した直後の周回ではチャネルを持っていない
		if ch != nil {
			ch.Close()
		}

		if ctx.Err() != nil || b.isClosed() {
			log.Printf("eventbus: コンシューマループを停止します: key=%s", routingKey)
			return
		}

		log.Printf("eventbus: 配送チャネルが失われました。%v後に再接続します: key=%s", delay, routingKey)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		var err error
		deliveries, ch, err = b.bind(routingKey)
		if err != nil {
			log.Printf("eventbus: 再束縛に失敗: key=%s, error=%v", routingKey, err)
			deliveries = closedDeliveries()
			ch = nil
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}
		delay = reconnectInitialDelay
	}
}

// closedDeliveries は閉じた配送チャネルを返す。再束縛失敗時にループを回すための空振り用。
func closedDeliveries() <-chan amqp.Delivery {
	c := make(chan amqp.Delivery)
	close(c)
	return c
}

// dispatch は1件の配送メッセージを処理する。
//   - 封筒として解釈できない、または未知の形のメッセージは再配送せず破棄する
//     （デッドレターが設定されていればそちらへ回る）。
//   - ハンドラがエラーを返した場合は確認応答せず再キューし、バスに再配送させる。
//   - ハンドラが正常終了した場合のみAckする。
func (b *AMQPBus) dispatch(ctx context.Context, routingKey string, handler Handler, d amqp.Delivery) {
	env, err := event.Unmarshal(d.Body)
	if err != nil {
		log.Printf("eventbus: 不正なメッセージを破棄します: key=%s, error=%v", routingKey, err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Printf("eventbus: Nackに失敗: %v", nackErr)
		}
		return
	}

	if err := handler(ctx, env); err != nil {
		log.Printf("eventbus: ハンドラがエラーを返したため再配送します: key=%s id=%s, error=%v", routingKey, env.ID, err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Printf("eventbus: Nackに失敗: %v", nackErr)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("eventbus: Ackに失敗: key=%s id=%s, error=%v", routingKey, env.ID, err)
	}
}

// isClosed はCloseが呼ばれたかどうかを返す。
func (b *AMQPBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close はバスとの接続を閉じる。以降のPublish/SubscribeはErrBusClosedを返す。
func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			return fmt.Errorf("RabbitMQ接続のクローズに失敗: %w", err)
		}
	}
	return nil
}
