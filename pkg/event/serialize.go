package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownRoutingKey は既知のルーティングキーに該当しないイベントを表す。
// 受信側はこのエラーのイベントを再配送せずデッドレターに回す。
var ErrUnknownRoutingKey = errors.New("未知のルーティングキーです")

// ErrEmptyPayload はペイロードを持たないイベントを表す。
var ErrEmptyPayload = errors.New("イベントのペイロードが空です")

// New は新しいイベント封筒を生成する。
// dataにはルーティングキーに対応するペイロード構造体を渡す。JSON形式にシリアライズされる。
func New(key RoutingKey, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベントペイロードのシリアライズに失敗: %w", err)
	}

	return &Envelope{
		ID:         uuid.New().String(),
		RoutingKey: key,
		OccurredAt: time.Now().UTC(),
		Data:       jsonData,
	}, nil
}

// Marshal は封筒をバスに載せるバイト列（UTF-8 JSON）へシリアライズする。
func (e *Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("イベント封筒のシリアライズに失敗: %w", err)
	}
	return b, nil
}

// Unmarshal はバスから受信したバイト列を封筒にデシリアライズし、検証する。
func Unmarshal(body []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("イベント封筒のデシリアライズに失敗: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate は封筒が既知のルーティングキーと非空のペイロードを持つかを検証する。
// 未知の形のイベントはそのまま下流へ流さず、受信側で破棄させる。
func (e *Envelope) Validate() error {
	if _, ok := knownRoutingKeys[e.RoutingKey]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoutingKey, e.RoutingKey)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: key=%s", ErrEmptyPayload, e.RoutingKey)
	}
	return nil
}

// DecodeData は封筒のDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Envelope) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントペイロードのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
