// Package event はサービス間で交換されるイベントの型定義とシリアライズを提供する。
// イベントはトピックエクスチェンジのルーティングキーで分類され、
// 各キーに対応する固定スキーマのペイロードを持つ。
package event

import (
	"encoding/json"
	"time"
)

// RoutingKey はトピックエクスチェンジのルーティングキーを表す。
// ドット区切りの文字列（例: "post.deleted"）。
type RoutingKey string

const (
	// RoutingKeyPostCreated は投稿が作成されたことを表す。
	RoutingKeyPostCreated RoutingKey = "post.created"
	// RoutingKeyPostDeleted は投稿が削除されたことを表す。
	RoutingKeyPostDeleted RoutingKey = "post.deleted"
	// RoutingKeyMediaUploaded はメディアファイルがアップロードされたことを表す。
	RoutingKeyMediaUploaded RoutingKey = "media.uploaded"
)

// knownRoutingKeys は受信時の検証に使用する既知ルーティングキーの集合。
var knownRoutingKeys = map[RoutingKey]struct{}{
	RoutingKeyPostCreated:   {},
	RoutingKeyPostDeleted:   {},
	RoutingKeyMediaUploaded: {},
}

// Envelope はイベントバスで配送されるメッセージの封筒。
// ペイロードはルーティングキーごとに固定のスキーマを持ち、
// Dataフィールドに JSON 形式で格納される。
type Envelope struct {
	// ID はイベントの一意識別子（UUID）。重複配送の識別に使用できる。
	ID string `json:"id"`
	// RoutingKey はイベントの種類を表すルーティングキー。
	RoutingKey RoutingKey `json:"routing_key"`
	// OccurredAt はイベントが発生した日時（UTC）。
	OccurredAt time.Time `json:"occurred_at"`
	// Data はルーティングキーに対応するペイロード（JSON形式）。
	Data json.RawMessage `json:"data"`
}

// PostCreatedData は post.created イベントのペイロード。
type PostCreatedData struct {
	// PostID は作成された投稿のID。
	PostID string `json:"post_id"`
	// UserID は投稿を作成したユーザーのID。
	UserID string `json:"user_id"`
	// Content は投稿の本文。
	Content string `json:"content"`
	// CreatedAt は投稿の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// PostDeletedData は post.deleted イベントのペイロード。
// 投稿に紐づくメディアの削除カスケードに使用する。
type PostDeletedData struct {
	// PostID は削除された投稿のID。
	PostID string `json:"post_id"`
	// UserID は削除を実行したユーザーのID。
	UserID string `json:"user_id"`
	// MediaIDs は投稿に添付されていたメディアのID一覧。
	MediaIDs []string `json:"media_ids"`
}

// MediaUploadedData は media.uploaded イベントのペイロード。
type MediaUploadedData struct {
	// MediaID はアップロードされたメディアのID。
	MediaID string `json:"media_id"`
	// UserID はアップロードしたユーザーのID。
	UserID string `json:"user_id"`
	// URL はメディアの取得先アドレス。
	URL string `json:"url"`
	// MimeType はファイルのMIMEタイプ。
	MimeType string `json:"mime_type"`
}
