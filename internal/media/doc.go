// Package media はメディアサービスの実装を提供する。
//
// メディアファイルのアップロードとメタデータ管理を担当し、
// post.deletedイベントを購読して投稿に紐づくメディアを遅延削除する。
// ファイル本体の保存先はBlobStorageインターフェースで抽象化されている。
package media
