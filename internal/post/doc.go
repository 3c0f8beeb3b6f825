// Package post は投稿サービスの内部実装を提供する。
//
// 投稿のCRUDと一覧のページ単位キャッシュを担当する。
// 投稿の作成・削除時にはpost.created / post.deletedイベントを発行し、
// mediaサービスの削除カスケードとsearchサービスの索引更新を
// 同期的な結合なしに引き起こす。
package post
