// Package search は検索サービスの実装を提供する。
//
// post.created/post.deletedイベントを購読して検索インデックスを
// 非同期に構築し、投稿本文の部分一致検索APIを提供する。
// インデックスは投稿ストアとは結果整合であり、更新はイベントの到着順に反映される。
package search
