// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// JWT認証トークンの検証、レート制限によるアドミッション制御、
// パニックリカバリ、CORS設定など、全サービスで共通して使用する
// ミドルウェアを含む。外部へのエラーレスポンスはすべて
// {success: false, message: ...} の統一形式で返す。
package middleware
