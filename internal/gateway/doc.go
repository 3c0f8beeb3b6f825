// Package gateway はAPI Gatewayサービスの実装を提供する。
//
// 外部クライアントからの全リクエストの単一入口であり、
// レート制限・CORS・JWT検証の審査パイプラインを通過したリクエストだけを
// パス接頭辞に基づいて内部サービスへ転送する。ゲートウェイ自身は状態を持たない。
package gateway
