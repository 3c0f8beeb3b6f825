// API Gatewayサービスのエントリポイント。
// レート制限・JWT検証・内部サービスへのルーティングを担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"log"
	"os"

	"github.com/GouravKumar06/social-media-microserver/internal/gateway"
	"github.com/GouravKumar06/social-media-microserver/pkg/ratelimit"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	store, err := newStore()
	if err != nil {
		log.Fatalf("レート制限ストアの初期化に失敗: %v", err)
	}

	server, err := gateway.NewServer(port,
		gateway.NewGeneralLimiter(store),
		gateway.NewSensitiveLimiter(store),
	)
	if err != nil {
		log.Fatalf("Gatewayサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Gatewayサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}

// newStore はレート制限カウンタのストアを生成する。
// REDIS_ADDRが未設定の場合はプロセス内ストアを使用する（単一インスタンス開発用）。
func newStore() (ratelimit.Store, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Printf("REDIS_ADDRが未設定のためインメモリのレート制限ストアを使用します")
		return ratelimit.NewMemoryStore(), nil
	}
	return ratelimit.NewRedisStore(addr)
}
