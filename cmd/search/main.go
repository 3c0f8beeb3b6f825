// Searchサービスのエントリポイント。
// 投稿イベントから検索インデックスを構築し、全文検索APIを提供する。
package main

import (
	"context"
	"log"
	"os"

	"github.com/GouravKumar06/social-media-microserver/internal/search"
	"github.com/GouravKumar06/social-media-microserver/pkg/cache"
	"github.com/GouravKumar06/social-media-microserver/pkg/eventbus"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3004"
	}

	c := newCache()
	bus := newBus()
	defer bus.Close()

	server, err := search.NewServer(port, c, bus)
	if err != nil {
		log.Fatalf("Searchサーバーの初期化に失敗: %v", err)
	}

	if err := server.StartConsumers(context.Background()); err != nil {
		log.Fatalf("コンシューマの開始に失敗: %v", err)
	}

	log.Printf("Searchサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Searchサービスの起動に失敗: %v", err)
	}
}

// newCache は検索結果キャッシュを生成する。
// REDIS_ADDRが未設定の場合はプロセス内キャッシュを使用する。
func newCache() cache.Cache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Printf("REDIS_ADDRが未設定のためインメモリキャッシュを使用します")
		return cache.NewMemoryCache()
	}
	c, err := cache.NewRedisCache(addr)
	if err != nil {
		log.Fatalf("Redisキャッシュの初期化に失敗: %v", err)
	}
	return c
}

// newBus はイベントバスを生成する。
// RABBITMQ_URLが未設定の場合はプロセス内バスを使用する（イベントはプロセス外に出ない）。
func newBus() eventbus.Bus {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		log.Printf("RABBITMQ_URLが未設定のためインメモリイベントバスを使用します")
		return eventbus.NewMemoryBus()
	}
	return eventbus.NewAMQPBus(url)
}
