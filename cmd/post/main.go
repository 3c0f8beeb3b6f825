// Postサービスのエントリポイント。
// 投稿のCRUD・読み取りキャッシュ・ドメインイベントの発行を担当する。
package main

import (
	"log"
	"os"

	"github.com/GouravKumar06/social-media-microserver/internal/post"
	"github.com/GouravKumar06/social-media-microserver/pkg/cache"
	"github.com/GouravKumar06/social-media-microserver/pkg/eventbus"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3002"
	}

	c := newCache()
	bus := newBus()
	defer bus.Close()

	server, err := post.NewServer(port, c, bus)
	if err != nil {
		log.Fatalf("Postサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Postサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Postサービスの起動に失敗: %v", err)
	}
}

// newCache は読み取りキャッシュを生成する。
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
