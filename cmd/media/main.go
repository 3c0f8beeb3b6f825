// Mediaサービスのエントリポイント。
// メディアのアップロード・配信と、post.deletedイベントによる削除カスケードを担当する。
package main

import (
	"context"
	"log"
	"os"

	"github.com/GouravKumar06/social-media-microserver/internal/media"
	"github.com/GouravKumar06/social-media-microserver/pkg/cache"
	"github.com/GouravKumar06/social-media-microserver/pkg/eventbus"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3003"
	}

	dir := os.Getenv("MEDIA_STORAGE_DIR")
	if dir == "" {
		dir = "/data/media-files"
		os.Setenv("MEDIA_STORAGE_DIR", dir)
	}
	baseURL := os.Getenv("MEDIA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + port + "/files"
	}

	storage, err := media.NewLocalStorage(dir, baseURL)
	if err != nil {
		log.Fatalf("ストレージの初期化に失敗: %v", err)
	}

	c := newCache()
	bus := newBus()
	defer bus.Close()

	server, err := media.NewServer(port, c, bus, storage)
	if err != nil {
		log.Fatalf("Mediaサーバーの初期化に失敗: %v", err)
	}

	if err := server.StartConsumers(context.Background()); err != nil {
		log.Fatalf("コンシューマの開始に失敗: %v", err)
	}

	log.Printf("Mediaサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Mediaサービスの起動に失敗: %v", err)
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
