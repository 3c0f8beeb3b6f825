// Identityサービスのエントリポイント。
// ユーザー登録・ログイン・リフレッシュトークンのローテーションを担当する。
package main

import (
	"log"
	"os"

	"github.com/GouravKumar06/social-media-microserver/internal/identity"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3001"
	}

	server, err := identity.NewServer(port)
	if err != nil {
		log.Fatalf("Identityサーバーの初期化に失敗: %v", err)
	}

	log.Printf("Identityサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("Identityサービスの起動に失敗: %v", err)
	}
}
