package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// BlobStorage はメディアファイル本体の保存先の抽象。
// 外部のオブジェクトストレージへの差し替えはこの境界で行う。
// バイト列を受け取り、安定した識別子と取得先アドレスを返す。
type BlobStorage interface {
	// Save はデータを保存し、ストレージ上の識別子と取得先URLを返す。
	Save(ctx context.Context, originalName string, data []byte) (publicID, url string, err error)
	// Delete は識別子に対応するデータを削除する。
	// 既に存在しないデータの削除はエラーではなく成功として扱う（冪等）。
	Delete(ctx context.Context, publicID string) error
}

// LocalStorage はローカルディスクに保存するBlobStorage実装。
type LocalStorage struct {
	// dir はファイルの保存先ディレクトリ。
	dir string
	// baseURL は取得先URLのプレフィックス（例: "http://localhost:3003/files"）。
	baseURL string
}

// NewLocalStorage はローカルディスクストレージを生成する。
// 保存先ディレクトリが存在しない場合は作成する。
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("保存先ディレクトリの作成に失敗: %w", err)
	}
	return &LocalStorage{dir: dir, baseURL: baseURL}, nil
}

// Save はデータをローカルディスクに書き込む。
// 識別子はUUIDと元の拡張子から構成され、元ファイル名には依存しない。
func (s *LocalStorage) Save(_ context.Context, originalName string, data []byte) (string, string, error) {
	publicID := uuid.New().String() + filepath.Ext(originalName)

	path := filepath.Join(s.dir, publicID)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", "", fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}

	return publicID, s.baseURL + "/" + publicID, nil
}

// Delete は識別子に対応するファイルを削除する。存在しないファイルは成功として扱う。
func (s *LocalStorage) Delete(_ context.Context, publicID string) error {
	path := filepath.Join(s.dir, filepath.Base(publicID))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ファイルの削除に失敗: %w", err)
	}
	return nil
}
