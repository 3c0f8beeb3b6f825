package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLocalStorageSave はローカルディスクへの保存のテスト。
func TestLocalStorageSave(t *testing.T) {
	t.Parallel()

	t.Run("保存したブロブがディスクに存在する", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		storage, err := NewLocalStorage(dir, "http://localhost:3003/files")
		if err != nil {
			t.Fatalf("ストレージの作成に失敗: %v", err)
		}

		publicID, url, err := storage.Save(t.Context(), "photo.png", []byte("fake-image-data"))
		if err != nil {
			t.Fatalf("保存に失敗: %v", err)
		}

		if !strings.HasSuffix(publicID, ".png") {
			t.Errorf("public_idに拡張子がありません: %s", publicID)
		}
		if url != "http://localhost:3003/files/"+publicID {
			t.Errorf("url: got %s, want http://localhost:3003/files/%s", url, publicID)
		}

		data, err := os.ReadFile(filepath.Join(dir, publicID))
		if err != nil {
			t.Fatalf("ブロブの読み取りに失敗: %v", err)
		}
		if string(data) != "fake-image-data" {
			t.Errorf("内容が一致しません: %s", data)
		}
	})

	t.Run("同じファイル名でも識別子は衝突しない", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		storage, err := NewLocalStorage(dir, "http://localhost:3003/files")
		if err != nil {
			t.Fatalf("ストレージの作成に失敗: %v", err)
		}

		id1, _, err := storage.Save(t.Context(), "photo.png", []byte("one"))
		if err != nil {
			t.Fatalf("1回目の保存に失敗: %v", err)
		}
		id2, _, err := storage.Save(t.Context(), "photo.png", []byte("two"))
		if err != nil {
			t.Fatalf("2回目の保存に失敗: %v", err)
		}
		if id1 == id2 {
			t.Errorf("public_idが衝突しました: %s", id1)
		}
	})
}

// TestLocalStorageDelete はブロブ削除のテスト。
func TestLocalStorageDelete(t *testing.T) {
	t.Parallel()

	t.Run("削除したブロブはディスクから消える", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		storage, err := NewLocalStorage(dir, "http://localhost:3003/files")
		if err != nil {
			t.Fatalf("ストレージの作成に失敗: %v", err)
		}

		publicID, _, err := storage.Save(t.Context(), "photo.png", []byte("fake-image-data"))
		if err != nil {
			t.Fatalf("保存に失敗: %v", err)
		}

		if err := storage.Delete(t.Context(), publicID); err != nil {
			t.Fatalf("削除に失敗: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, publicID)); !os.IsNotExist(err) {
			t.Errorf("ブロブが残っています: %v", err)
		}
	})

	t.Run("存在しないブロブの削除は成功する", func(t *testing.T) {
		t.Parallel()

		storage, err := NewLocalStorage(t.TempDir(), "http://localhost:3003/files")
		if err != nil {
			t.Fatalf("ストレージの作成に失敗: %v", err)
		}

		if err := storage.Delete(t.Context(), "no-such-blob.png"); err != nil {
			t.Errorf("削除に失敗: %v", err)
		}
	})

	t.Run("ディレクトリ外への識別子はベース名に丸められる", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		storage, err := NewLocalStorage(dir, "http://localhost:3003/files")
		if err != nil {
			t.Fatalf("ストレージの作成に失敗: %v", err)
		}

		outside := filepath.Join(filepath.Dir(dir), "victim.txt")
		if err := os.WriteFile(outside, []byte("data"), 0o644); err != nil {
			t.Fatalf("外部ファイルの作成に失敗: %v", err)
		}

		if err := storage.Delete(t.Context(), "../victim.txt"); err != nil {
			t.Fatalf("削除に失敗: %v", err)
		}
		if _, err := os.Stat(outside); err != nil {
			t.Error("ディレクトリ外のファイルが削除されました")
		}
	})
}
