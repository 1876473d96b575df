package imagestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yusnake/antigravity2api/internal/config"
)

func TestBase64Store(t *testing.T) {
	store, err := New(&config.Config{ImageStore: config.ImageStoreBase64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	url, err := store.SaveImage([]byte("hello"), "image/png")
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if url != "data:image/png;base64,aGVsbG8=" {
		t.Errorf("url = %q", url)
	}
}

func TestBase64StoreDefaultsMime(t *testing.T) {
	store, _ := New(&config.Config{ImageStore: config.ImageStoreBase64})
	url, _ := store.SaveImage([]byte("x"), "")
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("url = %q", url)
	}
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	store, err := New(&config.Config{ImageStore: config.ImageStoreLocal, ImageDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	url, err := store.SaveImage([]byte("pngbytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}
	if !strings.HasPrefix(url, "/images/") || !strings.HasSuffix(url, ".jpg") {
		t.Errorf("url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/images/")))
	if err != nil {
		t.Fatalf("read saved file: %v", err)
	}
	if string(data) != "pngbytes" {
		t.Errorf("saved bytes = %q", data)
	}
}

func TestS3StoreRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(&config.Config{ImageStore: config.ImageStoreS3}); err == nil {
		t.Error("s3 mode without endpoint/bucket must fail")
	}
}

func TestUnknownMode(t *testing.T) {
	if _, err := New(&config.Config{ImageStore: "ftp"}); err == nil {
		t.Error("unknown mode must fail")
	}
}
