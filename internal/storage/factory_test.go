package storage_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/storage"
)

// fakeStorage serves URLs under a fixed base
type fakeStorage struct{ base string }

func (f *fakeStorage) Put(_ context.Context, key string, _ io.Reader, ct string) (*storage.Object, error) {
	return &storage.Object{Key: key, URL: f.URL(key), ContentType: ct}, nil
}
func (f *fakeStorage) Open(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}
func (f *fakeStorage) Delete(_ context.Context, _ string) error { return nil }
func (f *fakeStorage) URL(key string) string                    { return f.base + "/" + key }

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &fakeStorage{base: "https://cdn.test"}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}
}

func TestNewStorage_Unknown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "ftp"
	if _, err := storage.NewStorage(cfg); err == nil {
		t.Error("NewStorage() expected error for unregistered backend")
	}
}

func TestDetectImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	ct, ext, err := storage.DetectImage(png)
	if err != nil {
		t.Fatalf("DetectImage(png) error: %v", err)
	}
	if ct != "image/png" || ext != ".png" {
		t.Errorf("DetectImage(png) = %q, %q", ct, ext)
	}

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	if _, ext, err := storage.DetectImage(jpeg); err != nil || ext != ".jpg" {
		t.Errorf("DetectImage(jpeg) = %q, %v", ext, err)
	}

	if _, _, err := storage.DetectImage([]byte("<html><body>hi</body></html>")); err == nil {
		t.Error("DetectImage(html) expected error")
	}
}

func TestAvatarKey(t *testing.T) {
	a := storage.AvatarKey("user-1", ".png")
	b := storage.AvatarKey("user-1", ".png")
	if !strings.HasPrefix(a, "avatars/user-1/") || !strings.HasSuffix(a, ".png") {
		t.Errorf("AvatarKey() = %q", a)
	}
	if a == b {
		t.Error("AvatarKey() should differ per upload")
	}
}

func TestKeyFromURL(t *testing.T) {
	s := &fakeStorage{base: "https://cdn.test"}
	tests := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{"https://cdn.test/avatars/u/a.png", "avatars/u/a.png", true},
		{"https://elsewhere.test/avatars/u/a.png", "", false},
		{"https://cdn.test/", "", false},
		{"https://cdn.test/../etc/passwd", "", false},
	}
	for _, tt := range tests {
		got, ok := storage.KeyFromURL(s, tt.url)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("KeyFromURL(%q) = %q, %v; want %q, %v", tt.url, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestChecksummed(t *testing.T) {
	data, sum, err := storage.Checksummed(strings.NewReader("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abc" {
		t.Errorf("data = %q", data)
	}
	if sum != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("checksum = %s", sum)
	}
}
