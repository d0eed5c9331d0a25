package azure

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/storage"
)

type fakeBlobs struct {
	mu      sync.Mutex
	content map[string][]byte
	headers map[string]http.Header
}

// newTestStorage points the backend at a server imitating enough of the Blob REST API
func newTestStorage(t *testing.T) (*AzureStorage, *fakeBlobs) {
	t.Helper()
	fb := &fakeBlobs{content: map[string][]byte{}, headers: map[string]http.Header{}}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")
		fb.mu.Lock()
		defer fb.mu.Unlock()

		notFound := func() {
			w.Header().Set("x-ms-error-code", "BlobNotFound")
			w.WriteHeader(http.StatusNotFound)
		}

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			fb.content[key] = data
			fb.headers[key] = r.Header.Clone()
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			data, ok := fb.content[key]
			if !ok {
				notFound()
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write(data)
		case http.MethodDelete:
			if _, ok := fb.content[key]; !ok {
				notFound()
				return
			}
			delete(fb.content, key)
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}
	return &AzureStorage{client: client, containerName: "uploads", baseURL: "https://cdn.test"}, fb
}

func TestPutOpenDelete(t *testing.T) {
	s, fb := newTestStorage(t)
	ctx := context.Background()
	data := []byte("hello azure")

	obj, err := s.Put(ctx, "avatars/u1/a.png", bytes.NewReader(data), "image/png")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if obj.Size != int64(len(data)) {
		t.Fatalf("Size = %d, want %d", obj.Size, len(data))
	}
	if obj.URL != "https://cdn.test/avatars/u1/a.png" {
		t.Errorf("URL = %q", obj.URL)
	}
	h := fb.headers["uploads/avatars/u1/a.png"]
	if h.Get("x-ms-blob-content-type") != "image/png" {
		t.Errorf("content type header = %q", h.Get("x-ms-blob-content-type"))
	}
	if h.Get("x-ms-meta-sha256") != obj.Checksum {
		t.Error("sha256 metadata not sent")
	}

	rc, err := s.Open(ctx, "avatars/u1/a.png")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch: %q", got)
	}

	if err := s.Delete(ctx, "avatars/u1/a.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(ctx, "avatars/u1/a.png"); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
	if _, err := s.Open(ctx, "avatars/u1/a.png"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Open after delete = %v, want ErrNotFound", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account", config.AzureStorageConfig{AccountKey: "a2V5", ContainerName: "c"}},
		{"missing key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "c"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() expected error")
			}
		})
	}
}

func TestNew_DefaultURL(t *testing.T) {
	s, err := New(&config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5", ContainerName: "uploads"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if got := s.URL("x.png"); got != "https://acct.blob.core.windows.net/uploads/x.png" {
		t.Errorf("URL() = %q", got)
	}
}
