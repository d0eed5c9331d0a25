// Package storage defines the Storage interface for user-uploaded files (avatars) and the
// helpers shared by every backend.
//
// Backends register themselves with the factory from an init() function in their own
// package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server imports each backend with a blank import to trigger init().
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Open when the key does not exist
var ErrNotFound = errors.New("object not found")

// ErrUnsupportedType is returned by DetectImage for anything other than the accepted image formats
var ErrUnsupportedType = errors.New("unsupported file type")

// Storage is implemented by every upload backend. Objects are publicly readable once
// stored; URL returns the stable address persisted in the database.
type Storage interface {
	// Put stores the object and returns its metadata including the public URL
	Put(ctx context.Context, key string, r io.Reader, contentType string) (*Object, error)

	// Open returns the object body. Only the local backend is read back through the API;
	// cloud backends serve objects from their own endpoints.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns the public URL for key
	URL(key string) string
}

// Object describes a stored upload
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
	// Checksum is the hex SHA-256 of the contents
	Checksum  string
	UpdatedAt time.Time
}

// Checksummed reads r fully and returns the bytes with their SHA-256. Uploads are bounded
// by the handler (max_upload_mb) before reaching a backend.
func Checksummed(r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read data: %w", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

var imageTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// DetectImage sniffs the first bytes of data and returns its content type and extension.
// The client-supplied Content-Type is never trusted.
func DetectImage(data []byte) (contentType, ext string, err error) {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ext, ok := imageTypes[ct]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedType, ct)
	}
	return ct, ext, nil
}

// AvatarKey returns a fresh object key for a user's avatar. A new key per upload keeps
// CDN caches from serving the previous image.
func AvatarKey(userID, ext string) string {
	return path.Join("avatars", userID, uuid.NewString()+ext)
}

// KeyFromURL returns the object key when rawURL was produced by s.URL, so the previous
// avatar can be removed after a replacement.
func KeyFromURL(s Storage, rawURL string) (string, bool) {
	base := strings.TrimSuffix(s.URL(""), "/")
	if base == "" || !strings.HasPrefix(rawURL, base+"/") {
		return "", false
	}
	key := strings.TrimPrefix(rawURL, base+"/")
	if key == "" || strings.Contains(key, "..") {
		return "", false
	}
	return key, true
}
