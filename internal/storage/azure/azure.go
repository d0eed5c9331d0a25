// Package azure implements the Azure Blob Storage backend for user uploads. The container
// is expected to allow anonymous blob reads (or sit behind a CDN); the stored URL points at
// the blob or the CDN.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Storage.Azure)
	})
}

// AzureStorage implements storage.Storage on a blob container
type AzureStorage struct {
	client        *azblob.Client
	containerName string
	baseURL       string
}

// New creates the backend with shared key credentials
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	base := strings.TrimRight(cfg.CDNURL, "/")
	if base == "" {
		base = serviceURL + cfg.ContainerName
	}

	return &AzureStorage{
		client:        client,
		containerName: cfg.ContainerName,
		baseURL:       base,
	}, nil
}

func (s *AzureStorage) blob(key string) *blockblob.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName).NewBlockBlobClient(key)
}

// Put uploads a block blob with content type and SHA-256 metadata
func (s *AzureStorage) Put(ctx context.Context, key string, r io.Reader, contentType string) (*storage.Object, error) {
	data, checksum, err := storage.Checksummed(r)
	if err != nil {
		return nil, err
	}

	cacheControl := "public, max-age=31536000, immutable"
	_, err = s.blob(key).Upload(ctx, streaming.NopCloser(bytes.NewReader(data)), &blockblob.UploadOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType:  &contentType,
			BlobCacheControl: &cacheControl,
		},
		Metadata: map[string]*string{"sha256": &checksum},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.Object{
		Key:         key,
		URL:         s.URL(key),
		ContentType: contentType,
		Size:        int64(len(data)),
		Checksum:    checksum,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// Open streams the blob body
func (s *AzureStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.blob(key).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	return resp.Body, nil
}

// Delete removes the blob; a missing blob is not an error
func (s *AzureStorage) Delete(ctx context.Context, key string) error {
	_, err := s.blob(key).Delete(ctx, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// URL implements storage.Storage
func (s *AzureStorage) URL(key string) string {
	return s.baseURL + "/" + key
}
