// Package objstore 封装 MinIO 对象存储客户端
//
// 作为 GridFS 之外的内容寻址 Blob 后端：对象 Key 为 sha256/<hex>，
// 相同内容只存储一份。
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"observer-migrate/internal/config"
	"observer-migrate/internal/shared/model"
	"observer-migrate/internal/shared/storage"
)

// keyPrefix 内容寻址对象的 Key 前缀
const keyPrefix = "sha256/"

// Client MinIO 客户端封装
type Client struct {
	mc     *minio.Client
	bucket string
}

var _ storage.BlobStore = (*Client)(nil)

// NewClient 创建 MinIO 客户端
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("minio access_key and secret_key are required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "observer-blobs"
	}

	return &Client{mc: mc, bucket: bucket}, nil
}

// ObjectKey 内容哈希对应的对象 Key
func ObjectKey(sha256 string) string {
	return keyPrefix + strings.ToLower(sha256)
}

// EnsureBucket 确保 bucket 存在
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return &storage.ConnectionError{Target: c.mc.EndpointURL().Host, Err: fmt.Errorf("check bucket: %w", err)}
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		log.Printf("[minio] Created bucket: %s", c.bucket)
	}
	return nil
}

// FindBlob 按内容哈希查找对象
func (c *Client) FindBlob(ctx context.Context, sha256 string) (*model.Blob, error) {
	key := ObjectKey(sha256)
	info, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &model.Blob{FileID: key, SHA256: sha256, Size: info.Size}, nil
}

// PutBlob 上传对象，并发上传同一哈希时后写者覆盖（内容相同）
func (c *Client) PutBlob(ctx context.Context, sha256, filename string, size int64, r io.Reader) (*model.Blob, error) {
	key := ObjectKey(sha256)
	_, err := c.mc.PutObject(ctx, c.bucket, key, r, size, minio.PutObjectOptions{
		ContentType:  "application/octet-stream",
		UserMetadata: map[string]string{"sha256": sha256, "filename": filename},
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", key, err)
	}
	return &model.Blob{FileID: key, SHA256: sha256, Size: size}, nil
}

// OpenBlob 下载对象，调用方负责关闭返回的 ReadCloser
func (c *Client) OpenBlob(ctx context.Context, fileID string) (io.ReadCloser, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, fileID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", fileID, err)
	}
	// 验证对象存在（GetObject 不会立即返回错误）
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("stat %s: %w", fileID, err)
	}
	return obj, nil
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
