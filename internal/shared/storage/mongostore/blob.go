package mongostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"observer-migrate/internal/shared/model"
	"observer-migrate/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// BlobStore (GridFS)
// ============================================================================

// gridFile fs.files 文档中关心的字段
type gridFile struct {
	ID       string `bson:"_id"`
	Length   int64  `bson:"length"`
	Filename string `bson:"filename"`
}

// FindBlob 按内容哈希查找 GridFS 文件
//
// GridFS 文件 _id 即内容 sha256，查找与上传都以哈希为键，与调用顺序无关。
func (s *Store) FindBlob(ctx context.Context, sha256 string) (*model.Blob, error) {
	f, err := findOne[gridFile](ctx, s.files(), bson.D{{Key: "_id", Value: sha256}})
	if err != nil {
		return nil, err
	}
	return &model.Blob{FileID: f.ID, SHA256: sha256, Size: f.Length}, nil
}

// PutBlob 以 sha256 为 _id 上传 GridFS 文件
//
// fs.files 已存在时直接返回。上传被中断（例如 ctx 取消）会在 fs.chunks 中留下
// 没有 fs.files 文档的残块，上传前先清除，重新迁移即可修复。
// 写入 fs.files 时唯一键冲突说明其他进程已完成同一内容的上传，再次查找确认后视为成功。
func (s *Store) PutBlob(ctx context.Context, sha256, filename string, size int64, r io.Reader) (*model.Blob, error) {
	if blob, err := s.FindBlob(ctx, sha256); err == nil {
		return blob, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if _, err := s.chunks().DeleteMany(ctx, bson.D{{Key: "files_id", Value: sha256}}); err != nil {
		return nil, fmt.Errorf("gridfs discard leftover chunks %s: %w", sha256, wrapError(err))
	}

	err := s.upload(ctx, sha256, filename, size, r)
	if err == nil {
		return &model.Blob{FileID: sha256, SHA256: sha256, Size: size}, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		if blob, ferr := s.FindBlob(ctx, sha256); ferr == nil {
			return blob, nil
		}
	}
	return nil, fmt.Errorf("gridfs upload %s: %w", filename, err)
}

// upload 写入 chunks 与 fs.files；失败且不是唯一键冲突时删除已写入的 chunks
func (s *Store) upload(ctx context.Context, sha256, filename string, size int64, r io.Reader) error {
	opts := options.GridFSUpload().SetMetadata(bson.D{
		{Key: "sha256", Value: sha256},
		{Key: "size", Value: size},
	})
	us, err := s.bucket.OpenUploadStreamWithID(ctx, sha256, filename, opts)
	if err != nil {
		return err
	}

	_, err = io.Copy(us, r)
	if err == nil {
		err = us.Close()
	}
	if err == nil {
		return nil
	}

	if !mongo.IsDuplicateKeyError(err) {
		_ = us.Abort()
		// Abort 使用上传流自己的 ctx，ctx 已取消时需要单独清理
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, derr := s.chunks().DeleteMany(cleanup, bson.D{{Key: "files_id", Value: sha256}}); derr != nil {
			log.Printf("WARNING: mongostore: discard chunks of %s failed: %v", sha256, derr)
		}
	}
	return err
}

// OpenBlob 打开 GridFS 文件，调用方负责关闭
func (s *Store) OpenBlob(ctx context.Context, fileID string) (io.ReadCloser, error) {
	stream, err := s.bucket.OpenDownloadStream(ctx, fileID)
	if err != nil {
		if errors.Is(err, mongo.ErrFileNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return stream, nil
}
