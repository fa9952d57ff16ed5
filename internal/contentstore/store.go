// Package contentstore 内容寻址的 Blob 存储
//
// Store 计算内容的 sha256，后端已存在同一哈希时直接返回已有引用（去重），
// 否则上传为新 Blob。引用只由内容决定，与调用顺序、所属运行、迁移次数无关。
//
// 并发调用同一哈希时通过 singleflight 合并为一次 查找+上传；
// 后端本身也容忍重复上传（内容相同），因此多进程并发迁移同样安全。
package contentstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"observer-migrate/internal/shared/model"
	"observer-migrate/internal/shared/storage"
	"observer-migrate/pkg/logging"

	"golang.org/x/sync/singleflight"
)

// Blob 存储结果
const (
	ResultUploaded     = "uploaded"
	ResultDeduplicated = "deduplicated"
)

// Source 可重复打开的内容来源
//
// Store 会打开两次：一次计算哈希，未命中时再打开一次用于上传。
type Source interface {
	Open() (io.ReadCloser, error)
}

// Recorder 记录每次存储的结果（uploaded / deduplicated）
type Recorder interface {
	RecordBlob(result string, size int64)
}

// Store 内容寻址存储
type Store struct {
	backend  storage.BlobStore
	group    singleflight.Group
	recorder Recorder
	logger   *logging.Logger
}

// Option Store 配置项
type Option func(*Store)

// WithRecorder 设置结果记录器
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithLogger 设置日志器，每次存储以 debug 级别记录
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New 创建内容寻址存储
func New(backend storage.BlobStore, opts ...Option) *Store {
	s := &Store{backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type storeResult struct {
	blob   *model.Blob
	result string
}

// Store 存储 src 的内容并返回以 name 命名的引用
//
// 上传失败返回 *storage.StorageWriteError，由调用方决定中止运行或跳过该引用。
func (s *Store) Store(ctx context.Context, name string, src Source) (model.Reference, error) {
	digest, size, err := hashSource(src)
	if err != nil {
		return model.Reference{}, fmt.Errorf("hash %s: %w", name, err)
	}

	// 只有执行 storeOnce 的调用者报告真实结果，被合并的调用者都是去重
	var leader bool
	v, err, _ := s.group.Do(digest, func() (any, error) {
		leader = true
		return s.storeOnce(ctx, digest, name, size, src)
	})
	if err != nil {
		return model.Reference{}, err
	}

	res := v.(*storeResult)
	result := ResultDeduplicated
	if leader {
		result = res.result
	}
	ref := model.Reference{Name: name, FileID: res.blob.FileID, SHA256: digest}
	if s.recorder != nil {
		s.recorder.RecordBlob(result, size)
	}
	if s.logger != nil {
		s.logger.BlobLog(name, ref.ShortHash(), result, size)
	}
	return ref, nil
}

func (s *Store) storeOnce(ctx context.Context, digest, name string, size int64, src Source) (*storeResult, error) {
	blob, err := s.backend.FindBlob(ctx, digest)
	if err == nil {
		return &storeResult{blob: blob, result: ResultDeduplicated}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, storage.NewWriteError("find blob", digest, err)
	}

	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	blob, err = s.backend.PutBlob(ctx, digest, name, size, rc)
	if err != nil {
		return nil, storage.NewWriteError("put blob", digest, err)
	}
	return &storeResult{blob: blob, result: ResultUploaded}, nil
}

// Hash 计算内容的 sha256（十六进制小写）与字节数
func Hash(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func hashSource(src Source) (string, int64, error) {
	rc, err := src.Open()
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()
	return Hash(rc)
}

// Bytes 内存中的内容来源
type Bytes []byte

// Open 实现 Source
func (b Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}
