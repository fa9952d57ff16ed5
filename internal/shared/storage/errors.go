// Package storage 定义存储层领域错误
//
// 这些错误用于隔离业务层与底层存储引擎的错误类型，
// 各驱动实现（mongostore/objstore/MemoryStore）负责将底层错误转换为这些领域错误。
package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 实体不存在
	// 替代 mongo.ErrNoDocuments / NoSuchKey
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate 唯一键冲突（INSERT 重复 ID）
	ErrDuplicate = errors.New("duplicate: entity already exists")

	// ErrReservedCollection 集合名称被数据库观察者保留
	ErrReservedCollection = errors.New("collection name is reserved")
)

// StorageWriteError Blob 上传或文档写入失败
//
// 属于单个运行的错误：该运行被跳过，迁移继续。
type StorageWriteError struct {
	Op     string // 操作，如 "put blob"、"replace run"
	Target string // 目标，如 Blob 哈希或运行 ID
	Err    error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("storage write %s %s: %v", e.Op, e.Target, e.Err)
}

func (e *StorageWriteError) Unwrap() error { return e.Err }

// NewWriteError 包装写入错误，err 为 nil 时返回 nil
func NewWriteError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	var we *StorageWriteError
	if errors.As(err, &we) {
		return err
	}
	return &StorageWriteError{Op: op, Target: target, Err: err}
}

// ConnectionError 启动时无法连接目标数据库
//
// 致命错误：在处理任何运行之前中止迁移。
type ConnectionError struct {
	Target string // 已隐藏密码的连接地址
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
