// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：mongostore/（MongoDB + GridFS）、minio/（对象存储）
//   - 初始化时通过依赖注入传入实现
package storage

import (
	"context"
	"io"

	"observer-migrate/internal/shared/model"
)

// RunStore 运行文档与指标的持久化
type RunStore interface {
	// ReplaceRun 按 _id 整体替换运行文档，不存在时插入（upsert，不做字段合并）
	ReplaceRun(ctx context.Context, run *model.Run) error
	// GetRun 按 ID 获取运行文档，不存在时返回 ErrNotFound
	GetRun(ctx context.Context, id int) (*model.Run, error)
	// ListRunIDs 按升序返回所有运行 ID
	ListRunIDs(ctx context.Context) ([]int, error)

	// ReplaceMetrics 整体替换运行的指标序列
	//
	// 已存在的 (run_id, name) 文档保留原 _id 并覆盖内容；
	// 不在 series 中的旧指标被删除。返回按名称排序的指针列表。
	ReplaceMetrics(ctx context.Context, runID int, series []*model.MetricSeries) ([]model.MetricPointer, error)
	// ListMetrics 按名称升序返回运行的指标序列
	ListMetrics(ctx context.Context, runID int) ([]*model.MetricSeries, error)
}

// BlobStore 内容寻址的二进制存储
//
// 实现必须容忍相同哈希的重复上传（内容相同，后写者覆盖或直接忽略均可）。
type BlobStore interface {
	// FindBlob 按内容哈希查找，不存在时返回 ErrNotFound
	FindBlob(ctx context.Context, sha256 string) (*model.Blob, error)
	// PutBlob 上传内容，filename 仅作为首次上传时的描述信息
	PutBlob(ctx context.Context, sha256, filename string, size int64, r io.Reader) (*model.Blob, error)
	// OpenBlob 读取内容，调用方负责关闭
	OpenBlob(ctx context.Context, fileID string) (io.ReadCloser, error)
}
