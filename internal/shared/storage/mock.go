// Package storage 提供存储层抽象
//
// mock.go 提供用于测试和 dry-run 的内存实现
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"observer-migrate/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ============================================================================
// MemoryStore - 内存实现的 RunStore + BlobStore
// ============================================================================

// MemoryStore 内存存储，语义与 mongostore 一致
//
// PutFailure 非空时 PutBlob 返回该错误；ReplaceFailure 非空时 ReplaceRun 返回该错误。
type MemoryStore struct {
	mu sync.Mutex

	runs    map[int]*model.Run
	metrics map[int]map[string]*model.MetricSeries
	blobs   map[string]*model.Blob
	data    map[string][]byte

	PutCount       int
	PutFailure     error
	ReplaceFailure error
}

// NewMemoryStore 创建 MemoryStore 实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:    make(map[int]*model.Run),
		metrics: make(map[int]map[string]*model.MetricSeries),
		blobs:   make(map[string]*model.Blob),
		data:    make(map[string][]byte),
	}
}

// 确保 MemoryStore 实现了存储接口
var (
	_ RunStore  = (*MemoryStore)(nil)
	_ BlobStore = (*MemoryStore)(nil)
)

func (m *MemoryStore) ReplaceRun(ctx context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ReplaceFailure != nil {
		return m.ReplaceFailure
	}
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, id int) (*model.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *MemoryStore) ListRunIDs(ctx context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.runs))
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *MemoryStore) ReplaceMetrics(ctx context.Context, runID int, series []*model.MetricSeries) ([]model.MetricPointer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.metrics[runID]
	next := make(map[string]*model.MetricSeries, len(series))
	for _, s := range series {
		cp := *s
		cp.RunID = runID
		if prev, ok := old[s.Name]; ok {
			cp.ID = prev.ID
		} else {
			cp.ID = bson.NewObjectID()
		}
		next[s.Name] = &cp
	}
	m.metrics[runID] = next

	ptrs := make([]model.MetricPointer, 0, len(next))
	for name, s := range next {
		ptrs = append(ptrs, model.MetricPointer{Name: name, ID: s.ID.Hex()})
	}
	sort.Slice(ptrs, func(i, j int) bool { return ptrs[i].Name < ptrs[j].Name })
	return ptrs, nil
}

func (m *MemoryStore) ListMetrics(ctx context.Context, runID int) ([]*model.MetricSeries, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.MetricSeries, 0, len(m.metrics[runID]))
	for _, s := range m.metrics[runID] {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) FindBlob(ctx context.Context, sha256 string) (*model.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[sha256]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) PutBlob(ctx context.Context, sha256, filename string, size int64, r io.Reader) (*model.Blob, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if int64(len(content)) != size {
		return nil, fmt.Errorf("put blob %s: size mismatch: got %d, want %d", sha256, len(content), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutFailure != nil {
		return nil, m.PutFailure
	}
	m.PutCount++
	b := &model.Blob{FileID: sha256, SHA256: sha256, Size: size}
	m.blobs[sha256] = b
	m.data[sha256] = content
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) OpenBlob(ctx context.Context, fileID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.data[fileID]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// BlobCount 已存储的 Blob 数量
func (m *MemoryStore) BlobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// RunCount 已存储的运行数量
func (m *MemoryStore) RunCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}
