// Package model 定义核心数据模型
//
// run.go 包含迁移目标（数据库观察者）中 Run 文档的数据模型定义：
//   - Run：一次实验运行（runs 集合中的一个文档）
//   - Experiment：实验描述（名称、目录、依赖、源码引用）
//
// 文档结构与数据库观察者写入的结构保持一致，使迁移后的运行与在线记录的运行
// 可以通过同一套查询接口访问。
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// FormatVersion 迁移写入的文档格式标识
const FormatVersion = "FileStorageObserver-0.0.1"

// ============================================================================
// Run - 运行文档
// ============================================================================

// Run 表示 runs 集合中的一个运行文档
//
// 字段说明：
//   - ID：运行 ID，等于源目录名（整数）
//   - Experiment：实验信息，Sources 为源码文件引用
//   - StartTime/StopTime/Heartbeat：源文件缺失对应字段时为 nil（不写入）
//   - CapturedOut：nil 表示 cout.txt 不存在，空字符串表示文件存在但为空
//   - Config/Info：nil 表示源文件不存在（不写入），空映射 {} 照常写入
//   - Artifacts/Resources：始终写入（空列表而非 null），保证重复迁移结果一致
//
// Result 为 null 与不存在在 MongoDB 查询中等价，两者都不写入。
type Run struct {
	ID          int            `json:"_id" bson:"_id"`
	Experiment  Experiment     `json:"experiment" bson:"experiment"`
	Format      string         `json:"format" bson:"format"`
	Command     string         `json:"command,omitempty" bson:"command,omitempty"`
	Host        map[string]any `json:"host,omitempty" bson:"host,omitempty"`
	StartTime   *time.Time     `json:"start_time,omitempty" bson:"start_time,omitempty"`
	StopTime    *time.Time     `json:"stop_time,omitempty" bson:"stop_time,omitempty"`
	Heartbeat   *time.Time     `json:"heartbeat,omitempty" bson:"heartbeat,omitempty"`
	Config      Mapping        `json:"config,omitzero" bson:"config,omitempty"`
	Meta        map[string]any `json:"meta,omitempty" bson:"meta,omitempty"`
	Status      RunStatus      `json:"status,omitempty" bson:"status,omitempty"`
	Result      any            `json:"result,omitempty" bson:"result,omitempty"`
	FailTrace   []string       `json:"fail_trace,omitempty" bson:"fail_trace,omitempty"`
	CapturedOut *string        `json:"captured_out,omitempty" bson:"captured_out,omitempty"`
	Info        Mapping        `json:"info,omitzero" bson:"info,omitempty"`
	Artifacts   []Reference    `json:"artifacts" bson:"artifacts"`
	Resources   []Reference    `json:"resources" bson:"resources"`
}

// RunStatus 运行状态（沿用观察者记录的原始取值）
type RunStatus string

const (
	RunStatusQueued      RunStatus = "QUEUED"
	RunStatusRunning     RunStatus = "RUNNING"
	RunStatusCompleted   RunStatus = "COMPLETED"
	RunStatusFailed      RunStatus = "FAILED"
	RunStatusInterrupted RunStatus = "INTERRUPTED"
	RunStatusTimeout     RunStatus = "TIMEOUT"
)

// IsTerminal 运行是否已结束
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusInterrupted, RunStatusTimeout:
		return true
	}
	return false
}

// Experiment 实验信息
type Experiment struct {
	Name         string           `json:"name,omitempty" bson:"name,omitempty"`
	BaseDir      string           `json:"base_dir,omitempty" bson:"base_dir,omitempty"`
	Mainfile     string           `json:"mainfile,omitempty" bson:"mainfile,omitempty"`
	Dependencies []string         `json:"dependencies,omitempty" bson:"dependencies,omitempty"`
	Repositories []map[string]any `json:"repositories,omitempty" bson:"repositories,omitempty"`
	Sources      []Reference      `json:"sources" bson:"sources"`
}

// Mapping 键值映射，只有 nil 视为零值
//
// 与普通 map 的 omitempty 不同，空映射 {} 也会被写入，
// 使“文件存在但为空”与“文件不存在”在文档中可以区分。
type Mapping map[string]any

// IsZero 实现 bson.Zeroer
func (m Mapping) IsZero() bool {
	return m == nil
}

// MetricPointers 返回 info.metrics 中记录的指标指针
//
// 迁移过程中为 []MetricPointer；从 MongoDB 读回的文档中为 bson.A（元素为 bson.D）。
func (r *Run) MetricPointers() []MetricPointer {
	if r.Info == nil {
		return nil
	}
	var items []any
	switch v := r.Info["metrics"].(type) {
	case []MetricPointer:
		return v
	case bson.A:
		items = v
	case []any:
		items = v
	default:
		return nil
	}

	ptrs := make([]MetricPointer, 0, len(items))
	for _, item := range items {
		var p MetricPointer
		switch d := item.(type) {
		case bson.D:
			for _, e := range d {
				p.set(e.Key, e.Value)
			}
		case bson.M:
			for k, v := range d {
				p.set(k, v)
			}
		case map[string]any:
			for k, v := range d {
				p.set(k, v)
			}
		case MetricPointer:
			p = d
		default:
			continue
		}
		ptrs = append(ptrs, p)
	}
	return ptrs
}
