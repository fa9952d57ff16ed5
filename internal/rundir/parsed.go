// Package rundir 解析文件观察者的单个运行目录
//
// 运行目录包含固定的几个文件（均可缺失）：
//   - config.json：配置（键值映射）
//   - run.json：运行元数据（实验、主机、时间、状态、结果、资源列表）
//   - cout.txt：捕获的控制台输出（原始文本）
//   - metrics.json：指标，名称 → {steps, timestamps, values} 平行数组
//   - info.json：运行期间记录的附加信息（键值映射）
//
// 其余普通文件均视为产物（artifact），只记录路径与大小，需要时才打开读取。
package rundir

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"observer-migrate/internal/shared/model"
)

// 固定文件名
const (
	FileConfig  = "config.json"
	FileRun     = "run.json"
	FileCout    = "cout.txt"
	FileMetrics = "metrics.json"
	FileInfo    = "info.json"
)

// wellKnown 不作为产物的固定文件
var wellKnown = map[string]bool{
	FileConfig:  true,
	FileRun:     true,
	FileCout:    true,
	FileMetrics: true,
	FileInfo:    true,
}

// ============================================================================
// Optional - 存在/缺失标记
// ============================================================================

// Optional 表示可能缺失的字段
//
// 文件缺失时为 None；文件存在但内容为空时为 Some(零值)，两者可以区分。
type Optional[T any] struct {
	value T
	ok    bool
}

// Some 构建存在的值
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None 构建缺失的值
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get 返回值与是否存在
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present 是否存在
func (o Optional[T]) Present() bool {
	return o.ok
}

// ============================================================================
// ParsedRun
// ============================================================================

// ParsedRun 单个运行目录的解析结果
type ParsedRun struct {
	Dir string

	Config      Optional[map[string]any]
	Run         Optional[*RunMeta]
	CapturedOut Optional[string]
	Metrics     Optional[[]Series]
	Info        Optional[map[string]any]

	// Result 来自 run.json 的 result 字段；run.json 缺失或无该字段时为 None
	Result Optional[any]

	Artifacts []FileRef // 按文件名升序
	Resources []FileRef // run.json 中记录且能找到文件的资源

	// Warnings 不影响迁移的问题（例如资源文件已不存在）
	Warnings []string
}

// RunMeta run.json 的结构
type RunMeta struct {
	Experiment ExperimentMeta  `json:"experiment"`
	Command    string          `json:"command"`
	Host       map[string]any  `json:"host"`
	Meta       map[string]any  `json:"meta"`
	Status     string          `json:"status"`
	StartTime  *string         `json:"start_time"`
	StopTime   *string         `json:"stop_time"`
	Heartbeat  *string         `json:"heartbeat"`
	Result     json.RawMessage `json:"result"`
	FailTrace  []string        `json:"fail_trace"`
	Artifacts  []string        `json:"artifacts"`
	Resources  [][]string      `json:"resources"`
}

// ExperimentMeta run.json 中的实验信息
type ExperimentMeta struct {
	Name         string           `json:"name"`
	BaseDir      string           `json:"base_dir"`
	Mainfile     string           `json:"mainfile"`
	Dependencies []string         `json:"dependencies"`
	Repositories []map[string]any `json:"repositories"`
	Sources      [][]string       `json:"sources"`
}

// Series 一个指标的采样序列（按记录顺序）
type Series struct {
	Name    string
	Samples []model.MetricSample
}

// ============================================================================
// FileRef - 延迟读取的文件引用
// ============================================================================

// FileRef 指向磁盘文件，Open 时才读取内容
type FileRef struct {
	Name string // 保留的原始名称
	Path string // 磁盘路径
	Size int64
}

// Open 实现 contentstore.Source
func (f FileRef) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// ============================================================================
// RunParseError
// ============================================================================

// RunParseError 运行目录中的固定文件无法解析
//
// 只影响该运行：运行被跳过，迁移继续。
type RunParseError struct {
	RunDir string
	File   string
	Err    error
}

func (e *RunParseError) Error() string {
	return fmt.Sprintf("run %s: parse %s: %v", e.RunDir, e.File, e.Err)
}

func (e *RunParseError) Unwrap() error { return e.Err }
