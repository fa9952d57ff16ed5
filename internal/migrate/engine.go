// Package migrate 将文件观察者的运行目录迁移到 MongoDB 观察者的数据结构
//
// Engine 遍历运行根目录的直接子目录，每个目录名即运行 ID：
//
//	读取（rundir）→ 组装文档（document，Blob 经 contentstore 去重上传）
//	→ 整体替换指标 → 以 _id 为键整体替换运行文档
//
// 单个运行的失败只记录到 Report，不影响其他运行；重复迁移得到相同的最终状态。
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"observer-migrate/internal/contentstore"
	"observer-migrate/internal/document"
	"observer-migrate/internal/rundir"
	"observer-migrate/internal/shared/storage"
	"observer-migrate/pkg/logging"

	"golang.org/x/sync/errgroup"
)

// Options 迁移选项
type Options struct {
	// SourceDir 源码目录，存在时其文件附加到每个运行；为空或不存在时 sources 为空列表
	SourceDir string
	// RunIDs 非空时只迁移列出的运行
	RunIDs []int
	// Workers 并发迁移的运行数，<=0 时为 1
	Workers int
}

// Engine 迁移引擎
type Engine struct {
	runs    storage.RunStore
	builder *document.Builder
	opts    Options
	logger  *logging.Logger
	metrics *Metrics
}

// NewEngine 创建迁移引擎，metrics 可以为 nil
func NewEngine(runs storage.RunStore, content *contentstore.Store, opts Options, logger *logging.Logger, metrics *Metrics) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Engine{
		runs:    runs,
		builder: document.New(content),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Migrate 迁移 runsRoot 下的所有运行
//
// 根目录不可读或源码目录无法遍历时返回错误（尚未处理任何运行）。
// ctx 取消后不再调度新的运行，已调度的运行完成后返回 ctx.Err()。
func (e *Engine) Migrate(ctx context.Context, runsRoot string) (*Report, error) {
	entries, err := os.ReadDir(runsRoot)
	if err != nil {
		return nil, fmt.Errorf("read runs root: %w", err)
	}

	sources, err := ResolveSources(e.opts.SourceDir)
	if err != nil {
		return nil, err
	}
	if e.opts.SourceDir != "" {
		e.logger.Info("Source files resolved",
			"source_dir", e.opts.SourceDir, "files", len(sources))
	}

	wanted := make(map[int]bool, len(e.opts.RunIDs))
	for _, id := range e.opts.RunIDs {
		wanted[id] = true
	}
	seen := make(map[int]bool)

	reader := rundir.NewReader(runsRoot)
	report := &Report{}

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)

	for _, entry := range entries {
		name := entry.Name()
		dir := filepath.Join(runsRoot, name)
		if !isDir(entry, dir) || reservedDirs[name] {
			continue
		}

		id, err := ParseRunID(name)
		if err != nil {
			e.logger.WithRunDir(dir).Warn("Skipping directory", "reason", err.Error())
			report.addSkipped(name, err.Error())
			e.recordRun(OutcomeSkipped, 0)
			continue
		}
		if len(wanted) > 0 && !wanted[id] {
			continue
		}
		seen[id] = true

		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e.migrateRun(ctx, reader, id, dir, sources, report)
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range e.opts.RunIDs {
		if !seen[id] {
			report.addSkipped(fmt.Sprint(id), "run directory not found")
		}
	}
	report.sort()
	if e.metrics != nil {
		e.metrics.MarkFinished()
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func isDir(entry fs.DirEntry, path string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (e *Engine) migrateRun(ctx context.Context, reader *rundir.Reader, id int, dir string, sources []rundir.FileRef, report *Report) {
	start := time.Now()
	log := e.logger.WithRunID(id).WithRunDir(dir)

	if err := e.migrateOne(ctx, reader, id, dir, sources, log); err != nil {
		log.WithError(err).Error("Run migration failed")
		report.addFailed(id, dir, err)
		e.recordRun(OutcomeFailed, time.Since(start))
		return
	}

	d := time.Since(start)
	log.WithDuration(d).Info("Run migrated")
	report.addMigrated(id)
	e.recordRun(OutcomeMigrated, d)
}

func (e *Engine) migrateOne(ctx context.Context, reader *rundir.Reader, id int, dir string, sources []rundir.FileRef, log *logging.Logger) error {
	parsed, err := reader.Read(dir)
	if err != nil {
		return err
	}
	for _, w := range parsed.Warnings {
		log.Warn(w)
	}

	res, err := e.builder.Build(ctx, id, parsed, sources)
	if err != nil {
		return err
	}
	if st := res.Run.Status; st != "" && !st.IsTerminal() {
		log.Warn("Run was not finished when recorded", "status", string(st))
	}

	target := fmt.Sprintf("run %d", id)

	start := time.Now()
	ptrs, err := e.runs.ReplaceMetrics(ctx, id, res.Metrics)
	log.DBWriteLog("replace_metrics", "metrics", time.Since(start), err)
	if err != nil {
		return storage.NewWriteError("replace metrics", target, err)
	}
	if len(ptrs) > 0 {
		if res.Run.Info == nil {
			res.Run.Info = make(map[string]any, 1)
		}
		res.Run.Info["metrics"] = ptrs
	}
	if len(res.Metrics) > 0 {
		samples := 0
		for _, m := range res.Metrics {
			samples += m.Len()
		}
		log.Debug("Metrics replaced", "series", len(res.Metrics), "samples", samples)
	}
	if e.metrics != nil {
		e.metrics.RecordSeries(len(res.Metrics))
	}

	start = time.Now()
	err = e.runs.ReplaceRun(ctx, res.Run)
	log.DBWriteLog("replace_run", "runs", time.Since(start), err)
	if err != nil {
		return storage.NewWriteError("replace run", target, err)
	}
	return nil
}

func (e *Engine) recordRun(outcome string, d time.Duration) {
	if e.metrics != nil {
		e.metrics.RecordRun(outcome, d)
	}
}

// ResolveSources 遍历源码目录，返回其中的全部普通文件
//
// 名称为相对源码目录的路径（/ 分隔），按字典序排列。
// 隐藏目录与 __pycache__ 被忽略。dir 为空或不存在时返回空列表。
func ResolveSources(dir string) ([]rundir.FileRef, error) {
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("source dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source dir %s is not a directory", dir)
	}

	var files []rundir.FileRef
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (strings.HasPrefix(d.Name(), ".") || d.Name() == "__pycache__") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rundir.FileRef{Name: filepath.ToSlash(rel), Path: path, Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source dir: %w", err)
	}
	return files, nil
}
