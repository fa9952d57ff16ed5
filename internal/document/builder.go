// Package document 将解析后的运行目录组装为数据库观察者的运行文档
package document

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"observer-migrate/internal/contentstore"
	"observer-migrate/internal/rundir"
	"observer-migrate/internal/shared/model"
)

// startedRunPattern 捕获输出第一行的运行 ID 声明
var startedRunPattern = regexp.MustCompile(`Started run with ID "\d+"`)

// Builder 运行文档构建器
type Builder struct {
	content *contentstore.Store
}

// New 创建构建器
func New(content *contentstore.Store) *Builder {
	return &Builder{content: content}
}

// BuildResult 一个运行的目标文档
//
// Metrics 单独写入 metrics 集合，写入后得到的指针再放入 Run.Info["metrics"]。
type BuildResult struct {
	Run     *model.Run
	Metrics []*model.MetricSeries
}

// Build 组装运行文档
//
// sources 为源码目录中的文件，对每个运行都相同；为空时 experiment.sources 写入空列表。
// 产物、资源、源码均经过 ContentStore 存储，任一失败即返回 *storage.StorageWriteError。
func (b *Builder) Build(ctx context.Context, runID int, parsed *rundir.ParsedRun, sources []rundir.FileRef) (*BuildResult, error) {
	run := &model.Run{
		ID:        runID,
		Format:    model.FormatVersion,
		Artifacts: []model.Reference{},
		Resources: []model.Reference{},
	}

	if meta, ok := parsed.Run.Get(); ok {
		if err := applyRunMeta(run, meta); err != nil {
			return nil, &rundir.RunParseError{RunDir: parsed.Dir, File: rundir.FileRun, Err: err}
		}
	}
	if cfg, ok := parsed.Config.Get(); ok {
		run.Config = cfg
	}
	if result, ok := parsed.Result.Get(); ok && result != nil {
		run.Result = result
	}
	if out, ok := parsed.CapturedOut.Get(); ok {
		out = rewriteRunID(out, runID)
		run.CapturedOut = &out
	}
	if info, ok := parsed.Info.Get(); ok {
		run.Info = make(model.Mapping, len(info)+1)
		for k, v := range info {
			run.Info[k] = v
		}
	}

	var err error
	if run.Artifacts, err = b.storeAll(ctx, parsed.Artifacts); err != nil {
		return nil, err
	}
	if run.Resources, err = b.storeAll(ctx, parsed.Resources); err != nil {
		return nil, err
	}
	if run.Experiment.Sources, err = b.storeAll(ctx, sources); err != nil {
		return nil, err
	}

	res := &BuildResult{Run: run}
	if series, ok := parsed.Metrics.Get(); ok {
		for _, s := range series {
			res.Metrics = append(res.Metrics, model.NewMetricSeries(runID, s.Name, s.Samples))
		}
	}
	return res, nil
}

func applyRunMeta(run *model.Run, meta *rundir.RunMeta) error {
	run.Experiment = model.Experiment{
		Name:         meta.Experiment.Name,
		BaseDir:      meta.Experiment.BaseDir,
		Mainfile:     meta.Experiment.Mainfile,
		Dependencies: meta.Experiment.Dependencies,
		Repositories: meta.Experiment.Repositories,
	}
	run.Command = meta.Command
	run.Host = meta.Host
	run.Meta = meta.Meta
	run.Status = model.RunStatus(meta.Status)
	run.FailTrace = meta.FailTrace

	var err error
	if run.StartTime, err = parseOptionalTime("start_time", meta.StartTime); err != nil {
		return err
	}
	if run.StopTime, err = parseOptionalTime("stop_time", meta.StopTime); err != nil {
		return err
	}
	if run.Heartbeat, err = parseOptionalTime("heartbeat", meta.Heartbeat); err != nil {
		return err
	}
	return nil
}

func parseOptionalTime(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := rundir.ParseTime(*s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return &t, nil
}

func (b *Builder) storeAll(ctx context.Context, files []rundir.FileRef) ([]model.Reference, error) {
	refs := make([]model.Reference, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ref, err := b.content.Store(ctx, f.Name, f)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// rewriteRunID 将输出中第一处运行 ID 声明改为目标 ID
func rewriteRunID(out string, runID int) string {
	loc := startedRunPattern.FindStringIndex(out)
	if loc == nil {
		return out
	}
	return out[:loc[0]] + `Started run with ID "` + strconv.Itoa(runID) + `"` + out[loc[1]:]
}
