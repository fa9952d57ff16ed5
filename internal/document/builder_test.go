package document

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"observer-migrate/internal/contentstore"
	"observer-migrate/internal/rundir"
	"observer-migrate/internal/shared/model"
	"observer-migrate/internal/shared/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fileRef(t *testing.T, dir, name, content string) rundir.FileRef {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return rundir.FileRef{Name: name, Path: path, Size: int64(len(content))}
}

func strPtr(s string) *string { return &s }

func newBuilder() (*Builder, *storage.MemoryStore) {
	backend := storage.NewMemoryStore()
	return New(contentstore.New(backend)), backend
}

func TestBuild_FullRun(t *testing.T) {
	dir := t.TempDir()
	b, backend := newBuilder()

	parsed := &rundir.ParsedRun{
		Dir:    dir,
		Config: rundir.Some(map[string]any{"lr": 0.1}),
		Run: rundir.Some(&rundir.RunMeta{
			Experiment: rundir.ExperimentMeta{Name: "mnist", Mainfile: "train.py", Dependencies: []string{"numpy==1.26.0"}},
			Command:    "main",
			Host:       map[string]any{"hostname": "gpu01"},
			Status:     "COMPLETED",
			StartTime:  strPtr("2024-03-01T10:00:00.123456"),
			StopTime:   strPtr("2024-03-01T10:05:00"),
		}),
		Result:      rundir.Some[any](0.98),
		CapturedOut: rundir.Some("Started run with ID \"1\"\nok\n"),
		Info:        rundir.Some(map[string]any{"note": "x"}),
		Metrics: rundir.Some([]rundir.Series{{
			Name: "loss",
			Samples: []model.MetricSample{
				{Step: 0, Timestamp: time.Date(2024, 3, 1, 10, 0, 1, 0, time.UTC), Value: 1.5},
				{Step: 1, Timestamp: time.Date(2024, 3, 1, 10, 0, 2, 0, time.UTC), Value: 0.7},
			},
		}}),
		Artifacts: []rundir.FileRef{fileRef(t, dir, "model.ckpt", "weights")},
		Resources: []rundir.FileRef{},
	}
	sources := []rundir.FileRef{fileRef(t, dir, "src/train.py", "print(1)")}

	res, err := b.Build(context.Background(), 1, parsed, sources)
	require.NoError(t, err)

	run := res.Run
	assert.Equal(t, 1, run.ID)
	assert.Equal(t, model.FormatVersion, run.Format)
	assert.Equal(t, "mnist", run.Experiment.Name)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 0.98, run.Result)
	require.NotNil(t, run.StartTime)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 123000000, time.UTC), *run.StartTime)
	assert.Nil(t, run.Heartbeat)
	require.NotNil(t, run.CapturedOut)
	assert.Equal(t, "Started run with ID \"1\"\nok\n", *run.CapturedOut)

	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, "model.ckpt", run.Artifacts[0].Name)
	require.Len(t, run.Experiment.Sources, 1)
	assert.Equal(t, "src/train.py", run.Experiment.Sources[0].Name)
	assert.NotNil(t, run.Resources)
	assert.Empty(t, run.Resources)
	assert.Equal(t, 2, backend.BlobCount())

	require.Len(t, res.Metrics, 1)
	assert.Equal(t, "loss", res.Metrics[0].Name)
	assert.Equal(t, 1, res.Metrics[0].RunID)
	assert.Equal(t, []int64{0, 1}, res.Metrics[0].Steps)
	assert.Equal(t, []float64{1.5, 0.7}, res.Metrics[0].Values)
}

func TestBuild_AbsentFieldsOmitted(t *testing.T) {
	b, _ := newBuilder()
	parsed := &rundir.ParsedRun{Dir: t.TempDir(), Artifacts: []rundir.FileRef{}}

	res, err := b.Build(context.Background(), 7, parsed, nil)
	require.NoError(t, err)

	run := res.Run
	assert.Nil(t, run.Config)
	assert.Nil(t, run.Info)
	assert.Nil(t, run.Result)
	assert.Nil(t, run.CapturedOut)
	assert.Nil(t, run.StartTime)
	assert.Empty(t, res.Metrics)
	assert.NotNil(t, run.Artifacts)
	assert.NotNil(t, run.Resources)
	assert.NotNil(t, run.Experiment.Sources)
	assert.Empty(t, run.Experiment.Sources)
}

// 文件存在但内容为 {} 时写入空映射，与文件缺失区分
func TestBuild_EmptyConfigAndInfoKept(t *testing.T) {
	b, _ := newBuilder()
	parsed := &rundir.ParsedRun{
		Dir:       t.TempDir(),
		Config:    rundir.Some(map[string]any{}),
		Info:      rundir.Some(map[string]any{}),
		Artifacts: []rundir.FileRef{},
	}

	res, err := b.Build(context.Background(), 8, parsed, nil)
	require.NoError(t, err)

	run := res.Run
	require.NotNil(t, run.Config)
	require.NotNil(t, run.Info)
	assert.Empty(t, run.Config)
	assert.Empty(t, run.Info)

	data, err := json.Marshal(run)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"config":{}`)
	assert.Contains(t, string(data), `"info":{}`)
}

func TestBuild_NullResultOmitted(t *testing.T) {
	b, _ := newBuilder()
	parsed := &rundir.ParsedRun{Dir: t.TempDir(), Result: rundir.Some[any](nil)}

	res, err := b.Build(context.Background(), 1, parsed, nil)
	require.NoError(t, err)
	assert.Nil(t, res.Run.Result)
}

func TestBuild_EmptyCapturedOutKept(t *testing.T) {
	b, _ := newBuilder()
	parsed := &rundir.ParsedRun{Dir: t.TempDir(), CapturedOut: rundir.Some("")}

	res, err := b.Build(context.Background(), 1, parsed, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Run.CapturedOut)
	assert.Equal(t, "", *res.Run.CapturedOut)
}

func TestBuild_BadTimestamp(t *testing.T) {
	b, _ := newBuilder()
	dir := t.TempDir()
	parsed := &rundir.ParsedRun{
		Dir: dir,
		Run: rundir.Some(&rundir.RunMeta{Heartbeat: strPtr("yesterday")}),
	}

	_, err := b.Build(context.Background(), 1, parsed, nil)
	require.Error(t, err)

	var pe *rundir.RunParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, rundir.FileRun, pe.File)
	assert.Contains(t, err.Error(), "heartbeat")
}

func TestBuild_StorageFailure(t *testing.T) {
	backend := storage.NewMemoryStore()
	backend.PutFailure = errors.New("gridfs down")
	b := New(contentstore.New(backend))
	dir := t.TempDir()

	parsed := &rundir.ParsedRun{Dir: dir, Artifacts: []rundir.FileRef{fileRef(t, dir, "a.bin", "a")}}
	_, err := b.Build(context.Background(), 1, parsed, nil)

	var we *storage.StorageWriteError
	require.True(t, errors.As(err, &we))
}

func TestRewriteRunID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		id   int
		want string
	}{
		{"same id", "Started run with ID \"3\"\n", 3, "Started run with ID \"3\"\n"},
		{"different id", "INFO - Started run with ID \"12\"\nStarted run with ID \"12\"", 5, "INFO - Started run with ID \"5\"\nStarted run with ID \"12\""},
		{"no marker", "hello\n", 5, "hello\n"},
		// 非数字 ID 不是运行声明，保持原样
		{"non numeric id", "Started run with ID \"abc\"\n", 5, "Started run with ID \"abc\"\n"},
		{"empty id", "Started run with ID \"\"", 5, "Started run with ID \"\""},
		{"empty", "", 5, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rewriteRunID(tt.in, tt.id))
		})
	}
}
