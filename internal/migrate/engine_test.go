package migrate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"observer-migrate/internal/contentstore"
	"observer-migrate/internal/rundir"
	"observer-migrate/internal/shared/model"
	"observer-migrate/internal/shared/storage"
	"observer-migrate/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// 测试夹具
// ============================================================================

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type runFixture struct {
	config   string
	run      string
	cout     *string
	metrics  string
	info     string
	artifact map[string]string
}

func (f runFixture) write(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	if f.config != "" {
		writeFile(t, filepath.Join(dir, rundir.FileConfig), f.config)
	}
	if f.run != "" {
		writeFile(t, filepath.Join(dir, rundir.FileRun), f.run)
	}
	if f.cout != nil {
		writeFile(t, filepath.Join(dir, rundir.FileCout), *f.cout)
	}
	if f.metrics != "" {
		writeFile(t, filepath.Join(dir, rundir.FileMetrics), f.metrics)
	}
	if f.info != "" {
		writeFile(t, filepath.Join(dir, rundir.FileInfo), f.info)
	}
	for name, content := range f.artifact {
		writeFile(t, filepath.Join(dir, name), content)
	}
}

func completedRun(name string) string {
	return fmt.Sprintf(`{"experiment": {"name": %q, "sources": []}, "command": "main",
		"status": "COMPLETED", "start_time": "2024-03-01T10:00:00.5", "stop_time": "2024-03-01T10:01:00",
		"result": 42, "host": {"hostname": "box"}, "meta": {}, "resources": [], "artifacts": []}`, name)
}

func metricsJSON(name string, steps int) string {
	var s, ts, v []string
	for i := 0; i < steps; i++ {
		s = append(s, fmt.Sprint(i))
		ts = append(ts, fmt.Sprintf(`"2024-03-01T10:00:%02d.0"`, i))
		v = append(v, fmt.Sprintf("%d.5", steps-i))
	}
	return fmt.Sprintf(`{%q: {"steps": [%s], "timestamps": [%s], "values": [%s]}}`,
		name, strings.Join(s, ","), strings.Join(ts, ","), strings.Join(v, ","))
}

func strPtr(s string) *string { return &s }

func newEngine(backend *storage.MemoryStore, opts Options) *Engine {
	return NewEngine(backend, contentstore.New(backend), opts, logging.Discard(), nil)
}

// ============================================================================
// 测试
// ============================================================================

func TestMigrate_Idempotent(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "train.py"), "print('hi')")

	runFixture{
		config:   `{"lr": 0.1}`,
		run:      completedRun("mnist"),
		cout:     strPtr("Started run with ID \"1\"\n"),
		metrics:  metricsJSON("loss", 3),
		info:     `{"best": 1}`,
		artifact: map[string]string{"model.ckpt": "weights"},
	}.write(t, root, "1")
	runFixture{config: `{}`, run: completedRun("mnist")}.write(t, root, "2")

	backend := storage.NewMemoryStore()
	ctx := context.Background()

	first, err := newEngine(backend, Options{SourceDir: src}).Migrate(ctx, root)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, first.Migrated)

	run1, err := backend.GetRun(ctx, 1)
	require.NoError(t, err)
	metrics1, err := backend.ListMetrics(ctx, 1)
	require.NoError(t, err)
	blobs, puts := backend.BlobCount(), backend.PutCount

	second, err := newEngine(backend, Options{SourceDir: src}).Migrate(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, second.Migrated)

	run1Again, err := backend.GetRun(ctx, 1)
	require.NoError(t, err)
	metrics1Again, err := backend.ListMetrics(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, run1, run1Again)
	assert.Equal(t, metrics1, metrics1Again)
	assert.Equal(t, 2, backend.RunCount())
	assert.Equal(t, blobs, backend.BlobCount())
	assert.Equal(t, puts, backend.PutCount, "second migration must not upload again")
}

func TestMigrate_ContentDedupAcrossRuns(t *testing.T) {
	root := t.TempDir()
	runFixture{run: completedRun("a"), artifact: map[string]string{"plot.png": "same-bytes"}}.write(t, root, "1")
	runFixture{run: completedRun("a"), artifact: map[string]string{"figure.png": "same-bytes"}}.write(t, root, "2")

	backend := storage.NewMemoryStore()
	report, err := newEngine(backend, Options{}).Migrate(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, report.Migrated, 2)

	r1, _ := backend.GetRun(context.Background(), 1)
	r2, _ := backend.GetRun(context.Background(), 2)
	require.Len(t, r1.Artifacts, 1)
	require.Len(t, r2.Artifacts, 1)

	assert.Equal(t, "plot.png", r1.Artifacts[0].Name)
	assert.Equal(t, "figure.png", r2.Artifacts[0].Name)
	assert.Equal(t, r1.Artifacts[0].FileID, r2.Artifacts[0].FileID)
	assert.Equal(t, 1, backend.BlobCount())
}

func TestMigrate_MissingMetricsTolerated(t *testing.T) {
	root := t.TempDir()
	runFixture{config: `{"a": 1}`, run: completedRun("x"), cout: strPtr("out")}.write(t, root, "5")

	backend := storage.NewMemoryStore()
	report, err := newEngine(backend, Options{}).Migrate(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, report.Migrated)
	assert.False(t, report.HasFailures())

	run, err := backend.GetRun(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, run.MetricPointers())
	assert.Equal(t, int64(1), run.Config["a"])
	assert.Equal(t, model.RunStatusCompleted, run.Status)

	series, err := backend.ListMetrics(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestMigrate_MissingSourceDir(t *testing.T) {
	root := t.TempDir()
	runFixture{run: completedRun("x")}.write(t, root, "1")
	runFixture{run: completedRun("x")}.write(t, root, "2")

	backend := storage.NewMemoryStore()
	opts := Options{SourceDir: filepath.Join(t.TempDir(), "does-not-exist")}
	report, err := newEngine(backend, opts).Migrate(context.Background(), root)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, report.Migrated)

	for _, id := range report.Migrated {
		run, err := backend.GetRun(context.Background(), id)
		require.NoError(t, err)
		assert.NotNil(t, run.Experiment.Sources)
		assert.Empty(t, run.Experiment.Sources)
	}
}

func TestMigrate_SourcesAttachedToEveryRun(t *testing.T) {
	root := t.TempDir()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "train.py"), "main")
	writeFile(t, filepath.Join(src, "lib", "util.py"), "util")
	writeFile(t, filepath.Join(src, ".git", "HEAD"), "ref")
	writeFile(t, filepath.Join(src, "lib", "__pycache__", "util.pyc"), "bytecode")

	runFixture{run: completedRun("x")}.write(t, root, "1")
	runFixture{run: completedRun("x")}.write(t, root, "2")

	backend := storage.NewMemoryStore()
	_, err := newEngine(backend, Options{SourceDir: src}).Migrate(context.Background(), root)
	require.NoError(t, err)

	r1, _ := backend.GetRun(context.Background(), 1)
	r2, _ := backend.GetRun(context.Background(), 2)
	assert.Equal(t, []string{"lib/util.py", "train.py"}, model.ReferenceNames(r1.Experiment.Sources))
	assert.Equal(t, r1.Experiment.Sources, r2.Experiment.Sources)
	assert.Equal(t, 2, backend.BlobCount())
}

func TestMigrate_PartialBatchResilience(t *testing.T) {
	root := t.TempDir()
	runFixture{config: `{"ok": true}`, run: completedRun("x")}.write(t, root, "1")
	runFixture{config: `{"broken": `, run: completedRun("x")}.write(t, root, "2")
	runFixture{config: `{"ok": true}`, run: completedRun("x")}.write(t, root, "3")

	backend := storage.NewMemoryStore()
	report, err := newEngine(backend, Options{}).Migrate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, report.Migrated)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, 2, report.Failed[0].ID)
	assert.Equal(t, filepath.Join(root, "2"), report.Failed[0].Dir)

	var pe *rundir.RunParseError
	require.True(t, errors.As(report.Failed[0].Err, &pe))
	assert.Equal(t, rundir.FileConfig, pe.File)
	assert.True(t, report.HasFailures())
	assert.Contains(t, report.Summary(), "failed run 2")

	_, err = backend.GetRun(context.Background(), 2)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMigrate_MetricOrderPreserved(t *testing.T) {
	root := t.TempDir()
	runFixture{run: completedRun("x"), metrics: metricsJSON("loss", 10)}.write(t, root, "1")

	backend := storage.NewMemoryStore()
	_, err := newEngine(backend, Options{}).Migrate(context.Background(), root)
	require.NoError(t, err)

	series, err := backend.ListMetrics(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, series[0].Steps)
	// 数值递减，确认没有按数值重新排序
	assert.Equal(t, 10.5, series[0].Values[0])
	assert.Equal(t, 1.5, series[0].Values[9])

	run, _ := backend.GetRun(context.Background(), 1)
	ptrs := run.MetricPointers()
	require.Len(t, ptrs, 1)
	assert.Equal(t, "loss", ptrs[0].Name)
	assert.Equal(t, series[0].ID.Hex(), ptrs[0].ID)
}

func TestMigrate_StaleMetricsRemoved(t *testing.T) {
	root := t.TempDir()
	runFixture{run: completedRun("x"), metrics: metricsJSON("loss", 2)}.write(t, root, "1")

	backend := storage.NewMemoryStore()
	ctx := context.Background()
	_, err := newEngine(backend, Options{}).Migrate(ctx, root)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "1", rundir.FileMetrics)))
	_, err = newEngine(backend, Options{}).Migrate(ctx, root)
	require.NoError(t, err)

	series, err := backend.ListMetrics(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, series)
	run, _ := backend.GetRun(ctx, 1)
	assert.Empty(t, run.MetricPointers())
}

func TestMigrate_DirectoryNames(t *testing.T) {
	root := t.TempDir()
	runFixture{run: completedRun("x")}.write(t, root, "1")
	runFixture{run: completedRun("x")}.write(t, root, "abc")
	runFixture{run: completedRun("x")}.write(t, root, "0")
	runFixture{run: completedRun("x")}.write(t, root, "007")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "_sources"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "_resources"), 0o755))
	writeFile(t, filepath.Join(root, "README.txt"), "not a run")

	backend := storage.NewMemoryStore()
	report, err := newEngine(backend, Options{}).Migrate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []int{1}, report.Migrated)
	assert.False(t, report.HasFailures())
	require.Len(t, report.Skipped, 3)
	assert.Equal(t, []string{"0", "007", "abc"},
		[]string{report.Skipped[0].Name, report.Skipped[1].Name, report.Skipped[2].Name})
	assert.Contains(t, report.Skipped[2].Reason, "invalid run identifier")
}

func TestMigrate_RunIDFilter(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"1", "2", "3"} {
		runFixture{run: completedRun("x")}.write(t, root, name)
	}

	backend := storage.NewMemoryStore()
	report, err := newEngine(backend, Options{RunIDs: []int{2, 9}}).Migrate(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, report.Migrated)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "9", report.Skipped[0].Name)
	assert.Equal(t, 1, backend.RunCount())
}

func TestMigrate_Workers(t *testing.T) {
	root := t.TempDir()
	want := make([]int, 0, 20)
	for i := 1; i <= 20; i++ {
		runFixture{
			run:      completedRun("x"),
			metrics:  metricsJSON("acc", 3),
			artifact: map[string]string{"shared.bin": "identical"},
		}.write(t, root, fmt.Sprint(i))
		want = append(want, i)
	}

	backend := storage.NewMemoryStore()
	metrics := NewMetrics("test")
	e := NewEngine(backend, contentstore.New(backend, contentstore.WithRecorder(metrics)), Options{Workers: 4}, logging.Discard(), metrics)

	report, err := e.Migrate(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, want, report.Migrated)
	assert.Equal(t, 1, backend.BlobCount())
	assert.Equal(t, 20.0, counterValue(t, metrics, "test_runs_total", "migrated"))
	assert.Equal(t, 20.0, counterValue(t, metrics, "test_blobs_total", "uploaded")+
		counterValue(t, metrics, "test_blobs_total", "deduplicated"))
}

func TestMigrate_StorageWriteFailure(t *testing.T) {
	root := t.TempDir()
	runFixture{run: completedRun("x")}.write(t, root, "1")

	backend := storage.NewMemoryStore()
	backend.ReplaceFailure = errors.New("not primary")

	report, err := newEngine(backend, Options{}).Migrate(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, report.Failed, 1)

	var we *storage.StorageWriteError
	require.True(t, errors.As(report.Failed[0].Err, &we))
	assert.Equal(t, "replace run", we.Op)
	assert.Equal(t, []int{1}, report.FailedIDs())
}

func TestMigrate_MissingRoot(t *testing.T) {
	_, err := newEngine(storage.NewMemoryStore(), Options{}).Migrate(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestMigrate_CanceledContext(t *testing.T) {
	root := t.TempDir()
	runFixture{run: completedRun("x")}.write(t, root, "1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend := storage.NewMemoryStore()
	report, err := newEngine(backend, Options{}).Migrate(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Migrated)
}

// 未结束的运行给出警告，指标写入后记录序列与样本数
func TestMigrate_LogsUnfinishedRunAndMetrics(t *testing.T) {
	root := t.TempDir()
	runFixture{
		run:     `{"experiment": {"name": "e"}, "status": "RUNNING", "artifacts": [], "resources": []}`,
		metrics: metricsJSON("loss", 3),
	}.write(t, root, "1")
	runFixture{run: completedRun("e")}.write(t, root, "2")

	var buf bytes.Buffer
	logger := logging.NewWithWriter(logging.Config{Level: "debug", Format: "text"}, &buf)
	backend := storage.NewMemoryStore()
	engine := NewEngine(backend, contentstore.New(backend), Options{}, logger, nil)

	report, err := engine.Migrate(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, report.Migrated)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Run was not finished when recorded"))
	assert.Contains(t, out, "status=RUNNING")
	assert.Contains(t, out, "Metrics replaced")
	assert.Contains(t, out, "series=1")
	assert.Contains(t, out, "samples=3")
}

func TestParseRunID(t *testing.T) {
	tests := []struct {
		name string
		want int
		ok   bool
	}{
		{"1", 1, true},
		{"12345", 12345, true},
		{"0", 0, false},
		{"-3", 0, false},
		{"007", 0, false},
		{"+7", 0, false},
		{"run1", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseRunID(tt.name)
			if !tt.ok {
				var inv *InvalidRunIdentifier
				assert.True(t, errors.As(err, &inv))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func counterValue(t *testing.T, m *Metrics, name, label string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetValue() == label {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
